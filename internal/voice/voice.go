// Package voice is the UDP side of an SRS session. It wraps frames in SRS
// voice packets, numbers them and fires them at the relay without waiting
// for any acknowledgement.
package voice

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/glizzus/srs-radio/internal/observe"
	"github.com/glizzus/srs-radio/internal/source"
	"github.com/glizzus/srs-radio/internal/srs"
)

// SendError reports a frame that was dropped. Seq is the sequence number the
// frame consumed.
type SendError struct {
	Seq uint64
	Err error
}

var _ error = (*SendError)(nil)

func (e *SendError) Error() string {
	return fmt.Sprintf("dropped voice packet %d: %v", e.Seq, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Channel is one voice connection. Its sequence counter starts at zero and
// lives as long as the Channel; reconnecting means building a new Channel.
//
// Send must be called from a single goroutine. Ping and Close may be called
// from any goroutine.
type Channel struct {
	conn     net.Conn
	identity srs.RadioIdentity
	layout   srs.Layout
	metrics  *observe.Metrics

	seq atomic.Uint64
	buf []byte
}

// Dial opens a UDP association with the relay and announces the client GUID
// on it.
func Dial(ctx context.Context, addr string, identity srs.RadioIdentity, layout srs.Layout, metrics *observe.Metrics) (*Channel, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("opening voice channel to %s: %w", addr, err)
	}

	c := NewChannel(conn, identity, layout, metrics)
	if err := c.Ping(); err != nil {
		slog.Warn("Initial voice ping failed", "addr", addr, "err", err)
	}
	return c, nil
}

// NewChannel wraps an already connected datagram socket.
func NewChannel(conn net.Conn, identity srs.RadioIdentity, layout srs.Layout, metrics *observe.Metrics) *Channel {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Channel{
		conn:     conn,
		identity: identity,
		layout:   layout,
		metrics:  metrics,
		buf:      make([]byte, 0, 1500),
	}
}

// Send serializes frame and writes it as one datagram. Every call consumes a
// sequence number, including calls that fail. A failed frame is dropped
// whole and reported as a *SendError.
func (c *Channel) Send(frame source.AudioFrame) error {
	seq := c.seq.Add(1) - 1

	packet, err := srs.AppendVoicePacket(c.buf[:0], srs.VoicePacket{
		Audio:      frame.Payload,
		Frequency:  float64(c.identity.Frequency),
		Modulation: c.identity.Modulation,
		PacketID:   seq,
		GUID:       c.identity.GUID,
	}, c.layout)
	if err != nil {
		return c.dropped(seq, err)
	}
	c.buf = packet

	n, err := c.conn.Write(packet)
	if err != nil {
		return c.dropped(seq, err)
	}

	ctx := context.Background()
	c.metrics.FramesSent.Add(ctx, 1)
	c.metrics.BytesSent.Add(ctx, int64(n))
	return nil
}

func (c *Channel) dropped(seq uint64, err error) error {
	c.metrics.SendErrors.Add(context.Background(), 1)
	slog.Debug("Dropped voice packet", "seq", seq, "err", err)
	return &SendError{Seq: seq, Err: err}
}

// Ping sends the bare client GUID, which keeps the relay's UDP mapping for
// this client alive.
func (c *Channel) Ping() error {
	_, err := c.conn.Write([]byte(c.identity.GUID))
	return err
}

// Sequence returns the number the next frame will carry.
func (c *Channel) Sequence() uint64 {
	return c.seq.Load()
}

func (c *Channel) Close() error {
	return c.conn.Close()
}

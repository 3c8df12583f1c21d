// Package control is the TCP side of an SRS session: the sync handshake that
// announces the station, the periodic ping that keeps it registered and a
// reader that notices when the relay goes away.
package control

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/glizzus/srs-radio/internal/observe"
	"github.com/glizzus/srs-radio/internal/srs"
)

// disconnectTimeout bounds the best-effort farewell.
const disconnectTimeout = time.Second

type Options struct {
	Addr              string
	Version           string
	AckTimeout        time.Duration
	HeartbeatInterval time.Duration
	Metrics           *observe.Metrics
}

// Client opens control sessions for one station.
type Client struct {
	identity srs.RadioIdentity
	opts     Options
}

func NewClient(identity srs.RadioIdentity, opts Options) *Client {
	if opts.Metrics == nil {
		opts.Metrics = observe.DefaultMetrics()
	}
	return &Client{identity: identity, opts: opts}
}

// Dial opens the TCP connection. It does not speak the protocol yet.
func (c *Client) Dial(ctx context.Context) (*Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.opts.Addr)
	if err != nil {
		return nil, &ConnectError{Kind: Unreachable, Err: err}
	}

	if tcp, ok := conn.(*net.TCPConn); ok {
		if err := tcp.SetNoDelay(true); err != nil {
			slog.Warn("Unable to disable Nagle on control connection", "err", err)
		}
	}

	return &Conn{
		conn:     conn,
		reader:   bufio.NewReader(conn),
		identity: c.identity,
		opts:     c.opts,
	}, nil
}

// Connect dials and completes the sync handshake.
func (c *Client) Connect(ctx context.Context) (*Conn, error) {
	conn, err := c.Dial(ctx)
	if err != nil {
		return nil, err
	}
	if err := conn.Sync(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// Conn is one established control connection.
type Conn struct {
	conn     net.Conn
	reader   *bufio.Reader
	identity srs.RadioIdentity
	opts     Options

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Sync announces the station and waits for the relay to acknowledge it with
// either a sync or a server settings message. The acknowledgement must
// arrive within AckTimeout.
func (c *Conn) Sync(ctx context.Context) error {
	if err := c.write(srs.NewSync(c.identity, c.opts.Version)); err != nil {
		return &ConnectError{Kind: Unreachable, Err: err}
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.AckTimeout)); err != nil {
		return &ConnectError{Kind: Unreachable, Err: err}
	}
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		m, err := c.readMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			switch {
			case errors.Is(err, io.EOF):
				return &ConnectError{Kind: Rejected, Err: ErrClosedBeforeAck}
			case errors.Is(err, os.ErrDeadlineExceeded):
				return &ConnectError{Kind: Unreachable, Err: fmt.Errorf("%w after %s", ErrAckTimeout, c.opts.AckTimeout)}
			default:
				return &ConnectError{Kind: Unreachable, Err: err}
			}
		}

		switch m.MsgType {
		case srs.MsgVersionMismatch:
			return &ConnectError{Kind: Rejected, Err: fmt.Errorf("%w (relay version %s)", ErrVersionMismatch, m.Version)}
		case srs.MsgSync, srs.MsgServerSettings:
			slog.Info("Relay acknowledged sync",
				"addr", c.opts.Addr,
				"relay_version", m.Version,
				"clients", len(m.Clients),
			)
			return c.conn.SetReadDeadline(time.Time{})
		default:
			slog.Debug("Ignoring control message before sync", "type", m.MsgType)
		}
	}
}

// Run pings the relay every HeartbeatInterval and drains inbound messages
// until ctx is cancelled, in which case it returns nil. Losing the session
// returns a *HeartbeatError. onBeat, if set, runs after every successful
// ping.
func (c *Conn) Run(ctx context.Context, onBeat func()) error {
	g, gctx := errgroup.WithContext(ctx)

	stop := context.AfterFunc(gctx, func() {
		c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	g.Go(func() error {
		ticker := time.NewTicker(c.opts.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
			}

			if err := c.write(srs.NewPing(c.identity, c.opts.Version)); err != nil {
				if gctx.Err() != nil {
					return nil
				}
				c.opts.Metrics.RecordHeartbeat(gctx, "error")
				return &HeartbeatError{Err: err}
			}
			c.opts.Metrics.RecordHeartbeat(gctx, "ok")
			if onBeat != nil {
				onBeat()
			}
		}
	})

	g.Go(func() error {
		for {
			m, err := c.readMessage()
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return &HeartbeatError{Err: err}
			}

			switch m.MsgType {
			case srs.MsgVersionMismatch:
				return &HeartbeatError{Err: ErrVersionMismatch}
			case srs.MsgServerSettings:
				slog.Debug("Relay settings updated", "settings", len(m.ServerSettings))
			case srs.MsgSync, srs.MsgUpdate:
				slog.Debug("Relay client list", "type", m.MsgType, "clients", len(m.Clients))
			}
		}
	})

	return g.Wait()
}

// Disconnect tells the relay the station is leaving and closes the
// connection. Failures are ignored.
func (c *Conn) Disconnect() {
	c.writeMu.Lock()
	b, err := srs.AppendMessage(nil, srs.NewDisconnect(c.identity, c.opts.Version))
	if err == nil {
		c.conn.SetWriteDeadline(time.Now().Add(disconnectTimeout))
		_, err = c.conn.Write(b)
	}
	c.writeMu.Unlock()
	if err != nil {
		slog.Debug("Disconnect notification failed", "err", err)
	}
	c.Close()
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

func (c *Conn) write(m srs.Message) error {
	b, err := srs.AppendMessage(nil, m)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.HeartbeatInterval)); err != nil {
		return err
	}
	_, err = c.conn.Write(b)
	return err
}

// readMessage returns the next well-formed message. Malformed lines are
// logged and skipped.
func (c *Conn) readMessage() (srs.Message, error) {
	for {
		line, err := c.reader.ReadBytes('\n')
		if err != nil {
			return srs.Message{}, err
		}
		m, err := srs.ParseMessage(line)
		if err != nil {
			slog.Debug("Skipping malformed control message", "err", err)
			continue
		}
		return m, nil
	}
}

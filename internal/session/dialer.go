package session

import (
	"context"

	"github.com/glizzus/srs-radio/internal/control"
	"github.com/glizzus/srs-radio/internal/observe"
	"github.com/glizzus/srs-radio/internal/playback"
	"github.com/glizzus/srs-radio/internal/srs"
	"github.com/glizzus/srs-radio/internal/voice"
)

// Control is one control connection, as returned by control.Client.Dial.
type Control interface {
	Sync(ctx context.Context) error
	Run(ctx context.Context, onBeat func()) error
	Disconnect()
}

// Voice is one voice link, as returned by voice.Dial.
type Voice interface {
	playback.Sender
	Ping() error
	Close() error
}

// Dialer opens the two halves of a session.
type Dialer interface {
	DialControl(ctx context.Context) (Control, error)
	DialVoice(ctx context.Context) (Voice, error)
}

// RelayDialer connects to a real SRS relay.
type RelayDialer struct {
	Client    *control.Client
	VoiceAddr string
	Identity  srs.RadioIdentity
	Layout    srs.Layout
	Metrics   *observe.Metrics
}

var _ Dialer = (*RelayDialer)(nil)

func (d *RelayDialer) DialControl(ctx context.Context) (Control, error) {
	conn, err := d.Client.Dial(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (d *RelayDialer) DialVoice(ctx context.Context) (Voice, error) {
	ch, err := voice.Dial(ctx, d.VoiceAddr, d.Identity, d.Layout, d.Metrics)
	if err != nil {
		return nil, &control.ConnectError{Kind: control.Unreachable, Err: err}
	}
	return ch, nil
}

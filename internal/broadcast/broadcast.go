// Package broadcast wires a playlist, a session machine and a playback
// scheduler into one on-air run.
package broadcast

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/glizzus/srs-radio/internal/config"
	"github.com/glizzus/srs-radio/internal/control"
	"github.com/glizzus/srs-radio/internal/datalayer"
	"github.com/glizzus/srs-radio/internal/observe"
	"github.com/glizzus/srs-radio/internal/playback"
	"github.com/glizzus/srs-radio/internal/session"
	"github.com/glizzus/srs-radio/internal/source"
	"github.com/glizzus/srs-radio/internal/srs"
)

type Config struct {
	// Source is a file, a directory or an s3://bucket/prefix location.
	Source   string
	Identity srs.RadioIdentity
	Relay    config.RelayConfig
	Loop     bool
	MaxLoops int

	// Storage overrides the storage Source is resolved against.
	Storage datalayer.BlobStorage
	Hook    session.Hook
	Metrics *observe.Metrics
}

// Identity builds the station identity from its configuration.
func Identity(station *config.StationConfig, guid string) (srs.RadioIdentity, error) {
	modulation, err := srs.ParseModulation(station.Modulation)
	if err != nil {
		return srs.RadioIdentity{}, err
	}
	coalition, err := srs.ParseCoalition(station.Coalition)
	if err != nil {
		return srs.RadioIdentity{}, err
	}

	id := srs.RadioIdentity{
		GUID:       guid,
		Name:       station.Name,
		Frequency:  station.Frequency,
		Modulation: modulation,
		Coalition:  coalition,
		Position: srs.Position{
			X:   station.X,
			Y:   station.Y,
			Alt: station.Altitude,
		},
	}
	if err := id.Validate(); err != nil {
		return srs.RadioIdentity{}, err
	}
	return id, nil
}

// Broadcaster runs broadcasts one at a time and reports whether one is on air.
type Broadcaster struct {
	cfg Config

	mu      sync.Mutex
	machine *session.Machine
}

func New(cfg Config) *Broadcaster {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Broadcaster{cfg: cfg}
}

// Ready returns nil while a broadcast is streaming to the relay.
func (b *Broadcaster) Ready(ctx context.Context) error {
	b.mu.Lock()
	m := b.machine
	b.mu.Unlock()

	if m == nil {
		return fmt.Errorf("not broadcasting")
	}
	return m.Ready(ctx)
}

// Run plays the source once (or forever when looping) and returns when it
// ends, when ctx is cancelled or when the relay refused the station for
// good. Bad input is reported as a *source.InputError before the relay is
// contacted.
func (b *Broadcaster) Run(ctx context.Context) error {
	cfg := b.cfg
	if err := cfg.Identity.Validate(); err != nil {
		return fmt.Errorf("invalid station identity: %w", err)
	}
	if err := cfg.Relay.Validate(); err != nil {
		return err
	}
	layout, err := srs.ParseLayout(cfg.Relay.PacketLayout)
	if err != nil {
		return err
	}

	storage, location := cfg.Storage, cfg.Source
	if storage == nil {
		storage, location, err = datalayer.Resolve(cfg.Source)
		if err != nil {
			return &source.InputError{Path: cfg.Source, Reason: "cannot resolve source", Err: err}
		}
	}
	playlist, err := source.Open(ctx, storage, location)
	if err != nil {
		return err
	}
	defer playlist.Close()

	client := control.NewClient(cfg.Identity, control.Options{
		Addr:              cfg.Relay.Addr,
		Version:           cfg.Relay.ClientVersion,
		AckTimeout:        cfg.Relay.AckTimeout,
		HeartbeatInterval: cfg.Relay.HeartbeatInterval,
		Metrics:           cfg.Metrics,
	})
	machine := session.New(&session.RelayDialer{
		Client:    client,
		VoiceAddr: cfg.Relay.VoiceAddress(),
		Identity:  cfg.Identity,
		Layout:    layout,
		Metrics:   cfg.Metrics,
	}, session.Options{
		NewBackOff:    session.ExponentialBackOff(cfg.Relay.BackoffInitial, cfg.Relay.BackoffMax),
		MaxRejections: cfg.Relay.MaxRejections,
		Hook:          cfg.Hook,
		Metrics:       cfg.Metrics,
	})
	scheduler := playback.New(playlist, machine, playback.Options{
		Loop:                     cfg.Loop,
		MaxLoops:                 cfg.MaxLoops,
		MaxConsecutiveSendErrors: cfg.Relay.MaxSendErrors,
		Metrics:                  cfg.Metrics,
	})

	b.mu.Lock()
	b.machine = machine
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.machine = nil
		b.mu.Unlock()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return machine.Run(gctx)
	})
	g.Go(func() error {
		// the session ends with the playlist
		defer machine.Stop()
		return scheduler.Run(gctx)
	})
	return g.Wait()
}

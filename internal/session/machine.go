// Package session supervises the connection to the relay. A Machine owns the
// session state and is its only writer; the playback scheduler observes it
// through Acquire and reports failing transports through Fault.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/glizzus/srs-radio/internal/control"
	"github.com/glizzus/srs-radio/internal/observe"
	"github.com/glizzus/srs-radio/internal/playback"
)

// DefaultMaxRejections is how many protocol-level refusals in a row end the
// session.
const DefaultMaxRejections = 3

// ErrRejected wraps the final refusal once the relay rejected the station
// MaxRejections times in a row.
var ErrRejected = errors.New("relay rejected the station")

// ExponentialBackOff returns a factory for jittered exponential backoff
// capped at ceiling, with no limit on the number of attempts.
func ExponentialBackOff(initial, ceiling time.Duration) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = initial
		b.MaxInterval = ceiling
		b.Multiplier = 2
		b.RandomizationFactor = 0.2
		b.MaxElapsedTime = 0
		b.Reset()
		return b
	}
}

type Options struct {
	// NewBackOff builds the retry policy. It is reset every time the
	// session reaches Streaming.
	NewBackOff    func() backoff.BackOff
	MaxRejections int
	Hook          Hook
	Metrics       *observe.Metrics
}

type Machine struct {
	dialer Dialer
	opts   Options

	mu      sync.RWMutex
	state   State
	voice   Voice
	changed chan struct{}

	faults   chan error
	stop     chan struct{}
	stopOnce sync.Once
}

var _ playback.Link = (*Machine)(nil)

func New(dialer Dialer, opts Options) *Machine {
	if opts.NewBackOff == nil {
		opts.NewBackOff = ExponentialBackOff(time.Second, 30*time.Second)
	}
	if opts.MaxRejections <= 0 {
		opts.MaxRejections = DefaultMaxRejections
	}
	if opts.Metrics == nil {
		opts.Metrics = observe.DefaultMetrics()
	}
	return &Machine{
		dialer:  dialer,
		opts:    opts,
		state:   Disconnected,
		changed: make(chan struct{}),
		faults:  make(chan error, 1),
		stop:    make(chan struct{}),
	}
}

func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Ready returns nil while the session is streaming.
func (m *Machine) Ready(context.Context) error {
	if st := m.State(); st != Streaming {
		return fmt.Errorf("session is %s", st)
	}
	return nil
}

// WaitFor blocks until the machine is in one of states and returns it.
func (m *Machine) WaitFor(ctx context.Context, states ...State) (State, error) {
	for {
		m.mu.RLock()
		st, changed := m.state, m.changed
		m.mu.RUnlock()

		for _, want := range states {
			if st == want {
				return st, nil
			}
		}
		if st == Terminated {
			return st, playback.ErrStopped
		}

		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-changed:
		}
	}
}

// Acquire blocks until the session is streaming and returns its voice link.
// Once the machine has terminated it returns playback.ErrStopped.
func (m *Machine) Acquire(ctx context.Context) (playback.Sender, error) {
	for {
		m.mu.RLock()
		st, v, changed := m.state, m.voice, m.changed
		m.mu.RUnlock()

		switch st {
		case Streaming:
			return v, nil
		case Terminated:
			return nil, playback.ErrStopped
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-changed:
		}
	}
}

// Fault reports a voice link that keeps failing. The current session is
// torn down and re-established.
func (m *Machine) Fault(err error) {
	select {
	case m.faults <- err:
	default:
	}
}

// Stop ends the session. Run disconnects and returns nil.
func (m *Machine) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// Run drives the machine until Stop is called, ctx is cancelled or the relay
// rejected the station too many times. The machine is Terminated when Run
// returns.
func (m *Machine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-m.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	err := m.supervise(ctx)
	m.transition(Terminated, err, nil)
	return err
}

func (m *Machine) supervise(ctx context.Context) error {
	bo := m.opts.NewBackOff()
	rejections := 0

	m.transition(Connecting, nil, nil)
	for {
		streamed, err := m.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if streamed {
			bo.Reset()
			rejections = 0
		}

		if control.IsRejected(err) {
			rejections++
			if rejections >= m.opts.MaxRejections {
				return fmt.Errorf("%w %d times: %w", ErrRejected, rejections, err)
			}
		} else {
			rejections = 0
		}

		if m.State() != Recovering {
			m.transition(Recovering, err, nil)
		}

		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			return fmt.Errorf("giving up on relay: %w", err)
		}
		slog.Warn("Relay session lost, retrying", "err", err, "retry_in", delay, "rejections", rejections)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		m.transition(Connecting, nil, nil)
	}
}

// session runs one connection from dial to teardown. streamed reports
// whether it got as far as Streaming. The returned error is why it ended;
// it is meaningless once ctx is done.
func (m *Machine) session(ctx context.Context) (streamed bool, err error) {
	ctrl, err := m.dialer.DialControl(ctx)
	if err != nil {
		return false, err
	}
	defer ctrl.Disconnect()

	m.transition(Syncing, nil, nil)
	if err := ctrl.Sync(ctx); err != nil {
		return false, err
	}

	v, err := m.dialer.DialVoice(ctx)
	if err != nil {
		return false, err
	}
	defer v.Close()

	// a fault from the previous link must not end this one
	select {
	case <-m.faults:
	default:
	}

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	lost := make(chan error, 1)
	go func() {
		lost <- ctrl.Run(sessCtx, func() {
			if err := v.Ping(); err != nil {
				slog.Debug("Voice ping failed", "err", err)
			}
		})
	}()

	m.transition(Streaming, nil, v)

	var (
		cause   error
		runDone bool
	)
	select {
	case <-ctx.Done():
	case cause = <-lost:
		runDone = true
		if cause == nil {
			cause = errors.New("control session ended")
		}
	case err := <-m.faults:
		cause = fmt.Errorf("voice transport failing: %w", err)
	}

	// Leave Streaming before the link closes so the scheduler blocks rather
	// than writing to a closed socket.
	if ctx.Err() != nil {
		m.transition(Terminated, nil, nil)
	} else {
		m.transition(Recovering, cause, nil)
	}
	cancel()
	if !runDone {
		<-lost
	}
	return true, cause
}

// transition moves the machine to next. Leaving Streaming drops the voice
// link. Moves the table does not allow are ignored.
func (m *Machine) transition(next State, cause error, v Voice) {
	m.mu.Lock()
	from := m.state
	if !from.CanTransition(next) {
		m.mu.Unlock()
		if from != next {
			slog.Error("Ignoring invalid session transition", "from", from, "to", next)
		}
		return
	}
	m.state = next
	m.voice = v
	close(m.changed)
	m.changed = make(chan struct{})
	m.mu.Unlock()

	t := Transition{From: from, To: next, Err: cause, At: time.Now()}
	if cause != nil {
		slog.Info("Session state changed", "from", from, "to", next, "err", cause)
	} else {
		slog.Info("Session state changed", "from", from, "to", next)
	}
	m.opts.Metrics.RecordTransition(context.Background(), next.String())
	if m.opts.Hook != nil {
		m.opts.Hook(t)
	}
}

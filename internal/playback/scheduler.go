// Package playback paces frames from a source into whatever voice link the
// session currently holds.
package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/glizzus/srs-radio/internal/observe"
	"github.com/glizzus/srs-radio/internal/source"
)

// DefaultMaxConsecutiveSendErrors is roughly one second of 20 ms frames.
const DefaultMaxConsecutiveSendErrors = 50

var (
	// ErrStopped is returned by Link.Acquire once the session has ended.
	ErrStopped = errors.New("session stopped")
	// ErrNoFrames means a looping source yielded nothing after a rewind.
	ErrNoFrames = errors.New("source produced no frames")
)

// Source is a restartable frame sequence. Next returns io.EOF at the end.
type Source interface {
	Next(ctx context.Context) (source.AudioFrame, error)
	Rewind() error
}

// Sender transmits one frame. A Sender whose connection was closed returns
// an error wrapping net.ErrClosed. Implementations must be comparable; the
// scheduler tells links apart by identity.
type Sender interface {
	Send(frame source.AudioFrame) error
}

// Link hands out the live Sender. Acquire blocks until the session is
// streaming and returns ErrStopped once it never will be again. Fault
// reports a transport that keeps failing.
type Link interface {
	Acquire(ctx context.Context) (Sender, error)
	Fault(err error)
}

// Cursor is the playback position.
type Cursor struct {
	// Index is the number of frames consumed since the last rewind.
	Index int
	Loop  bool
	// Loops is the number of rewinds so far.
	Loops int
	// MaxLoops caps the number of plays when looping. Zero means forever.
	MaxLoops int
}

func (c Cursor) canRewind() bool {
	return c.Loop && (c.MaxLoops == 0 || c.Loops+1 < c.MaxLoops)
}

type Options struct {
	Loop                     bool
	MaxLoops                 int
	MaxConsecutiveSendErrors int
	Clock                    Clock
	Metrics                  *observe.Metrics
}

type Scheduler struct {
	source Source
	link   Link
	clock  Clock

	maxSendErrors int
	metrics       *observe.Metrics

	mu     sync.Mutex
	cursor Cursor
}

func New(src Source, link Link, opts Options) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	if opts.MaxConsecutiveSendErrors <= 0 {
		opts.MaxConsecutiveSendErrors = DefaultMaxConsecutiveSendErrors
	}
	if opts.Metrics == nil {
		opts.Metrics = observe.DefaultMetrics()
	}
	return &Scheduler{
		source:        src,
		link:          link,
		clock:         opts.Clock,
		maxSendErrors: opts.MaxConsecutiveSendErrors,
		metrics:       opts.Metrics,
		cursor:        Cursor{Loop: opts.Loop, MaxLoops: opts.MaxLoops},
	}
}

// Cursor returns a snapshot of the playback position.
func (s *Scheduler) Cursor() Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Run plays the source until it ends, ctx is cancelled or the link stops.
// All three return nil; source errors are returned as is.
//
// Frame i is due at anchor + the durations of the frames before it. A frame
// is never sent before it is due. When the scheduler falls more than one
// frame behind, the anchor moves so the late frame is exactly one frame
// overdue, which limits the catch-up to a single extra frame instead of a
// burst. A new Sender also re-anchors pacing.
func (s *Scheduler) Run(ctx context.Context) error {
	var (
		sender   Sender
		pending  *source.AudioFrame
		anchor   time.Time
		offset   time.Duration
		anchored bool
		played   int
		failures int
	)

	for {
		snd, err := s.link.Acquire(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrStopped) {
				return nil
			}
			return err
		}
		if snd != sender {
			if sender != nil {
				slog.Info("Resuming playback on new link", "index", s.Cursor().Index)
			}
			sender = snd
			anchored = false
			failures = 0
		}

		if pending == nil {
			frame, err := s.source.Next(ctx)
			if errors.Is(err, io.EOF) {
				if played == 0 {
					return ErrNoFrames
				}
				if !s.Cursor().canRewind() {
					return s.finish(ctx, anchor.Add(offset), anchored)
				}
				if err := s.rewind(ctx); err != nil {
					return err
				}
				played = 0
				continue
			}
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("reading next frame: %w", err)
			}
			pending = &frame
			played++
		}

		now := s.clock.Now()
		if !anchored {
			anchor, offset, anchored = now, 0, true
		}
		deadline := anchor.Add(offset)
		if late := now.Sub(deadline); late > pending.Duration {
			anchor = now.Add(-offset - pending.Duration)
			deadline = anchor.Add(offset)
			s.metrics.Resyncs.Add(ctx, 1)
			slog.Debug("Playback fell behind, re-anchoring", "late", late)
		}
		if wait := deadline.Sub(now); wait > 0 {
			if err := s.clock.Sleep(ctx, wait); err != nil {
				return nil
			}
			// the session may have changed while sleeping
			continue
		}

		s.metrics.RecordLateness(ctx, now.Sub(deadline))
		if err := sender.Send(*pending); err != nil {
			if errors.Is(err, net.ErrClosed) {
				// keep the frame for the next link
				continue
			}
			failures++
			if failures >= s.maxSendErrors {
				slog.Warn("Voice transport keeps failing", "failures", failures, "err", err)
				s.link.Fault(err)
				failures = 0
			}
		} else {
			failures = 0
		}

		offset += pending.Duration
		pending = nil
		s.mu.Lock()
		s.cursor.Index++
		s.mu.Unlock()
	}
}

func (s *Scheduler) rewind(ctx context.Context) error {
	if err := s.source.Rewind(); err != nil {
		return fmt.Errorf("rewinding source: %w", err)
	}
	s.mu.Lock()
	s.cursor.Index = 0
	s.cursor.Loops++
	loops := s.cursor.Loops
	s.mu.Unlock()

	s.metrics.Loops.Add(ctx, 1)
	slog.Info("Looping playlist", "loops", loops)
	return nil
}

// finish waits out the playback time of the final frame. Nothing is left to
// wait for when the link changed after that frame went out.
func (s *Scheduler) finish(ctx context.Context, end time.Time, anchored bool) error {
	if wait := end.Sub(s.clock.Now()); anchored && wait > 0 {
		if err := s.clock.Sleep(ctx, wait); err != nil {
			return nil
		}
	}
	slog.Info("Playlist finished", "frames", s.Cursor().Index)
	return nil
}

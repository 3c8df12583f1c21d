package schedule_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glizzus/srs-radio/internal/schedule"
)

func TestWaitUntil(t *testing.T) {
	start := time.Now()
	if err := schedule.WaitUntil(context.Background(), start.Add(30*time.Millisecond)); err != nil {
		t.Fatalf("WaitUntil returned error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("WaitUntil returned after %s; want at least 30ms", elapsed)
	}

	if err := schedule.WaitUntil(context.Background(), start.Add(-time.Hour)); err != nil {
		t.Errorf("WaitUntil in the past returned error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := schedule.WaitUntil(ctx, time.Now().Add(time.Hour)); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitUntil = %v; want %v", err, context.DeadlineExceeded)
	}
}

func TestEveryRunsEachSecond(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var runs []time.Time
	err := schedule.Every(ctx, "* * * * * * *", func(context.Context) error {
		runs = append(runs, time.Now())
		if len(runs) == 2 {
			cancel()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Every returned error: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("ran %d times; want 2", len(runs))
	}
	if gap := runs[1].Sub(runs[0]); gap < 500*time.Millisecond {
		t.Errorf("runs %s apart; want about a second", gap)
	}
}

func TestEveryStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	err := schedule.Every(context.Background(), "* * * * * * *", func(context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("Every = %v; want %v", err, boom)
	}
}

func TestEveryRejectsInvalidCron(t *testing.T) {
	if err := schedule.Every(context.Background(), "not a cron", func(context.Context) error { return nil }); err == nil {
		t.Error("expected error for invalid cron expression")
	}
}

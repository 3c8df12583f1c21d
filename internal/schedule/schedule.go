package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/cronexpr"
)

// WaitUntil blocks until runAt or until ctx is done.
func WaitUntil(ctx context.Context, runAt time.Time) error {
	delay := time.Until(runAt)
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Every runs execute at each time matched by cron until ctx is cancelled or
// execute fails. Runs never overlap: ticks that pass while execute is still
// running are skipped. It returns nil when ctx is cancelled.
func Every(ctx context.Context, cron string, execute func(ctx context.Context) error) error {
	expr, err := cronexpr.Parse(cron)
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	for {
		next := expr.Next(time.Now())
		if next.IsZero() {
			slog.Info("Schedule has no further run times", "cron", cron)
			return nil
		}
		slog.Info("Waiting for next scheduled run", "cron", cron, "at", next)

		if err := WaitUntil(ctx, next); err != nil {
			return nil
		}
		if err := execute(ctx); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

package engine

import (
	"context"
	"time"
)

// Sleeper waits for the parent-visibility retry.
// Implemented by WallSleeper (production) and testutil.RecordingSleeper (tests).
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// WallSleeper sleeps on the wall clock and returns early with ctx.Err()
// when the context is done.
//
// Thread-safety: WallSleeper is stateless and safe for concurrent use.
type WallSleeper struct{}

// Sleep implements Sleeper.
func (WallSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

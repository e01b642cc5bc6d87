package testutil

import (
	"context"
	"sync"
	"time"
)

// RecordingSleeper stands in for the engine's wall-clock sleeper in tests.
//
// Sleep returns immediately and records the requested delay. When a hook is
// set it runs in place of the wait, so a test can make a parent run visible
// "during" the parent-visibility retry window.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type RecordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
	hook   func(ctx context.Context)
}

// NewRecordingSleeper creates a sleeper with no hook.
func NewRecordingSleeper() *RecordingSleeper {
	return &RecordingSleeper{}
}

// OnSleep sets a hook run on every Sleep call.
func (s *RecordingSleeper) OnSleep(hook func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = hook
}

// Sleep records d, runs the hook, and returns ctx.Err().
//
// Implements engine.Sleeper interface.
func (s *RecordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	hook := s.hook
	s.mu.Unlock()

	if hook != nil {
		hook(ctx)
	}
	return ctx.Err()
}

// Delays returns a copy of the recorded delays in call order.
func (s *RecordingSleeper) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.delays))
	copy(out, s.delays)
	return out
}

// Calls returns the number of Sleep calls.
func (s *RecordingSleeper) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delays)
}

// Reset forgets recorded delays. The hook is kept.
func (s *RecordingSleeper) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = nil
}

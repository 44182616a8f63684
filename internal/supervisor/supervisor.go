// Package supervisor keeps a long-running launch function alive, turning
// panics into errors and relaunching after faults when asked to.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/figure-exporter/internal/backoff"
)

// ErrPanic wraps a recovered panic.
var ErrPanic = errors.New("launch panicked")

// LaunchFunc runs until ctx ends or it faults.
type LaunchFunc func(ctx context.Context) error

// Supervisor runs one launch function at a time.
type Supervisor struct {
	// KeepAlive relaunches after a fault instead of returning it.
	KeepAlive bool
	// Backoff spaces relaunches; MaxAttempts bounds them.
	Backoff backoff.Policy
	Logger  *zap.Logger

	restarts atomic.Int64
}

// Restarts reports how many relaunches happened.
func (s *Supervisor) Restarts() int64 {
	return s.restarts.Load()
}

// Run calls launch until it returns cleanly or ctx ends. A fault is
// returned as is unless KeepAlive is set.
func (s *Supervisor) Run(ctx context.Context, launch LaunchFunc) error {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	for attempt := 0; ; attempt++ {
		err := safeLaunch(ctx, launch)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			return nil
		}
		if !s.KeepAlive {
			return err
		}
		if !s.Backoff.ShouldRetry(err, attempt) {
			return fmt.Errorf("giving up after %d restarts: %w", attempt, err)
		}
		logger.Error("launch faulted; relaunching", zap.Int("attempt", attempt+1), zap.Error(err))
		if waitErr := s.Backoff.Wait(ctx, attempt); waitErr != nil {
			return nil
		}
		s.restarts.Add(1)
	}
}

func safeLaunch(ctx context.Context, launch LaunchFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", ErrPanic, r, debug.Stack())
		}
	}()
	return launch(ctx)
}

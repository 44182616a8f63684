// Package health pings every renderer window and reports whether all of
// them answered.
package health

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/figure-exporter/internal/export"
	"github.com/JakeFAU/figure-exporter/internal/ipc"
)

// Pinger is a worker that can answer a correlated ping.
type Pinger interface {
	Name() string
	Ping(id string) error
}

// Ping sends one uniquely correlated ping to each worker and waits for all
// replies. Only ctx bounds the wait; a worker that never answers blocks
// until ctx is done.
func Ping(ctx context.Context, bus *ipc.Bus, ids export.IDGenerator, workers ...Pinger) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		g.Go(func() error {
			return pingOne(gctx, bus, ids, w)
		})
	}
	return g.Wait()
}

func pingOne(ctx context.Context, bus *ipc.Bus, ids export.IDGenerator, w Pinger) error {
	id, err := ids.NewID()
	if err != nil {
		return fmt.Errorf("ping id for %s: %w", w.Name(), err)
	}
	ch, err := bus.Once(id)
	if err != nil {
		return fmt.Errorf("ping %s: %w", w.Name(), err)
	}
	if err := w.Ping(id); err != nil {
		bus.Abandon(id)
		return fmt.Errorf("ping %s: %w", w.Name(), err)
	}
	select {
	case r := <-ch:
		if r.Code != 0 {
			if r.Err != nil {
				return fmt.Errorf("ping %s: code %d: %w", w.Name(), r.Code, r.Err)
			}
			return fmt.Errorf("ping %s: code %d", w.Name(), r.Code)
		}
		return nil
	case <-ctx.Done():
		bus.Abandon(id)
		return fmt.Errorf("ping %s: %w", w.Name(), context.Cause(ctx))
	}
}

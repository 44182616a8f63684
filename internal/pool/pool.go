package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/figure-exporter/internal/backoff"
	"github.com/JakeFAU/figure-exporter/internal/clock/system"
	"github.com/JakeFAU/figure-exporter/internal/component"
	"github.com/JakeFAU/figure-exporter/internal/export"
	"github.com/JakeFAU/figure-exporter/internal/ipc"
	"github.com/JakeFAU/figure-exporter/internal/progress"
	"github.com/JakeFAU/figure-exporter/internal/renderer"
)

// ErrClosed is returned by Provision after Close.
var ErrClosed = errors.New("pool closed")

// Options configure a Pool.
type Options struct {
	// MaxWindows is the admission ceiling on open windows.
	MaxWindows int
	// Replace controls background replacement of lost windows.
	Replace backoff.Policy
	// Emitter receives renderer-error events.
	Emitter progress.Emitter
	Clock   export.Clock
	Logger  *zap.Logger
}

// Pool holds one worker per component, keyed by the component's route.
type Pool struct {
	host renderer.Host
	bus  *ipc.Bus
	opts Options

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
	wg     sync.WaitGroup

	mu      sync.RWMutex
	workers map[string]*Worker
	order   []string
}

// New creates an empty pool. Workers are created by Provision.
func New(host renderer.Host, bus *ipc.Bus, opts Options) *Pool {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Emitter == nil {
		opts.Emitter = progress.Nop{}
	}
	if opts.Clock == nil {
		opts.Clock = system.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		host:    host,
		bus:     bus,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		workers: make(map[string]*Worker),
	}
}

// Bus returns the correlation bus the workers reply on.
func (p *Pool) Bus() *ipc.Bus { return p.bus }

// Provision starts one worker per component in parallel and returns once
// every worker is ready. On failure every worker it started is closed.
func (p *Pool) Provision(ctx context.Context, comps []*component.Component) error {
	if p.closed.Load() {
		return ErrClosed
	}
	started := make([]*Worker, len(comps))
	g, gctx := errgroup.WithContext(ctx)
	for i, comp := range comps {
		w := NewWorker(p.ctx, comp, p.host, p.bus, p.handleLoss, p.opts.Logger)
		started[i] = w
		g.Go(func() error {
			return w.Start(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		for _, w := range started {
			_ = w.Close()
		}
		return fmt.Errorf("provision renderer windows: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range started {
		if old, ok := p.workers[w.Route()]; ok {
			_ = old.Close()
		} else {
			p.order = append(p.order, w.Route())
		}
		p.workers[w.Route()] = w
	}
	return nil
}

// Worker returns the current worker serving route.
func (p *Pool) Worker(route string) (*Worker, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	w, ok := p.workers[route]
	return w, ok
}

// Workers returns every worker in provisioning order.
func (p *Pool) Workers() []*Worker {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Worker, 0, len(p.order))
	for _, route := range p.order {
		out = append(out, p.workers[route])
	}
	return out
}

// OpenWindows counts workers whose window is open.
func (p *Pool) OpenWindows() int {
	n := 0
	for _, w := range p.Workers() {
		if w.State() != StateDead {
			n++
		}
	}
	return n
}

// Ready reports whether there is at least one worker and all are ready.
func (p *Pool) Ready() bool {
	workers := p.Workers()
	if len(workers) == 0 {
		return false
	}
	for _, w := range workers {
		if !w.Ready() {
			return false
		}
	}
	return true
}

// Admit rejects new work with 402 when more windows are open than allowed.
func (p *Pool) Admit() error {
	if open := p.OpenWindows(); open > p.opts.MaxWindows {
		return export.Fail(export.CodeTooManyWindows, "%s (%d open, max %d)",
			export.StatusText(export.CodeTooManyWindows), open, p.opts.MaxWindows)
	}
	return nil
}

// Close closes every worker and stops pending replacements.
func (p *Pool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.cancel()
	var errs []error
	for _, w := range p.Workers() {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.wg.Wait()
	return errors.Join(errs...)
}

func (p *Pool) handleLoss(w *Worker) {
	p.opts.Emitter.Emit(progress.Event{
		TS:        p.opts.Clock.Now(),
		Stage:     progress.StageRendererError,
		Component: w.Name(),
		Code:      export.CodeRunnerError,
		Msg:       export.StatusText(export.CodeRunnerError),
	})
	if p.closed.Load() {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.replace(w)
	}()
}

// replace opens a fresh window for the lost worker's component, backing off
// between failed attempts until it succeeds or the pool closes.
func (p *Pool) replace(lost *Worker) {
	comp := lost.Component()
	for attempt := 0; ; attempt++ {
		if p.closed.Load() {
			return
		}
		w := NewWorker(p.ctx, comp, p.host, p.bus, p.handleLoss, p.opts.Logger)
		err := w.Start(p.ctx)
		if err == nil {
			p.mu.Lock()
			if p.closed.Load() {
				p.mu.Unlock()
				_ = w.Close()
				return
			}
			p.workers[comp.Route] = w
			p.mu.Unlock()
			p.opts.Logger.Info("renderer window replaced",
				zap.String("component", comp.Name), zap.String("route", comp.Route), zap.Int("attempt", attempt+1))
			return
		}
		if !p.opts.Replace.ShouldRetry(err, attempt) {
			p.opts.Logger.Error("giving up on renderer window",
				zap.String("component", comp.Name), zap.Int("attempts", attempt+1), zap.Error(err))
			return
		}
		p.opts.Logger.Warn("renderer window replacement failed",
			zap.String("component", comp.Name), zap.Int("attempt", attempt+1), zap.Error(err))
		if err := p.opts.Replace.Wait(p.ctx, attempt); err != nil {
			return
		}
	}
}

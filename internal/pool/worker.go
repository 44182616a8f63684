// Package pool owns the renderer windows: one worker per component, each
// bound to a single window that serves every task for that component
// concurrently.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/figure-exporter/internal/component"
	"github.com/JakeFAU/figure-exporter/internal/export"
	"github.com/JakeFAU/figure-exporter/internal/ipc"
	"github.com/JakeFAU/figure-exporter/internal/renderer"
)

// ErrUnavailable is returned when a worker is not ready to accept work.
var ErrUnavailable = errors.New("renderer window unavailable")

// State is a worker's lifecycle position.
type State int32

// Worker states.
const (
	StateLoading State = iota
	StateReady
	StateDead
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateDead:
		return "dead"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Worker renders tasks for one component in one window.
type Worker struct {
	comp   *component.Component
	host   renderer.Host
	bus    *ipc.Bus
	logger *zap.Logger
	onLoss func(*Worker)

	ctx    context.Context
	cancel context.CancelFunc

	state    atomic.Int32
	closing  atomic.Bool
	mu       sync.Mutex
	win      renderer.Window
	inflight map[string]struct{}
	lossOnce sync.Once
}

// NewWorker creates a worker in the loading state. base bounds every render
// the worker runs; onLoss fires once when the window is lost unexpectedly.
func NewWorker(
	base context.Context,
	comp *component.Component,
	host renderer.Host,
	bus *ipc.Bus,
	onLoss func(*Worker),
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithCancel(base)
	return &Worker{
		comp:     comp,
		host:     host,
		bus:      bus,
		logger:   logger.With(zap.String("component", comp.Name), zap.String("route", comp.Route)),
		onLoss:   onLoss,
		ctx:      ctx,
		cancel:   cancel,
		inflight: make(map[string]struct{}),
	}
}

// Name is the component name.
func (w *Worker) Name() string { return w.comp.Name }

// Route is the route the worker serves.
func (w *Worker) Route() string { return w.comp.Route }

// Component returns the bound component.
func (w *Worker) Component() *component.Component { return w.comp }

// State reports the current state.
func (w *Worker) State() State { return State(w.state.Load()) }

// Ready reports whether the worker accepts work.
func (w *Worker) Ready() bool { return w.State() == StateReady }

// InFlight reports how many dispatched messages await a reply.
func (w *Worker) InFlight() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.inflight)
}

// Start opens the window and pings the component inside it. The worker is
// ready only once both succeed.
func (w *Worker) Start(ctx context.Context) error {
	index, err := renderer.BuildIndex(w.comp.Name, w.comp.Snippets())
	if err != nil {
		w.state.Store(int32(StateDead))
		return err
	}
	win, err := w.host.Open(ctx, w.comp.Name, index)
	if err != nil {
		w.state.Store(int32(StateDead))
		return fmt.Errorf("open window for %s: %w", w.comp.Name, err)
	}
	if w.comp.Ping != nil {
		if err := w.comp.Ping(ctx, win); err != nil {
			_ = win.Close()
			w.state.Store(int32(StateDead))
			return fmt.Errorf("ping %s after load: %w", w.comp.Name, err)
		}
	}

	w.mu.Lock()
	if w.closing.Load() {
		w.mu.Unlock()
		_ = win.Close()
		w.state.Store(int32(StateDead))
		return ErrUnavailable
	}
	w.win = win
	w.state.Store(int32(StateReady))
	w.mu.Unlock()

	go w.watch(win)
	w.logger.Debug("renderer window ready", zap.String("window", win.ID()))
	return nil
}

func (w *Worker) watch(win renderer.Window) {
	select {
	case <-win.Done():
		w.fail()
	case <-w.ctx.Done():
	}
}

// fail marks the worker dead and answers every in-flight message with 504.
func (w *Worker) fail() {
	w.mu.Lock()
	w.state.Store(int32(StateDead))
	ids := make([]string, 0, len(w.inflight))
	for id := range w.inflight {
		ids = append(ids, id)
	}
	w.inflight = make(map[string]struct{})
	w.mu.Unlock()

	for _, id := range ids {
		w.bus.Deliver(id, ipc.Reply{
			Code: export.CodeWindowMissing,
			Err:  ErrUnavailable,
			Result: export.RenderResult{
				Msg: export.StatusText(export.CodeWindowMissing),
			},
		})
	}
	if w.closing.Load() {
		return
	}
	w.lossOnce.Do(func() {
		w.logger.Warn("renderer window lost", zap.Int("in_flight", len(ids)))
		if w.onLoss != nil {
			w.onLoss(w)
		}
	})
}

// dispatch registers id as in flight and runs fn against the window on its
// own goroutine, routing the reply through the bus.
func (w *Worker) dispatch(id string, fn func(ctx context.Context, win renderer.Window) ipc.Reply) error {
	w.mu.Lock()
	if w.State() != StateReady || w.win == nil {
		w.mu.Unlock()
		return export.Wrap(export.CodeWindowMissing, ErrUnavailable)
	}
	w.inflight[id] = struct{}{}
	win := w.win
	w.mu.Unlock()

	go func() {
		reply := w.call(id, win, fn)
		w.mu.Lock()
		_, still := w.inflight[id]
		delete(w.inflight, id)
		w.mu.Unlock()
		if still {
			w.bus.Deliver(id, reply)
		}
	}()
	return nil
}

// call runs fn, turning a panic inside the component into a renderer error
// reply so the message still resolves.
func (w *Worker) call(id string, win renderer.Window, fn func(context.Context, renderer.Window) ipc.Reply) (reply ipc.Reply) {
	defer func() {
		if rec := recover(); rec != nil {
			w.logger.Error("renderer panic recovered",
				zap.String("id", id),
				zap.Any("error", rec),
				zap.Stack("stack"),
			)
			err := fmt.Errorf("renderer panic: %v", rec)
			reply = ipc.Reply{
				Code: export.CodeRendererError,
				Err:  err,
				Result: export.RenderResult{
					Msg:   w.comp.Message(export.CodeRendererError),
					Error: err.Error(),
				},
			}
		}
	}()
	return fn(w.ctx, win)
}

// Render dispatches one render message correlated by id. The record is a
// snapshot; the worker never mutates the caller's copy.
func (w *Worker) Render(id string, rec export.Record, opts export.Options) error {
	return w.dispatch(id, func(ctx context.Context, win renderer.Window) ipc.Reply {
		res, err := w.comp.Render(ctx, win, rec, opts)
		if err != nil {
			if res.Error == "" {
				res.Error = err.Error()
			}
			return ipc.Reply{Code: export.CodeOf(err, export.CodeRendererError), Result: res, Err: err}
		}
		return ipc.Reply{Code: 0, Result: res}
	})
}

// Ping dispatches one ping message correlated by id.
func (w *Worker) Ping(id string) error {
	return w.dispatch(id, func(ctx context.Context, win renderer.Window) ipc.Reply {
		if w.comp.Ping == nil {
			return ipc.Reply{}
		}
		if err := w.comp.Ping(ctx, win); err != nil {
			return ipc.Reply{
				Code:   export.CodeOf(err, export.CodeRunnerError),
				Err:    err,
				Result: export.RenderResult{Error: err.Error()},
			}
		}
		return ipc.Reply{}
	})
}

// Close releases the window without triggering replacement.
func (w *Worker) Close() error {
	w.closing.Store(true)
	w.mu.Lock()
	win := w.win
	w.mu.Unlock()
	w.fail()
	w.cancel()
	if win == nil {
		return nil
	}
	if err := win.Close(); err != nil {
		return fmt.Errorf("close window for %s: %w", w.comp.Name, err)
	}
	return nil
}

package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls buffering and batching for the Hub.
//   - BufferSize: capacity of the queue between emitters and sinks (default 4096).
//   - MaxBatchEvents: a batch is flushed once it holds this many events (default 1000).
//   - MaxBatchWait: a partial batch is flushed this long after its first event (default 500ms).
//   - SinkTimeout: deadline for one Consume call (default 10s).
//   - BaseContext: parent of every sink call (default context.Background()).
//   - Logger: receives drop and sink warnings.
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	SinkTimeout    time.Duration
	BaseContext    context.Context
	Logger         *zap.Logger
}

const (
	defaultBufferSize     = 4096
	defaultMaxBatchEvents = 1000
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropWarnInterval      = 5 * time.Second
)

// Hub batches export events and fans each batch out to its sinks in order.
//
// Terminal stages (see Stage.Terminal) wait for queue space so every request
// and batch run is accounted for; the remaining stages are best effort and
// are dropped when the queue is full.
type Hub struct {
	cfg    Config
	sinks  []Sink
	logger *zap.Logger
	events chan Event

	// mu is held shared by Emit and exclusively by Close, so Close never
	// stops the loop while a terminal event is waiting to be queued.
	mu     sync.RWMutex
	closed bool

	dropped  atomic.Int64
	lastWarn atomic.Int64

	closeOnce sync.Once
	closeCtx  context.Context
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewHub starts a Hub delivering to sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:    cfg,
		sinks:  append([]Sink(nil), sinks...),
		logger: logger,
		events: make(chan Event, cfg.BufferSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go h.run()
	return h
}

// Emit queues evt. Invalid events and events emitted after Close are
// discarded.
func (h *Hub) Emit(evt Event) {
	if h == nil {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	if evt.Stage.Terminal() {
		h.events <- evt
		return
	}
	select {
	case h.events <- evt:
	default:
		h.warnDropped(h.dropped.Add(1), evt.Stage)
	}
}

// Dropped reports how many best-effort events were discarded because the
// queue was full.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}

func (h *Hub) warnDropped(total int64, stage Stage) {
	now := time.Now().UnixNano()
	last := h.lastWarn.Load()
	if now-last < dropWarnInterval.Nanoseconds() || !h.lastWarn.CompareAndSwap(last, now) {
		return
	}
	h.logger.Warn("progress queue full, dropping best-effort events",
		zap.String("stage", string(stage)),
		zap.Int64("dropped_total", total),
	)
}

// Close stops accepting events, delivers everything already queued, closes
// the sinks and waits for the loop to exit or ctx to end. Repeated calls
// only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closeCtx = ctx
		go func() {
			h.mu.Lock()
			h.closed = true
			h.mu.Unlock()
			close(h.stopCh)
		}()
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)

	batch := make([]Event, 0, h.cfg.MaxBatchEvents)
	var (
		timer *time.Timer
		due   <-chan time.Time
	)
	flush := func() {
		if timer != nil {
			timer.Stop()
			timer, due = nil, nil
		}
		if len(batch) == 0 {
			return
		}
		h.deliver(batch)
		batch = make([]Event, 0, h.cfg.MaxBatchEvents)
	}
	add := func(evt Event) {
		batch = append(batch, evt)
		if len(batch) >= h.cfg.MaxBatchEvents {
			flush()
			return
		}
		if timer == nil {
			timer = time.NewTimer(h.cfg.MaxBatchWait)
			due = timer.C
		}
	}

	for {
		select {
		case evt := <-h.events:
			add(evt)
		case <-due:
			timer, due = nil, nil
			flush()
		case <-h.stopCh:
		drain:
			for {
				select {
				case evt := <-h.events:
					add(evt)
				default:
					break drain
				}
			}
			flush()
			h.closeSinks()
			return
		}
	}
}

// deliver hands batch to every sink. Sinks may keep the slice.
func (h *Hub) deliver(batch []Event) {
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, batch); err != nil {
			h.logger.Warn("progress sink consume failed", zap.Int("events", len(batch)), zap.Error(err))
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}

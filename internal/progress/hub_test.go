package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.uber.org/zap"

	"github.com/JakeFAU/figure-exporter/internal/export"
)

// TestHubBatchBySize verifies the hub flushes immediately once the batch size limit is reached.
func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     8,
		MaxBatchEvents: 2,
		MaxBatchWait:   time.Minute,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	evt := sampleEvent(StageBeforeExport)
	hub.Emit(evt)
	hub.Emit(evt)
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1 && len(sink.Batches()[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

// TestHubBatchByTimer verifies the timer-based flush kicks in when the batch is small.
func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 10,
		MaxBatchWait:   25 * time.Millisecond,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageAfterExport))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

// TestHubBestEffortEmitDoesNotBlock drops progress-only stages when nothing drains the queue.
func TestHubBestEffortEmitDoesNotBlock(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		cfg:    Config{},
		events: make(chan Event),
		logger: zap.NewNop(),
	}
	start := time.Now()
	hub.Emit(sampleEvent(StageBeforeExport))
	hub.Emit(sampleEvent(StageRendererError))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, int64(2), hub.Dropped())
}

// TestHubKeepsTerminalEventsUnderBackpressure fills the queue behind a stalled
// sink and checks that every terminal event still reaches it.
func TestHubKeepsTerminalEventsUnderBackpressure(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	sink := newStubSink()
	stalled := sinkFunc(func(ctx context.Context, batch []Event) error {
		<-release
		return sink.Consume(ctx, batch)
	})
	hub := NewHub(Config{BufferSize: 1, MaxBatchEvents: 1, MaxBatchWait: time.Minute}, stalled)

	const requests = 20
	emitted := make(chan struct{})
	go func() {
		defer close(emitted)
		for i := 0; i < requests; i++ {
			hub.Emit(sampleEvent(StageBeforeExport))
			if i%2 == 0 {
				hub.Emit(sampleEvent(StageAfterExport))
			} else {
				hub.Emit(sampleEvent(StageExportError))
			}
		}
		hub.Emit(Event{TS: time.Now(), Stage: StageAfterExportAll})
	}()

	require.Eventually(t, func() bool { return hub.Dropped() > 0 }, time.Second, time.Millisecond)
	close(release)
	select {
	case <-emitted:
	case <-time.After(2 * time.Second):
		t.Fatal("terminal emits never completed")
	}
	require.NoError(t, hub.Close(context.Background()))

	terminal := 0
	for _, batch := range sink.Batches() {
		for _, evt := range batch {
			if evt.Stage.Terminal() {
				terminal++
			}
		}
	}
	require.Equal(t, requests+1, terminal)
}

// TestHubDiscardsInvalidEvents keeps malformed events away from sinks.
func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatchEvents: 1}, sink)
	hub.Emit(Event{TS: time.Now(), Stage: StageAfterExport})
	hub.Emit(Event{TS: time.Now(), Stage: "bogus"})
	hub.Emit(Event{Stage: StageAfterExportAll})
	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Batches())
}

// TestHubFlushOnClose ensures Close drains any buffered events before returning.
func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 100,
		MaxBatchWait:   time.Minute,
	}, sink)

	hub.Emit(sampleEvent(StageExportError))

	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)

	hub.Emit(sampleEvent(StageExportError))
	require.Len(t, sink.Batches(), 1, "emits after close are ignored")
}

func TestEventResultAndRecord(t *testing.T) {
	t.Parallel()

	rec := export.Record{ID: "t1", Component: "plotly-graph", Code: 200, BodyLength: 12, Format: "png"}
	evt := FromRecord(StageAfterExport, rec, time.Now())
	require.NoError(t, evt.Validate())
	require.Equal(t, int64(12), evt.Bytes)
	require.Equal(t, "success", evt.Result())

	require.Equal(t, "error", Event{Stage: StageExportError}.Result())
	require.Equal(t, "error", Event{Stage: StageAfterExportAll, Code: export.BatchFailed}.Result())
	require.Equal(t, "success", Event{Stage: StageAfterExportAll, Code: export.BatchOK}.Result())
}

func TestRecorder(t *testing.T) {
	t.Parallel()

	var rec Recorder
	var emitter Emitter = &rec
	emitter.Emit(sampleEvent(StageBeforeExport))
	emitter.Emit(sampleEvent(StageAfterExport))
	require.Equal(t, []Stage{StageBeforeExport, StageAfterExport}, rec.Stages())
	Nop{}.Emit(sampleEvent(StageAfterExport))
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
}

func newStubSink() *stubSink {
	return &stubSink{batches: [][]Event{}}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copyBatch := append([]Event(nil), batch...)
	s.batches = append(s.batches, copyBatch)
	return nil
}

func (s *stubSink) Close(context.Context) error {
	return nil
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	for i, b := range s.batches {
		out[i] = append([]Event(nil), b...)
	}
	return out
}

func sampleEvent(stage Stage) Event {
	return Event{
		ID:        "0190c5a0-0000-7000-8000-000000000001",
		TS:        time.Now(),
		Stage:     stage,
		Component: "plotly-graph",
		Route:     "/plotly-graph",
		Code:      200,
	}
}

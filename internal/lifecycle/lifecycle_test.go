package lifecycle

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/figure-exporter/internal/component"
	"github.com/JakeFAU/figure-exporter/internal/export"
	"github.com/JakeFAU/figure-exporter/internal/ipc"
)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(10 * time.Millisecond)
	return c.now
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return "task-" + strconv.Itoa(s.n), nil
}

// fakeRenderer replies on the bus with reply, or never when hold is set.
type fakeRenderer struct {
	bus   *ipc.Bus
	reply ipc.Reply
	err   error
	hold  bool
	calls int
}

func (r *fakeRenderer) Render(id string, _ export.Record, _ export.Options) error {
	r.calls++
	if r.err != nil {
		return r.err
	}
	if !r.hold {
		go r.bus.Deliver(id, r.reply)
	}
	return nil
}

func testComponent() *component.Component {
	return &component.Component{
		Name:    "fake",
		Route:   "/fake",
		Options: export.Options{},
		Capabilities: component.Capabilities{
			Parse: func(body any, _ export.Options, rec *export.Record) error {
				obj, ok := body.(map[string]any)
				if !ok {
					return export.Fail(export.CodeBadRequest, "bad body")
				}
				rec.Format, _ = obj["format"].(string)
				return nil
			},
			Convert: func(_ context.Context, rec *export.Record, _ export.Options) error {
				if rec.ImgData == "broken" {
					return errors.New("cannot decode")
				}
				rec.Body = []byte(rec.ImgData)
				rec.BodyLength = len(rec.Body)
				rec.Head = http.Header{"Content-Type": {"image/png"}}
				return nil
			},
			Messages: map[export.Code]string{export.CodeConvertError: "fake conversion error"},
		},
	}
}

type digest struct{}

func (digest) Hash(b []byte) (string, error) { return "len:" + strconv.Itoa(len(b)), nil }

func newController(r *fakeRenderer, bus *ipc.Bus) *Controller {
	ctrl := &Controller{
		Component: testComponent(),
		Bus:       bus,
		Clock:     &fixedClock{now: time.Unix(0, 0)},
		IDs:       &seqIDs{},
		Pending:   &Pending{},
		Hasher:    digest{},
		Logger:    zap.NewNop(),
	}
	if r != nil {
		ctrl.Renderer = r
	}
	return ctrl
}

func body(v any) Loader {
	return func(context.Context) (any, error) { return v, nil }
}

func TestRunSuccess(t *testing.T) {
	t.Parallel()

	bus := ipc.New()
	r := &fakeRenderer{bus: bus, reply: ipc.Reply{Result: export.RenderResult{ImgData: "PNG"}}}
	ctrl := newController(r, bus)

	task := ctrl.Start(export.Record{ItemIndex: 3})
	require.Equal(t, "task-1", task.Record().ID)
	require.EqualValues(t, 1, ctrl.Pending.Value())

	out := task.Run(context.Background(), body(map[string]any{"format": "png"}))
	require.True(t, out.OK())
	require.NoError(t, out.Err)
	require.Equal(t, export.CodeOK, out.Record.Code)
	require.Equal(t, "PNG", string(out.Record.Body))
	require.Equal(t, 3, out.Record.BodyLength)
	require.Equal(t, "len:3", out.Record.Digest)
	require.Equal(t, "/fake", out.Record.Route)
	require.Empty(t, out.Record.ImgData)
	require.Positive(t, out.Record.ProcessingTime)
	require.EqualValues(t, 0, out.Record.Pending)
	require.EqualValues(t, 0, ctrl.Pending.Value())
	require.Equal(t, []State{StateCreated, StateParsing, StateAwaitingRender, StateConverting, StateDone}, out.Trace)
	require.Zero(t, bus.Waiting())
}

func TestRunFailurePaths(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		load     Loader
		renderer func(bus *ipc.Bus) *fakeRenderer
		code     export.Code
		msg      string
		calls    int
	}{
		"load error defaults to 422": {
			load: func(context.Context) (any, error) { return nil, errors.New("unexpected token") },
			code: export.CodeJSONParse,
			msg:  "json parse error",
		},
		"load stage error keeps its code": {
			load: func(context.Context) (any, error) { return nil, export.Fail(export.CodeRequestError, "read failed") },
			code: export.CodeRequestError,
			msg:  "read failed",
		},
		"parse error skips renderer": {
			load: body("not an object"),
			code: export.CodeBadRequest,
			msg:  "bad body",
		},
		"dispatch failure is 504": {
			load: body(map[string]any{}),
			renderer: func(bus *ipc.Bus) *fakeRenderer {
				return &fakeRenderer{bus: bus, err: errors.New("window gone")}
			},
			code:  export.CodeWindowMissing,
			msg:   "window for given route does not exist",
			calls: 1,
		},
		"render reply code": {
			load: body(map[string]any{}),
			renderer: func(bus *ipc.Bus) *fakeRenderer {
				return &fakeRenderer{bus: bus, reply: ipc.Reply{
					Code:   export.CodeRendererError,
					Result: export.RenderResult{Msg: "plotly.js error", Error: "boom"},
				}}
			},
			code:  export.CodeRendererError,
			msg:   "plotly.js error",
			calls: 1,
		},
		"convert error uses component message": {
			load: body(map[string]any{}),
			renderer: func(bus *ipc.Bus) *fakeRenderer {
				return &fakeRenderer{bus: bus, reply: ipc.Reply{Result: export.RenderResult{ImgData: "broken"}}}
			},
			code:  export.CodeConvertError,
			msg:   "fake conversion error",
			calls: 1,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			bus := ipc.New()
			r := &fakeRenderer{bus: bus}
			if tc.renderer != nil {
				r = tc.renderer(bus)
			}
			ctrl := newController(r, bus)
			out := ctrl.Start(export.Record{}).Run(context.Background(), tc.load)

			require.False(t, out.OK())
			require.Equal(t, StateError, out.State)
			require.Equal(t, tc.code, out.Record.Code)
			require.Equal(t, tc.msg, out.Record.Msg)
			require.Nil(t, out.Record.Body)
			require.Equal(t, tc.calls, r.calls)
			require.EqualValues(t, 0, ctrl.Pending.Value())
			require.Zero(t, bus.Waiting())
		})
	}
}

func TestRunWithoutRenderer(t *testing.T) {
	t.Parallel()

	ctrl := newController(nil, ipc.New())
	out := ctrl.Start(export.Record{}).Run(context.Background(), body(map[string]any{}))
	require.Equal(t, export.CodeWindowMissing, out.Record.Code)
}

func TestRunAbandonedOnTimeout(t *testing.T) {
	t.Parallel()

	bus := ipc.New()
	ctrl := newController(&fakeRenderer{bus: bus, hold: true}, bus)
	task := ctrl.Start(export.Record{})

	errTimeout := errors.New("socket timeout")
	ctx, cancel := context.WithTimeoutCause(context.Background(), 20*time.Millisecond, errTimeout)
	defer cancel()

	out := task.Run(ctx, body(map[string]any{}))
	require.True(t, out.Abandoned)
	require.ErrorIs(t, out.Err, errTimeout)
	require.Equal(t, export.CodeClientClosed, out.Record.Code)
	require.EqualValues(t, 0, ctrl.Pending.Value())

	// A late reply finds no listener.
	require.False(t, bus.Deliver(task.Record().ID, ipc.Reply{}))
	require.EqualValues(t, 1, bus.Discarded())
}

func TestRunAbandonedOnDeadline(t *testing.T) {
	t.Parallel()

	bus := ipc.New()
	ctrl := newController(&fakeRenderer{bus: bus, hold: true}, bus)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	out := ctrl.Start(export.Record{}).Run(ctx, body(map[string]any{}))
	require.True(t, out.Abandoned)
	require.Equal(t, export.CodeSocketTimeout, out.Record.Code)
}

func TestFailFinishesOnce(t *testing.T) {
	t.Parallel()

	ctrl := newController(nil, ipc.New())
	task := ctrl.Start(export.Record{})
	other := ctrl.Start(export.Record{})
	require.EqualValues(t, 2, ctrl.Pending.Value())

	first := task.Fail(export.Fail(export.CodeTooManyWindows, "too many windows are opened"))
	second := task.Fail(errors.New("ignored"))
	require.Equal(t, first.Record.Code, second.Record.Code)
	require.Equal(t, export.CodeTooManyWindows, second.Record.Code)
	require.EqualValues(t, 1, ctrl.Pending.Value())

	other.Fail(errors.New("write failed"))
	require.EqualValues(t, 0, ctrl.Pending.Value())
}

type brokenIDs struct{}

func (brokenIDs) NewID() (string, error) { return "", errors.New("entropy exhausted") }

func TestStartFallsBackToLocalIDs(t *testing.T) {
	t.Parallel()

	bus := ipc.New()
	ctrl := newController(nil, bus)
	ctrl.IDs = brokenIDs{}

	first := ctrl.Start(export.Record{})
	second := ctrl.Start(export.Record{})
	require.NotEmpty(t, first.Record().ID)
	require.NotEmpty(t, second.Record().ID)
	require.NotEqual(t, first.Record().ID, second.Record().ID)

	// Both ids can be outstanding on the bus at once.
	_, err := bus.Once(first.Record().ID)
	require.NoError(t, err)
	_, err = bus.Once(second.Record().ID)
	require.NoError(t, err)
}

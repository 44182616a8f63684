// Package lifecycle drives one export task through parse, render and
// convert, tagging every failure with a status code.
//
// A task is created with Controller.Start and finished exactly once, either
// by Run or by Fail. Finishing decrements the dispatcher's pending counter
// and stamps the processing time.
package lifecycle

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
	"github.com/JakeFAU/figure-exporter/internal/timing"
)

// State is a task's position in the lifecycle.
type State string

// Task states. StateError is absorbing.
const (
	StateCreated        State = "created"
	StateParsing        State = "parsing"
	StateAwaitingRender State = "awaiting-render"
	StateConverting     State = "converting"
	StateDone           State = "done"
	StateError          State = "error"
)

// Loader produces the raw request body.
type Loader func(ctx context.Context) (any, error)

// Renderer dispatches a render message; the reply arrives on the bus.
type Renderer interface {
	Render(id string, rec export.Record, opts export.Options) error
}

// Pending counts in-flight tasks for one dispatcher.
type Pending struct {
	n atomic.Int64
}

// Add increments and returns the new count.
func (p *Pending) Add() int64 { return p.n.Add(1) }

// Done decrements and returns the new count.
func (p *Pending) Done() int64 { return p.n.Add(-1) }

// Value returns the current count.
func (p *Pending) Value() int64 { return p.n.Load() }

// Controller runs tasks for one component.
type Controller struct {
	Component *component.Component
	// Renderer may be nil when no window serves the component; Run then
	// fails with 504.
	Renderer Renderer
	Bus      *ipc.Bus
	Clock    export.Clock
	IDs      export.IDGenerator
	Pending  *Pending
	// Hasher, when set, digests every converted body.
	Hasher export.Hasher
	Logger *zap.Logger
}

// Outcome is a finished task.
type Outcome struct {
	Record export.Record
	State  State
	Err    error
	// Abandoned is set when ctx ended while the render was outstanding.
	Abandoned bool
	Trace     []State
}

// OK reports whether the task completed successfully.
func (o Outcome) OK() bool {
	return o.State == StateDone
}

// Task is one started export.
type Task struct {
	c      *Controller
	rec    export.Record
	timer  timing.Timer
	trace  []State
	finish sync.Once
	out    Outcome
}

// Start registers a new task, assigning an id when rec has none, and counts
// it as pending. Every started task carries a non-empty id.
func (c *Controller) Start(rec export.Record) *Task {
	if rec.ID == "" {
		rec.ID = c.newID()
	}
	if c.Component != nil {
		rec.Component = c.Component.Name
		if rec.Route == "" {
			rec.Route = c.Component.Route
		}
	}
	if c.Pending != nil {
		rec.Pending = c.Pending.Add()
	}
	return &Task{
		c:     c,
		rec:   rec,
		timer: timing.Start(c.Clock),
		trace: []State{StateCreated},
	}
}

// localIDs backs task ids when the generator is missing or fails; the bus
// needs a distinct id per outstanding task.
var localIDs atomic.Uint64

func (c *Controller) newID() string {
	if c.IDs != nil {
		id, err := c.IDs.NewID()
		if err == nil && id != "" {
			return id
		}
		if c.Logger != nil {
			c.Logger.Warn("task id generator failed, using local id", zap.Error(err))
		}
	}
	return fmt.Sprintf("local-%d", localIDs.Add(1))
}

// Record returns the task's current record.
func (t *Task) Record() export.Record {
	return t.rec
}

func (t *Task) enter(s State) {
	t.trace = append(t.trace, s)
}

// Fail finishes the task with err before or instead of the lifecycle. An
// untagged err is a runner error (501).
func (t *Task) Fail(err error) Outcome {
	return t.done(err, false)
}

// Run loads, parses, renders and converts. It never returns before the
// outcome is final; when ctx ends during the render the task is abandoned
// and a late reply is discarded.
func (t *Task) Run(ctx context.Context, load Loader) Outcome {
	c := t.c
	if c.Component == nil {
		return t.done(export.Wrap(export.CodeInvalidRoute, errors.New("no component")), false)
	}

	body, err := load(ctx)
	if err != nil {
		return t.done(tagged(err, export.CodeJSONParse), false)
	}

	t.enter(StateParsing)
	if err := c.Component.Parse(body, c.Component.Options, &t.rec); err != nil {
		return t.done(tagged(err, export.CodeBadRequest), false)
	}

	if c.Renderer == nil || c.Bus == nil {
		return t.done(export.Fail(export.CodeWindowMissing, "%s", export.StatusText(export.CodeWindowMissing)), false)
	}
	ch, err := c.Bus.Once(t.rec.ID)
	if err != nil {
		return t.done(export.Wrap(export.CodeInternal, err), false)
	}
	t.enter(StateAwaitingRender)
	if err := c.Renderer.Render(t.rec.ID, t.rec.Snapshot(), c.Component.Options); err != nil {
		c.Bus.Abandon(t.rec.ID)
		return t.done(tagged(err, export.CodeWindowMissing), false)
	}

	var reply ipc.Reply
	select {
	case reply = <-ch:
	case <-ctx.Done():
		c.Bus.Abandon(t.rec.ID)
		cause := context.Cause(ctx)
		code := export.CodeClientClosed
		if errors.Is(cause, context.DeadlineExceeded) {
			code = export.CodeSocketTimeout
		}
		return t.done(tagged(cause, code), true)
	}

	if reply.Result.Error != "" {
		t.rec.Error = reply.Result.Error
	}
	if reply.Code != 0 && reply.Code != export.CodeOK {
		cause := reply.Err
		if cause == nil {
			cause = errors.New(reply.Result.Error)
		}
		return t.done(&export.StageError{Code: reply.Code, Msg: reply.Result.Msg, Err: cause}, false)
	}
	t.rec.ImgData = reply.Result.ImgData

	t.enter(StateConverting)
	if err := c.Component.Convert(ctx, &t.rec, c.Component.Options); err != nil {
		return t.done(tagged(err, export.CodeConvertError), false)
	}
	if c.Hasher != nil && t.rec.Body != nil {
		digest, err := c.Hasher.Hash(t.rec.Body)
		if err != nil {
			t.logger().Warn("digest export body", zap.String("id", t.rec.ID), zap.Error(err))
		} else {
			t.rec.Digest = digest
		}
	}
	return t.done(nil, false)
}

func (t *Task) logger() *zap.Logger {
	if t.c.Logger == nil {
		return zap.NewNop()
	}
	return t.c.Logger
}

// done finishes the task once; later calls return the first outcome.
func (t *Task) done(err error, abandoned bool) Outcome {
	t.finish.Do(func() {
		rec := t.rec
		rec.ImgData = ""
		if err == nil {
			rec.Code = export.CodeOK
			t.enter(StateDone)
		} else {
			rec.Code = export.CodeOf(err, export.CodeRunnerError)
			rec.Msg = export.MessageOf(err)
			if rec.Msg == "" {
				rec.Msg = t.c.Component.Message(rec.Code)
			}
			if rec.Error == "" {
				rec.Error = causeText(err)
			}
			rec.Body = nil
			rec.Head = nil
			rec.BodyLength = 0
			t.enter(StateError)
		}
		if t.c.Pending != nil {
			rec.Pending = t.c.Pending.Done()
		}
		rec.ProcessingTime = t.timer.Elapsed()
		t.out = Outcome{
			Record:    rec,
			State:     t.trace[len(t.trace)-1],
			Err:       err,
			Abandoned: abandoned,
			Trace:     append([]State(nil), t.trace...),
		}
	})
	return t.out
}

// tagged keeps an existing status code or applies fallback.
func tagged(err error, fallback export.Code) error {
	var se *export.StageError
	if errors.As(err, &se) && se.Code != 0 {
		return err
	}
	return &export.StageError{Code: fallback, Err: err}
}

func causeText(err error) string {
	var se *export.StageError
	if errors.As(err, &se) {
		if se.Err != nil {
			return se.Err.Error()
		}
		return ""
	}
	return fmt.Sprint(err)
}

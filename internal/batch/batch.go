// Package batch runs a list of inputs through one component with bounded
// parallelism and reports an aggregate result.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/figure-exporter/internal/clock/system"
	"github.com/JakeFAU/figure-exporter/internal/export"
	"github.com/JakeFAU/figure-exporter/internal/lifecycle"
	"github.com/JakeFAU/figure-exporter/internal/progress"
	queuemem "github.com/JakeFAU/figure-exporter/internal/queue/memory"
	"github.com/JakeFAU/figure-exporter/internal/timing"
)

// DefaultParallelLimit is used when ParallelLimit is not positive.
const DefaultParallelLimit = 1

// LoaderFunc builds the body loader for one input.
type LoaderFunc func(item any) lifecycle.Loader

// Runner dispatches batch inputs. Controller is a template: every run gets
// its own pending counter.
type Runner struct {
	Controller    lifecycle.Controller
	Load          LoaderFunc
	Writer        Writer
	ParallelLimit int
	Emitter       progress.Emitter
	Logger        *zap.Logger
}

// Summary is the aggregate outcome of a run.
type Summary struct {
	Code      export.Code
	Msg       string
	Total     time.Duration
	Succeeded int
	Failed    int
	// Skipped counts inputs never started because ctx ended first.
	Skipped int
	Outputs []string
}

// Run exports every item. The aggregate code is 0 only when every item
// was exported and written and no task is left pending.
func (r *Runner) Run(ctx context.Context, items []any) Summary {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	emitter := r.Emitter
	if emitter == nil {
		emitter = progress.Nop{}
	}
	ctrl := r.Controller
	ctrl.Pending = &lifecycle.Pending{}
	if ctrl.Logger == nil {
		ctrl.Logger = logger
	}
	if ctrl.Clock == nil {
		ctrl.Clock = system.New()
	}
	timer := timing.Start(ctrl.Clock)

	queue := queuemem.NewQueue(len(items))
	for i, item := range items {
		// Capacity equals len(items), so Enqueue never blocks.
		if err := queue.Enqueue(context.Background(), export.QueueItem{Index: i, Input: item}); err != nil {
			break
		}
	}
	queue.Close()

	limit := r.ParallelLimit
	if limit <= 0 {
		limit = DefaultParallelLimit
	}

	var (
		succeeded atomic.Int64
		failed    atomic.Int64
		mu        sync.Mutex
		outputs   = make([]string, len(items))
		wg        sync.WaitGroup
	)
	for range limit {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				item, err := queue.Dequeue(ctx)
				if err != nil {
					if !errors.Is(err, queuemem.ErrClosed) && ctx.Err() == nil {
						logger.Error("queue dequeue failed", zap.Error(err))
					}
					return
				}
				if ctx.Err() != nil {
					return
				}
				loc, ok := r.runOne(ctx, &ctrl, item, emitter, logger)
				if ok {
					succeeded.Add(1)
					mu.Lock()
					outputs[item.Index] = loc
					mu.Unlock()
				} else {
					failed.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	sum := Summary{
		Succeeded: int(succeeded.Load()),
		Failed:    int(failed.Load()),
		Total:     timer.Elapsed(),
	}
	sum.Skipped = len(items) - sum.Succeeded - sum.Failed
	for _, loc := range outputs {
		if loc != "" {
			sum.Outputs = append(sum.Outputs, loc)
		}
	}
	sum.Code = export.BatchOK
	if ctrl.Pending.Value() != 0 || sum.Failed > 0 || sum.Skipped > 0 {
		sum.Code = export.BatchFailed
	}
	sum.Msg = export.BatchText(sum.Code)

	emitter.Emit(progress.Event{
		TS:        ctrl.Clock.Now(),
		Stage:     progress.StageAfterExportAll,
		Component: componentName(&ctrl),
		Code:      sum.Code,
		Msg:       sum.Msg,
		Dur:       sum.Total,
		Pending:   ctrl.Pending.Value(),
		Note:      fmt.Sprintf("%d succeeded, %d failed, %d skipped", sum.Succeeded, sum.Failed, sum.Skipped),
	})
	return sum
}

func (r *Runner) runOne(
	ctx context.Context,
	ctrl *lifecycle.Controller,
	item export.QueueItem,
	emitter progress.Emitter,
	logger *zap.Logger,
) (string, bool) {
	task := ctrl.Start(export.Record{ItemIndex: item.Index})
	emitter.Emit(progress.FromRecord(progress.StageBeforeExport, task.Record(), ctrl.Clock.Now()))

	out := task.Run(ctx, r.Load(item.Input))
	rec := out.Record
	if !out.OK() {
		logger.Warn("export failed",
			zap.Int("item", item.Index),
			zap.Int("code", int(rec.Code)),
			zap.String("msg", rec.Msg),
			zap.String("error", rec.Error),
		)
		emitter.Emit(progress.FromRecord(progress.StageExportError, rec, ctrl.Clock.Now()))
		return "", false
	}

	loc, err := r.Writer.Write(ctx, rec)
	if err != nil {
		rec.Code = export.CodeRunnerError
		rec.Msg = ctrl.Component.Message(export.CodeRunnerError)
		rec.Error = err.Error()
		logger.Warn("write export failed", zap.Int("item", item.Index), zap.Error(err))
		emitter.Emit(progress.FromRecord(progress.StageExportError, rec, ctrl.Clock.Now()))
		return "", false
	}
	logger.Debug("exported item",
		zap.Int("item", item.Index),
		zap.String("location", loc),
		zap.Duration("processing_time", rec.ProcessingTime),
	)
	emitter.Emit(progress.FromRecord(progress.StageAfterExport, rec, ctrl.Clock.Now()))
	return loc, true
}

func componentName(ctrl *lifecycle.Controller) string {
	if ctrl.Component == nil {
		return ""
	}
	return ctrl.Component.Name
}

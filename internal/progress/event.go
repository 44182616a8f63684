package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/figure-exporter/internal/export"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported export stages.
const (
	StageBeforeExport   Stage = "before-export"
	StageAfterExport    Stage = "after-export"
	StageExportError    Stage = "export-error"
	StageAfterExportAll Stage = "after-export-all"
	StageAfterConnect   Stage = "after-connect"
	StageRendererError  Stage = "renderer-error"
)

// Terminal reports whether the stage closes out a request or a batch run.
// Terminal events are never dropped by the Hub.
func (s Stage) Terminal() bool {
	switch s {
	case StageAfterExport, StageExportError, StageAfterExportAll:
		return true
	default:
		return false
	}
}

// Event captures one export milestone.
type Event struct {
	// ID is the task's correlation id; empty for run-level stages.
	ID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Component and Route identify the target component.
	Component string
	Route     string
	// Method is the HTTP method in server mode.
	Method string
	// ItemIndex is the batch position, zero in server mode.
	ItemIndex int
	// Code is the terminal status (or the batch aggregate code).
	Code export.Code
	// Msg is the human-readable status.
	Msg    string
	Format string
	// Bytes is the size of the response body.
	Bytes int64
	// Pending is the dispatcher's in-flight count when the event fired.
	Pending int64
	// Dur is the task processing time, or the total run time for
	// after-export-all.
	Dur time.Duration
	// Port and Routes describe the bound server for after-connect.
	Port   int
	Routes []string
	// Digest is the artifact checksum when one was computed.
	Digest string
	// Note carries low-volume context such as the render error detail.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageBeforeExport, StageAfterExport, StageExportError:
		if e.ID == "" {
			return fmt.Errorf("%s requires id", e.Stage)
		}
	case StageAfterExportAll, StageRendererError:
	case StageAfterConnect:
		if e.Port < 0 {
			return errors.New("after-connect requires a port")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Result labels an event for metrics: "success" or "error".
func (e Event) Result() string {
	if e.Stage == StageExportError || (e.Stage == StageAfterExportAll && e.Code != export.BatchOK) {
		return "error"
	}
	return "success"
}

// FromRecord fills the task-scoped fields from rec.
func FromRecord(stage Stage, rec export.Record, ts time.Time) Event {
	return Event{
		ID:        rec.ID,
		TS:        ts,
		Stage:     stage,
		Component: rec.Component,
		Route:     rec.Route,
		Method:    rec.Method,
		ItemIndex: rec.ItemIndex,
		Code:      rec.Code,
		Msg:       rec.Msg,
		Format:    rec.Format,
		Bytes:     int64(rec.BodyLength),
		Pending:   rec.Pending,
		Dur:       rec.ProcessingTime,
		Digest:    rec.Digest,
		Note:      rec.Error,
	}
}

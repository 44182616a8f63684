package export

import (
	"net/http"
	"time"
)

// Options is the opaque per-component configuration passed verbatim to
// parse, render and convert.
type Options map[string]any

// Clone returns a shallow copy so callers can layer overrides.
func (o Options) Clone() Options {
	out := make(Options, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out
}

// String returns the option as a string, or "" when unset or not a string.
func (o Options) String(key string) string {
	if v, ok := o[key].(string); ok {
		return v
	}
	return ""
}

// Record accumulates the result of every stage for one task. It is owned
// by a single lifecycle controller; the renderer only ever sees a copy.
type Record struct {
	ID        string `json:"id"`
	ItemIndex int    `json:"itemIndex"`
	Component string `json:"component,omitempty"`
	Route     string `json:"route,omitempty"`
	Method    string `json:"method,omitempty"`

	// parse
	Figure  map[string]any `json:"figure,omitempty"`
	Format  string         `json:"format,omitempty"`
	Scale   float64        `json:"scale,omitempty"`
	Width   float64        `json:"width,omitempty"`
	Height  float64        `json:"height,omitempty"`
	Encoded bool           `json:"encoded,omitempty"`
	Fid     string         `json:"fid,omitempty"`
	Extra   map[string]any `json:"extra,omitempty"`

	// render
	ImgData string `json:"-"`

	// convert
	Head       http.Header `json:"-"`
	Body       []byte      `json:"-"`
	BodyLength int         `json:"bodyLength,omitempty"`
	Digest     string      `json:"digest,omitempty"`

	Code           Code          `json:"code"`
	Msg            string        `json:"msg,omitempty"`
	Error          string        `json:"error,omitempty"`
	ProcessingTime time.Duration `json:"processingTime"`
	Pending        int64         `json:"pending"`
}

// Snapshot returns a copy safe to hand across the renderer boundary. Maps
// are shared; stages must not mutate a record they did not create.
func (r Record) Snapshot() Record {
	cp := r
	cp.Body = nil
	cp.Head = nil
	return cp
}

// RenderResult is what a renderer replies with for one correlation token.
type RenderResult struct {
	ImgData string `json:"imgData,omitempty"`
	Msg     string `json:"msg,omitempty"`
	Error   string `json:"error,omitempty"`
}

// QueueItem is one batch input waiting for a free slot.
type QueueItem struct {
	Index int
	Input any
}

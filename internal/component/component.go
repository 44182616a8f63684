// Package component resolves component descriptors into validated
// capability bundles and binds them to server routes.
//
// Components are compile-time modules registered by name in a Registry; a
// descriptor may name one directly or through a path whose base name
// matches a registered module.
package component

import (
	"context"
	"time"

	"github.com/JakeFAU/figure-exporter/internal/export"
)

// Page is the window surface a component's ping and render capabilities
// address. It is implemented by the renderer host.
type Page interface {
	// Evaluate runs a JavaScript expression in the window, awaiting a
	// returned promise, and decodes the JSON result into out.
	Evaluate(ctx context.Context, expression string, out any) error
	// PrintPDF lays the svg out on a page of the given pixel size and
	// prints it to PDF.
	PrintPDF(ctx context.Context, svg string, width, height float64) ([]byte, error)
}

// URLPrinter is implemented by pages that can load an external URL in a
// scratch surface of width x height pixels and print it to PDF once wait has
// elapsed after load.
type URLPrinter interface {
	PrintURL(ctx context.Context, url string, width, height float64, wait time.Duration) ([]byte, error)
}

// PingFunc reports whether the window hosting the component is responsive.
type PingFunc func(ctx context.Context, page Page) error

// ParseFunc normalizes a raw body into rec.
type ParseFunc func(body any, opts export.Options, rec *export.Record) error

// RenderFunc turns a parsed record into raw image data inside the window.
type RenderFunc func(ctx context.Context, page Page, rec export.Record, opts export.Options) (export.RenderResult, error)

// ConvertFunc turns rec.ImgData into the final body and head.
type ConvertFunc func(ctx context.Context, rec *export.Record, opts export.Options) error

// InjectFunc returns HTML snippets placed in the window's index page.
type InjectFunc func(opts export.Options) []string

// Capabilities is the four-capability contract plus optional inject and a
// component-specific status message table.
type Capabilities struct {
	Ping     PingFunc
	Parse    ParseFunc
	Render   RenderFunc
	Convert  ConvertFunc
	Inject   InjectFunc
	Messages map[export.Code]string
}

// Module is a registrable implementation.
type Module struct {
	Name         string
	Capabilities Capabilities
}

// Component is a resolved, validated module bound to a route and options.
type Component struct {
	Name    string
	Route   string
	Options export.Options
	Capabilities
}

// Message returns the component's text for code, falling back to the
// shared status table.
func (c *Component) Message(code export.Code) string {
	if c != nil {
		if msg, ok := c.Messages[code]; ok {
			return msg
		}
	}
	return export.StatusText(code)
}

// Snippets evaluates inject against the component's options.
func (c *Component) Snippets() []string {
	if c.Inject == nil {
		return nil
	}
	return c.Inject(c.Options)
}

func noopInject(export.Options) []string { return nil }

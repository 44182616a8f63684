// Package renderer defines the host that opens rendering windows and the
// index page each window loads.
package renderer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"text/template"

	"github.com/JakeFAU/figure-exporter/internal/component"
)

// ErrWindowClosed is returned by Window methods after the window is gone.
var ErrWindowClosed = errors.New("renderer window closed")

// Window is one live rendering surface bound to a component.
type Window interface {
	component.Page
	// ID identifies the window in logs.
	ID() string
	// Done is closed when the window crashes, detaches or is closed.
	Done() <-chan struct{}
	// Close releases the window.
	Close() error
}

// Host opens windows loaded with an index page.
type Host interface {
	// Open loads index and returns once the page signals readiness.
	Open(ctx context.Context, name string, index string) (Window, error)
	// Close tears down every window and the host process.
	Close() error
}

// ReadyExpression evaluates to true once the index page has booted.
const ReadyExpression = "window.__exporterReady === true"

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
  <head>
    <meta charset="UTF-8">
    <title>figure exporter - component {{.Name}}</title>
    <style>
      body { margin: 0; }
      #print-root { display: none; }
      body.printing > *:not(#print-root) { display: none !important; }
      body.printing #print-root { display: block; }
      #print-root img { display: block; }
    </style>
{{- range .Snippets}}
    {{.}}
{{- end}}
  </head>
  <body>
    <div id="print-root"></div>
    <script>
      window.addEventListener('load', function () { window.__exporterReady = true; });
    </script>
  </body>
</html>
`))

// BuildIndex returns the index HTML for a component window: the component's
// injected snippets plus the readiness marker.
func BuildIndex(name string, snippets []string) (string, error) {
	var buf bytes.Buffer
	err := indexTemplate.Execute(&buf, struct {
		Name     string
		Snippets []string
	}{Name: name, Snippets: snippets})
	if err != nil {
		return "", fmt.Errorf("render index for %s: %w", name, err)
	}
	return buf.String(), nil
}

// Package plotlygraph is the component that exports plotly.js figures.
//
// Parsing and conversion run locally; rendering drives Plotly.toImage inside
// the component's window.
package plotlygraph

import (
	"strconv"
	"strings"

	"github.com/JakeFAU/figure-exporter/internal/component"
	"github.com/JakeFAU/figure-exporter/internal/export"
)

// Name is the registry name of the component.
const Name = "plotly-graph"

// Option keys understood by the component.
const (
	OptPlotlyJS          = "plotlyJS"
	OptMathJax           = "mathjax"
	OptTopojson          = "topojson"
	OptMapboxAccessToken = "mapboxAccessToken"
	OptMinPlotlyVersion  = "minPlotlyVersion"
	OptPdftops           = "pdftops"
)

// DefaultPlotlyJS is loaded when no plotly.js source is configured.
const DefaultPlotlyJS = "https://cdn.plot.ly/plotly-latest.min.js"

// Defaults applied by parse.
const (
	DefaultFormat = "png"
	DefaultScale  = 1.0
	DefaultWidth  = 700.0
	DefaultHeight = 500.0
)

// ContentTypes maps every supported format to its Content-Type.
var ContentTypes = map[string]string{
	"png":  "image/png",
	"jpeg": "image/jpeg",
	"webp": "image/webp",
	"svg":  "image/svg+xml",
	"pdf":  "application/pdf",
	"eps":  "application/postscript",
}

// Messages is the component's status table.
var Messages = map[export.Code]string{
	export.CodeBadRequest:           "invalid or malformed request syntax",
	export.CodeRendererError:        "plotly.js error",
	export.CodeRendererIncompatible: "plotly.js version incompatible",
	export.CodeConvertError:         "image conversion error",
}

// Capabilities returns the component's capability bundle.
func Capabilities() component.Capabilities {
	return component.Capabilities{
		Ping:     Ping,
		Parse:    Parse,
		Render:   Render,
		Convert:  Convert,
		Inject:   Inject,
		Messages: Messages,
	}
}

// Module returns the registrable module.
func Module() component.Module {
	return component.Module{Name: Name, Capabilities: Capabilities()}
}

// Inject returns the script tags the window needs: MathJax and topojson
// when configured, and plotly.js always.
func Inject(opts export.Options) []string {
	var parts []string
	if src := opts.String(OptMathJax); src != "" {
		parts = append(parts, script(src+"?config=TeX-AMS-MML_SVG"))
	}
	if src := opts.String(OptTopojson); src != "" {
		parts = append(parts, script(src))
	}
	src := opts.String(OptPlotlyJS)
	if src == "" {
		src = DefaultPlotlyJS
	}
	return append(parts, script(src))
}

func script(src string) string {
	return `<script src="` + strings.ReplaceAll(src, `"`, "&quot;") + `"></script>`
}

// numeric mirrors loose JSON numerics: numbers and numeric strings.
func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

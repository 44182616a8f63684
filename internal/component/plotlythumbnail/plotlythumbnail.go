// Package plotlythumbnail exports small png previews of plotly.js figures.
// It reuses the plotly-graph capabilities and only changes parsing.
package plotlythumbnail

import (
	"github.com/JakeFAU/figure-exporter/internal/component"
	"github.com/JakeFAU/figure-exporter/internal/component/plotlygraph"
	"github.com/JakeFAU/figure-exporter/internal/export"
)

// Name is the registry name of the component.
const Name = "plotly-thumbnail"

// Module returns the registrable module.
func Module() component.Module {
	caps := plotlygraph.Capabilities()
	caps.Parse = Parse
	return component.Module{Name: Name, Capabilities: caps}
}

// Parse runs the plotly-graph parse, then forces png output and strips the
// title and margins.
func Parse(body any, opts export.Options, rec *export.Record) error {
	if err := plotlygraph.Parse(body, opts, rec); err != nil {
		return err
	}
	rec.Format = "png"

	layout := map[string]any{}
	if src, ok := rec.Figure["layout"].(map[string]any); ok {
		for k, v := range src {
			layout[k] = v
		}
	}
	layout["title"] = ""
	layout["margin"] = map[string]any{"t": 0, "b": 0, "l": 0, "r": 0}

	figure := make(map[string]any, len(rec.Figure))
	for k, v := range rec.Figure {
		figure[k] = v
	}
	figure["layout"] = layout
	rec.Figure = figure
	return nil
}

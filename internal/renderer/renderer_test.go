package renderer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildIndexIncludesSnippetsAndMarker(t *testing.T) {
	t.Parallel()

	html, err := BuildIndex("plotly-graph", []string{
		`<script src="https://cdn.plot.ly/plotly-latest.min.js"></script>`,
		`<script src="topojson.js"></script>`,
	})
	require.NoError(t, err)
	require.Contains(t, html, "component plotly-graph")
	require.Contains(t, html, `<script src="https://cdn.plot.ly/plotly-latest.min.js"></script>`)
	require.Contains(t, html, `<script src="topojson.js"></script>`)
	require.Contains(t, html, "window.__exporterReady = true")
	require.Contains(t, html, `<div id="print-root">`)
	require.Less(t,
		strings.Index(html, "plotly-latest"),
		strings.Index(html, "topojson.js"),
		"snippets keep their order")
}

func TestBuildIndexWithoutSnippets(t *testing.T) {
	t.Parallel()

	html, err := BuildIndex("ping", nil)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(html, "<!DOCTYPE html>"))
	require.NotContains(t, html, "<script src")
}

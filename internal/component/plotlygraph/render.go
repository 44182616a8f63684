package plotlygraph

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/JakeFAU/figure-exporter/internal/component"
	"github.com/JakeFAU/figure-exporter/internal/export"
)

// toImageReply is what the in-page script resolves with.
type toImageReply struct {
	ImgData string `json:"imgData"`
	Error   string `json:"error"`
}

// Ping checks that plotly.js finished loading in the window.
func Ping(ctx context.Context, page component.Page) error {
	var loaded bool
	if err := page.Evaluate(ctx, "typeof Plotly !== 'undefined'", &loaded); err != nil {
		return err
	}
	if !loaded {
		return errors.New("plotly.js not loaded")
	}
	return nil
}

// Render runs Plotly.toImage on the parsed figure. Vector document formats
// are rendered to svg first and printed to PDF by the window.
func Render(ctx context.Context, page component.Page, rec export.Record, opts export.Options) (export.RenderResult, error) {
	if minVersion := opts.String(OptMinPlotlyVersion); minVersion != "" {
		if err := checkVersion(ctx, page, minVersion); err != nil {
			return export.RenderResult{
				Msg:   Messages[export.CodeRendererIncompatible],
				Error: err.Error(),
			}, export.Fail(export.CodeRendererIncompatible, "%s", Messages[export.CodeRendererIncompatible])
		}
	}

	format := rec.Format
	printed := format == "pdf" || format == "eps"
	if printed {
		format = "svg"
	}
	width := rec.Scale * rec.Width
	height := rec.Scale * rec.Height

	expr, err := toImageExpression(rec, opts, format, width, height)
	if err != nil {
		return renderFailure(err.Error())
	}
	var reply toImageReply
	if err := page.Evaluate(ctx, expr, &reply); err != nil {
		return export.RenderResult{}, err
	}
	if reply.Error != "" {
		return renderFailure(reply.Error)
	}
	if !printed {
		return export.RenderResult{ImgData: reply.ImgData}, nil
	}

	pdf, err := page.PrintPDF(ctx, reply.ImgData, width, height)
	if err != nil {
		return renderFailure(err.Error())
	}
	return export.RenderResult{ImgData: base64.StdEncoding.EncodeToString(pdf)}, nil
}

func renderFailure(detail string) (export.RenderResult, error) {
	msg := Messages[export.CodeRendererError]
	return export.RenderResult{Msg: msg, Error: detail},
		&export.StageError{Code: export.CodeRendererError, Msg: msg, Err: errors.New(detail)}
}

func toImageExpression(rec export.Record, opts export.Options, format string, width, height float64) (string, error) {
	config := map[string]any{}
	if token := opts.String(OptMapboxAccessToken); token != "" {
		config["mapboxAccessToken"] = token
	}
	if figCfg, ok := rec.Figure["config"].(map[string]any); ok {
		for k, v := range figCfg {
			config[k] = v
		}
	}
	gd := map[string]any{
		"data":   rec.Figure["data"],
		"layout": rec.Figure["layout"],
		"config": config,
	}
	background := ""
	if format == "jpeg" {
		background = "blend"
	}
	imgOpts := map[string]any{
		"format":        format,
		"width":         width,
		"height":        height,
		"imageDataOnly": true,
		"setBackground": background,
	}

	gdJSON, err := json.Marshal(gd)
	if err != nil {
		return "", fmt.Errorf("encode figure: %w", err)
	}
	optsJSON, err := json.Marshal(imgOpts)
	if err != nil {
		return "", fmt.Errorf("encode image options: %w", err)
	}
	return fmt.Sprintf(`Plotly.toImage(%s, %s)
  .then(function (imgData) { return {imgData: imgData}; })
  .catch(function (err) {
    return {error: JSON.stringify(err, ['message', 'arguments', 'type', 'name']) || String(err)};
  })`, gdJSON, optsJSON), nil
}

func checkVersion(ctx context.Context, page component.Page, minVersion string) error {
	var version string
	if err := page.Evaluate(ctx, "typeof Plotly !== 'undefined' ? String(Plotly.version) : ''", &version); err != nil {
		return err
	}
	have, want := canonical(version), canonical(minVersion)
	if !semver.IsValid(want) {
		return fmt.Errorf("invalid minimum plotly.js version %q", minVersion)
	}
	if !semver.IsValid(have) {
		return fmt.Errorf("unknown plotly.js version %q", version)
	}
	if semver.Compare(have, want) < 0 {
		return fmt.Errorf("plotly.js %s is older than required %s", version, minVersion)
	}
	return nil
}

func canonical(v string) string {
	v = strings.TrimSpace(v)
	if v != "" && !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// Package plotlydashboard exports hosted dashboards to PDF. Parse and
// convert run locally; render asks the window for a scratch surface that
// loads the dashboard URL and prints it.
package plotlydashboard

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/figure-exporter/internal/component"
	"github.com/JakeFAU/figure-exporter/internal/export"
)

// Name is the registry name of the component.
const Name = "plotly-dashboard"

// OptLoadWaitMS is how long, in milliseconds, to let embedded frames render
// after the page loads.
const OptLoadWaitMS = "loadWaitMs"

// Defaults applied by parse and render.
const (
	DefaultWidth    = 800.0
	DefaultHeight   = 600.0
	DefaultLoadWait = 5 * time.Second
)

// ContentType is the only output the component produces.
const ContentType = "application/pdf"

// Messages is the component's status table.
var Messages = map[export.Code]string{
	export.CodeBadRequest:    "missing dashboard url",
	export.CodeRendererError: "print to PDF error",
	export.CodeConvertError:  "pdf conversion error",
}

// Module returns the registrable module.
func Module() component.Module {
	return component.Module{
		Name: Name,
		Capabilities: component.Capabilities{
			Ping:     Ping,
			Parse:    Parse,
			Render:   Render,
			Convert:  Convert,
			Messages: Messages,
		},
	}
}

// Ping checks that the window finished loading its index page.
func Ping(ctx context.Context, page component.Page) error {
	var state string
	if err := page.Evaluate(ctx, "document.readyState", &state); err != nil {
		return err
	}
	if state != "complete" {
		return fmt.Errorf("window not loaded (readyState %q)", state)
	}
	return nil
}

// Parse reads {url, width?, height?, fid?, encoded?}. The url must be an
// absolute http or https URL.
func Parse(body any, _ export.Options, rec *export.Record) error {
	obj, ok := body.(map[string]any)
	if !ok {
		return badRequest("non-object body")
	}
	if fid, ok := obj["fid"].(string); ok && strings.TrimSpace(fid) != "" {
		rec.Fid = fid
	}

	raw, _ := obj["url"].(string)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return badRequest("")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return badRequest("url must be absolute http(s)")
	}

	rec.Format = "pdf"
	rec.Scale = 1
	rec.Width = positive(obj["width"], DefaultWidth)
	rec.Height = positive(obj["height"], DefaultHeight)
	rec.Encoded, _ = obj["encoded"].(bool)
	if rec.Extra == nil {
		rec.Extra = map[string]any{}
	}
	rec.Extra["url"] = u.String()
	return nil
}

// Render prints the dashboard through the window.
func Render(ctx context.Context, page component.Page, rec export.Record, opts export.Options) (export.RenderResult, error) {
	printer, ok := page.(component.URLPrinter)
	if !ok {
		return renderFailure("window cannot load external pages")
	}
	target, _ := rec.Extra["url"].(string)
	if target == "" {
		return renderFailure("no dashboard url on record")
	}
	pdf, err := printer.PrintURL(ctx, target, rec.Width, rec.Height, loadWait(opts))
	if err != nil {
		return renderFailure(err.Error())
	}
	return export.RenderResult{ImgData: base64.StdEncoding.EncodeToString(pdf)}, nil
}

// Convert decodes the printed PDF into the response body.
func Convert(_ context.Context, rec *export.Record, _ export.Options) error {
	body, err := base64.StdEncoding.DecodeString(rec.ImgData)
	if err != nil {
		return export.Fail(export.CodeConvertError, "%s (decode pdf: %v)", Messages[export.CodeConvertError], err)
	}
	contentType := ContentType
	if rec.Encoded {
		body = []byte("data:" + ContentType + ";base64," + rec.ImgData)
		contentType = "text/plain"
	}
	rec.Body = body
	rec.BodyLength = len(body)
	rec.Head = http.Header{}
	rec.Head.Set("Content-Type", contentType)
	rec.Head.Set("Content-Length", strconv.Itoa(len(body)))
	return nil
}

func badRequest(detail string) error {
	if detail == "" {
		return export.Fail(export.CodeBadRequest, "%s", Messages[export.CodeBadRequest])
	}
	return export.Fail(export.CodeBadRequest, "%s (%s)", Messages[export.CodeBadRequest], detail)
}

func renderFailure(detail string) (export.RenderResult, error) {
	msg := Messages[export.CodeRendererError]
	return export.RenderResult{Msg: msg, Error: detail},
		&export.StageError{Code: export.CodeRendererError, Msg: msg, Err: errors.New(detail)}
}

// positive returns v as a positive number, or fallback when v is missing,
// zero or not numeric.
func positive(v any, fallback float64) float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case string:
		f, _ = strconv.ParseFloat(strings.TrimSpace(n), 64)
	}
	if f <= 0 {
		return fallback
	}
	return f
}

func loadWait(opts export.Options) time.Duration {
	switch v := opts[OptLoadWaitMS].(type) {
	case float64:
		if v >= 0 {
			return time.Duration(v) * time.Millisecond
		}
	case int:
		if v >= 0 {
			return time.Duration(v) * time.Millisecond
		}
	}
	return DefaultLoadWait
}

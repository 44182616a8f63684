package plotlygraph

import (
	"github.com/JakeFAU/figure-exporter/internal/export"
)

func badRequest(detail string) error {
	return export.Fail(export.CodeBadRequest, "%s (%s)", Messages[export.CodeBadRequest], detail)
}

// Parse accepts either {figure, format, scale, width, height, encoded, fid}
// or a bare figure, in which case the request options come from the
// component options.
func Parse(body any, compOpts export.Options, rec *export.Record) error {
	obj, ok := body.(map[string]any)
	if !ok {
		return badRequest("non-object figure")
	}

	var (
		figure any
		opts   map[string]any
	)
	if f, has := obj["figure"]; has && f != nil {
		figure = f
		opts = obj
	} else {
		figure = obj
		opts = compOpts
	}

	rec.Encoded, _ = opts["encoded"].(bool)
	rec.Scale = DefaultScale
	if s, ok := numeric(opts["scale"]); ok {
		if s <= 0 {
			return badRequest("non-positive scale")
		}
		rec.Scale = s
	}
	if fid, ok := opts["fid"].(string); ok {
		rec.Fid = fid
	}

	rec.Format = DefaultFormat
	if raw, has := opts["format"]; has && raw != nil {
		format, isString := raw.(string)
		if !isString {
			return badRequest("wrong format")
		}
		if _, supported := ContentTypes[format]; !supported {
			return badRequest("wrong format")
		}
		rec.Format = format
	}

	fig, ok := figure.(map[string]any)
	if !ok {
		return badRequest("non-object figure")
	}
	data, hasData := fig["data"]
	layout, hasLayout := fig["layout"]
	hasData = hasData && data != nil
	hasLayout = hasLayout && layout != nil
	if !hasData && !hasLayout {
		return badRequest("no 'data' and no 'layout' in figure")
	}

	out := map[string]any{"data": []any{}, "layout": map[string]any{}}
	if hasData {
		arr, ok := data.([]any)
		if !ok {
			return badRequest("non-array figure data")
		}
		out["data"] = arr
	}
	layoutObj := map[string]any{}
	if hasLayout {
		l, ok := layout.(map[string]any)
		if !ok {
			return badRequest("non-object figure layout")
		}
		layoutObj = l
		out["layout"] = l
	}
	if cfg, ok := fig["config"].(map[string]any); ok {
		out["config"] = cfg
	}
	rec.Figure = out

	rec.Width = pickDimension(opts["width"], layoutObj["width"], DefaultWidth)
	rec.Height = pickDimension(opts["height"], layoutObj["height"], DefaultHeight)
	return nil
}

func pickDimension(fromOpts, fromLayout any, dflt float64) float64 {
	if v, ok := numeric(fromOpts); ok {
		return v
	}
	if v, ok := numeric(fromLayout); ok {
		return v
	}
	return dflt
}

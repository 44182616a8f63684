package plotlygraph

import (
	"context"
	"encoding/base64"
	"net/http"
	"strconv"

	"github.com/JakeFAU/figure-exporter/internal/convert"
	"github.com/JakeFAU/figure-exporter/internal/export"
)

// Convert decodes the rendered image data into the response body. svg is
// passed through as text; eps is produced from the printed PDF with pdftops.
// Encoded requests get a base64 data URI instead of raw bytes.
func Convert(ctx context.Context, rec *export.Record, opts export.Options) error {
	contentType, ok := ContentTypes[rec.Format]
	if !ok {
		return convertFailure("unsupported format %q", rec.Format)
	}

	var body []byte
	switch rec.Format {
	case "svg":
		body = []byte(rec.ImgData)
	case "eps":
		pdf, err := base64.StdEncoding.DecodeString(rec.ImgData)
		if err != nil {
			return convertFailure("decode pdf: %v", err)
		}
		eps, err := convert.Pdftops{Path: opts.String(OptPdftops)}.PDFToEPS(ctx, pdf)
		if err != nil {
			return convertFailure("%v", err)
		}
		body = eps
	default:
		raw, err := base64.StdEncoding.DecodeString(rec.ImgData)
		if err != nil {
			return convertFailure("decode %s: %v", rec.Format, err)
		}
		body = raw
	}

	if rec.Encoded {
		body = []byte("data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(body))
		contentType = "text/plain"
	}

	rec.Body = body
	rec.BodyLength = len(body)
	rec.Head = http.Header{}
	rec.Head.Set("Content-Type", contentType)
	rec.Head.Set("Content-Length", strconv.Itoa(len(body)))
	return nil
}

func convertFailure(format string, args ...any) error {
	return export.Fail(export.CodeConvertError, "%s ("+format+")", append([]any{Messages[export.CodeConvertError]}, args...)...)
}

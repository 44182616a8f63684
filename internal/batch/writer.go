package batch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/JakeFAU/figure-exporter/internal/export"
)

// Writer persists one successful export and returns where it went.
type Writer interface {
	Write(ctx context.Context, rec export.Record) (string, error)
}

// NameFunc names the artifact for rec, without extension.
type NameFunc func(rec export.Record) string

// Namer derives artifact names from the batch inputs. With an explicit
// output the name is its base, suffixed with the item index when there are
// several inputs; otherwise an input file keeps its base name and anything
// else is "fig" (or "fig_<index>"). A record fid wins over both.
func Namer(items []string, output string) NameFunc {
	multi := len(items) > 1
	outName := ""
	if output != "" {
		outName = strings.TrimSuffix(filepath.Base(output), filepath.Ext(output))
	}
	return func(rec export.Record) string {
		if rec.Fid != "" {
			return rec.Fid
		}
		if outName != "" {
			if multi {
				return outName + "_" + strconv.Itoa(rec.ItemIndex)
			}
			return outName
		}
		if rec.ItemIndex >= 0 && rec.ItemIndex < len(items) {
			item := items[rec.ItemIndex]
			if info, err := os.Stat(item); err == nil && info.Mode().IsRegular() {
				base := filepath.Base(item)
				return strings.TrimSuffix(base, filepath.Ext(base))
			}
		}
		if multi {
			return "fig_" + strconv.Itoa(rec.ItemIndex)
		}
		return "fig"
	}
}

// OutputPrefix returns the object prefix implied by an output path that
// carries directories, e.g. "tmp" for "tmp/graph.png".
func OutputPrefix(output string) string {
	dir := filepath.ToSlash(filepath.Dir(output))
	if dir == "." || dir == "/" {
		return ""
	}
	return strings.Trim(dir, "/")
}

// BlobWriter stores artifacts in a BlobStore as <prefix>/<name>.<format>.
type BlobWriter struct {
	Store  export.BlobStore
	Prefix string
	Name   NameFunc
}

// Write implements Writer.
func (w BlobWriter) Write(ctx context.Context, rec export.Record) (string, error) {
	name := "fig"
	if w.Name != nil {
		name = w.Name(rec)
	}
	objectPath := name + "." + rec.Format
	if w.Prefix != "" {
		objectPath = path.Join(w.Prefix, objectPath)
	}
	uri, err := w.Store.PutObject(ctx, objectPath, rec.Head.Get("Content-Type"), bytes.NewReader(rec.Body))
	if err != nil {
		return "", fmt.Errorf("write %s: %w", objectPath, err)
	}
	return uri, nil
}

// StreamWriter writes bodies to a stream, typically stdout.
type StreamWriter struct {
	mu  sync.Mutex
	Out io.Writer
}

// Write implements Writer.
func (w *StreamWriter) Write(_ context.Context, rec export.Record) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.Out.Write(rec.Body); err != nil {
		return "", fmt.Errorf("write stream: %w", err)
	}
	return "stdout", nil
}

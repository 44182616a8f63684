// Package input turns batch items and request bodies into decoded figure
// values: file paths, remote URLs, literal JSON, and stdin.
package input

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	collyfetcher "github.com/JakeFAU/figure-exporter/internal/fetcher/colly"
	"github.com/JakeFAU/figure-exporter/internal/export"
)

// Stdin is the item that names standard input.
const Stdin = "-"

// Fetcher downloads a remote body.
type Fetcher interface {
	Fetch(ctx context.Context, url string, headers http.Header) (collyfetcher.Response, error)
}

// Limiter throttles fetches per host.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// FetchObserver records one fetch outcome.
type FetchObserver func(url, status string, bytes int)

// Resolver loads items. Fetcher and Limiter are optional; without a
// Fetcher URLs are treated as literals.
type Resolver struct {
	Fetcher Fetcher
	Limiter Limiter
	Observe FetchObserver
	Stdin   io.Reader
	Logger  *zap.Logger
}

// Resolve loads item and decodes it. Strings are tried as a file, as the
// file plus ".json", as an http(s) URL, and finally as literal JSON. A map
// carrying a figure resolves the figure the same way and keeps its other
// fields.
func (r *Resolver) Resolve(ctx context.Context, item any) (any, error) {
	switch v := item.(type) {
	case string:
		raw, err := r.load(ctx, v)
		if err != nil {
			return nil, err
		}
		return Decode(raw)
	case []byte:
		return Decode(v)
	case map[string]any:
		fig, ok := v["figure"].(string)
		if !ok {
			return v, nil
		}
		resolved, err := r.Resolve(ctx, fig)
		if err != nil {
			return nil, err
		}
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = val
		}
		out["figure"] = resolved
		return out, nil
	default:
		return item, nil
	}
}

// Loader adapts Resolve to a lifecycle loader for one item.
func (r *Resolver) Loader(item any) func(ctx context.Context) (any, error) {
	return func(ctx context.Context) (any, error) {
		return r.Resolve(ctx, item)
	}
}

func (r *Resolver) load(ctx context.Context, item string) ([]byte, error) {
	if item == Stdin {
		if r.Stdin == nil {
			return nil, export.Fail(export.CodeRequestError, "no standard input")
		}
		raw, err := io.ReadAll(r.Stdin)
		if err != nil {
			return nil, export.Wrap(export.CodeRequestError, fmt.Errorf("read stdin: %w", err))
		}
		return raw, nil
	}
	for _, path := range []string{item, item + ".json"} {
		if isFile(path) {
			raw, err := os.ReadFile(path)
			if err != nil {
				return nil, export.Wrap(export.CodeRequestError, fmt.Errorf("read %s: %w", path, err))
			}
			return raw, nil
		}
	}
	if isURL(item) && r.Fetcher != nil {
		return r.fetch(ctx, item)
	}
	return []byte(item), nil
}

func (r *Resolver) fetch(ctx context.Context, url string) ([]byte, error) {
	if r.Limiter != nil {
		if err := r.Limiter.Wait(ctx, url); err != nil {
			return nil, export.Wrap(export.CodeRequestError, err)
		}
	}
	resp, err := r.Fetcher.Fetch(ctx, url, http.Header{"Accept": {"application/json"}})
	if err != nil {
		r.observe(url, "error", 0)
		r.logger().Warn("fetch figure", zap.String("url", url), zap.Int("status", resp.StatusCode), zap.Error(err))
		return nil, export.Wrap(export.CodeRequestError, fmt.Errorf("fetch %s: %w", url, err))
	}
	r.observe(url, "success", len(resp.Body))
	return resp.Body, nil
}

func (r *Resolver) observe(url, status string, n int) {
	if r.Observe != nil {
		r.Observe(url, status, n)
	}
}

func (r *Resolver) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

// Decode parses a JSON body. Failure is a 422.
func Decode(raw []byte) (any, error) {
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, export.Wrap(export.CodeJSONParse, err)
	}
	return out, nil
}

// ExpandGlobs replaces every item holding glob metacharacters with its
// sorted matches. A pattern without matches, or an invalid one, is kept as
// is so that it later fails as a literal.
func ExpandGlobs(items []string) []string {
	if len(items) == 0 {
		return []string{Stdin}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if !strings.ContainsAny(item, "*?[") || isURL(item) {
			out = append(out, item)
			continue
		}
		matches, err := filepath.Glob(item)
		if err != nil || len(matches) == 0 {
			out = append(out, item)
			continue
		}
		sort.Strings(matches)
		out = append(out, matches...)
	}
	return out
}

func isFile(path string) bool {
	if len(path) > 4096 || strings.ContainsAny(path, "{\n") {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

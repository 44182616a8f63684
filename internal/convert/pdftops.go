// Package convert wraps the command-line converters used for formats the
// browser cannot produce directly.
package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// ErrNotInstalled is returned when the converter binary cannot be found.
var ErrNotInstalled = errors.New("converter binary not found")

// Pdftops converts PDF to EPS with poppler's pdftops.
type Pdftops struct {
	// Path is the binary; empty means "pdftops" on PATH.
	Path string
	// TempDir holds intermediate files; empty uses os.TempDir.
	TempDir string
}

func (p Pdftops) bin() string {
	if p.Path == "" {
		return "pdftops"
	}
	return p.Path
}

// Available reports whether the binary resolves.
func (p Pdftops) Available() bool {
	_, err := exec.LookPath(p.bin())
	return err == nil
}

// PDFToEPS converts pdf into EPS. Intermediate files are always removed.
func (p Pdftops) PDFToEPS(ctx context.Context, pdf []byte) ([]byte, error) {
	bin, err := exec.LookPath(p.bin())
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotInstalled, p.bin())
	}
	dir, err := os.MkdirTemp(p.TempDir, "pdftops-*")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	inPath := filepath.Join(dir, "in.pdf")
	outPath := filepath.Join(dir, "out.eps")
	if err := os.WriteFile(inPath, pdf, 0o600); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}

	var stderr bytes.Buffer
	// #nosec G204 -- binary comes from operator config, args are our own temp paths.
	cmd := exec.CommandContext(ctx, bin, "-eps", inPath, outPath)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pdftops: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	// #nosec G304 -- reads the converter output from our own temp dir.
	eps, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("read eps: %w", err)
	}
	return eps, nil
}

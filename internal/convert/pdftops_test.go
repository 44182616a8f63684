package convert

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakePdftops writes a shell script that copies its input with a header,
// mimicking `pdftops -eps in out`.
func fakePdftops(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script converter stub needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "pdftops")
	// #nosec G306 -- the stub must be executable.
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o700))
	return path
}

func TestPDFToEPSRunsBinary(t *testing.T) {
	t.Parallel()

	bin := fakePdftops(t, `[ "$1" = "-eps" ] || exit 3
{ printf '%%!PS-Adobe-3.0 EPSF-3.0\n'; cat "$2"; } > "$3"`)
	tmp := t.TempDir()
	conv := Pdftops{Path: bin, TempDir: tmp}
	require.True(t, conv.Available())

	eps, err := conv.PDFToEPS(context.Background(), []byte("%PDF-1.4 fake"))
	require.NoError(t, err)
	require.Equal(t, "%!PS-Adobe-3.0 EPSF-3.0\n%PDF-1.4 fake", string(eps))

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	require.Empty(t, entries, "temp files must be cleaned up")
}

func TestPDFToEPSReportsFailure(t *testing.T) {
	t.Parallel()

	bin := fakePdftops(t, `echo "Syntax Error: bad pdf" >&2; exit 1`)
	_, err := Pdftops{Path: bin}.PDFToEPS(context.Background(), []byte("junk"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "Syntax Error: bad pdf")
}

func TestPDFToEPSMissingBinary(t *testing.T) {
	t.Parallel()

	conv := Pdftops{Path: filepath.Join(t.TempDir(), "missing")}
	require.False(t, conv.Available())
	_, err := conv.PDFToEPS(context.Background(), nil)
	require.ErrorIs(t, err, ErrNotInstalled)
}

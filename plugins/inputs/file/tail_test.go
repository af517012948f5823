package file

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wharfinger/wharfinger/internal/logging"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestTailer_PullReadsCompleteLinesOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.log")
	writeFile(t, path, "one\ntwo\npartial")

	tl := &tailer{path: path, startAtBegin: true, log: logging.Discard()}
	lines, ok := tl.Pull(10)
	require.True(t, ok)
	require.Equal(t, []string{"one", "two"}, lines)

	// The partial line remains unread until it gains a trailing newline.
	lines, ok = tl.Pull(10)
	require.True(t, ok)
	require.Empty(t, lines)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("l\nfour\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	lines, ok = tl.Pull(10)
	require.True(t, ok)
	require.Equal(t, []string{"partiall", "four"}, lines)
}

func TestTailer_MaxLinesPerPull(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.log")
	writeFile(t, path, "a\nb\nc\nd\n")

	tl := &tailer{path: path, startAtBegin: true, log: logging.Discard()}
	lines, ok := tl.Pull(2)
	require.True(t, ok)
	require.Equal(t, []string{"a", "b"}, lines)

	lines, ok = tl.Pull(2)
	require.True(t, ok)
	require.Equal(t, []string{"c", "d"}, lines)
}

func TestTailer_OpenErrorReturnsEmptyNotNull(t *testing.T) {
	tl := &tailer{path: filepath.Join(t.TempDir(), "missing.log"), startAtBegin: true, log: logging.Discard()}
	lines, ok := tl.Pull(10)
	require.True(t, ok)
	require.Empty(t, lines)
}

func TestTailer_Truncation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.log")
	writeFile(t, path, "one\ntwo\nthree\n")

	tl := &tailer{path: path, startAtBegin: true, log: logging.Discard()}
	lines, ok := tl.Pull(10)
	require.True(t, ok)
	require.Equal(t, []string{"one", "two", "three"}, lines)

	writeFile(t, path, "new\n")
	lines, ok = tl.Pull(10)
	require.True(t, ok)
	require.Equal(t, []string{"new"}, lines)
}

func TestTailer_SavePositionRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.log")
	writeFile(t, path, "one\ntwo\n")

	tl := &tailer{path: path, startAtBegin: true, savePosition: true, log: logging.Discard()}
	_, ok := tl.Pull(10)
	require.True(t, ok)

	pos, inode, ok := readMarker(tl.markerPath())
	require.True(t, ok)
	require.Equal(t, int64(8), pos)
	require.Equal(t, tl.inode, inode)

	data, err := os.ReadFile(tl.markerPath())
	require.NoError(t, err)
	require.Len(t, data, markerLen)
}

func TestFilterLines_SkipThenGrep(t *testing.T) {
	skip, err := compileAll([]string{`DEBUG`})
	require.NoError(t, err)
	grep, err := compileAll([]string{`ERROR`})
	require.NoError(t, err)

	lines := []string{"DEBUG x", "ERROR y", "INFO z"}
	out := filterLines(lines, skip, grep)
	require.Equal(t, []string{"ERROR y"}, out)
}

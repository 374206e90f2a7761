package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRotatingWriterWritesToDatedFile(t *testing.T) {
	dir := t.TempDir()
	w, err := NewRotatingWriter(dir, ".log")
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Write([]byte("line one\n"))
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.True(t, strings.HasSuffix(entries[0].Name(), ".log"))

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	require.Equal(t, "line one\n", string(data))
}

func TestRotatingWriterRollsOverOnLineCount(t *testing.T) {
	dir := t.TempDir()
	w, err := NewRotatingWriter(dir, ".log")
	require.NoError(t, err)
	defer w.Close()

	line := []byte("x\n")
	for i := 0; i < maxLinesPerFile+10; i++ {
		_, err := w.Write(line)
		require.NoError(t, err)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2, "line-count threshold must open a sequence-suffixed file")
}

// syncBuffer is a goroutine-safe bytes.Buffer for asserting on drained
// async output.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestAsyncWriterDrainsOnClose(t *testing.T) {
	var dst syncBuffer
	w := NewAsyncWriter(&dst, 64)

	for i := 0; i < 10; i++ {
		_, err := w.Write([]byte("entry\n"))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	require.Equal(t, 10, strings.Count(dst.String(), "entry\n"))
}

func TestAsyncWriterFullQueueFallsBackSynchronously(t *testing.T) {
	var dst syncBuffer
	w := NewAsyncWriter(&dst, 1)

	// Flood well past the queue capacity; every line must land either via
	// the drain goroutine or the synchronous fallback.
	const n = 200
	for i := 0; i < n; i++ {
		_, err := w.Write([]byte("l\n"))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.Equal(t, n, strings.Count(dst.String(), "l\n"))
}

func TestLoggerLevelFiltering(t *testing.T) {
	var dst syncBuffer
	l := NewLogger(&Config{Level: LevelWarn, Output: &dst})

	l.Debugf("hidden %d", 1)
	l.Infof("hidden %d", 2)
	l.Warnf("shown %d", 3)
	l.Errorf("shown %d", 4)

	out := dst.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "[WARN] shown 3")
	require.Contains(t, out, "[ERROR] shown 4")
}

func TestLoggerKeyValuePairs(t *testing.T) {
	var dst syncBuffer
	l := NewLogger(&Config{Level: LevelDebug, Output: &dst})

	l.Info("accepted", "fd", 7, "peer", "127.0.0.1:9")
	require.Contains(t, dst.String(), "[INFO] accepted fd=7 peer=127.0.0.1:9")
}

func TestLoggerWithScopePrefixesLines(t *testing.T) {
	var dst syncBuffer
	l := NewLogger(&Config{Level: LevelDebug, Output: &dst})
	scoped := l.WithScope("fd=%d", 12)

	scoped.Infof("request %s", "/index.html")
	l.Infof("unscoped")

	out := dst.String()
	require.Contains(t, out, "[INFO] fd=12 request /index.html")
	require.Contains(t, out, "[INFO] unscoped")
	require.NotContains(t, out, "fd=12 unscoped")
}

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   LevelDebug,
		"info":    LevelInfo,
		"warn":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"ERROR":   LevelError,
		"bogus":   LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const maxLinesPerFile = 50000

// RotatingWriter is an io.Writer backed by a single open *os.File that
// rotates onto a new file when the wall-clock day changes or the current
// file has accumulated maxLinesPerFile lines.
//
// It counts newlines in each Write call rather than assuming one line per
// call, so it works whether the caller writes a line at a time or in
// batches.
type RotatingWriter struct {
	mu        sync.Mutex
	dir       string
	suffix    string
	day       int
	lineCount int
	seq       int
	file      *os.File
}

// NewRotatingWriter opens (creating dir if necessary) the first log file
// under dir, named by today's date plus suffix (e.g. ".log").
func NewRotatingWriter(dir, suffix string) (*RotatingWriter, error) {
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return nil, fmt.Errorf("logging: create log dir: %w", err)
	}
	w := &RotatingWriter{dir: dir, suffix: suffix}
	if err := w.openFor(time.Now()); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingWriter) openFor(now time.Time) error {
	name := fmt.Sprintf("%04d_%02d_%02d%s", now.Year(), now.Month(), now.Day(), w.suffix)
	f, err := os.OpenFile(filepath.Join(w.dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("logging: open log file: %w", err)
	}
	if w.file != nil {
		_ = w.file.Close()
	}
	w.file = f
	w.day = now.Day()
	w.lineCount = 0
	w.seq = 0
	return nil
}

func (w *RotatingWriter) rotateSequence(now time.Time) error {
	w.seq++
	name := fmt.Sprintf("%04d_%02d_%02d-%d%s", now.Year(), now.Month(), now.Day(), w.seq, w.suffix)
	f, err := os.OpenFile(filepath.Join(w.dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("logging: open rotated log file: %w", err)
	}
	if w.file != nil {
		_ = w.file.Close()
	}
	w.file = f
	w.lineCount = 0
	return nil
}

// Write implements io.Writer, rotating first if the day has changed or
// the line-count threshold has been crossed.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	if now.Day() != w.day {
		if err := w.openFor(now); err != nil {
			return 0, err
		}
	} else if w.lineCount >= maxLinesPerFile {
		if err := w.rotateSequence(now); err != nil {
			return 0, err
		}
	}

	for _, b := range p {
		if b == '\n' {
			w.lineCount++
		}
	}
	return w.file.Write(p)
}

// Close flushes and closes the current file.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Close()
}

// AsyncWriter wraps another io.Writer behind a bounded channel drained by
// one goroutine, so callers on the hot path never block on file I/O. A
// full queue falls back to a synchronous write instead of blocking the
// caller or dropping the line.
type AsyncWriter struct {
	dst    io.Writer
	lines  chan []byte
	done   chan struct{}
	closed bool
	mu     sync.Mutex
}

// NewAsyncWriter starts a drain goroutine writing to dst, buffering up to
// capacity pending lines.
func NewAsyncWriter(dst io.Writer, capacity int) *AsyncWriter {
	if capacity <= 0 {
		capacity = 1000
	}
	w := &AsyncWriter{
		dst:   dst,
		lines: make(chan []byte, capacity),
		done:  make(chan struct{}),
	}
	go w.drain()
	return w
}

func (w *AsyncWriter) drain() {
	defer close(w.done)
	for line := range w.lines {
		_, _ = w.dst.Write(line)
	}
}

// Write queues a copy of p for the drain goroutine. If the queue is full,
// it falls back to writing synchronously so a burst of logging never
// silently drops a line.
func (w *AsyncWriter) Write(p []byte) (int, error) {
	cp := make([]byte, len(p))
	copy(cp, p)

	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return w.dst.Write(p)
	}

	select {
	case w.lines <- cp:
		return len(p), nil
	default:
		return w.dst.Write(p)
	}
}

// Close stops accepting new lines, drains whatever is queued, and waits
// for the drain goroutine to exit.
func (w *AsyncWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.lines)
	<-w.done
	if closer, ok := w.dst.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

package logger

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
)

const defaultAsyncQueue = 4096

// ErrWriterClosed is returned by AsyncWriter.Write after Close.
var ErrWriterClosed = errors.New("async writer closed")

// AsyncWriter is an append-only line sink. Write copies complete lines into a
// bounded queue and returns immediately; a single goroutine drains the queue
// into the underlying writer. When the queue is full the line is dropped and
// counted, so callers on hot paths never wait on disk I/O.
type AsyncWriter struct {
	out    io.Writer
	closer io.Closer

	queue chan []byte
	done  chan struct{}

	mu      sync.Mutex
	partial []byte
	closed  bool

	dropped atomic.Int64
	written atomic.Int64

	closeOnce sync.Once
}

// NewAsyncWriter wraps w. A queue size <= 0 selects the default.
func NewAsyncWriter(w io.Writer, queue int) *AsyncWriter {
	if w == nil {
		w = io.Discard
	}
	if queue <= 0 {
		queue = defaultAsyncQueue
	}
	aw := &AsyncWriter{
		out:   w,
		queue: make(chan []byte, queue),
		done:  make(chan struct{}),
	}
	if c, ok := w.(io.Closer); ok {
		aw.closer = c
	}
	go aw.run()
	return aw
}

// OpenAsyncFile opens path for appending (creating parent dirs) and wraps it.
func OpenAsyncFile(path string, queue int) (*AsyncWriter, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("async writer: path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return NewAsyncWriter(f, queue), nil
}

// Write never blocks on the underlying writer. Incomplete trailing data is
// held until the next newline arrives.
func (w *AsyncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, ErrWriterClosed
	}
	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		line := make([]byte, i+1)
		copy(line, w.partial[:i+1])
		w.partial = w.partial[i+1:]
		select {
		case w.queue <- line:
		default:
			w.dropped.Add(1)
		}
	}
	if len(w.partial) == 0 {
		w.partial = nil
	}
	return len(p), nil
}

func (w *AsyncWriter) run() {
	defer close(w.done)
	buf := bufio.NewWriter(w.out)
	for line := range w.queue {
		if _, err := buf.Write(line); err == nil {
			w.written.Add(1)
		}
		if len(w.queue) == 0 {
			_ = buf.Flush()
		}
	}
	_ = buf.Flush()
}

// Dropped reports how many lines were discarded because the queue was full.
func (w *AsyncWriter) Dropped() int64 { return w.dropped.Load() }

// Written reports how many lines reached the underlying writer's buffer.
func (w *AsyncWriter) Written() int64 { return w.written.Load() }

// Close stops intake, drains every queued line and closes the underlying
// writer when it is an io.Closer. Subsequent calls are no-ops.
func (w *AsyncWriter) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		if len(w.partial) > 0 {
			line := append(w.partial, '\n')
			w.partial = nil
			select {
			case w.queue <- line:
			default:
				w.dropped.Add(1)
			}
		}
		close(w.queue)
		w.mu.Unlock()
		<-w.done
		if w.closer != nil {
			err = w.closer.Close()
		}
	})
	return err
}

package wrappers

import (
	"io"
	"sync"
)

// WriterWrapper is shared between the repl and the clients it spawned,
// so writes are serialised.
type WriterWrapper struct {
	mu       sync.Mutex
	isClosed bool
	wrapped  io.Writer
}

func NewWriterWrapper(wraps io.Writer) *WriterWrapper {
	return &WriterWrapper{wrapped: wraps}
}

func (r *WriterWrapper) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.isClosed = true
	return nil
}

func (r *WriterWrapper) Write(p []byte) (n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isClosed {
		return 0, ErrClosed
	}
	return r.wrapped.Write(p)
}

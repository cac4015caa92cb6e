package container

import (
	"errors"
	"fmt"
	"sync"
)

// ErrStreamClosed indicates a write after the producer closed the stream.
var ErrStreamClosed = errors.New("stream closed")

// Stream is a container whose total size is unknown until the producer calls
// Close. Bytes already handed out by Get are released, so memory use stays at
// the amount produced but not yet sent. Unlike Memory and File, Stream is
// shared between the producer and the connection writer and locks internally.
type Stream struct {
	mu         sync.Mutex
	pending    []byte
	base       int64
	readOffset int64
	closed     bool
	disposed   bool
	notify     func()
}

// NewStream creates an open, empty stream.
func NewStream() *Stream {
	return &Stream{}
}

// Write appends producer data.
func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	if s.closed || s.disposed {
		s.mu.Unlock()
		return 0, ErrStreamClosed
	}
	s.pending = append(s.pending, p...)
	notify := s.notify
	s.mu.Unlock()

	if notify != nil && len(p) > 0 {
		notify()
	}
	return len(p), nil
}

// Close marks end-of-stream; Size becomes known.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	notify := s.notify
	s.mu.Unlock()

	if notify != nil {
		notify()
	}
	return nil
}

// SetNotify implements Notifier.
func (s *Stream) SetNotify(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notify = fn
}

// Put appends data; offset must equal the number of bytes produced so far.
func (s *Stream) Put(offset int64, data []byte) error {
	s.mu.Lock()
	produced := s.base + int64(len(s.pending))
	s.mu.Unlock()
	if offset != produced {
		return fmt.Errorf("%w: stream put at %d, produced %d", ErrOffsetOutOfRange, offset, produced)
	}
	_, err := s.Write(data)
	return err
}

// Get returns up to length of the bytes produced at or after offset. Bytes
// before offset are released and can no longer be read.
func (s *Stream) Get(offset int64, length int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return nil, ErrDisposed
	}
	produced := s.base + int64(len(s.pending))
	if offset < s.base || offset > produced {
		return nil, fmt.Errorf("%w: get at %d, available [%d, %d]", ErrOffsetOutOfRange, offset, s.base, produced)
	}

	s.pending = s.pending[offset-s.base:]
	s.base = offset

	n := length
	if n > len(s.pending) {
		n = len(s.pending)
	}
	out := make([]byte, n)
	copy(out, s.pending[:n])
	s.readOffset = offset + int64(n)
	return out, nil
}

// Available returns the number of bytes produced past the read offset.
func (s *Stream) Available() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.base + int64(len(s.pending)) - s.readOffset
}

// Closed reports whether the producer has closed the stream.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// CurrentReadOffset returns the offset following the last Get.
func (s *Stream) CurrentReadOffset() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readOffset
}

// Size returns UnknownSize until Close, then the total produced.
func (s *Stream) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		return UnknownSize
	}
	return s.base + int64(len(s.pending))
}

// Dispose drops buffered data and stops accepting writes.
func (s *Stream) Dispose() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	s.disposed = true
	return nil
}

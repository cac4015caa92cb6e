package container

import "fmt"

// Memory is a bounded in-memory container.
type Memory struct {
	data       []byte
	limit      int64
	readOffset int64
	disposed   bool
}

// NewMemory creates an empty container that accepts at most limit bytes.
func NewMemory(limit int64) *Memory {
	return &Memory{limit: limit}
}

// NewMemoryFrom wraps an existing payload. The slice is not copied.
func NewMemoryFrom(data []byte) *Memory {
	return &Memory{data: data, limit: int64(len(data))}
}

// Put writes data at offset, growing the buffer as needed.
func (m *Memory) Put(offset int64, data []byte) error {
	if m.disposed {
		return ErrDisposed
	}
	if offset < 0 {
		return fmt.Errorf("%w: put at %d", ErrOffsetOutOfRange, offset)
	}
	end := offset + int64(len(data))
	if end > m.limit {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrCapacityExceeded, end, m.limit)
	}
	if end > int64(len(m.data)) {
		if end > int64(cap(m.data)) {
			grown := make([]byte, end, growCap(int64(cap(m.data)), end, m.limit))
			copy(grown, m.data)
			m.data = grown
		} else {
			m.data = m.data[:end]
		}
	}
	copy(m.data[offset:end], data)
	return nil
}

func growCap(current, need, limit int64) int64 {
	next := current * 2
	if next < need {
		next = need
	}
	if next > limit {
		next = limit
	}
	return next
}

// Get returns a copy of up to length bytes at offset.
func (m *Memory) Get(offset int64, length int) ([]byte, error) {
	if m.disposed {
		return nil, ErrDisposed
	}
	if offset < 0 || offset > int64(len(m.data)) {
		return nil, fmt.Errorf("%w: get at %d of %d", ErrOffsetOutOfRange, offset, len(m.data))
	}
	end := offset + int64(length)
	if end > int64(len(m.data)) {
		end = int64(len(m.data))
	}
	out := make([]byte, end-offset)
	copy(out, m.data[offset:end])
	m.readOffset = end
	return out, nil
}

// CurrentReadOffset returns the offset following the last Get.
func (m *Memory) CurrentReadOffset() int64 {
	return m.readOffset
}

// Size returns the number of bytes held.
func (m *Memory) Size() int64 {
	return int64(len(m.data))
}

// Bytes returns the payload without copying.
func (m *Memory) Bytes() []byte {
	return m.data
}

// Dispose drops the buffer.
func (m *Memory) Dispose() error {
	m.data = nil
	m.disposed = true
	return nil
}

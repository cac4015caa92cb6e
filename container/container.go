// Package container provides the byte stores that back MSRP message payloads.
//
// A DataContainer is exclusively owned by one message. Outgoing messages only
// read from it (on the connection's writer) and incoming messages only write to
// it (on the connection's reader), so the Memory and File implementations do no
// locking of their own.
package container

import (
	"errors"

	"github.com/gabriel-vasile/mimetype"
)

// UnknownSize is returned by Size while the total length is not yet known.
const UnknownSize int64 = -1

// DefaultContentType is used when sniffing finds nothing more specific.
const DefaultContentType = "application/octet-stream"

var (
	// ErrCapacityExceeded indicates a Put beyond the container's bound.
	ErrCapacityExceeded = errors.New("container capacity exceeded")
	// ErrOffsetOutOfRange indicates a Get or Put at an offset the container cannot serve.
	ErrOffsetOutOfRange = errors.New("offset out of range")
	// ErrDisposed indicates use of a container after Dispose.
	ErrDisposed = errors.New("container disposed")
	// ErrReadOnly indicates a Put on a container opened for reading.
	ErrReadOnly = errors.New("container is read-only")
	// ErrDirectoryTraversal indicates an attempt to access files outside allowed directories.
	ErrDirectoryTraversal = errors.New("path contains directory traversal")
)

// DataContainer is the payload store of one message. Offsets are 0-based.
type DataContainer interface {
	// Put writes data at offset.
	Put(offset int64, data []byte) error
	// Get returns up to length bytes starting at offset and moves the read
	// offset past them. It returns fewer bytes only at the end of the data.
	Get(offset int64, length int) ([]byte, error)
	// CurrentReadOffset returns the offset following the last Get.
	CurrentReadOffset() int64
	// Size returns the payload length, or UnknownSize.
	Size() int64
	// Dispose releases the resources held by the container.
	Dispose() error
}

// Notifier is implemented by containers whose data arrives over time. The
// callback runs whenever new data or end-of-stream becomes available.
type Notifier interface {
	SetNotify(fn func())
}

// SniffContentType detects the media type of a payload from its first bytes.
func SniffContentType(data []byte) string {
	if len(data) == 0 {
		return DefaultContentType
	}
	return mimetype.Detect(data).String()
}

// SniffFile detects the media type of a file from its content.
func SniffFile(path string) (string, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", err
	}
	return mt.String(), nil
}

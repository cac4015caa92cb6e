package container

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// File is a file-backed container. Outgoing payloads are opened read-only,
// incoming payloads are created for writing.
type File struct {
	path       string
	handle     *os.File
	size       int64
	readOffset int64
	writable   bool
}

// ValidatePath checks if a file path is safe from directory traversal attacks.
// It returns the cleaned path or an error if the path contains traversal attempts.
func ValidatePath(path string) (string, error) {
	cleanedPath := filepath.Clean(path)

	for _, part := range strings.Split(cleanedPath, string(filepath.Separator)) {
		if part == ".." {
			return "", ErrDirectoryTraversal
		}
	}

	return cleanedPath, nil
}

// OpenFile opens an existing file as the payload of an outgoing message.
func OpenFile(path string) (*File, error) {
	safePath, err := ValidatePath(path)
	if err != nil {
		return nil, err
	}

	handle, err := os.Open(safePath)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "OpenFile",
			"path":     safePath,
			"error":    err.Error(),
		}).Error("Failed to open payload file")
		return nil, err
	}

	info, err := handle.Stat()
	if err != nil {
		handle.Close()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "OpenFile",
		"path":     safePath,
		"size":     info.Size(),
	}).Debug("Opened payload file for reading")

	return &File{path: safePath, handle: handle, size: info.Size()}, nil
}

// CreateFile creates (or truncates) a file to receive an incoming payload.
func CreateFile(path string) (*File, error) {
	safePath, err := ValidatePath(path)
	if err != nil {
		return nil, err
	}

	handle, err := os.Create(safePath)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "CreateFile",
			"path":     safePath,
			"error":    err.Error(),
		}).Error("Failed to create payload file")
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "CreateFile",
		"path":     safePath,
	}).Debug("Created payload file for writing")

	return &File{path: safePath, handle: handle, writable: true}, nil
}

// Path returns the cleaned file path.
func (f *File) Path() string {
	return f.path
}

// Put writes data at offset.
func (f *File) Put(offset int64, data []byte) error {
	if f.handle == nil {
		return ErrDisposed
	}
	if !f.writable {
		return ErrReadOnly
	}
	if offset < 0 {
		return fmt.Errorf("%w: put at %d", ErrOffsetOutOfRange, offset)
	}
	if _, err := f.handle.WriteAt(data, offset); err != nil {
		return fmt.Errorf("write %s at %d: %w", f.path, offset, err)
	}
	if end := offset + int64(len(data)); end > f.size {
		f.size = end
	}
	return nil
}

// Get reads up to length bytes at offset.
func (f *File) Get(offset int64, length int) ([]byte, error) {
	if f.handle == nil {
		return nil, ErrDisposed
	}
	if offset < 0 || offset > f.size {
		return nil, fmt.Errorf("%w: get at %d of %d", ErrOffsetOutOfRange, offset, f.size)
	}
	if remaining := f.size - offset; int64(length) > remaining {
		length = int(remaining)
	}
	buf := make([]byte, length)
	n, err := f.handle.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read %s at %d: %w", f.path, offset, err)
	}
	f.readOffset = offset + int64(n)
	return buf[:n], nil
}

// CurrentReadOffset returns the offset following the last Get.
func (f *File) CurrentReadOffset() int64 {
	return f.readOffset
}

// Size returns the file length as known to the container.
func (f *File) Size() int64 {
	return f.size
}

// Dispose closes the file. The file itself is kept on disk.
func (f *File) Dispose() error {
	if f.handle == nil {
		return nil
	}
	err := f.handle.Close()
	f.handle = nil
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Dispose",
			"path":     f.path,
			"error":    err.Error(),
		}).Warn("Failed to close payload file")
	}
	return err
}

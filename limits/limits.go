// Package limits provides centralized size limits for the MSRP transaction engine.
// This ensures consistent validation across the codec, message and transport layers.
package limits

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultChunkSize is the default size of the connection output buffer and
	// therefore the largest body a single outgoing SEND carries.
	DefaultChunkSize = 2048

	// MinChunkSize is the smallest chunk size accepted by configuration.
	MinChunkSize = 64

	// MaxChunkSize is the largest chunk size accepted by configuration (1MB).
	MaxChunkSize = 1024 * 1024

	// MaxHeaderSize bounds the start-line plus header block of one frame.
	// A peer that sends more header bytes without a blank line is broken.
	MaxHeaderSize = 16 * 1024

	// MaxFrameSize bounds one complete incoming frame (headers, body, end-line).
	// Frames are buffered whole before dispatch, so this caps per-connection memory.
	MaxFrameSize = 16 * 1024 * 1024

	// MaxIncomingMessage is the default upper bound for an in-memory incoming payload (64MB).
	MaxIncomingMessage = 64 * 1024 * 1024

	// TransactionIDLength is the length of generated transaction identifiers.
	// RFC 4975 allows 4 to 32 characters.
	TransactionIDLength = 12

	// MinTransactionIDLength and MaxTransactionIDLength bound identifiers read from the wire.
	MinTransactionIDLength = 4
	MaxTransactionIDLength = 32

	// DefaultResponseTimeout is how long a request waits for its response before a
	// local 408 is synthesized.
	DefaultResponseTimeout = 30 * time.Second
)

var (
	// ErrChunkSizeOutOfRange indicates a configured chunk size outside [MinChunkSize, MaxChunkSize]
	ErrChunkSizeOutOfRange = errors.New("chunk size out of range")

	// ErrFrameTooLarge indicates a frame exceeded MaxFrameSize before its end-line was found
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrHeaderTooLarge indicates a header block exceeded MaxHeaderSize
	ErrHeaderTooLarge = errors.New("header block too large")

	// ErrTransactionIDLength indicates a transaction identifier of invalid length
	ErrTransactionIDLength = errors.New("transaction id length out of range")
)

// ValidateChunkSize validates a configured chunk size.
// Returns an error with context including the actual value and the allowed range.
func ValidateChunkSize(size int) error {
	if size < MinChunkSize || size > MaxChunkSize {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrChunkSizeOutOfRange, size, MinChunkSize, MaxChunkSize)
	}
	return nil
}

// ValidateFrameSize validates the number of bytes buffered for a frame still being read.
func ValidateFrameSize(buffered int) error {
	if buffered > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes buffered, limit %d", ErrFrameTooLarge, buffered, MaxFrameSize)
	}
	return nil
}

// ValidateHeaderSize validates the number of bytes buffered before the header block ended.
func ValidateHeaderSize(buffered int) error {
	if buffered > MaxHeaderSize {
		return fmt.Errorf("%w: %d bytes without blank line, limit %d", ErrHeaderTooLarge, buffered, MaxHeaderSize)
	}
	return nil
}

// ValidateTransactionID validates the length of a transaction identifier read from the wire.
func ValidateTransactionID(tid string) error {
	if len(tid) < MinTransactionIDLength || len(tid) > MaxTransactionIDLength {
		return fmt.Errorf("%w: %q has length %d", ErrTransactionIDLength, tid, len(tid))
	}
	return nil
}

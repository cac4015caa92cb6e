// Package limits provides centralized size constants and validation functions
// for the MSRP transaction engine. This package ensures consistent size enforcement
// across the codec, the message layer and the connection loops.
//
// # Size Hierarchy
//
//   - DefaultChunkSize (2KB): the default output buffer of a connection. Outgoing
//     messages are split into SEND transactions no larger than this.
//
//   - MaxChunkSize (1MB): the largest output buffer configuration accepts.
//
//   - MaxHeaderSize (16KB): the largest start-line plus header block accepted
//     from a peer before the blank line.
//
//   - MaxFrameSize (16MB): the largest complete frame buffered by the reader.
//     Exceeding it is a fatal connection error because the frame boundary can
//     no longer be recovered.
//
// # Validation Functions
//
//	if err := limits.ValidateChunkSize(opts.ChunkSize); err != nil {
//	    return err
//	}
//
// All errors wrap one of the package sentinels, so callers use errors.Is:
//
//	if errors.Is(err, limits.ErrFrameTooLarge) {
//	    // tear the connection down
//	}
package limits

package codec

import (
	"bytes"
	"fmt"

	"github.com/opd-ai/gomsrp/limits"
)

type decodeState uint8

const (
	stateHeaders decodeState = iota
	stateBody
)

// Decoder cuts a byte stream into frames. It is the read buffer of one
// connection: bytes are appended with Write and complete frames are taken
// with Next. A Decoder is not safe for concurrent use.
type Decoder struct {
	buf       []byte
	state     decodeState
	frame     *Frame
	headerErr error
	bodyStart int
	scanFrom  int
}

// NewDecoder returns an empty decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Write appends stream bytes. It never fails.
func (d *Decoder) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	return len(p), nil
}

// Buffered returns the number of bytes held but not yet consumed as frames.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Next returns the next complete frame, or (nil, nil) if more bytes are needed.
//
// When a frame is delimited but its content is invalid, Next returns the frame
// together with a *ProtocolError; the stream stays usable and the caller answers
// the transaction. A nil frame with an error means the stream cannot be
// resynchronized and the connection must be dropped.
func (d *Decoder) Next() (*Frame, error) {
	if d.state == stateHeaders {
		done, err := d.readHeaders()
		if err != nil || d.state == stateHeaders && !done {
			return nil, err
		}
		if done {
			return d.finish(nil, d.bodyStart)
		}
	}

	offset, flag, found := ScanForEndLine(d.buf[d.scanFrom:], d.frame.TID)
	if !found {
		if err := limits.ValidateFrameSize(len(d.buf)); err != nil {
			return nil, err
		}
		// keep a tail that could still hold the start of the end-line
		next := len(d.buf) - EndLineTrailerLen(d.frame.TID) + 1
		if next > d.scanFrom {
			d.scanFrom = next
		}
		return nil, nil
	}

	bodyEnd := d.scanFrom + offset
	body := make([]byte, bodyEnd-d.bodyStart)
	copy(body, d.buf[d.bodyStart:bodyEnd])
	d.frame.Body = body
	d.frame.Flag = flag
	return d.finish(body, bodyEnd+EndLineTrailerLen(d.frame.TID))
}

// readHeaders consumes the start-line and header lines. It reports done when
// the frame ended with an end-line before any body, and switches to stateBody
// when a blank line was found.
func (d *Decoder) readHeaders() (done bool, err error) {
	lineEnd := bytes.Index(d.buf, []byte(crlf))
	if lineEnd < 0 {
		return false, limits.ValidateHeaderSize(len(d.buf))
	}

	frame, startErr := ParseStartLine(string(d.buf[:lineEnd]))
	if frame == nil {
		// without a transaction id the end-line cannot be found
		return false, startErr
	}

	pos := lineEnd + len(crlf)
	headerStart := pos
	endLine := []byte(EndLinePrefix + frame.TID)
	for {
		next := bytes.Index(d.buf[pos:], []byte(crlf))
		if next < 0 {
			return false, limits.ValidateHeaderSize(len(d.buf))
		}
		line := d.buf[pos : pos+next]
		switch {
		case len(line) == 0:
			d.setHeaders(frame, d.buf[headerStart:pos], startErr)
			d.state = stateBody
			d.bodyStart = pos + len(crlf)
			d.scanFrom = d.bodyStart
			return false, nil
		case bytes.HasPrefix(line, endLine) && len(line) == len(endLine)+1 && Flag(line[len(endLine)]).Valid():
			d.setHeaders(frame, d.buf[headerStart:pos], startErr)
			frame.Flag = Flag(line[len(endLine)])
			d.bodyStart = pos + next + len(crlf)
			return true, nil
		}
		pos += next + len(crlf)
		if err := limits.ValidateHeaderSize(pos); err != nil {
			return false, err
		}
	}
}

// setHeaders keeps whatever headers parsed, even when the frame is invalid,
// so the rejection can be addressed and tied to its message.
func (d *Decoder) setHeaders(frame *Frame, block []byte, startErr error) {
	d.frame = frame
	header, err := ParseHeaders(block)
	frame.Header = header
	switch {
	case startErr != nil:
		d.headerErr = startErr
	case err != nil:
		d.headerErr = protocolError(CodeBadRequest, frame.TID, err)
	}
}

// finish resets the decoder after a frame ending at consumed and returns it.
func (d *Decoder) finish(body []byte, consumed int) (*Frame, error) {
	frame := d.frame
	herr := d.headerErr

	d.buf = append(d.buf[:0], d.buf[consumed:]...)
	d.state = stateHeaders
	d.frame = nil
	d.headerErr = nil
	d.bodyStart = 0
	d.scanFrom = 0

	if herr != nil {
		return frame, herr
	}
	if frame.Kind == KindResponse || frame.Kind == KindUnsupported {
		return frame, nil
	}
	if err := validateRequired(frame); err != nil {
		return frame, protocolError(CodeBadRequest, frame.TID, err)
	}
	if frame.Kind == KindSend && !frame.Header.HasByteRange {
		// a SEND without Byte-Range carries the whole message in one chunk
		n := int64(len(body))
		frame.Header.ByteRange = ByteRange{Start: 1, End: n, Total: n}
		frame.Header.HasByteRange = true
	}
	if frame.Kind == KindSend && frame.Header.ByteRange.End != Unknown &&
		frame.Header.ByteRange.Len() != int64(len(body)) && frame.Flag != FlagAbort {
		return frame, protocolError(CodeBadRequest, frame.TID,
			fmt.Errorf("%w: Byte-Range %s does not match body length %d",
				ErrInvalidHeader, frame.Header.ByteRange, len(body)))
	}
	return frame, nil
}

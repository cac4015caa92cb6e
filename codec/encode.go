package codec

import (
	"bytes"
	"strconv"
	"strings"
)

const crlf = "\r\n"

// HasBody reports whether the frame is encoded with a content section.
// Empty chunks are sent without one.
func (f *Frame) HasBody() bool {
	return len(f.Body) > 0
}

// EncodeHeader produces the start-line and header block of f. When f carries a
// body the blank line separating headers from the body is included, so the
// caller writes the body directly after the returned bytes.
func EncodeHeader(f *Frame) []byte {
	var buf bytes.Buffer
	buf.Grow(256)

	buf.WriteString(Protocol)
	buf.WriteByte(' ')
	buf.WriteString(f.TID)
	buf.WriteByte(' ')
	if f.Kind == KindResponse {
		buf.WriteString(strconv.Itoa(f.Code))
		comment := f.Comment
		if comment == "" {
			comment = StatusText(f.Code)
		}
		if comment != "" {
			buf.WriteByte(' ')
			buf.WriteString(comment)
		}
	} else {
		buf.WriteString(f.Method)
	}
	buf.WriteString(crlf)

	h := &f.Header
	writeHeader(&buf, HeaderToPath, strings.Join(h.ToPath, " "))
	writeHeader(&buf, HeaderFromPath, strings.Join(h.FromPath, " "))
	writeHeader(&buf, HeaderMessageID, h.MessageID)
	writeHeader(&buf, HeaderSuccessReport, h.SuccessReport)
	writeHeader(&buf, HeaderFailureReport, h.FailureReport)
	if h.HasByteRange {
		writeHeader(&buf, HeaderByteRange, h.ByteRange.String())
	}
	if h.Status != nil {
		writeHeader(&buf, HeaderStatus, h.Status.String())
	}
	if h.UseNickname != "" {
		writeHeader(&buf, HeaderUseNickname, `"`+h.UseNickname+`"`)
	}
	for _, field := range h.Extra {
		writeHeader(&buf, field.Name, field.Value)
	}

	// Content-Type is the last header and only present with a body.
	if f.HasBody() {
		writeHeader(&buf, HeaderContentType, h.ContentType)
		buf.WriteString(crlf)
	}
	return buf.Bytes()
}

func writeHeader(buf *bytes.Buffer, name, value string) {
	if value == "" {
		return
	}
	buf.WriteString(name)
	buf.WriteString(": ")
	buf.WriteString(value)
	buf.WriteString(crlf)
}

// EncodeEndLine produces "-------<tid><flag>" followed by CRLF.
func EncodeEndLine(tid string, flag Flag) []byte {
	line := make([]byte, 0, len(EndLinePrefix)+len(tid)+3)
	line = append(line, EndLinePrefix...)
	line = append(line, tid...)
	line = append(line, byte(flag))
	return append(line, crlf...)
}

// EncodeChunkEnd produces what follows the body of f: the CRLF closing the body
// (when f has one) and the end-line carrying flag.
func EncodeChunkEnd(f *Frame, flag Flag) []byte {
	end := EncodeEndLine(f.TID, flag)
	if !f.HasBody() {
		return end
	}
	return append([]byte(crlf), end...)
}

// Encode produces the complete wire form of f using f.Flag.
func Encode(f *Frame) []byte {
	out := EncodeHeader(f)
	out = append(out, f.Body...)
	return append(out, EncodeChunkEnd(f, f.Flag)...)
}

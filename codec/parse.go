package codec

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/opd-ai/gomsrp/limits"
	"github.com/samber/lo"
)

// Header names.
const (
	HeaderToPath        = "To-Path"
	HeaderFromPath      = "From-Path"
	HeaderMessageID     = "Message-ID"
	HeaderByteRange     = "Byte-Range"
	HeaderContentType   = "Content-Type"
	HeaderStatus        = "Status"
	HeaderFailureReport = "Failure-Report"
	HeaderSuccessReport = "Success-Report"
	HeaderUseNickname   = "Use-Nickname"
)

// ValidateTransactionID checks tid against the identifier grammar: an
// alphanumeric first character followed by token characters, 4 to 32 long.
func ValidateTransactionID(tid string) error {
	if err := limits.ValidateTransactionID(tid); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTransactionID, err)
	}
	if !isAlnum(tid[0]) {
		return fmt.Errorf("%w: %q must start with an alphanumeric character", ErrInvalidTransactionID, tid)
	}
	for i := 1; i < len(tid); i++ {
		if !IsTokenChar(tid[i]) {
			return fmt.Errorf("%w: %q contains %q", ErrInvalidTransactionID, tid, tid[i])
		}
	}
	return nil
}

// ParseStartLine parses the first line of a frame (without its CRLF).
// Requests yield the method token; responses yield the code and comment.
// A method the engine does not implement yields KindUnsupported, not an error.
//
// When the transaction id is valid but the method is malformed, the frame is
// returned as KindUnsupported together with a *ProtocolError, so the
// transaction can still be delimited and answered. A nil frame means the
// line carries no usable transaction id.
func ParseStartLine(line string) (*Frame, error) {
	parts := strings.SplitN(line, " ", 4)
	if len(parts) < 3 || parts[0] != Protocol {
		return nil, protocolError(CodeBadRequest, "", fmt.Errorf("%w: %q", ErrMalformedStartLine, line))
	}

	tid := parts[1]
	if err := ValidateTransactionID(tid); err != nil {
		return nil, protocolError(CodeBadRequest, "", fmt.Errorf("%w: %v", ErrMalformedStartLine, err))
	}

	frame := &Frame{TID: tid}
	token := parts[2]

	if isStatusCode(token) {
		code, _ := strconv.Atoi(token)
		frame.Kind = KindResponse
		frame.Code = code
		if len(parts) == 4 {
			frame.Comment = parts[3]
		}
		return frame, nil
	}

	if len(parts) == 4 || !isMethodToken(token) {
		frame.Method = token
		frame.Kind = KindUnsupported
		return frame, protocolError(CodeBadRequest, tid, fmt.Errorf("%w: bad method %q", ErrMalformedStartLine, line))
	}

	frame.Method = token
	frame.Kind = kindForMethod(token)
	return frame, nil
}

func isStatusCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for i := 0; i < 3; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func isMethodToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return true
}

// ParseByteRange parses "start-end/total" where end and total may be "*".
func ParseByteRange(value string) (ByteRange, error) {
	rangePart, totalPart, ok := strings.Cut(strings.TrimSpace(value), "/")
	if !ok {
		return ByteRange{}, fmt.Errorf("%w: Byte-Range %q lacks total", ErrInvalidHeader, value)
	}
	startPart, endPart, ok := strings.Cut(rangePart, "-")
	if !ok {
		return ByteRange{}, fmt.Errorf("%w: Byte-Range %q lacks end", ErrInvalidHeader, value)
	}

	start, err := strconv.ParseInt(startPart, 10, 64)
	if err != nil || start < 1 {
		return ByteRange{}, fmt.Errorf("%w: Byte-Range start %q", ErrInvalidHeader, startPart)
	}
	end, err := parseBound(endPart)
	if err != nil || (end != Unknown && end < start-1) {
		return ByteRange{}, fmt.Errorf("%w: Byte-Range end %q", ErrInvalidHeader, endPart)
	}
	total, err := parseBound(totalPart)
	if err != nil || (total != Unknown && end != Unknown && end > total) {
		return ByteRange{}, fmt.Errorf("%w: Byte-Range total %q", ErrInvalidHeader, totalPart)
	}

	return ByteRange{Start: start, End: end, Total: total}, nil
}

func parseBound(s string) (int64, error) {
	if s == "*" {
		return Unknown, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("negative bound %d", v)
	}
	return v, nil
}

// ParseStatus parses "namespace code [comment]".
func ParseStatus(value string) (Status, error) {
	parts := strings.SplitN(strings.TrimSpace(value), " ", 3)
	if len(parts) < 2 || !isStatusCode(parts[0]) || !isStatusCode(parts[1]) {
		return Status{}, fmt.Errorf("%w: Status %q", ErrInvalidHeader, value)
	}
	ns, _ := strconv.Atoi(parts[0])
	code, _ := strconv.Atoi(parts[1])
	status := Status{Namespace: ns, Code: code}
	if len(parts) == 3 {
		status.Comment = parts[2]
	}
	return status, nil
}

// ParseHeaders parses a header block: "Name: value" lines separated by CRLF.
// The block must not contain the start-line or the terminating blank line.
//
// A bad line does not stop parsing: the returned header holds every field
// that parsed, so a rejected request can still be answered and matched to
// its message, and the error is the first failure found.
func ParseHeaders(block []byte) (Header, error) {
	var (
		h        Header
		firstErr error
	)
	for _, raw := range bytes.Split(block, []byte("\r\n")) {
		if len(raw) == 0 {
			continue
		}
		name, value, ok := strings.Cut(string(raw), ":")
		if !ok || name == "" || strings.ContainsAny(name, " \t") {
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: line %q", ErrInvalidHeader, raw)
			}
			continue
		}
		if err := h.set(name, strings.TrimSpace(value)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return h, firstErr
}

func (h *Header) set(name, value string) error {
	switch {
	case strings.EqualFold(name, HeaderToPath):
		h.ToPath = strings.Fields(value)
	case strings.EqualFold(name, HeaderFromPath):
		h.FromPath = strings.Fields(value)
	case strings.EqualFold(name, HeaderMessageID):
		if value == "" || !isAlnum(value[0]) {
			return fmt.Errorf("%w: Message-ID %q", ErrInvalidHeader, value)
		}
		h.MessageID = value
	case strings.EqualFold(name, HeaderByteRange):
		br, err := ParseByteRange(value)
		if err != nil {
			return err
		}
		h.ByteRange = br
		h.HasByteRange = true
	case strings.EqualFold(name, HeaderContentType):
		if !strings.Contains(value, "/") {
			return fmt.Errorf("%w: Content-Type %q", ErrInvalidHeader, value)
		}
		h.ContentType = value
	case strings.EqualFold(name, HeaderStatus):
		st, err := ParseStatus(value)
		if err != nil {
			return err
		}
		h.Status = &st
	case strings.EqualFold(name, HeaderFailureReport):
		if !lo.Contains([]string{ReportYes, ReportNo, ReportPartial}, value) {
			return fmt.Errorf("%w: Failure-Report %q", ErrInvalidHeader, value)
		}
		h.FailureReport = value
	case strings.EqualFold(name, HeaderSuccessReport):
		if !lo.Contains([]string{ReportYes, ReportNo}, value) {
			return fmt.Errorf("%w: Success-Report %q", ErrInvalidHeader, value)
		}
		h.SuccessReport = value
	case strings.EqualFold(name, HeaderUseNickname):
		h.UseNickname = strings.Trim(value, `"`)
	default:
		h.Extra = append(h.Extra, Field{Name: name, Value: value})
	}
	return nil
}

// validateRequired checks the headers a request kind cannot do without.
func validateRequired(f *Frame) error {
	if len(f.Header.ToPath) == 0 || len(f.Header.FromPath) == 0 {
		return fmt.Errorf("%w: To-Path and From-Path", ErrMissingHeader)
	}
	switch f.Kind {
	case KindSend:
		if f.Header.MessageID == "" {
			return fmt.Errorf("%w: Message-ID", ErrMissingHeader)
		}
		if len(f.Body) > 0 && f.Header.ContentType == "" {
			return fmt.Errorf("%w: Content-Type", ErrMissingHeader)
		}
	case KindReport:
		if f.Header.MessageID == "" || f.Header.Status == nil {
			return fmt.Errorf("%w: Message-ID and Status", ErrMissingHeader)
		}
	case KindNickname:
		if f.Header.UseNickname == "" {
			return fmt.Errorf("%w: Use-Nickname", ErrMissingHeader)
		}
	}
	return nil
}

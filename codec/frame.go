package codec

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Protocol is the protocol token that opens every start-line.
const Protocol = "MSRP"

// Request methods understood by the engine.
const (
	MethodSend     = "SEND"
	MethodReport   = "REPORT"
	MethodNickname = "NICKNAME"
)

// EndLinePrefix is the run of dashes that opens an end-line.
const EndLinePrefix = "-------"

// Unknown is the sentinel used for a Byte-Range end or total of "*".
const Unknown int64 = -1

// Flag is the continuation flag closing every frame.
type Flag byte

const (
	// FlagContinue indicates more chunks of the message follow.
	FlagContinue Flag = '+'
	// FlagEnd indicates the last chunk of the message.
	FlagEnd Flag = '$'
	// FlagAbort indicates the sender aborted the message.
	FlagAbort Flag = '#'
)

// Valid reports whether f is one of the three continuation flags.
func (f Flag) Valid() bool {
	return f == FlagContinue || f == FlagEnd || f == FlagAbort
}

// String returns the flag character.
func (f Flag) String() string {
	return string(rune(f))
}

// Kind classifies a frame.
type Kind uint8

const (
	// KindSend is a SEND request carrying a chunk.
	KindSend Kind = iota
	// KindReport is a REPORT request carrying delivery status.
	KindReport
	// KindNickname is a NICKNAME request (RFC 7701).
	KindNickname
	// KindResponse is a response to an earlier request.
	KindResponse
	// KindUnsupported is a request with a method the engine does not implement.
	KindUnsupported
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindSend:
		return MethodSend
	case KindReport:
		return MethodReport
	case KindNickname:
		return MethodNickname
	case KindResponse:
		return "RESPONSE"
	case KindUnsupported:
		return "UNSUPPORTED"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// kindForMethod maps a request method token to its kind.
func kindForMethod(method string) Kind {
	switch method {
	case MethodSend:
		return KindSend
	case MethodReport:
		return KindReport
	case MethodNickname:
		return KindNickname
	default:
		return KindUnsupported
	}
}

// ByteRange is the value of a Byte-Range header. Start and End are 1-based and
// inclusive; End and Total may be Unknown.
type ByteRange struct {
	Start int64
	End   int64
	Total int64
}

// Len returns the number of bytes covered, or Unknown when End is unknown.
func (b ByteRange) Len() int64 {
	if b.End == Unknown {
		return Unknown
	}
	return b.End - b.Start + 1
}

// String formats the range as it appears on the wire.
func (b ByteRange) String() string {
	return fmt.Sprintf("%d-%s/%s", b.Start, formatBound(b.End), formatBound(b.Total))
}

func formatBound(v int64) string {
	if v == Unknown {
		return "*"
	}
	return strconv.FormatInt(v, 10)
}

// Status is the value of a Status header: namespace, code and optional comment.
type Status struct {
	Namespace int
	Code      int
	Comment   string
}

// String formats the status as it appears on the wire.
func (s Status) String() string {
	out := fmt.Sprintf("%03d %03d", s.Namespace, s.Code)
	if s.Comment != "" {
		out += " " + s.Comment
	}
	return out
}

// Report header values.
const (
	ReportYes     = "yes"
	ReportNo      = "no"
	ReportPartial = "partial"
)

// Header holds the parsed header block of a frame.
type Header struct {
	ToPath        []string
	FromPath      []string
	MessageID     string
	ByteRange     ByteRange
	HasByteRange  bool
	ContentType   string
	Status        *Status
	FailureReport string
	SuccessReport string
	UseNickname   string
	// Extra holds headers the engine does not interpret, in wire order.
	Extra []Field
}

// Field is one uninterpreted header line.
type Field struct {
	Name  string
	Value string
}

// Frame is one MSRP request or response as it travels on the wire.
type Frame struct {
	Kind    Kind
	TID     string
	Method  string
	Code    int
	Comment string
	Header  Header
	Body    []byte
	Flag    Flag
}

// IsRequest reports whether the frame is a request.
func (f *Frame) IsRequest() bool {
	return f.Kind != KindResponse
}

// String returns a short description used in log fields.
func (f *Frame) String() string {
	if f.Kind == KindResponse {
		return fmt.Sprintf("MSRP %s %03d", f.TID, f.Code)
	}
	return fmt.Sprintf("MSRP %s %s", f.TID, f.Method)
}

var (
	// ErrMalformedStartLine indicates a start-line that cannot be parsed.
	ErrMalformedStartLine = errors.New("malformed start-line")
	// ErrInvalidHeader indicates a header whose value cannot be parsed.
	ErrInvalidHeader = errors.New("invalid header")
	// ErrMissingHeader indicates a header required for the method is absent.
	ErrMissingHeader = errors.New("missing required header")
	// ErrInvalidTransactionID indicates a transaction identifier outside the token alphabet.
	ErrInvalidTransactionID = errors.New("invalid transaction id")
)

// ProtocolError is a parse failure tied to a transaction. Code is the response
// code the failure is answered with.
type ProtocolError struct {
	Code int
	TID  string
	Err  error
}

// Error implements error.
func (e *ProtocolError) Error() string {
	if e.TID == "" {
		return fmt.Sprintf("msrp protocol error (%d): %v", e.Code, e.Err)
	}
	return fmt.Sprintf("msrp protocol error (%d) in transaction %s: %v", e.Code, e.TID, e.Err)
}

// Unwrap returns the underlying sentinel.
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func protocolError(code int, tid string, err error) *ProtocolError {
	return &ProtocolError{Code: code, TID: tid, Err: err}
}

// IsTokenChar reports whether c may appear in a transaction or message identifier
// after its first character.
func IsTokenChar(c byte) bool {
	return isAlnum(c) || strings.IndexByte(".-+%=", c) >= 0
}

func isAlnum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

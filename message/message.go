package message

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/gomsrp/codec"
	"github.com/opd-ai/gomsrp/container"
	"github.com/opd-ai/gomsrp/report"
	"github.com/sirupsen/logrus"
)

var (
	// ErrMessageComplete indicates an abort of a message that already completed.
	ErrMessageComplete = errors.New("message already complete")
	// ErrMessageAborted indicates an operation on an aborted message.
	ErrMessageAborted = errors.New("message aborted")
	// ErrNotBound indicates an abort of a message not attached to a connection.
	ErrNotBound = errors.New("message not bound to a connection")
	// ErrWrongDirection indicates an outgoing operation on an incoming message or vice versa.
	ErrWrongDirection = errors.New("operation not valid for message direction")
	// ErrNoContainer indicates an incoming chunk for a message without a container.
	ErrNoContainer = errors.New("message has no data container")
	// ErrOutOfOrder indicates a chunk whose start does not continue the received bytes.
	ErrOutOfOrder = errors.New("chunk out of order")
	// ErrInvalidRange indicates a chunk inconsistent with the message size.
	ErrInvalidRange = errors.New("chunk range inconsistent with message size")
	// ErrStarved indicates an unknown-size payload with no data ready yet.
	ErrStarved = errors.New("no payload data available yet")
	// ErrNoMoreChunks indicates the last chunk was already produced.
	ErrNoMoreChunks = errors.New("all chunks already produced")
	// ErrTIDCollision indicates the next chunk would open with the transaction's own end-line token.
	ErrTIDCollision = errors.New("chunk collides with transaction end-line")
)

// Unknown is the size of a message whose total is not yet known.
const Unknown = codec.Unknown

// Direction indicates whether a message is sent or received.
type Direction uint8

const (
	// Incoming represents a message being received.
	Incoming Direction = iota
	// Outgoing represents a message being sent.
	Outgoing
)

// String returns "in" or "out".
func (d Direction) String() string {
	if d == Outgoing {
		return "out"
	}
	return "in"
}

// State represents the current state of a message.
type State uint8

const (
	// StatePending indicates no chunk has been sent or received yet.
	StatePending State = iota
	// StateRunning indicates the transfer is in progress.
	StateRunning
	// StateCompleted indicates every byte was sent or received.
	StateCompleted
	// StateAborted indicates the transfer was aborted locally or by the peer.
	StateAborted
	// StateDiscarded indicates the application released the message.
	StateDiscarded
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	case StateDiscarded:
		return "discarded"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// TimeProvider abstracts time operations for deterministic testing.
type TimeProvider interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// DefaultTimeProvider uses the standard library time functions.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// Since returns the duration since t.
func (DefaultTimeProvider) Since(t time.Time) time.Duration { return time.Since(t) }

// Aborter is implemented by the transaction manager a message is bound to.
type Aborter interface {
	AbortMessage(m *Message) error
}

// Message is one logical transfer. Outgoing messages are read by the
// connection writer, incoming messages are written by the connection reader.
type Message struct {
	ID          string
	ContentType string
	Direction   Direction

	mu            sync.Mutex
	state         State
	size          int64
	counter       int64
	finished      bool
	data          container.DataContainer
	successReport bool
	failureReport string
	mechanism     report.Mechanism
	aborter       Aborter

	abortCode     int
	abortComment  string
	lastHook      int64
	lastReport    int64
	reportedFinal bool
	delivered     int64
	seenReports   map[string]struct{}

	timeProvider  TimeProvider
	startTime     time.Time
	lastChunkTime time.Time
	speed         float64
}

// Option configures a message at construction.
type Option func(*Message)

// WithID sets the Message-ID instead of generating one.
func WithID(id string) Option {
	return func(m *Message) { m.ID = id }
}

// WithSuccessReport requests success REPORTs from the receiver.
func WithSuccessReport(enabled bool) Option {
	return func(m *Message) { m.successReport = enabled }
}

// WithFailureReport sets the Failure-Report value (yes, no or partial).
func WithFailureReport(value string) Option {
	return func(m *Message) { m.failureReport = value }
}

// WithMechanism overrides the reporting policy of the message.
func WithMechanism(mech report.Mechanism) Option {
	return func(m *Message) { m.mechanism = mech }
}

// WithTimeProvider sets a custom time provider for deterministic testing.
func WithTimeProvider(tp TimeProvider) Option {
	return func(m *Message) { m.timeProvider = tp }
}

// NewID returns a fresh Message-ID: a UUID without dashes, 32 characters.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func newMessage(dir Direction, contentType string, opts []Option) *Message {
	m := &Message{
		ContentType:   contentType,
		Direction:     dir,
		state:         StatePending,
		size:          Unknown,
		failureReport: codec.ReportYes,
		mechanism:     report.NewDefault(),
		timeProvider:  DefaultTimeProvider{},
		seenReports:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.lastChunkTime = m.timeProvider.Now()
	return m
}

// NewOutgoing creates a message that sends the payload held by data.
// An empty content type falls back to container.DefaultContentType.
func NewOutgoing(contentType string, data container.DataContainer, opts ...Option) *Message {
	if contentType == "" {
		contentType = container.DefaultContentType
	}
	m := newMessage(Outgoing, contentType, opts)
	if m.ID == "" {
		m.ID = NewID()
	}
	m.data = data
	m.size = data.Size()

	logrus.WithFields(logrus.Fields{
		"function":     "NewOutgoing",
		"message_id":   m.ID,
		"content_type": m.ContentType,
		"size":         m.size,
	}).Debug("Created outgoing message")

	return m
}

// NewIncoming creates a message for a Message-ID first seen in an incoming SEND.
// total is the Byte-Range total, possibly Unknown.
func NewIncoming(id, contentType string, total int64, opts ...Option) *Message {
	m := newMessage(Incoming, contentType, opts)
	m.ID = id
	m.size = total
	return m
}

// Bind attaches the message to the manager that can abort it.
func (m *Message) Bind(a Aborter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aborter = a
}

// Attach sets the container of an accepted incoming message.
func (m *Message) Attach(data container.DataContainer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = data
}

// Container returns the payload store.
func (m *Message) Container() container.DataContainer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data
}

// Size returns the total size, or Unknown.
func (m *Message) Size() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.size
}

// Counter returns the bytes sent (outgoing) or received (incoming) so far.
func (m *Message) Counter() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counter
}

// State returns the current state.
func (m *Message) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsComplete reports whether every byte was received, or for an outgoing
// message whether the final chunk was produced.
func (m *Message) IsComplete() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isCompleteLocked()
}

func (m *Message) isCompleteLocked() bool {
	if m.Direction == Outgoing {
		return m.finished
	}
	return m.state == StateCompleted
}

// IsAborted reports whether the message was aborted.
func (m *Message) IsAborted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateAborted
}

// AbortReason returns the status code and comment recorded at abort.
func (m *Message) AbortReason() (int, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.abortCode, m.abortComment
}

// SuccessReport reports whether success REPORTs were requested.
func (m *Message) SuccessReport() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.successReport
}

// FailureReport returns the Failure-Report value.
func (m *Message) FailureReport() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failureReport
}

// SetReportHeaders records the report preferences of an incoming message.
func (m *Message) SetReportHeaders(success, failure string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successReport = success == codec.ReportYes
	if failure != "" {
		m.failureReport = failure
	}
}

// Abort requests that the transfer stop. The abort takes effect at the next
// chunk boundary. It fails for complete or already aborted messages and for
// messages not bound to a connection.
func (m *Message) Abort(code int, comment string) error {
	m.mu.Lock()
	switch {
	case m.isCompleteLocked():
		m.mu.Unlock()
		return ErrMessageComplete
	case m.state == StateAborted:
		m.mu.Unlock()
		return ErrMessageAborted
	case m.aborter == nil:
		m.mu.Unlock()
		return ErrNotBound
	}
	m.abortCode = code
	m.abortComment = comment
	aborter := m.aborter
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":   "Abort",
		"message_id": m.ID,
		"direction":  m.Direction,
		"code":       code,
	}).Info("Aborting message")

	return aborter.AbortMessage(m)
}

// MarkAborted moves the message to StateAborted. It returns false if the
// message was already in a terminal state.
func (m *Message) MarkAborted(code int, comment string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateAborted, StateCompleted, StateDiscarded:
		return false
	}
	if code != 0 {
		m.abortCode = code
		m.abortComment = comment
	}
	m.state = StateAborted
	return true
}

// MarkCompleted moves an outgoing message whose final chunk was delivered to
// StateCompleted. It returns false if the message was already terminal.
func (m *Message) MarkCompleted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateAborted, StateCompleted, StateDiscarded:
		return false
	}
	m.state = StateCompleted
	return true
}

// Discard releases the payload container. The message can no longer be used.
func (m *Message) Discard() error {
	m.mu.Lock()
	data := m.data
	m.data = nil
	m.state = StateDiscarded
	m.mu.Unlock()

	if data == nil {
		return nil
	}
	return data.Dispose()
}

// StatusDue reports whether the status callback should fire at the current
// counter, and records the callback when it does.
func (m *Message) StatusDue() (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := m.size
	if total == Unknown {
		total = report.UnknownTotal
	}
	if !m.mechanism.ShouldTriggerSentHook(total, m.lastHook, m.counter) {
		return m.counter, false
	}
	m.lastHook = m.counter
	return m.counter, true
}

// ReportDue reports whether a success REPORT should be sent now, returning the
// range it covers. A REPORT is always due at completion.
func (m *Message) ReportDue() (codec.ByteRange, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.successReport {
		return codec.ByteRange{}, false
	}
	if m.state == StateCompleted {
		if m.reportedFinal {
			return codec.ByteRange{}, false
		}
		m.reportedFinal = true
	} else {
		total := m.size
		if total == Unknown {
			total = report.UnknownTotal
		}
		if !m.mechanism.ShouldGenerateReport(total, m.lastReport, m.counter) {
			return codec.ByteRange{}, false
		}
	}
	m.lastReport = m.counter
	return codec.ByteRange{Start: 1, End: m.counter, Total: m.size}, true
}

// RecordReport notes a REPORT received for this outgoing message. It returns
// false if the same report was already seen.
func (m *Message) RecordReport(status codec.Status, br codec.ByteRange) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("%d %s", status.Code, br)
	if _, seen := m.seenReports[key]; seen {
		return false
	}
	m.seenReports[key] = struct{}{}
	if codec.IsSuccess(status.Code) && br.End > m.delivered {
		m.delivered = br.End
	}
	return true
}

// Delivered returns the highest byte the peer confirmed with a success REPORT.
func (m *Message) Delivered() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.delivered
}

// GetProgress returns the progress of the transfer as a percentage, or 0 if
// the size is unknown.
func (m *Message) GetProgress() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.size <= 0 {
		if m.size == 0 && m.isCompleteLocked() {
			return 100.0
		}
		return 0.0
	}
	return float64(m.counter) / float64(m.size) * 100.0
}

// GetSpeed returns the current transfer speed in bytes per second.
func (m *Message) GetSpeed() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.speed
}

// updateTransferSpeed calculates the current transfer speed.
func (m *Message) updateTransferSpeed(chunkSize int64) {
	now := m.timeProvider.Now()
	if m.startTime.IsZero() {
		m.startTime = now
	}
	duration := m.timeProvider.Since(m.lastChunkTime).Seconds()

	if duration > 0 {
		instantSpeed := float64(chunkSize) / duration

		// Exponential moving average with alpha = 0.3
		if m.speed == 0 {
			m.speed = instantSpeed
		} else {
			m.speed = 0.7*m.speed + 0.3*instantSpeed
		}
	}

	m.lastChunkTime = now
}

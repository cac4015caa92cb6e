package msrp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/opd-ai/gomsrp/codec"
	"github.com/opd-ai/gomsrp/container"
	"github.com/opd-ai/gomsrp/message"
	"github.com/opd-ai/gomsrp/transaction"
	"github.com/opd-ai/gomsrp/transport"
	"github.com/sirupsen/logrus"
)

// ErrNoRemoteURI indicates Dial was called without Options.RemoteURI.
var ErrNoRemoteURI = errors.New("remote URI required")

// AcceptHook decides whether an incoming message is accepted. It returns the
// container that receives the payload, or nil and a response code to decline
// it (zero means Options.RejectCode). The hook runs before any byte of the
// message is stored.
type AcceptHook func(s *Session, m *message.Message) (container.DataContainer, int)

// Listener receives the events of a Session. Callbacks run on connection
// goroutines; they may call into the session but should return quickly.
type Listener interface {
	MessageReceived(s *Session, m *message.Message)
	MessageSent(s *Session, m *message.Message)
	// SendStatusUpdate and ReceiveStatusUpdate report progress at the
	// milestones of the session report mechanism.
	SendStatusUpdate(s *Session, m *message.Message, sent int64)
	ReceiveStatusUpdate(s *Session, m *message.Message, received int64)
	ReportReceived(s *Session, m *message.Message, status codec.Status, br codec.ByteRange)
	MessageAborted(s *Session, m *message.Message, code int, comment string)
	// NicknameRequested returns the response code for a peer NICKNAME request.
	NicknameRequested(s *Session, nickname string) int
	NicknameResult(s *Session, nickname string, code int, comment string)
	ConnectionLost(s *Session, err error)
}

// NopListener ignores every event and grants nickname requests. Embed it to
// implement only some callbacks.
type NopListener struct{}

// MessageReceived implements Listener.
func (NopListener) MessageReceived(*Session, *message.Message) {}

// MessageSent implements Listener.
func (NopListener) MessageSent(*Session, *message.Message) {}

// SendStatusUpdate implements Listener.
func (NopListener) SendStatusUpdate(*Session, *message.Message, int64) {}

// ReceiveStatusUpdate implements Listener.
func (NopListener) ReceiveStatusUpdate(*Session, *message.Message, int64) {}

// ReportReceived implements Listener.
func (NopListener) ReportReceived(*Session, *message.Message, codec.Status, codec.ByteRange) {}

// MessageAborted implements Listener.
func (NopListener) MessageAborted(*Session, *message.Message, int, string) {}

// NicknameRequested implements Listener.
func (NopListener) NicknameRequested(*Session, string) int { return codec.CodeOK }

// NicknameResult implements Listener.
func (NopListener) NicknameResult(*Session, string, int, string) {}

// ConnectionLost implements Listener.
func (NopListener) ConnectionLost(*Session, error) {}

// Session is one MSRP session over one connection: the messages exchanged on
// it, the connection loops and the application callbacks.
type Session struct {
	opts *Options
	mech message.Option
	conn *transport.Connection
	mgr  *transaction.Manager

	mu       sync.RWMutex
	listener Listener
	accept   AcceptHook
	messages map[string]*message.Message
}

// NewSession creates a session over an established connection. Call Run to
// start exchanging messages.
func NewSession(nc net.Conn, opts *Options) (*Session, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	mech := opts.mechanism()
	s := &Session{
		opts:     opts,
		mech:     message.WithMechanism(mech),
		listener: NopListener{},
		messages: make(map[string]*message.Message),
	}
	s.mgr = transaction.NewManager(opts.transactionConfig(mech), sessionHandler{s})
	s.conn = transport.NewConnection(nc, s.mgr, opts.connConfig())

	logrus.WithFields(logrus.Fields{
		"function":   "NewSession",
		"local_uri":  opts.LocalURI,
		"remote_uri": opts.RemoteURI,
		"remote":     nc.RemoteAddr().String(),
	}).Info("MSRP session created")

	return s, nil
}

// Dial connects to Options.RemoteURI and creates a session over the connection.
func Dial(ctx context.Context, opts *Options) (*Session, error) {
	if opts == nil || opts.RemoteURI == "" {
		return nil, ErrNoRemoteURI
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	nc, err := transport.Dial(ctx, opts.RemoteURI, opts.DialTimeout)
	if err != nil {
		return nil, err
	}
	s, err := NewSession(nc, opts)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return s, nil
}

// SetListener replaces the event listener. A nil listener ignores events.
func (s *Session) SetListener(l Listener) {
	if l == nil {
		l = NopListener{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = l
}

// OnAccept sets the accept hook. Without one every message is accepted into
// memory up to Options.MaxIncomingSize.
func (s *Session) OnAccept(hook AcceptHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accept = hook
}

// Run serves the session until the connection ends. It returns nil after
// Close or when ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	defer s.releaseAll()
	return s.conn.Run(ctx)
}

// Close ends the session. Unfinished messages are aborted without events.
func (s *Session) Close() error {
	return s.conn.Close()
}

// Done is closed once the session has ended.
func (s *Session) Done() <-chan struct{} {
	return s.mgr.Done()
}

// LocalURI returns the URI of this end of the session.
func (s *Session) LocalURI() string {
	return s.opts.LocalURI
}

// RemoteAddr returns the network address of the peer.
func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// Send queues a message built by the caller. On error the caller keeps
// ownership of the message container.
func (s *Session) Send(m *message.Message) error {
	s.mu.Lock()
	if _, dup := s.messages[m.ID]; dup {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", transaction.ErrDuplicateMessage, m.ID)
	}
	s.messages[m.ID] = m
	s.mu.Unlock()

	if err := s.mgr.SendMessage(m); err != nil {
		s.forget(m)
		return err
	}
	return nil
}

// SendMessage sends data as one message. An empty content type is sniffed
// from the payload.
func (s *Session) SendMessage(contentType string, data []byte, opts ...message.Option) (*message.Message, error) {
	if contentType == "" {
		contentType = container.SniffContentType(data)
	}
	m := message.NewOutgoing(contentType, container.NewMemoryFrom(data), s.messageOptions(opts)...)
	if err := s.Send(m); err != nil {
		return nil, err
	}
	return m, nil
}

// SendFile sends the file at path. An empty content type is sniffed from the
// file content. The file is closed once the message ends.
func (s *Session) SendFile(path, contentType string, opts ...message.Option) (*message.Message, error) {
	f, err := container.OpenFile(path)
	if err != nil {
		return nil, err
	}
	if contentType == "" {
		if contentType, err = container.SniffFile(f.Path()); err != nil {
			f.Dispose()
			return nil, fmt.Errorf("detect content type: %w", err)
		}
	}
	m := message.NewOutgoing(contentType, f, s.messageOptions(opts)...)
	if err := s.Send(m); err != nil {
		f.Dispose()
		return nil, err
	}
	return m, nil
}

// SendStream sends a message of unknown size. Write the payload to the
// returned stream and Close it to end the message.
func (s *Session) SendStream(contentType string, opts ...message.Option) (*message.Message, *container.Stream, error) {
	stream := container.NewStream()
	m := message.NewOutgoing(contentType, stream, s.messageOptions(opts)...)
	if err := s.Send(m); err != nil {
		return nil, nil, err
	}
	return m, stream, nil
}

// SendNickname requests a nickname from the peer. The answer is reported to
// Listener.NicknameResult.
func (s *Session) SendNickname(nickname string) error {
	return s.mgr.SendNickname(nickname)
}

// Message returns a message of the session that has not ended yet.
func (s *Session) Message(id string) (*message.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	return m, ok
}

// Active returns the number of messages in progress in either direction.
func (s *Session) Active() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

func (s *Session) messageOptions(extra []message.Option) []message.Option {
	opts := []message.Option{
		s.mech,
		message.WithSuccessReport(s.opts.SuccessReport),
		message.WithFailureReport(s.opts.FailureReport),
	}
	return append(opts, extra...)
}

func (s *Session) track(m *message.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.ID] = m
}

func (s *Session) forget(m *message.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.messages[m.ID]
	delete(s.messages, m.ID)
	return ok
}

// untrack forgets m. The container of an outgoing message is released; a
// received payload stays with the application.
func (s *Session) untrack(m *message.Message) {
	if s.forget(m) && m.Direction == message.Outgoing {
		release(m)
	}
}

// releaseAll forgets every message once the connection loops have stopped.
func (s *Session) releaseAll() {
	s.mu.Lock()
	msgs := s.messages
	s.messages = make(map[string]*message.Message)
	s.mu.Unlock()

	for _, m := range msgs {
		if m.Direction == message.Outgoing {
			release(m)
		}
	}
}

func release(m *message.Message) {
	data := m.Container()
	if data == nil {
		return
	}
	if err := data.Dispose(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "release",
			"message_id": m.ID,
			"error":      err.Error(),
		}).Debug("Failed to release message container")
	}
}

func (s *Session) currentListener() Listener {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listener
}

// sessionHandler adapts the transaction manager events to the Listener.
type sessionHandler struct {
	s *Session
}

func (h sessionHandler) AcceptMessage(m *message.Message) (container.DataContainer, int) {
	s := h.s
	s.mu.RLock()
	hook := s.accept
	s.mu.RUnlock()

	var (
		data container.DataContainer
		code = codec.CodeOK
	)
	if hook != nil {
		data, code = hook(s, m)
		if data != nil && code == 0 {
			code = codec.CodeOK
		}
	} else {
		data = container.NewMemory(s.opts.MaxIncomingSize)
	}
	if data != nil && codec.IsSuccess(code) {
		s.track(m)
	}
	return data, code
}

func (h sessionHandler) MessageProgress(m *message.Message, transferred int64) {
	if m.Direction == message.Outgoing {
		h.s.currentListener().SendStatusUpdate(h.s, m, transferred)
		return
	}
	h.s.currentListener().ReceiveStatusUpdate(h.s, m, transferred)
}

func (h sessionHandler) MessageReceived(m *message.Message) {
	h.s.untrack(m)
	h.s.currentListener().MessageReceived(h.s, m)
}

func (h sessionHandler) MessageSent(m *message.Message) {
	h.s.currentListener().MessageSent(h.s, m)
	// tracked until the final success REPORT
	if !m.SuccessReport() {
		h.s.untrack(m)
	}
}

func (h sessionHandler) MessageAborted(m *message.Message, code int, comment string) {
	h.s.currentListener().MessageAborted(h.s, m, code, comment)
	h.s.untrack(m)
}

func (h sessionHandler) ReportReceived(m *message.Message, status codec.Status, br codec.ByteRange) {
	h.s.currentListener().ReportReceived(h.s, m, status, br)
	if m.Size() != message.Unknown && m.Delivered() >= m.Size() {
		h.s.untrack(m)
	}
}

func (h sessionHandler) NicknameRequested(nickname string) int {
	return h.s.currentListener().NicknameRequested(h.s, nickname)
}

func (h sessionHandler) NicknameResult(nickname string, code int, comment string) {
	h.s.currentListener().NicknameResult(h.s, nickname, code, comment)
}

func (h sessionHandler) ConnectionLost(err error) {
	logrus.WithFields(logrus.Fields{
		"function":  "ConnectionLost",
		"local_uri": h.s.opts.LocalURI,
		"error":     err.Error(),
	}).Warn("MSRP session lost its connection")

	h.s.currentListener().ConnectionLost(h.s, err)
}

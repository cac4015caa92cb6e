package transaction

import (
	"github.com/opd-ai/gomsrp/codec"
	"github.com/opd-ai/gomsrp/container"
	"github.com/opd-ai/gomsrp/limits"
	"github.com/opd-ai/gomsrp/message"
)

// Handler receives the events of a Manager. Callbacks run on the connection
// goroutines without the manager lock held, so they may call back into the
// manager (for example Message.Abort) but should not block for long.
type Handler interface {
	// AcceptMessage is called for the first chunk of an unseen incoming
	// message. Returning a nil container declines the message with code,
	// or with the configured reject code when code is zero.
	AcceptMessage(m *message.Message) (container.DataContainer, int)

	// MessageProgress reports bytes sent or received so far, at the
	// milestones chosen by the report mechanism.
	MessageProgress(m *message.Message, transferred int64)

	MessageReceived(m *message.Message)
	MessageSent(m *message.Message)

	// MessageAborted fires once per message, for local aborts, peer aborts
	// and failure responses alike.
	MessageAborted(m *message.Message, code int, comment string)

	ReportReceived(m *message.Message, status codec.Status, br codec.ByteRange)

	// NicknameRequested answers an incoming NICKNAME request with a status code.
	NicknameRequested(nickname string) int
	NicknameResult(nickname string, code int, comment string)

	ConnectionLost(err error)
}

// NopHandler accepts every message into memory and ignores all events.
// Embed it to implement only some callbacks.
type NopHandler struct{}

// AcceptMessage implements Handler.
func (NopHandler) AcceptMessage(*message.Message) (container.DataContainer, int) {
	return container.NewMemory(limits.MaxIncomingMessage), codec.CodeOK
}

// MessageProgress implements Handler.
func (NopHandler) MessageProgress(*message.Message, int64) {}

// MessageReceived implements Handler.
func (NopHandler) MessageReceived(*message.Message) {}

// MessageSent implements Handler.
func (NopHandler) MessageSent(*message.Message) {}

// MessageAborted implements Handler.
func (NopHandler) MessageAborted(*message.Message, int, string) {}

// ReportReceived implements Handler.
func (NopHandler) ReportReceived(*message.Message, codec.Status, codec.ByteRange) {}

// NicknameRequested implements Handler. Nicknames are not supported by default.
func (NopHandler) NicknameRequested(string) int { return codec.CodeUnknownMethod }

// NicknameResult implements Handler.
func (NopHandler) NicknameResult(string, int, string) {}

// ConnectionLost implements Handler.
func (NopHandler) ConnectionLost(error) {}

// dispatch collects callbacks while the manager lock is held so they can run
// after it is released.
type dispatch []func()

func (d *dispatch) add(fn func()) {
	*d = append(*d, fn)
}

func (d dispatch) run() {
	for _, fn := range d {
		fn()
	}
}

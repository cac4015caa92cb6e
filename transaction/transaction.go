package transaction

import (
	"fmt"
	"time"

	"github.com/opd-ai/gomsrp/codec"
	"github.com/opd-ai/gomsrp/message"
)

// Priority is the queue class of an outgoing transaction.
type Priority uint8

const (
	// PriorityControl is used for responses, REPORTs and NICKNAME requests.
	// Control transactions are always written before bulk ones.
	PriorityControl Priority = iota
	// PriorityBulk is used for SEND chunks.
	PriorityBulk
)

// String returns "control" or "bulk".
func (p Priority) String() string {
	if p == PriorityBulk {
		return "bulk"
	}
	return "control"
}

// Transaction is one request or response on the wire. A SEND transaction
// carries exactly one chunk of its message.
type Transaction struct {
	TID      string
	Kind     codec.Kind
	Frame    *codec.Frame
	Message  *message.Message
	Chunk    message.Chunk
	Nickname string

	abort          bool
	sealed         bool
	expectResponse bool
	sentAt         time.Time
	deadline       time.Time
	responseCode   int
}

// Aborting reports whether the transaction will close with the '#' flag.
func (t *Transaction) Aborting() bool {
	return t.abort
}

// ResponseCode returns the status code of the response to this request, or
// zero while unanswered.
func (t *Transaction) ResponseCode() int {
	return t.responseCode
}

// String returns a short description for logging.
func (t *Transaction) String() string {
	if t.Kind == codec.KindSend && t.Message != nil {
		return fmt.Sprintf("SEND %s %s %s", t.TID, t.Message.ID, t.Chunk.Range)
	}
	return fmt.Sprintf("%s %s", t.Kind, t.TID)
}

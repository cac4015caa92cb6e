package message

import (
	"fmt"

	"github.com/opd-ai/gomsrp/codec"
	"github.com/sirupsen/logrus"
)

// Chunk is one slice of an outgoing message ready to be framed as a SEND.
type Chunk struct {
	Data  []byte
	Range codec.ByteRange
	// Last is set on the chunk that completes the message.
	Last bool
	// Cut is set when the chunk was shortened to keep the end-line token of
	// tid out of the body.
	Cut bool
}

// NextChunk produces the next chunk of at most max bytes for the SEND
// transaction tid and advances the send counter.
//
// If the bytes would contain "-------"+tid the chunk stops just before the
// token and the remainder is left for the next transaction. If the token
// sits at the very start of the chunk nothing is consumed and
// ErrTIDCollision is returned so the caller can pick another tid.
//
// An unknown-size message with nothing buffered returns ErrStarved. Once the
// size is known and every byte was produced, a final empty chunk closes the
// message; a zero-length message yields a single chunk with range 1-0/0.
func (m *Message) NextChunk(tid string, max int) (Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.Direction != Outgoing:
		return Chunk{}, ErrWrongDirection
	case m.state == StateAborted:
		return Chunk{}, ErrMessageAborted
	case m.finished:
		return Chunk{}, ErrNoMoreChunks
	case m.data == nil:
		return Chunk{}, ErrNoContainer
	}

	size := m.data.Size()
	m.size = size

	want := max
	if size != Unknown {
		if remaining := size - m.counter; remaining < int64(want) {
			want = int(remaining)
		}
	}

	var data []byte
	if want > 0 {
		var err error
		data, err = m.data.Get(m.counter, want)
		if err != nil {
			return Chunk{}, fmt.Errorf("read chunk at %d: %w", m.counter, err)
		}
	}
	if size == Unknown && len(data) == 0 {
		return Chunk{}, ErrStarved
	}

	chunk := Chunk{Data: data}
	if idx := codec.ContainsEndLineToken(data, tid); idx >= 0 {
		if idx == 0 {
			logrus.WithFields(logrus.Fields{
				"function":   "NextChunk",
				"message_id": m.ID,
				"tid":        tid,
			}).Debug("Chunk opens with end-line token, transaction id must change")
			return Chunk{}, ErrTIDCollision
		}
		chunk.Data = data[:idx]
		chunk.Cut = true

		logrus.WithFields(logrus.Fields{
			"function":   "NextChunk",
			"message_id": m.ID,
			"tid":        tid,
			"cut_at":     m.counter + int64(idx),
		}).Debug("Shortened chunk to avoid end-line collision")
	}

	n := int64(len(chunk.Data))
	chunk.Range = codec.ByteRange{Start: m.counter + 1, End: m.counter + n, Total: size}
	m.counter += n
	chunk.Last = size != Unknown && m.counter == size && !chunk.Cut
	if chunk.Last {
		m.finished = true
	}
	if m.state == StatePending {
		m.state = StateRunning
	}
	if n > 0 {
		m.updateTransferSpeed(n)
	}

	return chunk, nil
}

// HasPending reports whether an outgoing message may produce another chunk.
// Unknown-size messages report true even when starved; NextChunk then
// returns ErrStarved.
func (m *Message) HasPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Direction == Outgoing && !m.finished && m.state != StateAborted && m.data != nil
}

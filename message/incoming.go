package message

import (
	"fmt"

	"github.com/opd-ai/gomsrp/codec"
	"github.com/sirupsen/logrus"
)

// Progress is the outcome of applying one incoming chunk.
type Progress uint8

const (
	// ProgressPartial indicates more chunks are expected.
	ProgressPartial Progress = iota
	// ProgressComplete indicates the message is fully received.
	ProgressComplete
	// ProgressAborted indicates the sender interrupted the message.
	ProgressAborted
)

// Receive stores one incoming chunk. Chunks must arrive in order: the range
// must start right after the bytes already received. A Byte-Range total
// that was unknown becomes known once any chunk carries it, and flag '$'
// fixes the size of a message that never announced one.
func (m *Message) Receive(br codec.ByteRange, body []byte, flag codec.Flag) (Progress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.Direction != Incoming:
		return ProgressPartial, ErrWrongDirection
	case m.state == StateAborted:
		return ProgressAborted, ErrMessageAborted
	case m.state == StateCompleted:
		return ProgressComplete, ErrMessageComplete
	case m.data == nil:
		return ProgressPartial, ErrNoContainer
	}

	if br.Start != m.counter+1 {
		return ProgressPartial, fmt.Errorf("%w: expected start %d, got %d", ErrOutOfOrder, m.counter+1, br.Start)
	}
	if br.Total != Unknown {
		if m.size == Unknown {
			m.size = br.Total
		} else if m.size != br.Total {
			return ProgressPartial, fmt.Errorf("%w: total changed from %d to %d", ErrInvalidRange, m.size, br.Total)
		}
	}
	n := int64(len(body))
	if m.size != Unknown && m.counter+n > m.size {
		return ProgressPartial, fmt.Errorf("%w: %d bytes past total %d", ErrInvalidRange, m.counter+n-m.size, m.size)
	}

	if n > 0 {
		if err := m.data.Put(m.counter, body); err != nil {
			return ProgressPartial, fmt.Errorf("store chunk at %d: %w", m.counter, err)
		}
		m.counter += n
		m.updateTransferSpeed(n)
	}
	m.state = StateRunning

	switch {
	case flag == codec.FlagAbort:
		m.state = StateAborted
		logrus.WithFields(logrus.Fields{
			"function":   "Receive",
			"message_id": m.ID,
			"received":   m.counter,
		}).Info("Sender interrupted message")
		return ProgressAborted, nil
	case flag == codec.FlagEnd && m.size == Unknown:
		m.size = m.counter
	case flag == codec.FlagEnd && m.counter != m.size:
		return ProgressPartial, fmt.Errorf("%w: message ended at %d of %d", ErrInvalidRange, m.counter, m.size)
	}

	if m.size != Unknown && m.counter == m.size {
		m.state = StateCompleted
		logrus.WithFields(logrus.Fields{
			"function":   "Receive",
			"message_id": m.ID,
			"size":       m.size,
		}).Debug("Message complete")
		return ProgressComplete, nil
	}
	return ProgressPartial, nil
}

package transaction

import (
	"errors"

	"github.com/opd-ai/gomsrp/codec"
	"github.com/opd-ai/gomsrp/container"
	"github.com/opd-ai/gomsrp/message"
	"github.com/sirupsen/logrus"
)

// Resolve handles one decoded frame. Responses and REPORTs complete the
// request they refer to, SEND chunks are stored in their message, NICKNAME
// requests are passed to the handler and unknown methods are answered 501.
// Resolve is called by the connection reader only.
func (mg *Manager) Resolve(f *codec.Frame) {
	if f.Kind == codec.KindResponse {
		mg.handleResponse(f)
		return
	}
	if !mg.checkPaths(f) {
		return
	}

	switch f.Kind {
	case codec.KindSend:
		mg.handleSend(f)
	case codec.KindReport:
		mg.handleReport(f)
	case codec.KindNickname:
		mg.handleNickname(f)
	default:
		logrus.WithFields(logrus.Fields{
			"function": "Resolve",
			"tid":      f.TID,
			"method":   f.Method,
		}).Debug("Unsupported method")

		mg.respond(f, codec.CodeUnknownMethod, "")
	}
}

// Reject answers a frame the decoder delimited but could not accept. A SEND
// that belongs to a message being received aborts that message.
func (mg *Manager) Reject(f *codec.Frame, err error) {
	code := codec.CodeBadRequest
	var pe *codec.ProtocolError
	if errors.As(err, &pe) && pe.Code != 0 {
		code = pe.Code
	}

	logrus.WithFields(logrus.Fields{
		"function": "Reject",
		"tid":      f.TID,
		"code":     code,
		"error":    err.Error(),
	}).Warn("Rejecting malformed transaction")

	if !f.IsRequest() || f.Kind == codec.KindReport {
		return
	}

	var events dispatch
	mg.mu.Lock()
	if f.Kind == codec.KindSend && f.Header.MessageID != "" {
		mg.failIncomingLocked(f, code, err.Error(), &events)
	}
	mg.respondLocked(f, code, "")
	mg.mu.Unlock()

	events.run()
}

// checkPaths answers 481 to requests not addressed to this session and learns
// the peer path from the first request when none was configured.
func (mg *Manager) checkPaths(f *codec.Frame) bool {
	mg.mu.Lock()
	defer mg.mu.Unlock()

	h := &f.Header
	local := mg.cfg.LocalURI
	toOK := local == "" || len(h.ToPath) > 0 && h.ToPath[0] == local
	fromOK := mg.cfg.RemoteURI == "" || len(h.FromPath) > 0 && h.FromPath[len(h.FromPath)-1] == mg.cfg.RemoteURI
	if !toOK || !fromOK {
		logrus.WithFields(logrus.Fields{
			"function":  "checkPaths",
			"tid":       f.TID,
			"to_path":   h.ToPath,
			"from_path": h.FromPath,
		}).Warn("Request for unknown session")

		if f.Kind != codec.KindReport {
			mg.respondLocked(f, codec.CodeNoSession, "")
		}
		return false
	}
	if len(mg.remotePath) == 0 && len(h.FromPath) > 0 {
		mg.remotePath = append([]string(nil), h.FromPath...)
	}
	return true
}

func (mg *Manager) respond(f *codec.Frame, code int, comment string) {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	mg.respondLocked(f, code, comment)
}

// respondLocked queues the response to request f unless its Failure-Report
// header suppresses it. REPORTs are never answered.
func (mg *Manager) respondLocked(f *codec.Frame, code int, comment string) {
	if mg.closed || !f.IsRequest() || f.Kind == codec.KindReport {
		return
	}
	if f.Kind == codec.KindSend {
		switch f.Header.FailureReport {
		case codec.ReportNo:
			return
		case codec.ReportPartial:
			if codec.IsSuccess(code) {
				return
			}
		}
	}

	var to []string
	if len(f.Header.FromPath) > 0 {
		to = f.Header.FromPath[:1]
	}
	resp := &codec.Frame{
		Kind:    codec.KindResponse,
		TID:     f.TID,
		Code:    code,
		Comment: comment,
		Header: codec.Header{
			ToPath:   to,
			FromPath: []string{mg.cfg.LocalURI},
		},
	}
	mg.enqueueLocked(&Transaction{TID: f.TID, Kind: codec.KindResponse, Frame: resp}, PriorityControl)
}

func (mg *Manager) handleResponse(f *codec.Frame) {
	var events dispatch

	mg.mu.Lock()
	tx, ok := mg.awaiting[f.TID]
	if !ok {
		mg.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "handleResponse",
			"tid":      f.TID,
			"code":     f.Code,
		}).Warn("Dropping response for unknown transaction")
		return
	}
	mg.completeLocked(tx, f.Code, f.Comment, &events)
	mg.mu.Unlock()

	events.run()
}

func (mg *Manager) handleReport(f *codec.Frame) {
	h := &f.Header
	var events dispatch

	mg.mu.Lock()
	st := mg.outgoing[h.MessageID]
	if st == nil || h.Status == nil {
		mg.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function":   "handleReport",
			"message_id": h.MessageID,
		}).Debug("Dropping REPORT for unknown message")
		return
	}
	m := st.msg
	status := *h.Status
	br := h.ByteRange
	if !m.RecordReport(status, br) {
		mg.mu.Unlock()
		return
	}
	events.add(func() { mg.handler.ReportReceived(m, status, br) })

	switch {
	case !codec.IsSuccess(status.Code):
		_ = mg.abortOutgoingLocked(m, status.Code, status.Comment, &events)
	case m.State() == message.StateCompleted && br.End == m.Size():
		delete(mg.outgoing, m.ID)
	}
	mg.mu.Unlock()

	events.run()
}

func (mg *Manager) handleNickname(f *codec.Frame) {
	code := mg.handler.NicknameRequested(f.Header.UseNickname)
	if code == 0 {
		code = codec.CodeOK
	}
	mg.respond(f, code, "")
}

func (mg *Manager) handleSend(f *codec.Frame) {
	h := &f.Header
	id := h.MessageID

	mg.mu.Lock()
	if _, ok := mg.rejected[id]; ok {
		// refused messages are dropped without an answer until their last chunk
		if f.Flag != codec.FlagContinue {
			delete(mg.rejected, id)
		}
		mg.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function":   "handleSend",
			"tid":        f.TID,
			"message_id": id,
		}).Debug("Discarding chunk of refused message")
		return
	}
	st := mg.incoming[id]
	mg.mu.Unlock()

	if st == nil {
		if st = mg.admit(f); st == nil {
			return
		}
	}
	m := st.msg

	var events dispatch
	progress, err := m.Receive(h.ByteRange, f.Body, f.Flag)

	mg.mu.Lock()
	if err != nil {
		code := codec.CodeBadRequest
		if errors.Is(err, container.ErrCapacityExceeded) {
			code = codec.CodeStopSending
		}
		mg.failIncomingLocked(f, code, err.Error(), &events)
		mg.respondLocked(f, code, "")
		mg.mu.Unlock()
		events.run()
		return
	}

	pending := &pendingResponse{code: codec.CodeOK}
	st.answering = pending
	switch progress {
	case message.ProgressComplete:
		delete(mg.incoming, id)
		if n, due := m.StatusDue(); due {
			events.add(func() { mg.handler.MessageProgress(m, n) })
		}
		events.add(func() { mg.handler.MessageReceived(m) })
	case message.ProgressAborted:
		delete(mg.incoming, id)
		events.add(func() { mg.handler.MessageAborted(m, 0, "interrupted by sender") })
	default:
		if n, due := m.StatusDue(); due {
			events.add(func() { mg.handler.MessageProgress(m, n) })
		}
	}
	mg.mu.Unlock()

	// the handler may abort m here and change the response code
	events.run()

	mg.mu.Lock()
	st.answering = nil
	mg.respondLocked(f, pending.code, pending.comment)
	if codec.IsSuccess(pending.code) && progress != message.ProgressAborted {
		if br, due := m.ReportDue(); due {
			mg.enqueueReportLocked(m, h.FromPath, codec.Status{Code: codec.CodeOK}, br)
		}
	}
	mg.mu.Unlock()
}

// admit creates the incoming message for the first chunk of an unseen
// Message-ID. It returns nil when the message is refused; the refusal has
// been answered already.
func (mg *Manager) admit(f *codec.Frame) *incomingState {
	h := &f.Header
	id := h.MessageID

	m := message.NewIncoming(id, h.ContentType, h.ByteRange.Total,
		message.WithMechanism(mg.cfg.Mechanism),
		message.WithTimeProvider(mg.cfg.TimeProvider),
	)
	m.SetReportHeaders(h.SuccessReport, h.FailureReport)
	m.Bind(mg)

	var (
		data    container.DataContainer
		code    int
		comment string
	)
	switch {
	case h.ByteRange.Start != 1:
		code, comment = codec.CodeBadRequest, "first chunk does not start at 1"
	case h.ByteRange.Total != message.Unknown && h.ByteRange.Total > mg.cfg.MaxIncomingSize:
		code, comment = codec.CodeStopSending, "message too large"
	default:
		data, code = mg.handler.AcceptMessage(m)
	}

	mg.mu.Lock()
	defer mg.mu.Unlock()

	if data == nil || !codec.IsSuccess(code) {
		if code == 0 || codec.IsSuccess(code) {
			code = mg.cfg.RejectCode
		}
		if f.Flag == codec.FlagContinue {
			mg.rejected[id] = struct{}{}
		}
		mg.respondLocked(f, code, comment)

		logrus.WithFields(logrus.Fields{
			"function":   "admit",
			"message_id": id,
			"code":       code,
		}).Info("Refused incoming message")

		if data != nil {
			_ = data.Dispose()
		}
		return nil
	}

	m.Attach(data)
	st := &incomingState{msg: m, fromPath: h.FromPath}
	mg.incoming[id] = st

	logrus.WithFields(logrus.Fields{
		"function":     "admit",
		"message_id":   id,
		"content_type": h.ContentType,
		"total":        h.ByteRange.Total,
	}).Info("Accepted incoming message")

	return st
}

// failIncomingLocked aborts the message f belongs to after a protocol
// violation and refuses its remaining chunks.
func (mg *Manager) failIncomingLocked(f *codec.Frame, code int, reason string, events *dispatch) {
	id := f.Header.MessageID
	st := mg.incoming[id]
	delete(mg.incoming, id)
	if f.Flag == codec.FlagContinue {
		mg.rejected[id] = struct{}{}
	}
	if st == nil {
		return
	}
	m := st.msg
	if m.MarkAborted(code, reason) {
		logrus.WithFields(logrus.Fields{
			"function":   "failIncomingLocked",
			"message_id": id,
			"code":       code,
			"reason":     reason,
		}).Warn("Incoming message aborted by protocol violation")

		events.add(func() { mg.handler.MessageAborted(m, code, reason) })
	}
}

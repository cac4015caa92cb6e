package transaction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/gomsrp/codec"
	"github.com/opd-ai/gomsrp/container"
	"github.com/opd-ai/gomsrp/message"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

var (
	// ErrClosed indicates the manager was shut down.
	ErrClosed = errors.New("transaction manager closed")
	// ErrDuplicateMessage indicates a message already queued on this manager.
	ErrDuplicateMessage = errors.New("message already queued")
	// ErrUnknownMessage indicates a message this manager does not track.
	ErrUnknownMessage = errors.New("message not tracked by this connection")
	// ErrNoRemotePath indicates a request before the peer URI is known.
	ErrNoRemotePath = errors.New("remote path unknown")
)

type outgoingState struct {
	msg          *message.Message
	parked       bool
	abortPending bool
}

type incomingState struct {
	msg       *message.Message
	fromPath  []string
	answering *pendingResponse
}

type pendingResponse struct {
	code    int
	comment string
}

// Manager multiplexes the transactions of one connection. It owns the
// outgoing queues, splits outgoing messages into SEND transactions, matches
// responses and REPORTs to requests and reassembles incoming messages.
//
// The connection reader calls Resolve for every decoded frame; a single
// writer drains the queues with Next, Seal and Sent.
type Manager struct {
	cfg     Config
	handler Handler

	mu         sync.Mutex
	control    []*Transaction
	bulk       []*Transaction
	live       map[string]*Transaction
	awaiting   map[string]*Transaction
	inFlight   *Transaction
	outgoing   map[string]*outgoingState
	incoming   map[string]*incomingState
	rejected   map[string]struct{}
	remotePath []string
	closed     bool

	wake chan struct{}
	done chan struct{}
}

// NewManager creates a manager. A nil handler is replaced by NopHandler.
func NewManager(cfg Config, handler Handler) *Manager {
	if handler == nil {
		handler = NopHandler{}
	}
	cfg = cfg.withDefaults()

	mg := &Manager{
		cfg:      cfg,
		handler:  handler,
		live:     make(map[string]*Transaction),
		awaiting: make(map[string]*Transaction),
		outgoing: make(map[string]*outgoingState),
		incoming: make(map[string]*incomingState),
		rejected: make(map[string]struct{}),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	if cfg.RemoteURI != "" {
		mg.remotePath = []string{cfg.RemoteURI}
	}

	logrus.WithFields(logrus.Fields{
		"function":   "NewManager",
		"local_uri":  cfg.LocalURI,
		"remote_uri": cfg.RemoteURI,
		"chunk_size": cfg.ChunkSize,
	}).Debug("Transaction manager created")

	return mg
}

// Done is closed once the manager shuts down.
func (mg *Manager) Done() <-chan struct{} {
	return mg.done
}

// newTIDLocked returns a transaction id not used by any live transaction.
func (mg *Manager) newTIDLocked() string {
	for {
		tid := mg.cfg.IDGenerator()
		if _, used := mg.live[tid]; !used {
			return tid
		}
	}
}

func (mg *Manager) releaseLocked(tid string) {
	delete(mg.live, tid)
}

func (mg *Manager) signal() {
	select {
	case mg.wake <- struct{}{}:
	default:
	}
}

// Enqueue appends tx to its priority class. Transactions are written FIFO
// within a class and control transactions always go first.
func (mg *Manager) Enqueue(tx *Transaction, prio Priority) error {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	if mg.closed {
		return ErrClosed
	}
	mg.enqueueLocked(tx, prio)
	return nil
}

func (mg *Manager) enqueueLocked(tx *Transaction, prio Priority) {
	if tx.Kind != codec.KindResponse {
		mg.live[tx.TID] = tx
	}
	if prio == PriorityBulk {
		mg.bulk = append(mg.bulk, tx)
	} else {
		mg.control = append(mg.control, tx)
	}
	mg.signal()
}

// SendMessage queues an outgoing message. Its chunks are produced lazily as
// the writer drains the bulk queue, interleaved round-robin with other
// outgoing messages.
func (mg *Manager) SendMessage(m *message.Message) error {
	if m.Direction != message.Outgoing {
		return message.ErrWrongDirection
	}

	mg.mu.Lock()
	if mg.closed {
		mg.mu.Unlock()
		return ErrClosed
	}
	if len(mg.remotePath) == 0 {
		mg.mu.Unlock()
		return ErrNoRemotePath
	}
	if _, dup := mg.outgoing[m.ID]; dup {
		mg.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateMessage, m.ID)
	}
	m.Bind(mg)
	mg.outgoing[m.ID] = &outgoingState{msg: m}
	mg.enqueueLocked(&Transaction{TID: mg.newTIDLocked(), Kind: codec.KindSend, Message: m}, PriorityBulk)
	mg.mu.Unlock()

	if n, ok := m.Container().(container.Notifier); ok {
		id := m.ID
		n.SetNotify(func() { mg.resume(id) })
	}

	logrus.WithFields(logrus.Fields{
		"function":     "SendMessage",
		"message_id":   m.ID,
		"content_type": m.ContentType,
		"size":         m.Size(),
	}).Info("Queued outgoing message")

	return nil
}

// resume re-queues a message parked while its stream had no data.
func (mg *Manager) resume(id string) {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	st := mg.outgoing[id]
	if mg.closed || st == nil || !st.parked {
		return
	}
	st.parked = false
	mg.enqueueLocked(&Transaction{TID: mg.newTIDLocked(), Kind: codec.KindSend, Message: st.msg}, PriorityBulk)
}

// SendNickname queues a NICKNAME request.
func (mg *Manager) SendNickname(nickname string) error {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	if mg.closed {
		return ErrClosed
	}
	if len(mg.remotePath) == 0 {
		return ErrNoRemotePath
	}
	tid := mg.newTIDLocked()
	f := &codec.Frame{
		Kind:   codec.KindNickname,
		TID:    tid,
		Method: codec.MethodNickname,
		Header: codec.Header{
			ToPath:      mg.remotePath,
			FromPath:    []string{mg.cfg.LocalURI},
			UseNickname: nickname,
		},
	}
	mg.enqueueLocked(&Transaction{TID: tid, Kind: codec.KindNickname, Frame: f, Nickname: nickname}, PriorityControl)
	return nil
}

// Next blocks until a transaction is ready to be written, the context ends or
// the manager closes. SEND chunks are read from their container here.
func (mg *Manager) Next(ctx context.Context) (*Transaction, error) {
	for {
		var events dispatch
		mg.mu.Lock()
		if mg.closed {
			mg.mu.Unlock()
			return nil, ErrClosed
		}
		tx := mg.popLocked(&events)
		mg.mu.Unlock()
		events.run()
		if tx != nil {
			return tx, nil
		}

		select {
		case <-mg.wake:
		case <-mg.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (mg *Manager) popLocked(events *dispatch) *Transaction {
	if len(mg.control) > 0 {
		tx := mg.control[0]
		mg.control[0] = nil
		mg.control = mg.control[1:]
		mg.inFlight = tx
		return tx
	}
	for len(mg.bulk) > 0 {
		tx := mg.bulk[0]
		mg.bulk[0] = nil
		mg.bulk = mg.bulk[1:]
		if mg.materializeLocked(tx, events) {
			mg.inFlight = tx
			return tx
		}
	}
	return nil
}

// materializeLocked reads the chunk of a SEND transaction. It returns false
// when the transaction has nothing to send and was dropped.
func (mg *Manager) materializeLocked(tx *Transaction, events *dispatch) bool {
	m := tx.Message
	if tx.abort {
		mg.abortChunkLocked(tx)
		return true
	}

	for {
		chunk, err := m.NextChunk(tx.TID, mg.cfg.ChunkSize)
		switch {
		case err == nil:
			tx.Chunk = chunk
			tx.Frame = mg.sendFrameLocked(tx)
			return true
		case errors.Is(err, message.ErrTIDCollision):
			mg.releaseLocked(tx.TID)
			tx.TID = mg.newTIDLocked()
			mg.live[tx.TID] = tx
		case errors.Is(err, message.ErrStarved):
			mg.releaseLocked(tx.TID)
			if st := mg.outgoing[m.ID]; st != nil {
				st.parked = true
			}
			return false
		case errors.Is(err, message.ErrMessageAborted), errors.Is(err, message.ErrNoMoreChunks):
			mg.releaseLocked(tx.TID)
			return false
		default:
			logrus.WithFields(logrus.Fields{
				"function":   "materializeLocked",
				"message_id": m.ID,
				"error":      err.Error(),
			}).Error("Failed to read outgoing chunk, aborting message")

			if m.MarkAborted(codec.CodeStopSending, err.Error()) {
				events.add(func() { mg.handler.MessageAborted(m, codec.CodeStopSending, err.Error()) })
			}
			tx.abort = true
			mg.abortChunkLocked(tx)
			return true
		}
	}
}

// abortChunkLocked turns tx into an empty chunk that terminates its message.
func (mg *Manager) abortChunkLocked(tx *Transaction) {
	m := tx.Message
	n := m.Counter()
	tx.Chunk = message.Chunk{Range: codec.ByteRange{Start: n + 1, End: n, Total: m.Size()}}
	tx.Frame = mg.sendFrameLocked(tx)
}

func (mg *Manager) sendFrameLocked(tx *Transaction) *codec.Frame {
	m := tx.Message
	h := codec.Header{
		ToPath:       mg.remotePath,
		FromPath:     []string{mg.cfg.LocalURI},
		MessageID:    m.ID,
		ByteRange:    tx.Chunk.Range,
		HasByteRange: true,
		ContentType:  m.ContentType,
	}
	if m.SuccessReport() {
		h.SuccessReport = codec.ReportYes
	}
	if fr := m.FailureReport(); fr != codec.ReportYes {
		h.FailureReport = fr
	}
	return &codec.Frame{
		Kind:   codec.KindSend,
		TID:    tx.TID,
		Method: codec.MethodSend,
		Header: h,
		Body:   tx.Chunk.Data,
	}
}

// Seal fixes the continuation flag of tx once its body has been written.
// After Seal an abort no longer changes the flag of tx.
func (mg *Manager) Seal(tx *Transaction) codec.Flag {
	mg.mu.Lock()
	defer mg.mu.Unlock()

	tx.sealed = true
	flag := codec.FlagEnd
	if tx.Kind == codec.KindSend {
		switch {
		case tx.abort:
			flag = codec.FlagAbort
		case !tx.Chunk.Last:
			flag = codec.FlagContinue
		}
	}
	tx.Frame.Flag = flag
	return flag
}

// Sent records that tx was written and flushed. Requests that expect a
// response start their timeout here and the next chunk of the message is
// queued.
func (mg *Manager) Sent(tx *Transaction) {
	var events dispatch

	mg.mu.Lock()
	if mg.inFlight == tx {
		mg.inFlight = nil
	}
	now := mg.cfg.TimeProvider.Now()
	tx.sentAt = now

	switch tx.Kind {
	case codec.KindResponse:
	case codec.KindReport:
		mg.releaseLocked(tx.TID)
	case codec.KindNickname:
		mg.awaitLocked(tx, now)
	case codec.KindSend:
		mg.sentChunkLocked(tx, now, &events)
	}
	mg.mu.Unlock()

	events.run()
}

func (mg *Manager) awaitLocked(tx *Transaction, now time.Time) {
	tx.expectResponse = true
	tx.deadline = now.Add(mg.cfg.ResponseTimeout)
	mg.awaiting[tx.TID] = tx
}

func (mg *Manager) sentChunkLocked(tx *Transaction, now time.Time, events *dispatch) {
	m := tx.Message
	st := mg.outgoing[m.ID]

	if tx.Frame.Flag == codec.FlagAbort {
		mg.releaseLocked(tx.TID)
		delete(mg.outgoing, m.ID)
		return
	}

	if m.FailureReport() == codec.ReportYes {
		mg.awaitLocked(tx, now)
	} else {
		mg.releaseLocked(tx.TID)
	}
	if n, due := m.StatusDue(); due {
		events.add(func() { mg.handler.MessageProgress(m, n) })
	}
	if st == nil {
		return
	}

	switch {
	case st.abortPending:
		st.abortPending = false
		mg.enqueueLocked(&Transaction{TID: mg.newTIDLocked(), Kind: codec.KindSend, Message: m, abort: true}, PriorityBulk)
	case tx.Chunk.Last:
		if !tx.expectResponse {
			mg.completeOutgoingLocked(st, events)
		}
	case !m.IsAborted():
		mg.enqueueLocked(&Transaction{TID: mg.newTIDLocked(), Kind: codec.KindSend, Message: m}, PriorityBulk)
	}
}

func (mg *Manager) completeOutgoingLocked(st *outgoingState, events *dispatch) {
	m := st.msg
	if !m.MarkCompleted() {
		return
	}
	if !m.SuccessReport() {
		delete(mg.outgoing, m.ID)
	}

	logrus.WithFields(logrus.Fields{
		"function":   "completeOutgoingLocked",
		"message_id": m.ID,
		"size":       m.Size(),
	}).Info("Outgoing message sent")

	events.add(func() { mg.handler.MessageSent(m) })
}

// AbortMessage implements message.Aborter. For an outgoing message the chunk
// in flight, or else the first queued chunk, closes with '#' and every other
// queued chunk is dropped. For an incoming message the current request is
// answered with the abort code if still unanswered, otherwise a failure
// REPORT is sent, and later chunks are refused.
func (mg *Manager) AbortMessage(m *message.Message) error {
	code, comment := m.AbortReason()
	var events dispatch

	mg.mu.Lock()
	if mg.closed {
		mg.mu.Unlock()
		return ErrClosed
	}
	var err error
	if m.Direction == message.Outgoing {
		err = mg.abortOutgoingLocked(m, code, comment, &events)
	} else {
		err = mg.abortIncomingLocked(m, code, comment, &events)
	}
	mg.mu.Unlock()

	events.run()
	return err
}

func (mg *Manager) abortOutgoingLocked(m *message.Message, code int, comment string, events *dispatch) error {
	st := mg.outgoing[m.ID]
	if st == nil || st.msg != m {
		return fmt.Errorf("%w: %s", ErrUnknownMessage, m.ID)
	}
	if !m.MarkAborted(code, comment) {
		return nil
	}

	marked := false
	if tx := mg.inFlight; tx != nil && tx.Message == m && !tx.sealed {
		tx.abort = true
		marked = true
	}
	kept := mg.bulk[:0]
	for _, tx := range mg.bulk {
		switch {
		case tx.Message != m:
			kept = append(kept, tx)
		case !marked:
			tx.abort = true
			marked = true
			kept = append(kept, tx)
		default:
			mg.releaseLocked(tx.TID)
		}
	}
	for i := len(kept); i < len(mg.bulk); i++ {
		mg.bulk[i] = nil
	}
	mg.bulk = kept

	switch {
	case marked:
	case st.parked:
		st.parked = false
		mg.enqueueLocked(&Transaction{TID: mg.newTIDLocked(), Kind: codec.KindSend, Message: m, abort: true}, PriorityBulk)
	case mg.inFlight != nil && mg.inFlight.Message == m:
		st.abortPending = true
	default:
		delete(mg.outgoing, m.ID)
	}

	logrus.WithFields(logrus.Fields{
		"function":   "abortOutgoingLocked",
		"message_id": m.ID,
		"code":       code,
		"sent":       m.Counter(),
	}).Info("Outgoing message aborted")

	events.add(func() { mg.handler.MessageAborted(m, code, comment) })
	return nil
}

func (mg *Manager) abortIncomingLocked(m *message.Message, code int, comment string, events *dispatch) error {
	st := mg.incoming[m.ID]
	if st == nil || st.msg != m {
		return fmt.Errorf("%w: %s", ErrUnknownMessage, m.ID)
	}
	if code == 0 {
		code = codec.CodeStopSending
	}
	if !m.MarkAborted(code, comment) {
		return nil
	}
	delete(mg.incoming, m.ID)
	mg.rejected[m.ID] = struct{}{}

	if st.answering != nil {
		st.answering.code = code
		st.answering.comment = comment
	} else if m.FailureReport() != codec.ReportNo {
		br := codec.ByteRange{Start: 1, End: m.Counter(), Total: m.Size()}
		mg.enqueueReportLocked(m, st.fromPath, codec.Status{Code: code, Comment: comment}, br)
	}

	logrus.WithFields(logrus.Fields{
		"function":   "abortIncomingLocked",
		"message_id": m.ID,
		"code":       code,
		"received":   m.Counter(),
	}).Info("Incoming message aborted")

	events.add(func() { mg.handler.MessageAborted(m, code, comment) })
	return nil
}

func (mg *Manager) enqueueReportLocked(m *message.Message, toPath []string, status codec.Status, br codec.ByteRange) {
	tid := mg.newTIDLocked()
	f := &codec.Frame{
		Kind:   codec.KindReport,
		TID:    tid,
		Method: codec.MethodReport,
		Header: codec.Header{
			ToPath:       toPath,
			FromPath:     []string{mg.cfg.LocalURI},
			MessageID:    m.ID,
			ByteRange:    br,
			HasByteRange: true,
			Status:       &status,
		},
	}
	mg.enqueueLocked(&Transaction{TID: tid, Kind: codec.KindReport, Frame: f, Message: m}, PriorityControl)
}

// CheckTimeouts answers every request whose response is overdue with a
// synthesized 408 response.
func (mg *Manager) CheckTimeouts() {
	var events dispatch

	mg.mu.Lock()
	now := mg.cfg.TimeProvider.Now()
	expired := lo.Filter(lo.Values(mg.awaiting), func(tx *Transaction, _ int) bool {
		return now.After(tx.deadline)
	})
	for _, tx := range expired {
		logrus.WithFields(logrus.Fields{
			"function": "CheckTimeouts",
			"tid":      tx.TID,
			"waited":   now.Sub(tx.sentAt).String(),
		}).Warn("Response timed out")

		mg.completeLocked(tx, codec.CodeTimeout, codec.StatusText(codec.CodeTimeout), &events)
	}
	mg.mu.Unlock()

	events.run()
}

// completeLocked applies the response code to an awaited request.
func (mg *Manager) completeLocked(tx *Transaction, code int, comment string, events *dispatch) {
	delete(mg.awaiting, tx.TID)
	mg.releaseLocked(tx.TID)
	tx.responseCode = code

	switch tx.Kind {
	case codec.KindSend:
		m := tx.Message
		st := mg.outgoing[m.ID]
		if st == nil {
			return
		}
		if !codec.IsSuccess(code) {
			_ = mg.abortOutgoingLocked(m, code, comment, events)
			return
		}
		if tx.Chunk.Last {
			mg.completeOutgoingLocked(st, events)
		}
	case codec.KindNickname:
		nickname := tx.Nickname
		events.add(func() { mg.handler.NicknameResult(nickname, code, comment) })
	}
}

// Pending returns the number of queued control and bulk transactions.
func (mg *Manager) Pending() (control, bulk int) {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	return len(mg.control), len(mg.bulk)
}

// Outstanding returns the number of requests awaiting a response.
func (mg *Manager) Outstanding() int {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	return len(mg.awaiting)
}

// Close shuts the manager down. Unfinished messages end aborted without
// events.
func (mg *Manager) Close() {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	mg.shutdownLocked("connection closed")
}

// Fail shuts the manager down after a connection error and reports it once.
func (mg *Manager) Fail(err error) {
	mg.mu.Lock()
	first := mg.shutdownLocked("connection lost")
	mg.mu.Unlock()

	if !first {
		return
	}
	logrus.WithFields(logrus.Fields{
		"function": "Fail",
		"error":    fmt.Sprint(err),
	}).Warn("Connection lost")
	mg.handler.ConnectionLost(err)
}

func (mg *Manager) shutdownLocked(reason string) bool {
	if mg.closed {
		return false
	}
	mg.closed = true
	close(mg.done)

	for _, st := range mg.outgoing {
		st.msg.MarkAborted(codec.CodeTimeout, reason)
	}
	for _, st := range mg.incoming {
		st.msg.MarkAborted(codec.CodeTimeout, reason)
	}
	mg.control = nil
	mg.bulk = nil
	mg.inFlight = nil
	mg.outgoing = make(map[string]*outgoingState)
	mg.incoming = make(map[string]*incomingState)
	mg.awaiting = make(map[string]*Transaction)
	mg.live = make(map[string]*Transaction)
	return true
}

package message

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/opd-ai/gomsrp/codec"
	"github.com/opd-ai/gomsrp/container"
	"github.com/opd-ai/gomsrp/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockTimeProvider provides deterministic time for testing.
type mockTimeProvider struct {
	currentTime time.Time
}

func (m *mockTimeProvider) Now() time.Time {
	return m.currentTime
}

func (m *mockTimeProvider) Since(t time.Time) time.Duration {
	return m.currentTime.Sub(t)
}

func (m *mockTimeProvider) advance(d time.Duration) {
	m.currentTime = m.currentTime.Add(d)
}

func newMockTimeProvider() *mockTimeProvider {
	return &mockTimeProvider{
		currentTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

type recordingAborter struct {
	aborted []*Message
}

func (r *recordingAborter) AbortMessage(m *Message) error {
	r.aborted = append(r.aborted, m)
	return nil
}

func drain(t *testing.T, m *Message, tid string, max int) []Chunk {
	t.Helper()
	var chunks []Chunk
	for {
		c, err := m.NextChunk(tid, max)
		if errors.Is(err, ErrNoMoreChunks) {
			return chunks
		}
		require.NoError(t, err)
		chunks = append(chunks, c)
	}
}

func TestNewID(t *testing.T) {
	id := NewID()
	assert.Len(t, id, 32)
	assert.NotContains(t, id, "-")
	assert.NotEqual(t, id, NewID())
}

func TestNewOutgoingDefaults(t *testing.T) {
	m := NewOutgoing("", container.NewMemoryFrom([]byte("hi")))
	assert.Equal(t, container.DefaultContentType, m.ContentType)
	assert.Equal(t, Outgoing, m.Direction)
	assert.Equal(t, int64(2), m.Size())
	assert.Equal(t, StatePending, m.State())
	assert.Equal(t, codec.ReportYes, m.FailureReport())
	assert.False(t, m.SuccessReport())
	assert.NotEmpty(t, m.ID)

	m = NewOutgoing("text/plain", container.NewMemoryFrom(nil), WithID("fixed123"), WithSuccessReport(true), WithFailureReport(codec.ReportPartial))
	assert.Equal(t, "fixed123", m.ID)
	assert.True(t, m.SuccessReport())
	assert.Equal(t, codec.ReportPartial, m.FailureReport())
}

func TestNextChunkSplitsPayload(t *testing.T) {
	tests := []struct {
		name   string
		size   int
		max    int
		chunks int
	}{
		{"empty", 0, 10, 1},
		{"one byte", 1, 10, 1},
		{"chunk minus one", 9, 10, 1},
		{"exact chunk", 10, 10, 1},
		{"chunk plus one", 11, 10, 2},
		{"several", 35, 10, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := bytes.Repeat([]byte("a"), tt.size)
			m := NewOutgoing("text/plain", container.NewMemoryFrom(payload))
			chunks := drain(t, m, "tid1", tt.max)
			require.Len(t, chunks, tt.chunks)

			var joined []byte
			for i, c := range chunks {
				assert.Equal(t, int64(tt.size), c.Range.Total)
				assert.Equal(t, int64(len(joined))+1, c.Range.Start)
				assert.Equal(t, i == len(chunks)-1, c.Last)
				joined = append(joined, c.Data...)
				assert.Equal(t, int64(len(joined)), c.Range.End)
			}
			assert.Equal(t, payload, joined)
			assert.True(t, m.IsComplete())
			assert.False(t, m.HasPending())
		})
	}
}

func TestNextChunkEmptyMessageRange(t *testing.T) {
	m := NewOutgoing("text/plain", container.NewMemoryFrom(nil))
	c, err := m.NextChunk("tid1", 100)
	require.NoError(t, err)
	assert.Equal(t, "1-0/0", c.Range.String())
	assert.True(t, c.Last)
	assert.Empty(t, c.Data)
}

func TestNextChunkCutsAtEndLineToken(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 499)
	copy(payload[300:], "-------tidA")
	m := NewOutgoing("text/plain", container.NewMemoryFrom(payload))

	first, err := m.NextChunk("tidA", 1000)
	require.NoError(t, err)
	assert.True(t, first.Cut)
	assert.False(t, first.Last)
	assert.Len(t, first.Data, 300)
	assert.Equal(t, "1-300/499", first.Range.String())

	_, err = m.NextChunk("tidA", 1000)
	assert.ErrorIs(t, err, ErrTIDCollision)
	assert.Equal(t, int64(300), m.Counter())

	second, err := m.NextChunk("tidB", 1000)
	require.NoError(t, err)
	assert.True(t, second.Last)
	assert.Equal(t, "301-499/499", second.Range.String())
	assert.Equal(t, payload, append(first.Data, second.Data...))
}

func TestNextChunkIgnoresOtherTransactionTokens(t *testing.T) {
	payload := []byte("body with -------tidA inside")
	m := NewOutgoing("text/plain", container.NewMemoryFrom(payload))
	c, err := m.NextChunk("tidB", 1000)
	require.NoError(t, err)
	assert.False(t, c.Cut)
	assert.True(t, c.Last)
}

func TestNextChunkStream(t *testing.T) {
	s := container.NewStream()
	m := NewOutgoing("text/plain", s)
	assert.Equal(t, Unknown, m.Size())

	_, err := m.NextChunk("t1", 4)
	assert.ErrorIs(t, err, ErrStarved)
	assert.True(t, m.HasPending())

	_, err = s.Write([]byte("abcdef"))
	require.NoError(t, err)

	c, err := m.NextChunk("t1", 4)
	require.NoError(t, err)
	assert.Equal(t, "1-4/*", c.Range.String())
	assert.False(t, c.Last)

	c, err = m.NextChunk("t2", 4)
	require.NoError(t, err)
	assert.Equal(t, "5-6/*", c.Range.String())

	_, err = m.NextChunk("t3", 4)
	assert.ErrorIs(t, err, ErrStarved)

	require.NoError(t, s.Close())
	c, err = m.NextChunk("t3", 4)
	require.NoError(t, err)
	assert.Equal(t, "7-6/6", c.Range.String())
	assert.True(t, c.Last)
	assert.Empty(t, c.Data)
	assert.Equal(t, int64(6), m.Size())
}

func TestNextChunkWrongDirection(t *testing.T) {
	m := NewIncoming("abc", "text/plain", 3)
	_, err := m.NextChunk("t", 10)
	assert.ErrorIs(t, err, ErrWrongDirection)
}

func TestReceiveAssemblesInOrder(t *testing.T) {
	m := NewIncoming("msg1", "text/plain", 10)
	store := container.NewMemory(100)
	m.Attach(store)

	p, err := m.Receive(codec.ByteRange{Start: 1, End: 4, Total: 10}, []byte("0123"), codec.FlagContinue)
	require.NoError(t, err)
	assert.Equal(t, ProgressPartial, p)
	assert.InDelta(t, 40.0, m.GetProgress(), 0.001)

	p, err = m.Receive(codec.ByteRange{Start: 5, End: 10, Total: 10}, []byte("456789"), codec.FlagEnd)
	require.NoError(t, err)
	assert.Equal(t, ProgressComplete, p)
	assert.True(t, m.IsComplete())
	assert.Equal(t, StateCompleted, m.State())
	assert.Equal(t, []byte("0123456789"), store.Bytes())

	_, err = m.Receive(codec.ByteRange{Start: 11, End: 11, Total: 10}, []byte("x"), codec.FlagEnd)
	assert.ErrorIs(t, err, ErrMessageComplete)
}

func TestReceiveCompletesWhenCounterReachesTotal(t *testing.T) {
	m := NewIncoming("msg1", "text/plain", 3)
	m.Attach(container.NewMemory(10))
	p, err := m.Receive(codec.ByteRange{Start: 1, End: 3, Total: 3}, []byte("abc"), codec.FlagContinue)
	require.NoError(t, err)
	assert.Equal(t, ProgressComplete, p)
}

func TestReceiveOutOfOrder(t *testing.T) {
	m := NewIncoming("msg1", "text/plain", 10)
	m.Attach(container.NewMemory(100))

	_, err := m.Receive(codec.ByteRange{Start: 5, End: 8, Total: 10}, []byte("4567"), codec.FlagContinue)
	assert.ErrorIs(t, err, ErrOutOfOrder)
	assert.Equal(t, int64(0), m.Counter())
}

func TestReceiveUnknownTotal(t *testing.T) {
	m := NewIncoming("msg1", "text/plain", Unknown)
	m.Attach(container.NewMemory(100))

	p, err := m.Receive(codec.ByteRange{Start: 1, End: 3, Total: Unknown}, []byte("abc"), codec.FlagContinue)
	require.NoError(t, err)
	assert.Equal(t, ProgressPartial, p)
	assert.Equal(t, 0.0, m.GetProgress())

	p, err = m.Receive(codec.ByteRange{Start: 4, End: 5, Total: Unknown}, []byte("de"), codec.FlagEnd)
	require.NoError(t, err)
	assert.Equal(t, ProgressComplete, p)
	assert.Equal(t, int64(5), m.Size())
}

func TestReceiveEndBeforeTotal(t *testing.T) {
	m := NewIncoming("msg1", "text/plain", 10)
	m.Attach(container.NewMemory(100))

	_, err := m.Receive(codec.ByteRange{Start: 1, End: 3, Total: 10}, []byte("abc"), codec.FlagEnd)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestReceiveTotalMismatch(t *testing.T) {
	m := NewIncoming("msg1", "text/plain", 10)
	m.Attach(container.NewMemory(100))

	_, err := m.Receive(codec.ByteRange{Start: 1, End: 3, Total: 12}, []byte("abc"), codec.FlagContinue)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestReceiveInterruptedKeepsData(t *testing.T) {
	m := NewIncoming("msg1", "text/plain", 10)
	store := container.NewMemory(100)
	m.Attach(store)

	p, err := m.Receive(codec.ByteRange{Start: 1, End: 2, Total: 10}, []byte("ab"), codec.FlagAbort)
	require.NoError(t, err)
	assert.Equal(t, ProgressAborted, p)
	assert.True(t, m.IsAborted())
	assert.Equal(t, []byte("ab"), store.Bytes())
}

func TestReceiveEmptyMessage(t *testing.T) {
	m := NewIncoming("msg1", "text/plain", 0)
	m.Attach(container.NewMemory(10))

	p, err := m.Receive(codec.ByteRange{Start: 1, End: 0, Total: 0}, nil, codec.FlagEnd)
	require.NoError(t, err)
	assert.Equal(t, ProgressComplete, p)
}

func TestReceiveWithoutContainer(t *testing.T) {
	m := NewIncoming("msg1", "text/plain", 3)
	_, err := m.Receive(codec.ByteRange{Start: 1, End: 3, Total: 3}, []byte("abc"), codec.FlagEnd)
	assert.ErrorIs(t, err, ErrNoContainer)
}

func TestAbortRules(t *testing.T) {
	m := NewOutgoing("text/plain", container.NewMemoryFrom([]byte("hello")))
	assert.ErrorIs(t, m.Abort(0, ""), ErrNotBound)

	a := &recordingAborter{}
	m.Bind(a)
	require.NoError(t, m.Abort(codec.CodeStopSending, "bored"))
	require.Len(t, a.aborted, 1)
	code, comment := m.AbortReason()
	assert.Equal(t, codec.CodeStopSending, code)
	assert.Equal(t, "bored", comment)

	assert.True(t, m.MarkAborted(0, ""))
	assert.False(t, m.MarkAborted(0, ""))
	assert.ErrorIs(t, m.Abort(0, ""), ErrMessageAborted)

	code, _ = m.AbortReason()
	assert.Equal(t, codec.CodeStopSending, code)
}

func TestAbortCompleteMessage(t *testing.T) {
	m := NewOutgoing("text/plain", container.NewMemoryFrom([]byte("hi")))
	m.Bind(&recordingAborter{})
	drain(t, m, "t", 10)
	assert.ErrorIs(t, m.Abort(0, ""), ErrMessageComplete)

	in := NewIncoming("msg1", "text/plain", 2)
	in.Bind(&recordingAborter{})
	in.Attach(container.NewMemory(10))
	_, err := in.Receive(codec.ByteRange{Start: 1, End: 2, Total: 2}, []byte("hi"), codec.FlagEnd)
	require.NoError(t, err)
	assert.ErrorIs(t, in.Abort(0, ""), ErrMessageComplete)
	assert.False(t, in.MarkAborted(codec.CodeStopSending, ""))
}

func TestAbortedMessageStopsProducing(t *testing.T) {
	m := NewOutgoing("text/plain", container.NewMemoryFrom([]byte("hello")))
	m.MarkAborted(codec.CodeStopSending, "")
	_, err := m.NextChunk("t", 2)
	assert.ErrorIs(t, err, ErrMessageAborted)
	assert.False(t, m.HasPending())
}

func TestMarkCompleted(t *testing.T) {
	m := NewOutgoing("text/plain", container.NewMemoryFrom([]byte("hi")))
	drain(t, m, "t", 10)
	assert.True(t, m.MarkCompleted())
	assert.False(t, m.MarkCompleted())
	assert.False(t, m.MarkAborted(codec.CodeTimeout, ""))
	assert.Equal(t, StateCompleted, m.State())
}

func TestDiscardDisposesContainer(t *testing.T) {
	store := container.NewMemoryFrom([]byte("abc"))
	m := NewOutgoing("text/plain", store)
	require.NoError(t, m.Discard())
	assert.Equal(t, StateDiscarded, m.State())
	assert.Nil(t, m.Container())
	_, err := store.Get(0, 1)
	assert.ErrorIs(t, err, container.ErrDisposed)
	assert.NoError(t, m.Discard())
}

func TestStatusDue(t *testing.T) {
	m := NewIncoming("msg1", "text/plain", 1000, WithMechanism(&report.Default{Percent: 50, Granularity: 1024, ReportPercent: 0}))
	m.Attach(container.NewMemory(2000))

	_, err := m.Receive(codec.ByteRange{Start: 1, End: 100, Total: 1000}, make([]byte, 100), codec.FlagContinue)
	require.NoError(t, err)
	_, due := m.StatusDue()
	assert.False(t, due)

	_, err = m.Receive(codec.ByteRange{Start: 101, End: 600, Total: 1000}, make([]byte, 500), codec.FlagContinue)
	require.NoError(t, err)
	n, due := m.StatusDue()
	assert.True(t, due)
	assert.Equal(t, int64(600), n)

	_, due = m.StatusDue()
	assert.False(t, due)
}

func TestReportDue(t *testing.T) {
	m := NewIncoming("msg1", "text/plain", 1000, WithMechanism(&report.Default{Percent: 10, Granularity: 1024, ReportPercent: 50}))
	m.Attach(container.NewMemory(2000))

	_, due := m.ReportDue()
	assert.False(t, due, "no REPORT unless requested")

	m.SetReportHeaders(codec.ReportYes, codec.ReportNo)
	assert.True(t, m.SuccessReport())
	assert.Equal(t, codec.ReportNo, m.FailureReport())

	_, err := m.Receive(codec.ByteRange{Start: 1, End: 400, Total: 1000}, make([]byte, 400), codec.FlagContinue)
	require.NoError(t, err)
	_, due = m.ReportDue()
	assert.False(t, due)

	_, err = m.Receive(codec.ByteRange{Start: 401, End: 600, Total: 1000}, make([]byte, 200), codec.FlagContinue)
	require.NoError(t, err)
	br, due := m.ReportDue()
	assert.True(t, due)
	assert.Equal(t, "1-600/1000", br.String())

	_, err = m.Receive(codec.ByteRange{Start: 601, End: 1000, Total: 1000}, make([]byte, 400), codec.FlagEnd)
	require.NoError(t, err)
	br, due = m.ReportDue()
	assert.True(t, due)
	assert.Equal(t, "1-1000/1000", br.String())

	_, due = m.ReportDue()
	assert.False(t, due, "final REPORT is sent once")
}

func TestRecordReportDeduplicates(t *testing.T) {
	m := NewOutgoing("text/plain", container.NewMemoryFrom(make([]byte, 10)))
	ok := codec.Status{Code: codec.CodeOK}
	br := codec.ByteRange{Start: 1, End: 5, Total: 10}

	assert.True(t, m.RecordReport(ok, br))
	assert.False(t, m.RecordReport(ok, br))
	assert.Equal(t, int64(5), m.Delivered())

	assert.True(t, m.RecordReport(codec.Status{Code: codec.CodeStopSending}, codec.ByteRange{Start: 1, End: 8, Total: 10}))
	assert.Equal(t, int64(5), m.Delivered())
}

func TestTransferSpeed(t *testing.T) {
	tp := newMockTimeProvider()
	m := NewOutgoing("text/plain", container.NewMemoryFrom(make([]byte, 4000)), WithTimeProvider(tp))

	tp.advance(time.Second)
	_, err := m.NextChunk("t", 1000)
	require.NoError(t, err)
	assert.InDelta(t, 1000.0, m.GetSpeed(), 0.001)

	tp.advance(time.Second)
	_, err = m.NextChunk("t", 2000)
	require.NoError(t, err)
	assert.InDelta(t, 0.7*1000+0.3*2000, m.GetSpeed(), 0.001)
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "pending", StatePending.String())
	assert.Equal(t, "aborted", StateAborted.String())
	assert.Equal(t, "State(9)", State(9).String())
	assert.Equal(t, "out", Outgoing.String())
	assert.Equal(t, "in", Incoming.String())
}

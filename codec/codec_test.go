package codec

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testTID  = "a786hjs2"
	testTo   = "msrp://bob.example.com:8888/9di4eae923wzd;tcp"
	testFrom = "msrp://alicepc.example.com:7777/iau39soe2843z;tcp"
)

func sendFrame(tid string, body []byte, br ByteRange, flag Flag) *Frame {
	return &Frame{
		Kind:   KindSend,
		TID:    tid,
		Method: MethodSend,
		Header: Header{
			ToPath:       []string{testTo},
			FromPath:     []string{testFrom},
			MessageID:    "87652491",
			ByteRange:    br,
			HasByteRange: true,
			ContentType:  "text/plain",
		},
		Body: body,
		Flag: flag,
	}
}

func decodeAll(t *testing.T, data []byte) []*Frame {
	t.Helper()
	dec := NewDecoder()
	_, _ = dec.Write(data)
	var frames []*Frame
	for {
		frame, err := dec.Next()
		require.NoError(t, err)
		if frame == nil {
			return frames
		}
		frames = append(frames, frame)
	}
}

func TestEncodeSendMatchesRFCExample(t *testing.T) {
	frame := sendFrame(testTID, []byte("Hi, I'm Alice!"), ByteRange{Start: 1, End: 14, Total: 14}, FlagEnd)

	want := "MSRP a786hjs2 SEND\r\n" +
		"To-Path: " + testTo + "\r\n" +
		"From-Path: " + testFrom + "\r\n" +
		"Message-ID: 87652491\r\n" +
		"Byte-Range: 1-14/14\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"Hi, I'm Alice!\r\n" +
		"-------a786hjs2$\r\n"

	assert.Equal(t, want, string(Encode(frame)))
}

func TestEncodeResponseWithoutBody(t *testing.T) {
	frame := &Frame{
		Kind: KindResponse,
		TID:  testTID,
		Code: CodeOK,
		Header: Header{
			ToPath:   []string{testFrom},
			FromPath: []string{testTo},
		},
		Flag: FlagEnd,
	}

	want := "MSRP a786hjs2 200 OK\r\n" +
		"To-Path: " + testFrom + "\r\n" +
		"From-Path: " + testTo + "\r\n" +
		"-------a786hjs2$\r\n"
	assert.Equal(t, want, string(Encode(frame)))
}

func TestEncodeEmptyChunkOmitsContentType(t *testing.T) {
	frame := sendFrame(testTID, nil, ByteRange{Start: 1, End: 0, Total: 0}, FlagEnd)
	encoded := string(Encode(frame))
	assert.NotContains(t, encoded, HeaderContentType)
	assert.True(t, strings.HasSuffix(encoded, "Byte-Range: 1-0/0\r\n-------a786hjs2$\r\n"))
}

func TestEncodeChunkEnd(t *testing.T) {
	withBody := sendFrame(testTID, []byte("x"), ByteRange{Start: 1, End: 1, Total: 1}, FlagEnd)
	assert.Equal(t, "\r\n-------a786hjs2#\r\n", string(EncodeChunkEnd(withBody, FlagAbort)))

	noBody := sendFrame(testTID, nil, ByteRange{Start: 1, End: 0, Total: 0}, FlagEnd)
	assert.Equal(t, "-------a786hjs2+\r\n", string(EncodeChunkEnd(noBody, FlagContinue)))
}

func TestRoundTripFrames(t *testing.T) {
	report := &Frame{
		Kind:   KindReport,
		TID:    "dkei38sd",
		Method: MethodReport,
		Header: Header{
			ToPath:       []string{testFrom},
			FromPath:     []string{testTo},
			MessageID:    "12339sdqwer",
			ByteRange:    ByteRange{Start: 1, End: 106, Total: 106},
			HasByteRange: true,
			Status:       &Status{Namespace: 0, Code: 200, Comment: "OK"},
		},
		Flag: FlagEnd,
	}
	send := sendFrame("f0aa3Cd", []byte("chunk one"), ByteRange{Start: 1, End: 9, Total: Unknown}, FlagContinue)
	response := &Frame{Kind: KindResponse, TID: "f0aa3Cd", Code: CodeStopSending,
		Header: Header{ToPath: []string{testFrom}, FromPath: []string{testTo}}, Flag: FlagEnd}

	var stream []byte
	for _, f := range []*Frame{report, send, response} {
		stream = append(stream, Encode(f)...)
	}

	frames := decodeAll(t, stream)
	require.Len(t, frames, 3)

	assert.Equal(t, KindReport, frames[0].Kind)
	require.NotNil(t, frames[0].Header.Status)
	assert.Equal(t, 200, frames[0].Header.Status.Code)
	assert.Equal(t, "12339sdqwer", frames[0].Header.MessageID)

	assert.Equal(t, KindSend, frames[1].Kind)
	assert.Equal(t, []byte("chunk one"), frames[1].Body)
	assert.Equal(t, FlagContinue, frames[1].Flag)
	assert.Equal(t, Unknown, frames[1].Header.ByteRange.Total)

	assert.Equal(t, KindResponse, frames[2].Kind)
	assert.Equal(t, CodeStopSending, frames[2].Code)
	assert.Equal(t, "Stop Sending Message", frames[2].Comment)
}

func TestDecoderByteAtATime(t *testing.T) {
	body := []byte("line one\r\nline two\r\n-------nottheend$\r\n")
	frame := sendFrame(testTID, body, ByteRange{Start: 1, End: int64(len(body)), Total: int64(len(body))}, FlagEnd)
	data := Encode(frame)

	dec := NewDecoder()
	var got *Frame
	for i, b := range data {
		_, _ = dec.Write([]byte{b})
		f, err := dec.Next()
		require.NoError(t, err)
		if f != nil {
			require.Equal(t, len(data)-1, i, "frame completed early at byte %d", i)
			got = f
		}
	}
	require.NotNil(t, got)
	assert.Equal(t, body, got.Body)
	assert.Zero(t, dec.Buffered())
}

func TestScanForEndLine(t *testing.T) {
	tests := []struct {
		name      string
		buf       string
		wantFound bool
		wantOff   int
		wantFlag  Flag
	}{
		{"plain end", "hello\r\n-------a786hjs2$\r\n", true, 5, FlagEnd},
		{"continue flag", "abc\r\n-------a786hjs2+\r\n", true, 3, FlagContinue},
		{"abort flag", "\r\n-------a786hjs2#\r\n", true, 0, FlagAbort},
		{"not at line boundary", "xx-------a786hjs2$\r\n", false, 0, 0},
		{"tid prefix only", "x\r\n-------a786hjs$\r\n", false, 0, 0},
		{"tid with suffix", "x\r\n-------a786hjs2X$\r\n", false, 0, 0},
		{"other tid", "x\r\n-------zzzzzzzz$\r\n", false, 0, 0},
		{"bad flag", "x\r\n-------a786hjs2!\r\n", false, 0, 0},
		{"flag without CRLF", "x\r\n-------a786hjs2$ trailing\r\n", false, 0, 0},
		{"incomplete", "x\r\n-------a786hjs2$\r", false, 0, 0},
		{"six dashes", "x\r\n------a786hjs2$\r\n", false, 0, 0},
		{"look-alike then real",
			"x\r\n-------a786hjs2$junk\r\n-------a786hjs2X+\r\nmore\r\n-------a786hjs2+\r\n", true, 48, FlagContinue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			off, flag, found := ScanForEndLine([]byte(tt.buf), testTID)
			assert.Equal(t, tt.wantFound, found)
			if tt.wantFound {
				assert.Equal(t, tt.wantOff, off)
				assert.Equal(t, tt.wantFlag, flag)
			}
		})
	}
}

func TestScanForEndLineTIDWithDashes(t *testing.T) {
	tid := "ab-c+d"
	buf := []byte("-------ab-c+d$\r\nbody\r\n-------ab-c+d+\r\n")
	off, flag, found := ScanForEndLine(buf, tid)
	require.True(t, found)
	assert.Equal(t, 20, off)
	assert.Equal(t, FlagContinue, flag)
}

func TestDecoderBodyWithEmbeddedEndLines(t *testing.T) {
	// every variant of a false terminator that must stay inside the body
	body := []byte("start\r\n-------a786hjs2\r\n" +
		"xx-------a786hjs2$\r\n" +
		"\r\n-------a786hjs\r\n" +
		"\r\n-------a786hjs2x$\r\n" +
		"\r\n-------other123$\r\n" +
		"\r\n-------a786hjs2$ no crlf after flag\r\nend")
	frame := sendFrame(testTID, body, ByteRange{Start: 1, End: int64(len(body)), Total: int64(len(body))}, FlagEnd)

	frames := decodeAll(t, Encode(frame))
	require.Len(t, frames, 1)
	assert.Equal(t, body, frames[0].Body)
}

func TestDecoderProtocolErrors(t *testing.T) {
	t.Run("invalid byte range answered 400", func(t *testing.T) {
		data := "MSRP abcd1234 SEND\r\nTo-Path: " + testTo + "\r\nFrom-Path: " + testFrom +
			"\r\nMessage-ID: m1\r\nByte-Range: 0-5/5\r\nContent-Type: text/plain\r\n\r\nhello\r\n-------abcd1234$\r\n" +
			"MSRP efgh5678 200 OK\r\n-------efgh5678$\r\n"
		dec := NewDecoder()
		_, _ = dec.Write([]byte(data))

		frame, err := dec.Next()
		require.NotNil(t, frame)
		var perr *ProtocolError
		require.True(t, errors.As(err, &perr))
		assert.Equal(t, CodeBadRequest, perr.Code)
		assert.Equal(t, "abcd1234", frame.TID)
		assert.ErrorIs(t, err, ErrInvalidHeader)

		// the stream stays synchronized
		next, err := dec.Next()
		require.NoError(t, err)
		require.NotNil(t, next)
		assert.Equal(t, KindResponse, next.Kind)
	})

	t.Run("unknown method is unsupported", func(t *testing.T) {
		data := "MSRP abcd1234 AUTH\r\nTo-Path: " + testTo + "\r\nFrom-Path: " + testFrom + "\r\n-------abcd1234$\r\n"
		frames := decodeAll(t, []byte(data))
		require.Len(t, frames, 1)
		assert.Equal(t, KindUnsupported, frames[0].Kind)
		assert.Equal(t, "AUTH", frames[0].Method)
	})

	t.Run("malformed method keeps the stream", func(t *testing.T) {
		for _, line := range []string{"MSRP abcd1234 send", "MSRP abcd1234 Send", "MSRP abcd1234 SEND extra"} {
			data := line + "\r\nTo-Path: " + testTo + "\r\nFrom-Path: " + testFrom +
				"\r\nMessage-ID: m1\r\nByte-Range: 1-2/2\r\nContent-Type: text/plain\r\n\r\nhi\r\n-------abcd1234$\r\n"
			valid := Encode(sendFrame(testTID, []byte("ok"), ByteRange{Start: 1, End: 2, Total: 2}, FlagEnd))

			dec := NewDecoder()
			_, _ = dec.Write(append([]byte(data), valid...))

			frame, err := dec.Next()
			require.NotNil(t, frame, line)
			assert.ErrorIs(t, err, ErrMalformedStartLine, line)
			var perr *ProtocolError
			require.True(t, errors.As(err, &perr), line)
			assert.Equal(t, CodeBadRequest, perr.Code)
			assert.Equal(t, "abcd1234", frame.TID)
			assert.Equal(t, KindUnsupported, frame.Kind)
			assert.Equal(t, []string{testFrom}, frame.Header.FromPath)

			next, err := dec.Next()
			require.NoError(t, err, line)
			require.NotNil(t, next, line)
			assert.Equal(t, KindSend, next.Kind)
			assert.Equal(t, testTID, next.TID)
			assert.Equal(t, []byte("ok"), next.Body)
			assert.Zero(t, dec.Buffered())
		}
	})

	t.Run("invalid header keeps the parsed fields", func(t *testing.T) {
		data := "MSRP abcd1234 SEND\r\nTo-Path: " + testTo + "\r\nFrom-Path: " + testFrom +
			"\r\nMessage-ID: m1\r\nByte-Range: 5-6/10\r\nFailure-Report: partial\r\nContent-Type: garbage\r\n\r\nhi\r\n-------abcd1234+\r\n"
		dec := NewDecoder()
		_, _ = dec.Write([]byte(data))

		frame, err := dec.Next()
		require.NotNil(t, frame)
		assert.ErrorIs(t, err, ErrInvalidHeader)
		assert.Equal(t, "m1", frame.Header.MessageID)
		assert.Equal(t, []string{testFrom}, frame.Header.FromPath)
		assert.Equal(t, ReportPartial, frame.Header.FailureReport)
		assert.Equal(t, FlagContinue, frame.Flag)
	})

	t.Run("missing message id", func(t *testing.T) {
		data := "MSRP abcd1234 SEND\r\nTo-Path: " + testTo + "\r\nFrom-Path: " + testFrom + "\r\n-------abcd1234$\r\n"
		dec := NewDecoder()
		_, _ = dec.Write([]byte(data))
		frame, err := dec.Next()
		require.NotNil(t, frame)
		assert.ErrorIs(t, err, ErrMissingHeader)
	})

	t.Run("body length mismatch", func(t *testing.T) {
		frame := sendFrame(testTID, []byte("four"), ByteRange{Start: 1, End: 10, Total: 10}, FlagEnd)
		dec := NewDecoder()
		_, _ = dec.Write(Encode(frame))
		got, err := dec.Next()
		require.NotNil(t, got)
		assert.ErrorIs(t, err, ErrInvalidHeader)
	})

	t.Run("malformed start line is fatal", func(t *testing.T) {
		dec := NewDecoder()
		_, _ = dec.Write([]byte("HTTP/1.1 200 OK\r\n\r\n"))
		frame, err := dec.Next()
		assert.Nil(t, frame)
		assert.ErrorIs(t, err, ErrMalformedStartLine)
	})
}

func TestParseStartLine(t *testing.T) {
	tests := []struct {
		line    string
		kind    Kind
		code    int
		comment string
		wantErr bool
	}{
		{"MSRP a786hjs2 SEND", KindSend, 0, "", false},
		{"MSRP a786hjs2 REPORT", KindReport, 0, "", false},
		{"MSRP a786hjs2 NICKNAME", KindNickname, 0, "", false},
		{"MSRP a786hjs2 FOO", KindUnsupported, 0, "", false},
		{"MSRP a786hjs2 200 OK", KindResponse, 200, "OK", false},
		{"MSRP a786hjs2 413 Stop Sending Message", KindResponse, 413, "Stop Sending Message", false},
		{"MSRP a786hjs2 200", KindResponse, 200, "", false},
		{"MSRP a786hjs2", 0, 0, "", true},
		{"MSRQ a786hjs2 SEND", 0, 0, "", true},
		{"MSRP ab SEND", 0, 0, "", true},
		{"MSRP -abc1234 SEND", 0, 0, "", true},
		{"MSRP a786hjs2 send", 0, 0, "", true},
		{"MSRP a786hjs2 SEND extra", 0, 0, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			frame, err := ParseStartLine(tt.line)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedStartLine)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, frame.Kind)
			assert.Equal(t, tt.code, frame.Code)
			assert.Equal(t, tt.comment, frame.Comment)
		})
	}
}

func TestParseByteRange(t *testing.T) {
	tests := []struct {
		value   string
		want    ByteRange
		wantErr bool
	}{
		{"1-14/14", ByteRange{1, 14, 14}, false},
		{"1-*/*", ByteRange{1, Unknown, Unknown}, false},
		{"1025-2048/*", ByteRange{1025, 2048, Unknown}, false},
		{"1-0/0", ByteRange{1, 0, 0}, false},
		{"11-10/10", ByteRange{11, 10, 10}, false},
		{"0-10/10", ByteRange{}, true},
		{"5-3/10", ByteRange{}, true},
		{"1-20/10", ByteRange{}, true},
		{"1-10", ByteRange{}, true},
		{"a-10/10", ByteRange{}, true},
		{"1/10", ByteRange{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := ParseByteRange(tt.value)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidHeader)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.value, got.String())
		})
	}
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("000 413 Stop Sending Message")
	require.NoError(t, err)
	assert.Equal(t, Status{Namespace: 0, Code: 413, Comment: "Stop Sending Message"}, st)
	assert.Equal(t, "000 413 Stop Sending Message", st.String())

	st, err = ParseStatus("000 200")
	require.NoError(t, err)
	assert.Equal(t, 200, st.Code)

	_, err = ParseStatus("200")
	assert.ErrorIs(t, err, ErrInvalidHeader)
	_, err = ParseStatus("0 200 OK")
	assert.ErrorIs(t, err, ErrInvalidHeader)
}

func TestParseHeaders(t *testing.T) {
	block := []byte("To-Path: " + testTo + "\r\n" +
		"From-Path: msrp://relay.example.net:2855/aa;tcp " + testFrom + "\r\n" +
		"Message-ID: 87652491\r\n" +
		"Success-Report: yes\r\n" +
		"Failure-Report: partial\r\n" +
		"Use-Nickname: \"bob\"\r\n" +
		"X-Custom: value\r\n")

	h, err := ParseHeaders(block)
	require.NoError(t, err)
	assert.Equal(t, []string{testTo}, h.ToPath)
	assert.Len(t, h.FromPath, 2)
	assert.Equal(t, ReportYes, h.SuccessReport)
	assert.Equal(t, ReportPartial, h.FailureReport)
	assert.Equal(t, "bob", h.UseNickname)
	assert.Equal(t, []Field{{Name: "X-Custom", Value: "value"}}, h.Extra)

	invalid := []string{
		"Failure-Report: maybe\r\n",
		"Success-Report: partial\r\n",
		"Content-Type: text\r\n",
		"No colon here\r\n",
		"Message-ID: -bad\r\n",
	}
	for _, line := range invalid {
		_, err := ParseHeaders([]byte(line))
		assert.ErrorIs(t, err, ErrInvalidHeader, line)
	}

	// fields around a bad line survive
	h, err = ParseHeaders([]byte("Message-ID: m1\r\nNo colon here\r\nContent-Type: text\r\nFrom-Path: " + testFrom + "\r\n"))
	require.ErrorIs(t, err, ErrInvalidHeader)
	assert.Contains(t, err.Error(), "No colon here", "the first failure is reported")
	assert.Equal(t, "m1", h.MessageID)
	assert.Equal(t, []string{testFrom}, h.FromPath)
	assert.Empty(t, h.ContentType)
}

func TestParseStartLineBadMethodKeepsTransaction(t *testing.T) {
	frame, err := ParseStartLine("MSRP a786hjs2 send")
	require.NotNil(t, frame)
	assert.ErrorIs(t, err, ErrMalformedStartLine)
	assert.Equal(t, testTID, frame.TID)
	assert.Equal(t, KindUnsupported, frame.Kind)

	frame, err = ParseStartLine("MSRP ab SEND")
	assert.Nil(t, frame)
	assert.ErrorIs(t, err, ErrMalformedStartLine)
}

func TestDecoderFrameTooLarge(t *testing.T) {
	dec := NewDecoder()
	_, _ = dec.Write([]byte(strings.Repeat("x", 20*1024)))
	frame, err := dec.Next()
	assert.Nil(t, frame)
	assert.Error(t, err)
}

func TestKindAndFlagStrings(t *testing.T) {
	assert.Equal(t, "SEND", KindSend.String())
	assert.Equal(t, "RESPONSE", KindResponse.String())
	assert.Equal(t, "$", FlagEnd.String())
	assert.False(t, Flag('x').Valid())
	assert.Equal(t, "Session Does Not Exist", StatusText(CodeNoSession))
	assert.True(t, IsSuccess(CodeOK))
	assert.False(t, IsSuccess(CodeStopSending))
}

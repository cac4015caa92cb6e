package transaction

import (
	"time"

	"github.com/opd-ai/gomsrp/codec"
	"github.com/opd-ai/gomsrp/limits"
	"github.com/opd-ai/gomsrp/message"
	"github.com/opd-ai/gomsrp/report"
	"github.com/samber/lo"
)

// Config holds the per-connection settings of a Manager.
type Config struct {
	// LocalURI is the From-Path of every request and the expected To-Path of
	// every incoming request. Empty disables the To-Path check.
	LocalURI string
	// RemoteURI is the To-Path of outgoing requests. When empty it is learned
	// from the From-Path of the first incoming request.
	RemoteURI string

	ChunkSize       int
	MaxIncomingSize int64
	ResponseTimeout time.Duration
	// RejectCode answers messages declined by the accept hook.
	RejectCode int

	Mechanism    report.Mechanism
	IDGenerator  func() string
	TimeProvider message.TimeProvider
}

// RandomTID returns a random alphanumeric transaction id.
func RandomTID() string {
	return lo.RandomString(limits.TransactionIDLength, lo.AlphanumericCharset)
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = limits.DefaultChunkSize
	}
	if c.MaxIncomingSize <= 0 {
		c.MaxIncomingSize = limits.MaxIncomingMessage
	}
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = limits.DefaultResponseTimeout
	}
	if c.RejectCode == 0 {
		c.RejectCode = codec.CodeStopSending
	}
	if c.Mechanism == nil {
		c.Mechanism = report.NewDefault()
	}
	if c.IDGenerator == nil {
		c.IDGenerator = RandomTID
	}
	if c.TimeProvider == nil {
		c.TimeProvider = message.DefaultTimeProvider{}
	}
	return c
}

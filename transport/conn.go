package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/gomsrp/codec"
	"github.com/opd-ai/gomsrp/limits"
	"github.com/opd-ai/gomsrp/transaction"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrConnectionLost wraps the I/O error that ended a connection.
var ErrConnectionLost = errors.New("connection lost")

// DefaultTimeoutCheckInterval is how often overdue responses are checked.
const DefaultTimeoutCheckInterval = time.Second

// DefaultWriteTimeout bounds a single chunk write.
const DefaultWriteTimeout = 30 * time.Second

// ConnConfig holds the I/O settings of a Connection.
type ConnConfig struct {
	// ChunkSize sizes the write buffer; it should match the manager chunk size.
	ChunkSize            int
	WriteTimeout         time.Duration
	TimeoutCheckInterval time.Duration
}

func (c ConnConfig) withDefaults() ConnConfig {
	if c.ChunkSize <= 0 {
		c.ChunkSize = limits.DefaultChunkSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.TimeoutCheckInterval <= 0 {
		c.TimeoutCheckInterval = DefaultTimeoutCheckInterval
	}
	return c
}

// Connection runs one MSRP session over a stream connection: a read loop
// feeding the transaction manager, a single writer draining it and a ticker
// expiring unanswered requests.
type Connection struct {
	conn    net.Conn
	mgr     *transaction.Manager
	cfg     ConnConfig
	dec     *codec.Decoder
	closing atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewConnection wraps conn. Call Run to start the loops.
func NewConnection(conn net.Conn, mgr *transaction.Manager, cfg ConnConfig) *Connection {
	return &Connection{
		conn: conn,
		mgr:  mgr,
		cfg:  cfg.withDefaults(),
		dec:  codec.NewDecoder(),
	}
}

// Manager returns the transaction manager of the connection.
func (c *Connection) Manager() *transaction.Manager {
	return c.mgr
}

// RemoteAddr returns the peer address.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Run blocks until the connection ends. A local Close or a cancelled ctx
// returns nil; anything else returns an error wrapping ErrConnectionLost,
// after the manager has reported it.
func (c *Connection) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	logrus.WithFields(logrus.Fields{
		"function": "Run",
		"remote":   c.conn.RemoteAddr().String(),
	}).Info("MSRP connection started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.readLoop() })
	g.Go(func() error { return c.writeLoop(gctx) })
	g.Go(func() error { return c.timeoutLoop(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		return c.conn.Close()
	})

	err := g.Wait()
	if c.closing.Load() || ctx.Err() != nil || errors.Is(err, transaction.ErrClosed) {
		c.mgr.Close()
		return nil
	}

	if !errors.Is(err, ErrConnectionLost) {
		err = fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	c.mgr.Fail(err)
	return err
}

// Close ends the connection. Unfinished messages are aborted without events.
func (c *Connection) Close() error {
	c.closing.Store(true)
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.mgr.Close()
	return c.conn.Close()
}

func (c *Connection) readLoop() error {
	buf := make([]byte, c.cfg.ChunkSize+limits.MaxHeaderSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			_, _ = c.dec.Write(buf[:n])
			if ferr := c.drain(); ferr != nil {
				return fmt.Errorf("%w: %v", ErrConnectionLost, ferr)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("%w: peer closed the connection", ErrConnectionLost)
			}
			return fmt.Errorf("%w: read: %v", ErrConnectionLost, err)
		}
	}
}

// drain hands every complete frame to the manager.
func (c *Connection) drain() error {
	for {
		f, err := c.dec.Next()
		if err != nil {
			if f == nil {
				logrus.WithFields(logrus.Fields{
					"function": "drain",
					"remote":   c.conn.RemoteAddr().String(),
					"error":    err.Error(),
				}).Error("Unrecoverable framing error")
				return err
			}
			c.mgr.Reject(f, err)
			continue
		}
		if f == nil {
			return nil
		}
		c.mgr.Resolve(f)
	}
}

func (c *Connection) writeLoop(ctx context.Context) error {
	w := bufio.NewWriterSize(c.conn, c.cfg.ChunkSize+limits.MaxHeaderSize)
	for {
		tx, err := c.mgr.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			// ErrClosed stops the reader too
			return err
		}
		if err := c.write(w, tx); err != nil {
			return fmt.Errorf("%w: write %s: %v", ErrConnectionLost, tx, err)
		}
		c.mgr.Sent(tx)
	}
}

// write puts one transaction on the wire. The continuation flag is chosen
// after the body so an abort requested meanwhile still closes this chunk.
func (c *Connection) write(w *bufio.Writer, tx *transaction.Transaction) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return err
	}
	f := tx.Frame
	if _, err := w.Write(codec.EncodeHeader(f)); err != nil {
		return err
	}
	if _, err := w.Write(f.Body); err != nil {
		return err
	}
	flag := c.mgr.Seal(tx)
	if _, err := w.Write(codec.EncodeChunkEnd(f, flag)); err != nil {
		return err
	}
	return w.Flush()
}

func (c *Connection) timeoutLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.TimeoutCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.mgr.CheckTimeouts()
		}
	}
}

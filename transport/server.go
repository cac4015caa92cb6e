package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/sirupsen/logrus"
)

// DefaultMaxSessions bounds concurrent connections of a Server.
const DefaultMaxSessions = 256

// ConnHandler serves one accepted connection until it ends.
type ConnHandler func(ctx context.Context, conn net.Conn)

// Server accepts MSRP connections and serves each on a bounded worker pool.
// Connections beyond the pool capacity are closed immediately.
type Server struct {
	listener net.Listener
	pool     *ants.Pool
	handle   ConnHandler
	conns    map[net.Conn]struct{}
	mu       sync.Mutex
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// Listen opens a TCP listener on addr.
func Listen(addr string, maxSessions int, handle ConnHandler) (*Server, error) {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	pool, err := ants.NewPool(maxSessions,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p any) {
			logrus.WithFields(logrus.Fields{
				"function": "Listen",
				"panic":    fmt.Sprint(p),
			}).Error("Session handler panicked")
		}),
	)
	if err != nil {
		listener.Close()
		return nil, fmt.Errorf("create session pool: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		listener: listener,
		pool:     pool,
		handle:   handle,
		conns:    make(map[net.Conn]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}

	logrus.WithFields(logrus.Fields{
		"function":     "Listen",
		"address":      listener.Addr().String(),
		"max_sessions": maxSessions,
	}).Info("MSRP server listening")

	return s, nil
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve accepts connections until Close. It returns nil after Close.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				logrus.WithFields(logrus.Fields{
					"function": "Serve",
					"error":    err.Error(),
				}).Warn("Temporary accept error")
				time.Sleep(10 * time.Millisecond)
				continue
			}
			return err
		}

		s.wg.Add(1)
		s.track(conn)
		if err := s.pool.Submit(func() { s.serveConn(conn) }); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Serve",
				"remote":   conn.RemoteAddr().String(),
				"error":    err.Error(),
			}).Warn("Refusing connection")
			s.untrack(conn)
			conn.Close()
			s.wg.Done()
		}
	}
}

// serveConn processes a single accepted connection.
func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer conn.Close()

	s.handle(s.ctx, conn)
}

func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

// Sessions returns the number of connections being served.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Close stops accepting, closes every connection and waits for the handlers.
func (s *Server) Close() error {
	s.cancel()
	err := s.listener.Close()

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.pool.Release()
	return err
}

// Dial connects to the host of an MSRP URI.
func Dial(ctx context.Context, uri string, timeout time.Duration) (net.Conn, error) {
	u, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	if u.Secure {
		return nil, fmt.Errorf("%w: msrps is not supported", ErrInvalidURI)
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", u.Address())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Address(), err)
	}
	return conn, nil
}

package msrp

import (
	"context"
	"net"

	"github.com/opd-ai/gomsrp/transport"
	"github.com/sirupsen/logrus"
)

// SessionSetup prepares an accepted session before it starts, typically by
// setting its listener and accept hook.
type SessionSetup func(s *Session)

// Server accepts MSRP sessions on a TCP address. Each connection is served
// by its own Session; the number of concurrent sessions is bounded by
// Options.MaxSessions.
type Server struct {
	opts  *Options
	setup SessionSetup
	srv   *transport.Server
}

// NewServer listens on addr. The remote URI of every accepted session is
// learned from its first request.
func NewServer(addr string, opts *Options, setup SessionSetup) (*Server, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	s := &Server{opts: opts, setup: setup}
	srv, err := transport.Listen(addr, opts.MaxSessions, s.serve)
	if err != nil {
		return nil, err
	}
	s.srv = srv
	return s, nil
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.srv.Addr()
}

// Sessions returns the number of sessions being served.
func (s *Server) Sessions() int {
	return s.srv.Sessions()
}

// Serve accepts sessions until Close.
func (s *Server) Serve() error {
	return s.srv.Serve()
}

// Close stops accepting and ends every session.
func (s *Server) Close() error {
	return s.srv.Close()
}

func (s *Server) serve(ctx context.Context, nc net.Conn) {
	opts := *s.opts
	opts.RemoteURI = ""

	sess, err := NewSession(nc, &opts)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "serve",
			"remote":   nc.RemoteAddr().String(),
			"error":    err.Error(),
		}).Error("Failed to create session")
		return
	}
	if s.setup != nil {
		s.setup(sess)
	}

	if err := sess.Run(ctx); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "serve",
			"remote":   nc.RemoteAddr().String(),
			"error":    err.Error(),
		}).Debug("Session ended")
	}
}

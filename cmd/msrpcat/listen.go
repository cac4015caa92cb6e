package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	msrp "github.com/opd-ai/gomsrp"
	"github.com/opd-ai/gomsrp/codec"
	"github.com/opd-ai/gomsrp/container"
	"github.com/opd-ai/gomsrp/message"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type listenFlags struct {
	addr     string
	localURI string
	dir      string
}

func (c *cli) listenCmd() *cobra.Command {
	var f listenFlags
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Accept sessions and print or save received messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.listen(cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.addr, "addr", ":2855", "TCP address to listen on")
	cmd.Flags().StringVar(&f.localURI, "local-uri", "", "URI of the session to answer for")
	cmd.Flags().StringVar(&f.dir, "dir", "", "store payloads in this directory instead of printing them")
	return cmd
}

func (c *cli) listen(cmd *cobra.Command, f listenFlags) error {
	opts := *c.opts
	if f.localURI != "" {
		opts.LocalURI = f.localURI
	}
	if f.dir != "" {
		if err := os.MkdirAll(f.dir, 0o755); err != nil {
			return err
		}
	}

	sink := &receiver{out: cmd.OutOrStdout(), dir: f.dir}
	srv, err := msrp.NewServer(f.addr, &opts, func(s *msrp.Session) {
		s.SetListener(sink)
		if f.dir != "" {
			s.OnAccept(sink.accept)
		}
	})
	if err != nil {
		return err
	}
	sink.printf("listening on %s as %s\n", srv.Addr(), opts.LocalURI)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve() }()

	select {
	case <-cmd.Context().Done():
		return srv.Close()
	case err := <-serveErr:
		srv.Close()
		return err
	}
}

// receiver reports the messages of every accepted session.
type receiver struct {
	msrp.NopListener

	mu  sync.Mutex
	out io.Writer
	dir string
}

func (r *receiver) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

// accept stores each incoming message in a file named after its Message-ID.
func (r *receiver) accept(_ *msrp.Session, m *message.Message) (container.DataContainer, int) {
	f, err := container.CreateFile(filepath.Join(r.dir, m.ID))
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "accept",
			"message_id": m.ID,
			"error":      err.Error(),
		}).Warn("Refusing message")
		return nil, codec.CodeForbidden
	}
	return f, codec.CodeOK
}

func (r *receiver) MessageReceived(_ *msrp.Session, m *message.Message) {
	switch data := m.Container().(type) {
	case *container.File:
		if err := data.Dispose(); err != nil {
			r.printf("%s: close %s: %v\n", m.ID, data.Path(), err)
			return
		}
		r.printf("%s %s %d bytes -> %s\n", m.ID, m.ContentType, m.Size(), data.Path())
	case *container.Memory:
		r.mu.Lock()
		defer r.mu.Unlock()
		fmt.Fprintf(r.out, "%s %s %d bytes\n", m.ID, m.ContentType, m.Size())
		r.out.Write(data.Bytes())
		fmt.Fprintln(r.out)
	}
}

func (r *receiver) MessageAborted(_ *msrp.Session, m *message.Message, code int, comment string) {
	if data := m.Container(); data != nil {
		data.Dispose()
	}
	r.printf("%s aborted (%d %s) after %d bytes\n", m.ID, code, comment, m.Counter())
}

func (r *receiver) ConnectionLost(s *msrp.Session, err error) {
	r.printf("session from %s lost: %v\n", s.RemoteAddr(), err)
}

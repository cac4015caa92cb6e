package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	msrp "github.com/opd-ai/gomsrp"
	"github.com/opd-ai/gomsrp/codec"
	"github.com/opd-ai/gomsrp/message"
	"github.com/spf13/cobra"
)

var errNoRemote = errors.New("--remote-uri is required")

type sendFlags struct {
	localURI    string
	remoteURI   string
	file        string
	contentType string
	report      bool
}

func (c *cli) sendCmd() *cobra.Command {
	var f sendFlags
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a file or standard input as one message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.send(cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.localURI, "local-uri", "", "URI of this end of the session")
	cmd.Flags().StringVar(&f.remoteURI, "remote-uri", "", "URI of the receiving session")
	cmd.Flags().StringVarP(&f.file, "file", "f", "-", "file to send, - for standard input")
	cmd.Flags().StringVarP(&f.contentType, "content-type", "t", "", "content type (default: detected)")
	cmd.Flags().BoolVar(&f.report, "report", false, "wait for the success REPORT of the receiver")
	return cmd
}

func (c *cli) send(cmd *cobra.Command, f sendFlags) error {
	opts := *c.opts
	if f.localURI != "" {
		opts.LocalURI = f.localURI
	}
	if f.remoteURI != "" {
		opts.RemoteURI = f.remoteURI
	}
	if f.report {
		opts.SuccessReport = true
	}
	if opts.RemoteURI == "" {
		return errNoRemote
	}

	ctx := cmd.Context()
	s, err := msrp.Dial(ctx, &opts)
	if err != nil {
		return err
	}
	defer s.Close()

	w := newSendWaiter(opts.SuccessReport)
	s.SetListener(w)
	ended := make(chan error, 1)
	go func() { ended <- s.Run(ctx) }()

	var m *message.Message
	if f.file == "-" {
		m, err = sendStdin(s, cmd.InOrStdin(), f.contentType)
	} else {
		m, err = s.SendFile(f.file, f.contentType)
	}
	if err != nil {
		return err
	}

	if err := w.wait(ctx, ended); err != nil {
		return fmt.Errorf("message %s: %w", m.ID, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "sent %s %s %d bytes\n", m.ID, m.ContentType, m.Counter())
	return nil
}

// sendStdin streams in as a message of unknown size.
func sendStdin(s *msrp.Session, in io.Reader, contentType string) (*message.Message, error) {
	m, stream, err := s.SendStream(contentType)
	if err != nil {
		return nil, err
	}
	go func() {
		if _, err := io.Copy(stream, in); err != nil {
			_ = m.Abort(codec.CodeStopSending, err.Error())
			return
		}
		stream.Close()
	}()
	return m, nil
}

// sendWaiter ends the send command at the first final event of its message.
type sendWaiter struct {
	msrp.NopListener

	wantReport bool
	done       chan error
}

func newSendWaiter(wantReport bool) *sendWaiter {
	return &sendWaiter{wantReport: wantReport, done: make(chan error, 4)}
}

func (w *sendWaiter) finish(err error) {
	select {
	case w.done <- err:
	default:
	}
}

func (w *sendWaiter) MessageSent(_ *msrp.Session, _ *message.Message) {
	if !w.wantReport {
		w.finish(nil)
	}
}

func (w *sendWaiter) ReportReceived(_ *msrp.Session, m *message.Message, status codec.Status, br codec.ByteRange) {
	switch {
	case !codec.IsSuccess(status.Code):
		w.finish(fmt.Errorf("failure report %s", status))
	case m.Size() != message.Unknown && br.End >= m.Size():
		w.finish(nil)
	}
}

func (w *sendWaiter) MessageAborted(_ *msrp.Session, _ *message.Message, code int, comment string) {
	w.finish(fmt.Errorf("aborted with %d %s", code, comment))
}

func (w *sendWaiter) ConnectionLost(_ *msrp.Session, err error) {
	w.finish(err)
}

func (w *sendWaiter) wait(ctx context.Context, ended <-chan error) error {
	select {
	case err := <-w.done:
		return err
	case err := <-ended:
		if err == nil {
			err = errors.New("session closed")
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Package msrp implements the Message Session Relay Protocol (RFC 4975).
//
// MSRP carries messages of any size between two endpoints over one long-lived
// TCP connection. Messages are cut into chunks that are interleaved with the
// chunks of other messages, acknowledged by responses, optionally confirmed by
// success REPORTs and may be aborted by either side mid-transfer.
//
// This package is the facade over the engine packages: Options, Session and
// Server. The engine itself lives in the sub-packages:
//
//   - codec: frame encoding, header parsing and end-line detection
//   - container: payload storage (memory, file, stream)
//   - report: when progress callbacks and success REPORTs fire
//   - message: one transfer, its counters and chunking
//   - transaction: the per-connection transaction manager
//   - transport: connection loops, TCP server and dialing
//
// # Getting Started
//
// Configure a session and dial the peer:
//
//	opts := msrp.NewOptions()
//	opts.LocalURI = "msrp://alice.example.com:7654/jshA7we;tcp"
//	opts.RemoteURI = "msrp://bob.example.com:7777/iau39soe2843z;tcp"
//
//	session, err := msrp.Dial(ctx, opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer session.Close()
//	go session.Run(ctx)
//
//	m, err := session.SendMessage("text/plain", []byte("hello"))
//
// # Events
//
// A Listener receives message-received, status-update, report-received,
// message-aborted and connection-lost events. Embed NopListener to handle
// only some of them:
//
//	type printer struct{ msrp.NopListener }
//
//	func (printer) MessageReceived(s *msrp.Session, m *message.Message) {
//	    fmt.Println("received", m.ID, m.Size())
//	}
//
//	session.SetListener(printer{})
//
// An AcceptHook chooses where each incoming message is stored, or declines
// it with a response code:
//
//	session.OnAccept(func(s *msrp.Session, m *message.Message) (container.DataContainer, int) {
//	    if m.ContentType != "text/plain" {
//	        return nil, codec.CodeUnsupportedMedia
//	    }
//	    return container.NewMemory(1 << 20), codec.CodeOK
//	})
//
// # Configuration
//
// Options can be loaded from the environment with LoadOptionsFromEnv (for
// example MSRP_LOCAL_URI, MSRP_CHUNK_SIZE, an optional .env file is read
// first) or from YAML with LoadOptionsFile, and are checked by Validate.
//
// # Aborting
//
// Message.Abort stops a transfer in either direction. An outgoing message
// ends with one chunk closed by the '#' flag; an incoming message is refused
// with a failure response or REPORT. Aborts take effect at the next chunk
// boundary and MessageAborted fires once per message on each side.
package msrp

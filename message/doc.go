// Package message tracks one MSRP message from creation to completion or
// abort, in either direction.
//
// # Outgoing Messages
//
// An outgoing message reads its payload from a container.DataContainer and
// hands it to the connection writer one chunk at a time:
//
//	m := message.NewOutgoing("text/plain", container.NewMemoryFrom(payload))
//	chunk, err := m.NextChunk(tid, 2048)
//
// Each chunk is framed as its own SEND transaction. NextChunk never returns a
// body containing the end-line token of the transaction it is produced for;
// it shortens the chunk instead, or returns ErrTIDCollision when the token
// sits at the start.
//
// # Incoming Messages
//
// The reader creates an incoming message the first time a Message-ID is seen
// and feeds it each chunk in order:
//
//	m := message.NewIncoming(id, contentType, br.Total)
//	m.Attach(container.NewMemory(limit))
//	progress, err := m.Receive(br, body, flag)
//
// # States
//
//	StatePending    // nothing transferred yet
//	StateRunning    // in progress
//	StateCompleted  // every byte transferred
//	StateAborted    // stopped locally or by the peer
//	StateDiscarded  // released by the application
//
// Abort is asynchronous: it asks the bound transaction manager to stop the
// message at the next chunk boundary. Aborting a complete message or one not
// yet bound to a connection is an error.
//
// # Reports
//
// StatusDue and ReportDue consult the report.Mechanism of the message to
// decide when progress callbacks and success REPORTs are due. Throughput is
// tracked with an exponential moving average and exposed by GetSpeed.
package message

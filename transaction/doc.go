// Package transaction implements the per-connection MSRP transaction engine.
//
// A Manager owns two outgoing queues. The control queue carries responses,
// REPORTs and NICKNAME requests; the bulk queue carries SEND chunks. Control
// transactions are always written first and each queue is FIFO.
//
// Outgoing messages are split lazily: the bulk queue holds at most one SEND
// transaction per message, and the chunk is read from the message container
// only when the writer takes the transaction. After the chunk is written the
// next one is queued at the tail, so concurrent messages share the
// connection round-robin.
//
// The writer loop is:
//
//	tx, err := mg.Next(ctx)
//	w.Write(codec.EncodeHeader(tx.Frame))
//	w.Write(tx.Frame.Body)
//	flag := mg.Seal(tx)
//	w.Write(codec.EncodeChunkEnd(tx.Frame, flag))
//	w.Flush()
//	mg.Sent(tx)
//
// Aborting a message marks the chunk in flight, if not yet sealed, or the
// next queued chunk to end with '#', so the peer always sees exactly one
// terminating frame.
//
// The reader passes every decoded frame to Resolve and every recoverable
// decode error to Reject. Responses are matched to requests by transaction
// id; duplicates and unknown ids are dropped. Failure-Report "no" suppresses
// all responses to a SEND, "partial" suppresses the 200 ones, and REPORTs
// are never answered.
package transaction

// Package codec translates between MSRP wire bytes and Frame values.
//
// Every MSRP transaction is framed as
//
//	MSRP <transaction-id> <method | code [comment]> CRLF
//	*(<header-name>: <value> CRLF)
//	[CRLF <body> CRLF]
//	-------<transaction-id><flag> CRLF
//
// where flag is '+' (more chunks follow), '$' (end of message) or '#' (aborted).
//
// # Encoding
//
// EncodeHeader, EncodeChunkEnd and EncodeEndLine are split so a writer can emit
// the header block and body first and choose the continuation flag last:
//
//	w.Write(codec.EncodeHeader(frame))
//	w.Write(frame.Body)
//	w.Write(codec.EncodeChunkEnd(frame, flag))
//
// # Decoding
//
// A Decoder accumulates stream bytes and yields complete frames. The body of a
// frame ends only at "CRLF -------<tid><flag> CRLF" with the frame's exact
// transaction id, so bodies containing look-alike end-lines decode intact:
//
//	dec := codec.NewDecoder()
//	dec.Write(data)
//	for {
//	    frame, err := dec.Next()
//	    if frame == nil && err != nil {
//	        // fatal: drop the connection
//	    }
//	    if frame == nil {
//	        break // need more bytes
//	    }
//	    // err, if any, is a *ProtocolError to answer on frame.TID
//	}
package codec

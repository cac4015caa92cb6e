// Package transport carries MSRP sessions over TCP.
//
// # Connections
//
// A Connection drives one session over a net.Conn. It runs three loops in an
// errgroup:
//
//   - the reader appends socket bytes to a codec.Decoder and hands every
//     complete frame to the transaction.Manager
//   - the writer takes transactions from the manager, writes them through a
//     buffered writer sized to the chunk size and flushes each one
//   - a ticker expires requests whose response is overdue
//
// Writes block when the socket is full, so at most one chunk per message is
// materialized ahead of the network:
//
//	mgr := transaction.NewManager(cfg, handler)
//	conn := transport.NewConnection(netConn, mgr, transport.ConnConfig{ChunkSize: cfg.ChunkSize})
//	err := conn.Run(ctx)
//
// An I/O error ends the connection, aborts its messages and is reported once
// through Handler.ConnectionLost. There is no reconnect.
//
// # Servers
//
// Server accepts connections and serves each one on an ants worker pool
// bounded by the session limit:
//
//	srv, err := transport.Listen(":2855", 64, func(ctx context.Context, c net.Conn) {
//	    // build a manager and run a Connection
//	})
//	go srv.Serve()
//	defer srv.Close()
//
// # URIs
//
// ParseURI splits msrp://host:port/session-id;tcp into its parts and Dial
// connects to the authority of such a URI.
package transport

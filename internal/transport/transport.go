// Package transport wires a MessageConnection (spec.md §6) onto
// go.lsp.dev/jsonrpc2 and go.lsp.dev/protocol, exactly as the teacher's
// cmd/scaf-lsp wires its single editor connection — generalized so the
// broker can open one such connection to the upstream server and one per
// attached client. The broker core never imports go.lsp.dev/jsonrpc2
// directly; it only sees the protocol.Client / protocol.Server dispatcher
// and handler values this package returns.
package transport

import (
	"context"
	"io"

	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.uber.org/zap"
)

// Conn is one JSON-RPC 2.0 connection over an arbitrary duplex stream
// (stdio, socket, pipe, websocket — whatever the caller's io.ReadWriteCloser
// is backed by). It is the sole point where lspmux depends on the concrete
// wire transport.
type Conn struct {
	rpc *jsonrpc2.Conn
}

// Dial wraps rwc in a JSON-RPC stream connection, the same construction
// cmd/scaf-lsp uses for its stdio editor connection.
func Dial(rwc io.ReadWriteCloser) *Conn {
	stream := jsonrpc2.NewStream(rwc)
	return &Conn{rpc: jsonrpc2.NewConn(stream)}
}

// ServerDispatcher returns a protocol.Server used to SEND requests that a
// client addresses to a server (initialize, textDocument/didOpen,
// textDocument/hover, ...). LanguageClient holds one of these for its
// upstream server connection.
func (c *Conn) ServerDispatcher(logger *zap.Logger) protocol.Server {
	return protocol.ServerDispatcher(c.rpc, logger)
}

// ClientDispatcher returns a protocol.Client used to SEND requests that a
// server addresses to a client (window/logMessage,
// textDocument/publishDiagnostics, client/registerCapability,
// workspace/applyEdit, ...). Binding holds one of these for each attached
// client connection.
func (c *Conn) ClientDispatcher(logger *zap.Logger) protocol.Client {
	return protocol.ClientDispatcher(c.rpc, logger)
}

// ServeServer registers server (a partial protocol.Server implementation —
// only the methods the broker actually handles, exactly as the teacher's
// lsp.Server does) as the handler for incoming client-role requests, and
// starts the connection's read loop.
func (c *Conn) ServeServer(ctx context.Context, server protocol.Server) {
	c.rpc.Go(ctx, protocol.ServerHandler(server, nil))
}

// ServeClient registers client (a partial protocol.Client implementation)
// as the handler for incoming server-role requests, and starts the
// connection's read loop.
func (c *Conn) ServeClient(ctx context.Context, client protocol.Client) {
	c.rpc.Go(ctx, protocol.ClientHandler(client, nil))
}

// Done returns a channel closed when the connection's read loop exits,
// i.e. when the peer transport closes.
func (c *Conn) Done() <-chan struct{} { return c.rpc.Done() }

// Err returns the error, if any, that caused the connection to close.
func (c *Conn) Err() error { return c.rpc.Err() }

// Close disposes the underlying connection.
func (c *Conn) Close() error {
	c.rpc.Close()
	return nil
}

package connection

import (
	"context"
)

// Close codes used by the manager. Values follow RFC 6455 where one exists.
const (
	CloseNormal   = 1000
	CloseAbnormal = 1006
	// CloseReconnect is sent when a forced reconnect drops a live connection.
	CloseReconnect = 4000
)

// Callbacks receive transport events for one connection. Implementations
// call them from their own goroutines, never after Conn.Close has been
// called locally.
type Callbacks struct {
	OnMessage func(data []byte)
	// OnError reports a transport error. It does not end the connection;
	// only OnClose does.
	OnError func(err error)
	OnClose func(code int, reason string)
}

// Transport opens duplex connections.
type Transport interface {
	// Open dials url and returns once the connection is usable.
	Open(ctx context.Context, url string, cb Callbacks) (Conn, error)
}

// Conn is one open duplex connection.
type Conn interface {
	Send(ctx context.Context, data []byte) error
	Close(code int, reason string) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, url string, cb Callbacks) (Conn, error)

func (f TransportFunc) Open(ctx context.Context, url string, cb Callbacks) (Conn, error) {
	return f(ctx, url, cb)
}

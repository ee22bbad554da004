package pool

import "context"

// Transport is one bidirectional message stream to a relay
type Transport interface {
	URL() string
	Connect(ctx context.Context) error
	Send(ctx context.Context, msg []byte) error
	// Read blocks for the next frame; it fails once the stream is closed
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer creates an unconnected transport for a normalized relay url
type Dialer func(url string) Transport

// Package transport provides the per-peer data-channel transport beneath the
// mesh. A Channel moves opaque frame payloads between two peers; the mesh
// layers frame semantics on top. Production uses QUIC; tests use the
// in-process implementation in memory.go.
package transport

import "context"

// Channel is one established bidirectional data channel. Send and Recv move
// whole frame payloads; framing is handled below this interface. Recv blocks
// until a frame arrives or the channel dies.
type Channel interface {
	Send(payload []byte) error
	Recv() ([]byte, error)
	Close() error
	RemoteAddr() string
}

// Transport listens for inbound channels and dials outbound ones. Addr is
// the dialable address peers should advertise through signaling.
type Transport interface {
	Addr() string
	Dial(ctx context.Context, addr string) (Channel, error)
	Accept(ctx context.Context) (Channel, error)
	Close() error
}

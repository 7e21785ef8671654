package transport

import (
	"context"
	"fmt"
	"io"
	"sync"
)

const memBuffer = 64

// MemNetwork is an in-process transport fabric. Every transport it hands out
// is addressable by the others, which makes multi-node mesh behavior testable
// without sockets.
type MemNetwork struct {
	mu    sync.Mutex
	seq   int
	nodes map[string]*MemTransport
}

func NewMemNetwork() *MemNetwork {
	return &MemNetwork{nodes: make(map[string]*MemTransport)}
}

// Transport allocates a new addressable endpoint on the fabric.
func (n *MemNetwork) Transport() *MemTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seq++
	t := &MemTransport{
		net:     n,
		addr:    fmt.Sprintf("mem-%d", n.seq),
		inbound: make(chan *memChannel, memBuffer),
		closed:  make(chan struct{}),
	}
	n.nodes[t.addr] = t
	return t
}

func (n *MemNetwork) lookup(addr string) (*MemTransport, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	t, ok := n.nodes[addr]
	return t, ok
}

func (n *MemNetwork) remove(addr string) {
	n.mu.Lock()
	delete(n.nodes, addr)
	n.mu.Unlock()
}

type MemTransport struct {
	net     *MemNetwork
	addr    string
	inbound chan *memChannel
	closed  chan struct{}
	once    sync.Once
}

func (t *MemTransport) Addr() string { return t.addr }

func (t *MemTransport) Dial(ctx context.Context, addr string) (Channel, error) {
	target, ok := t.net.lookup(addr)
	if !ok {
		return nil, fmt.Errorf("mem dial %s: no such node", addr)
	}
	local, remote := newMemPair(t.addr, addr)
	select {
	case target.inbound <- remote:
		return local, nil
	case <-target.closed:
		return nil, fmt.Errorf("mem dial %s: node closed", addr)
	case <-t.closed:
		return nil, fmt.Errorf("mem dial: transport closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *MemTransport) Accept(ctx context.Context) (Channel, error) {
	select {
	case ch := <-t.inbound:
		return ch, nil
	case <-t.closed:
		return nil, fmt.Errorf("mem accept: transport closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *MemTransport) Close() error {
	t.once.Do(func() {
		close(t.closed)
		t.net.remove(t.addr)
	})
	return nil
}

// memChannel is one end of an in-process channel pair. Closing either end
// kills both directions, mirroring connection-oriented transports.
type memChannel struct {
	sendCh chan []byte
	recvCh chan []byte
	closed chan struct{}
	once   *sync.Once
	remote string
}

func newMemPair(dialerAddr, acceptorAddr string) (*memChannel, *memChannel) {
	aToB := make(chan []byte, memBuffer)
	bToA := make(chan []byte, memBuffer)
	closed := make(chan struct{})
	once := &sync.Once{}
	dialer := &memChannel{sendCh: aToB, recvCh: bToA, closed: closed, once: once, remote: acceptorAddr}
	acceptor := &memChannel{sendCh: bToA, recvCh: aToB, closed: closed, once: once, remote: dialerAddr}
	return dialer, acceptor
}

func (c *memChannel) Send(payload []byte) error {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}
	select {
	case c.sendCh <- cp:
		return nil
	case <-c.closed:
		return io.ErrClosedPipe
	}
}

func (c *memChannel) Recv() ([]byte, error) {
	select {
	case p := <-c.recvCh:
		return p, nil
	case <-c.closed:
		// Drain frames that raced with close so near-simultaneous
		// send-then-close still delivers.
		select {
		case p := <-c.recvCh:
			return p, nil
		default:
			return nil, io.EOF
		}
	}
}

func (c *memChannel) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *memChannel) RemoteAddr() string { return c.remote }

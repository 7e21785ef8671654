package signal

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kotaAnuj/PeerGram/internal/debuglog"
	"github.com/kotaAnuj/PeerGram/internal/metrics"
	"github.com/kotaAnuj/PeerGram/internal/proto"
)

const (
	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
	eventDepth    = 128
)

// Client maintains the node's signaling connection. It registers on connect,
// resumes automatically after drops with bounded exponential backoff, and
// republishes registration after every reconnect. Decoded server messages are
// delivered on Events; the channel closes when the client shuts down.
type Client struct {
	url     string
	userID  int64
	addr    string
	metrics *metrics.Metrics

	mu      sync.Mutex
	peerID  string
	conn    *websocket.Conn
	writeMu sync.Mutex

	events chan proto.SignalMessage
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Dial starts the signaling client. addr is the node's dialable data-channel
// address, advertised to peers in the registration.
func Dial(ctx context.Context, url string, userID int64, addr string, m *metrics.Metrics) *Client {
	cctx, cancel := context.WithCancel(ctx)
	c := &Client{
		url:     url,
		userID:  userID,
		addr:    addr,
		metrics: m,
		events:  make(chan proto.SignalMessage, eventDepth),
		ctx:     cctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go c.run()
	return c
}

// Events delivers every decoded server message, welcome included. The mesh
// reads its own peer id from the welcome before acting on anything else.
func (c *Client) Events() <-chan proto.SignalMessage { return c.events }

// PeerID returns the id the server issued in the most recent welcome, empty
// before the first connect completes.
func (c *Client) PeerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerID
}

func (c *Client) run() {
	defer close(c.done)
	defer close(c.events)
	backoff := reconnectBase
	first := true
	for {
		if c.ctx.Err() != nil {
			return
		}
		if !first {
			if c.metrics != nil {
				c.metrics.IncSignalReconnects()
			}
			select {
			case <-time.After(backoff):
			case <-c.ctx.Done():
				return
			}
			backoff *= 2
			if backoff > reconnectMax {
				backoff = reconnectMax
			}
		}
		first = false
		conn, _, err := websocket.DefaultDialer.DialContext(c.ctx, c.url, nil)
		if err != nil {
			debuglog.Debugf("signal: dial %s: %v", c.url, err)
			continue
		}
		backoff = reconnectBase
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.readLoop(conn)
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
	}
}

// readLoop consumes one connection until it dies. Welcome triggers the
// registration exchange; everything decodable is forwarded.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			debuglog.Debugf("signal: read: %v", err)
			return
		}
		msg, err := proto.DecodeSignal(data)
		if err != nil {
			debuglog.Debugf("signal: decode: %v", err)
			continue
		}
		if msg.Kind == proto.SignalWelcome {
			c.mu.Lock()
			c.peerID = msg.PeerID
			c.mu.Unlock()
			c.send(proto.SignalMessage{
				Kind:   proto.SignalRegister,
				PeerID: msg.PeerID,
				UserID: c.userID,
				Addr:   c.addr,
			})
			c.send(proto.SignalMessage{Kind: proto.SignalRequestPeers})
		}
		select {
		case c.events <- msg:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) send(msg proto.SignalMessage) {
	data, err := proto.EncodeSignal(msg)
	if err != nil {
		return
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		debuglog.Debugf("signal: write %s: %v", msg.Kind, err)
	}
}

// RequestPeers asks the server for the current active-peers list.
func (c *Client) RequestPeers() {
	c.send(proto.SignalMessage{Kind: proto.SignalRequestPeers})
}

// ReportStrength publishes the node's aggregate connection strength.
func (c *Client) ReportStrength(strength string) {
	c.send(proto.SignalMessage{Kind: proto.SignalStrength, Strength: strength})
}

// ReportDataTransfer publishes cumulative transfer counters.
func (c *Client) ReportDataTransfer(shared, received uint64) {
	c.send(proto.SignalMessage{
		Kind:         proto.SignalDataTransfer,
		DataShared:   shared,
		DataReceived: received,
	})
}

// Close stops the client and waits for the run loop to exit.
func (c *Client) Close() {
	c.cancel()
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.mu.Unlock()
	<-c.done
}

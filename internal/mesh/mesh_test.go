package mesh

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/kotaAnuj/PeerGram/internal/cache"
	"github.com/kotaAnuj/PeerGram/internal/ledger"
	"github.com/kotaAnuj/PeerGram/internal/metrics"
	"github.com/kotaAnuj/PeerGram/internal/proto"
	"github.com/kotaAnuj/PeerGram/internal/registry"
	"github.com/kotaAnuj/PeerGram/internal/testutil"
	"github.com/kotaAnuj/PeerGram/internal/transport"
)

type fakeSignaler struct {
	events chan proto.SignalMessage

	mu        sync.Mutex
	peerID    string
	strengths []string
	closed    bool
}

func newFakeSignaler(peerID string) *fakeSignaler {
	return &fakeSignaler{
		events: make(chan proto.SignalMessage, 64),
		peerID: peerID,
	}
}

func (f *fakeSignaler) Events() <-chan proto.SignalMessage { return f.events }

func (f *fakeSignaler) PeerID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peerID
}

func (f *fakeSignaler) RequestPeers() {}

func (f *fakeSignaler) ReportStrength(s string) {
	f.mu.Lock()
	f.strengths = append(f.strengths, s)
	f.mu.Unlock()
}

func (f *fakeSignaler) ReportDataTransfer(uint64, uint64) {}

func (f *fakeSignaler) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
}

func (f *fakeSignaler) push(msg proto.SignalMessage) { f.events <- msg }

type testNode struct {
	mgr *Manager
	sig *fakeSignaler
	tr  *transport.MemTransport
	id  string
}

func newTestNode(t *testing.T, net *transport.MemNetwork, peerID string, userID int64) *testNode {
	return newTestNodeLedger(t, net, peerID, userID, nil)
}

func newTestNodeLedger(t *testing.T, net *transport.MemNetwork, peerID string, userID int64, lc *ledger.Client) *testNode {
	t.Helper()
	tr := net.Transport()
	sig := newFakeSignaler(peerID)
	cc, err := cache.New(16)
	if err != nil {
		t.Fatal(err)
	}
	mgr := New(Config{
		UserID:            userID,
		Transport:         tr,
		Signaler:          sig,
		Ledger:            lc,
		Cache:             cc,
		Metrics:           metrics.New(),
		EstablishTimeout:  500 * time.Millisecond,
		RetryDelay:        10 * time.Millisecond,
		MaxRetries:        3,
		ProbeInterval:     time.Hour, // probes off unless a test shrinks this
		TelemetryInterval: time.Hour,
	})
	if err := mgr.Init(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mgr.Cleanup)
	sig.push(proto.SignalMessage{Kind: proto.SignalWelcome, PeerID: peerID})
	return &testNode{mgr: mgr, sig: sig, tr: tr, id: peerID}
}

// introduce feeds each node the other's roster entry, as the signaling
// server would after both register.
func introduce(a, b *testNode) {
	a.sig.push(proto.SignalMessage{
		Kind:  proto.SignalActivePeers,
		Peers: []proto.PeerInfo{{PeerID: b.id, UserID: 0, Addr: b.tr.Addr()}},
	})
	b.sig.push(proto.SignalMessage{
		Kind:  proto.SignalActivePeers,
		Peers: []proto.PeerInfo{{PeerID: a.id, UserID: 0, Addr: a.tr.Addr()}},
	})
}

func waitOpen(t *testing.T, n *testNode, peerID string) {
	t.Helper()
	testutil.WaitFor(t, 3*time.Second, "channel open to "+peerID, func() bool {
		_, ok := n.mgr.reg.Channel(peerID)
		return ok
	})
}

func TestAutoDialEstablishesBothSides(t *testing.T) {
	net := transport.NewMemNetwork()
	a := newTestNode(t, net, "peer-a", 1)
	b := newTestNode(t, net, "peer-b", 2)

	var connected []string
	var mu sync.Mutex
	b.mgr.OnPeer(func(ev PeerEvent) {
		if ev.Connected {
			mu.Lock()
			connected = append(connected, ev.PeerID)
			mu.Unlock()
		}
	})

	introduce(a, b)
	waitOpen(t, a, "peer-b")
	waitOpen(t, b, "peer-a")

	mu.Lock()
	defer mu.Unlock()
	if len(connected) != 1 || connected[0] != "peer-a" {
		t.Fatalf("peer events on b = %v", connected)
	}

	// Only the lexically smaller side dials; exactly one record each.
	if a.mgr.reg.Len() != 1 || b.mgr.reg.Len() != 1 {
		t.Fatalf("record counts a=%d b=%d, want 1/1", a.mgr.reg.Len(), b.mgr.reg.Len())
	}
	rec, _ := b.mgr.reg.Get("peer-a")
	if rec.UserID != 1 {
		t.Fatalf("b learned userID %d for a, want 1 from handshake", rec.UserID)
	}
}

func TestLargerIDDoesNotAutoDial(t *testing.T) {
	net := transport.NewMemNetwork()
	b := newTestNode(t, net, "peer-b", 2)

	// b hears about peer-a but must wait for the inbound instead of dialing.
	b.sig.push(proto.SignalMessage{
		Kind:  proto.SignalActivePeers,
		Peers: []proto.PeerInfo{{PeerID: "peer-a", Addr: "mem-999"}},
	})
	testutil.Never(t, 200*time.Millisecond, "record created on larger side", func() bool {
		return b.mgr.reg.Len() != 0
	})
}

func TestSelfAndDuplicateDialNoOps(t *testing.T) {
	net := transport.NewMemNetwork()
	a := newTestNode(t, net, "peer-a", 1)

	// Roster containing ourselves must not produce a record.
	a.sig.push(proto.SignalMessage{
		Kind:  proto.SignalActivePeers,
		Peers: []proto.PeerInfo{{PeerID: "peer-a", Addr: a.tr.Addr()}},
	})
	testutil.Never(t, 200*time.Millisecond, "self record", func() bool {
		return a.mgr.reg.Len() != 0
	})

	b := newTestNode(t, net, "peer-b", 2)
	introduce(a, b)
	waitOpen(t, a, "peer-b")

	// A duplicate roster push changes nothing.
	a.sig.push(proto.SignalMessage{
		Kind:  proto.SignalActivePeers,
		Peers: []proto.PeerInfo{{PeerID: "peer-b", Addr: b.tr.Addr()}},
	})
	time.Sleep(100 * time.Millisecond)
	if a.mgr.reg.Len() != 1 {
		t.Fatalf("records = %d after duplicate roster, want 1", a.mgr.reg.Len())
	}
}

func TestRetryBudgetExhaustion(t *testing.T) {
	net := transport.NewMemNetwork()
	a := newTestNode(t, net, "peer-a", 1)

	// Nothing listens at this address, so every attempt fails fast.
	a.sig.push(proto.SignalMessage{
		Kind:  proto.SignalActivePeers,
		Peers: []proto.PeerInfo{{PeerID: "peer-x", Addr: "mem-nothing"}},
	})

	testutil.WaitFor(t, 3*time.Second, "record removed after exhaustion", func() bool {
		return a.mgr.cfg.Metrics.DialAttempts() >= 4 && a.mgr.reg.Len() == 0
	})
	if got := a.mgr.cfg.Metrics.DialAttempts(); got != 4 {
		t.Fatalf("dial attempts = %d, want maxRetries+1 = 4", got)
	}
}

func TestReconnectAfterRemoteClose(t *testing.T) {
	net := transport.NewMemNetwork()
	a := newTestNode(t, net, "peer-a", 1)
	b := newTestNode(t, net, "peer-b", 2)
	introduce(a, b)
	waitOpen(t, a, "peer-b")

	old, _ := a.mgr.reg.Channel("peer-b")
	ch, _ := b.mgr.reg.Channel("peer-a")
	_ = ch.Close()

	// The smaller side notices the drop and dials again with a fresh budget.
	testutil.WaitFor(t, 3*time.Second, "reconnected", func() bool {
		cur, ok := a.mgr.reg.Channel("peer-b")
		if !ok || cur == old {
			return false
		}
		rec, _ := a.mgr.reg.Get("peer-b")
		return rec.RetryCount == 0 && rec.State == registry.StateOpen
	})
}

func TestReconnectWaitsRetryDelay(t *testing.T) {
	net := transport.NewMemNetwork()
	mock := clock.NewMock()
	mock.Set(time.Unix(1_700_000_000, 0))
	tr := net.Transport()
	sig := newFakeSignaler("peer-a")
	mgr := New(Config{
		UserID:            1,
		Transport:         tr,
		Signaler:          sig,
		Metrics:           metrics.New(),
		Clock:             mock,
		EstablishTimeout:  500 * time.Millisecond,
		RetryDelay:        2 * time.Second,
		MaxRetries:        3,
		ProbeInterval:     time.Hour,
		TelemetryInterval: time.Hour,
	})
	if err := mgr.Init(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mgr.Cleanup)
	sig.push(proto.SignalMessage{Kind: proto.SignalWelcome, PeerID: "peer-a"})

	b := newTestNode(t, net, "peer-b", 2)
	sig.push(proto.SignalMessage{
		Kind:  proto.SignalActivePeers,
		Peers: []proto.PeerInfo{{PeerID: "peer-b", Addr: b.tr.Addr()}},
	})
	b.sig.push(proto.SignalMessage{
		Kind:  proto.SignalActivePeers,
		Peers: []proto.PeerInfo{{PeerID: "peer-a", Addr: tr.Addr()}},
	})
	testutil.WaitFor(t, 3*time.Second, "open", func() bool {
		_, ok := mgr.reg.Channel("peer-b")
		return ok
	})
	old, _ := mgr.reg.Channel("peer-b")

	ch, _ := b.mgr.reg.Channel("peer-a")
	_ = ch.Close()
	testutil.WaitFor(t, 2*time.Second, "drop noticed", func() bool {
		return mgr.reg.Len() == 0
	})

	// With the mock clock frozen, no redial may happen no matter how much
	// wall time passes.
	testutil.Never(t, 200*time.Millisecond, "redial before the retry delay", func() bool {
		return mgr.reg.Len() != 0
	})

	// Advancing past the delay releases exactly one fresh dial cycle.
	deadline := time.Now().Add(3 * time.Second)
	for {
		mock.Add(500 * time.Millisecond)
		cur, ok := mgr.reg.Channel("peer-b")
		if ok && cur != old {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no reconnect after advancing past the retry delay")
		}
		time.Sleep(5 * time.Millisecond)
	}
	rec, _ := mgr.reg.Get("peer-b")
	if rec.RetryCount != 0 {
		t.Fatalf("retryCount = %d, want fresh budget", rec.RetryCount)
	}
}

func TestPeerLeftClosesChannel(t *testing.T) {
	net := transport.NewMemNetwork()
	a := newTestNode(t, net, "peer-a", 1)
	b := newTestNode(t, net, "peer-b", 2)
	introduce(a, b)
	waitOpen(t, a, "peer-b")

	var gone bool
	var mu sync.Mutex
	a.mgr.OnPeer(func(ev PeerEvent) {
		if !ev.Connected && ev.PeerID == "peer-b" {
			mu.Lock()
			gone = true
			mu.Unlock()
		}
	})

	a.sig.push(proto.SignalMessage{Kind: proto.SignalPeerLeft, PeerID: "peer-b"})
	testutil.WaitFor(t, 2*time.Second, "record dropped on peer-left", func() bool {
		return a.mgr.reg.Len() == 0
	})
	testutil.WaitFor(t, 2*time.Second, "disconnect event", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gone
	})
	// Departure removes the directory entry, so no reconnect cycle starts.
	testutil.Never(t, 200*time.Millisecond, "reconnect after departure", func() bool {
		return a.mgr.reg.Len() != 0
	})
}

func TestFrameDeliveryAndControlFramesHidden(t *testing.T) {
	net := transport.NewMemNetwork()
	a := newTestNode(t, net, "peer-a", 1)
	b := newTestNode(t, net, "peer-b", 2)
	introduce(a, b)
	waitOpen(t, a, "peer-b")
	waitOpen(t, b, "peer-a")

	var got []FrameEvent
	var mu sync.Mutex
	b.mgr.OnFrame(func(ev FrameEvent) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})

	if err := a.mgr.SendToPeer("peer-b", proto.Message{SenderID: 1, ReceiverID: 2, Content: "hi"}); err != nil {
		t.Fatal(err)
	}
	if err := a.mgr.SendToPeer("peer-b", proto.Ping{Timestamp: 123}); err != nil {
		t.Fatal(err)
	}

	testutil.WaitFor(t, 2*time.Second, "message delivered", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) >= 1
	})
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("subscriber saw %d frames, want only the message", len(got))
	}
	msg, ok := got[0].Frame.(proto.Message)
	if !ok || msg.Content != "hi" {
		t.Fatalf("frame = %#v", got[0].Frame)
	}
	if got[0].PeerID != "peer-a" {
		t.Fatalf("frame source = %s", got[0].PeerID)
	}
}

func TestLateHandshakeCannotReassignUser(t *testing.T) {
	net := transport.NewMemNetwork()
	a := newTestNode(t, net, "peer-a", 1)
	b := newTestNode(t, net, "peer-b", 2)
	introduce(a, b)
	waitOpen(t, a, "peer-b")
	waitOpen(t, b, "peer-a")

	testutil.WaitFor(t, 2*time.Second, "user resolved", func() bool {
		rec, ok := b.mgr.reg.Get("peer-a")
		return ok && rec.UserID == 1
	})

	// A spoofed or stale handshake mid-session must not flip the identity.
	if err := a.mgr.SendToPeer("peer-b", proto.Handshake{PeerID: "peer-a", UserID: 99}); err != nil {
		t.Fatal(err)
	}
	testutil.Never(t, 200*time.Millisecond, "identity reassigned", func() bool {
		rec, _ := b.mgr.reg.Get("peer-a")
		return rec.UserID != 1
	})
}

func TestUnknownFrameForwardedVerbatim(t *testing.T) {
	net := transport.NewMemNetwork()
	a := newTestNode(t, net, "peer-a", 1)
	b := newTestNode(t, net, "peer-b", 2)
	introduce(a, b)
	waitOpen(t, a, "peer-b")

	var got proto.Frame
	var mu sync.Mutex
	b.mgr.OnFrame(func(ev FrameEvent) {
		mu.Lock()
		got = ev.Frame
		mu.Unlock()
	})

	raw := []byte(`{"type":"FUTURE_THING","payload":42}`)
	ch, _ := a.mgr.reg.Channel("peer-b")
	if err := ch.Send(raw); err != nil {
		t.Fatal(err)
	}

	testutil.WaitFor(t, 2*time.Second, "unknown frame forwarded", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil
	})
	mu.Lock()
	defer mu.Unlock()
	u, ok := got.(proto.Unknown)
	if !ok {
		t.Fatalf("frame = %#v, want proto.Unknown", got)
	}
	if u.Type != "FUTURE_THING" || string(u.Raw) != string(raw) {
		t.Fatalf("unknown = %q raw=%s", u.Type, u.Raw)
	}
}

func TestProbeAndTierFlow(t *testing.T) {
	net := transport.NewMemNetwork()
	tr := net.Transport()
	sig := newFakeSignaler("peer-a")
	mgr := New(Config{
		UserID:            1,
		Transport:         tr,
		Signaler:          sig,
		Metrics:           metrics.New(),
		EstablishTimeout:  500 * time.Millisecond,
		RetryDelay:        10 * time.Millisecond,
		MaxRetries:        3,
		ProbeInterval:     20 * time.Millisecond,
		TelemetryInterval: time.Hour,
	})
	if err := mgr.Init(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mgr.Cleanup)
	sig.push(proto.SignalMessage{Kind: proto.SignalWelcome, PeerID: "peer-a"})

	b := newTestNode(t, net, "peer-b", 2)
	sig.push(proto.SignalMessage{
		Kind:  proto.SignalActivePeers,
		Peers: []proto.PeerInfo{{PeerID: "peer-b", Addr: b.tr.Addr()}},
	})
	b.sig.push(proto.SignalMessage{
		Kind:  proto.SignalActivePeers,
		Peers: []proto.PeerInfo{{PeerID: "peer-a", Addr: tr.Addr()}},
	})
	testutil.WaitFor(t, 3*time.Second, "open", func() bool {
		_, ok := mgr.reg.Channel("peer-b")
		return ok
	})

	// In-process pongs come back in well under 100ms, so the tier stays
	// strong and no change events fire.
	testutil.WaitFor(t, 3*time.Second, "pongs measured", func() bool {
		return mgr.cfg.Metrics.Snapshot().Mesh.PongsReceived >= 2
	})
	if n := mgr.cfg.Metrics.TierChanges(); n != 0 {
		t.Fatalf("tier changes = %d, want 0 for fast local pongs", n)
	}
	rec, _ := mgr.reg.Get("peer-b")
	if rec.Tier != registry.TierStrong {
		t.Fatalf("tier = %s, want strong", rec.Tier)
	}
}

func TestSendToUnknownPeer(t *testing.T) {
	net := transport.NewMemNetwork()
	a := newTestNode(t, net, "peer-a", 1)
	err := a.mgr.SendToPeer("nobody", proto.Ping{Timestamp: 1})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}

func TestBroadcastCountsSuccesses(t *testing.T) {
	net := transport.NewMemNetwork()
	a := newTestNode(t, net, "peer-a", 1)
	b := newTestNode(t, net, "peer-b", 2)
	c := newTestNode(t, net, "peer-c", 3)
	introduce(a, b)
	introduce(a, c)
	waitOpen(t, a, "peer-b")
	waitOpen(t, a, "peer-c")

	if n := a.mgr.Broadcast(proto.Message{SenderID: 1, Content: "all"}); n != 2 {
		t.Fatalf("broadcast reached %d peers, want 2", n)
	}
}

func TestStoreContentWarmsPeerCaches(t *testing.T) {
	net := transport.NewMemNetwork()
	a := newTestNode(t, net, "peer-a", 1)
	b := newTestNode(t, net, "peer-b", 2)
	introduce(a, b)
	waitOpen(t, a, "peer-b")
	waitOpen(t, b, "peer-a")

	content := []byte("shared photo bytes")
	hash, err := a.mgr.StoreContent("image/jpeg", content)
	if err != nil {
		t.Fatal(err)
	}
	if entry, ok := a.mgr.CachedContent(hash); !ok || string(entry.Content) != string(content) {
		t.Fatal("local cache miss after store")
	}
	testutil.WaitFor(t, 2*time.Second, "peer cache warmed", func() bool {
		entry, ok := b.mgr.CachedContent(hash)
		return ok && string(entry.Content) == string(content) && entry.ContentType == "image/jpeg"
	})
}

func TestStatsProjection(t *testing.T) {
	net := transport.NewMemNetwork()
	a := newTestNode(t, net, "peer-a", 1)
	b := newTestNode(t, net, "peer-b", 2)
	introduce(a, b)
	waitOpen(t, a, "peer-b")

	snap := a.mgr.Stats()
	if snap.TotalPeers != 1 || snap.Strong != 1 {
		t.Fatalf("stats = %+v", snap)
	}
	if snap.BytesSent == 0 {
		t.Fatal("handshake bytes should be counted")
	}
	if got := a.mgr.cfg.Metrics.Snapshot().Mesh.FramesOut; got == 0 {
		t.Fatal("handshake must count as a frame out")
	}
	// The acceptor's reply handshake is accounted the same way.
	testutil.WaitFor(t, 2*time.Second, "acceptor bytes counted", func() bool {
		bs := b.mgr.Stats()
		return bs.BytesSent > 0 && bs.BytesReceived > 0
	})
}

func TestCleanupResetsEverything(t *testing.T) {
	net := transport.NewMemNetwork()
	a := newTestNode(t, net, "peer-a", 1)
	b := newTestNode(t, net, "peer-b", 2)
	introduce(a, b)
	waitOpen(t, a, "peer-b")

	a.mgr.Cleanup()
	if a.mgr.reg.Len() != 0 {
		t.Fatalf("records after cleanup = %d", a.mgr.reg.Len())
	}
	if snap := a.mgr.Stats(); snap != (registry.Snapshot{}) {
		t.Fatalf("stats after cleanup = %+v", snap)
	}
	// Second call is a no-op, not a panic.
	a.mgr.Cleanup()

	// b sees the drop.
	testutil.WaitFor(t, 2*time.Second, "remote record dropped", func() bool {
		return b.mgr.reg.Len() == 0
	})
}

func TestCleanupBeforeInit(t *testing.T) {
	mgr := New(Config{UserID: 1})
	mgr.Cleanup()
	mgr.Cleanup()
	if snap := mgr.Stats(); snap != (registry.Snapshot{}) {
		t.Fatalf("stats = %+v", snap)
	}
}

// scriptChannel feeds canned inbound frames and records sends; used to drive
// handleInbound directly.
type scriptChannel struct {
	recvQ  chan []byte
	closed chan struct{}
	once   sync.Once

	mu   sync.Mutex
	sent [][]byte
}

func newScriptChannel(frames ...proto.Frame) *scriptChannel {
	c := &scriptChannel{
		recvQ:  make(chan []byte, 8),
		closed: make(chan struct{}),
	}
	for _, f := range frames {
		data, err := proto.EncodeFrame(f)
		if err != nil {
			panic(err)
		}
		c.recvQ <- data
	}
	return c
}

func (c *scriptChannel) Send(p []byte) error {
	c.mu.Lock()
	c.sent = append(c.sent, append([]byte(nil), p...))
	c.mu.Unlock()
	return nil
}

func (c *scriptChannel) Recv() ([]byte, error) {
	select {
	case p := <-c.recvQ:
		return p, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *scriptChannel) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *scriptChannel) RemoteAddr() string { return "script" }

func (c *scriptChannel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func TestGlareSmallerSideDiscardsInbound(t *testing.T) {
	net := transport.NewMemNetwork()
	a := newTestNode(t, net, "peer-a", 1)
	testutil.WaitFor(t, time.Second, "identity set", func() bool {
		return a.mgr.LocalPeerID() == "peer-a"
	})

	// We already hold an open channel to peer-b; a raced inbound from the
	// same peer must be dropped because peer-a wins the tiebreak.
	existing := newScriptChannel()
	a.mgr.reg.AcceptOpen("peer-b", existing)

	inbound := newScriptChannel(proto.Handshake{PeerID: "peer-b", UserID: 2})
	a.mgr.wg.Add(1)
	a.mgr.handleInbound(inbound)

	if !inbound.isClosed() {
		t.Fatal("raced inbound should be closed")
	}
	cur, _ := a.mgr.reg.Channel("peer-b")
	if cur != transport.Channel(existing) {
		t.Fatal("existing channel must survive the glare")
	}
}

func TestGlareLargerSideAdoptsInbound(t *testing.T) {
	net := transport.NewMemNetwork()
	b := newTestNode(t, net, "peer-b", 2)
	testutil.WaitFor(t, time.Second, "identity set", func() bool {
		return b.mgr.LocalPeerID() == "peer-b"
	})

	existing := newScriptChannel()
	b.mgr.reg.AcceptOpen("peer-a", existing)

	inbound := newScriptChannel(proto.Handshake{PeerID: "peer-a", UserID: 1})
	b.mgr.wg.Add(1)
	b.mgr.handleInbound(inbound)

	testutil.WaitFor(t, 2*time.Second, "old channel closed", existing.isClosed)
	cur, ok := b.mgr.reg.Channel("peer-a")
	if !ok || cur != transport.Channel(inbound) {
		t.Fatal("inbound channel must replace the old one on the larger side")
	}
	rec, _ := b.mgr.reg.Get("peer-a")
	if rec.UserID != 1 {
		t.Fatalf("userID = %d, want 1 from handshake", rec.UserID)
	}
}

func TestInboundWithoutHandshakeRejected(t *testing.T) {
	net := transport.NewMemNetwork()
	a := newTestNode(t, net, "peer-a", 1)
	testutil.WaitFor(t, time.Second, "identity set", func() bool {
		return a.mgr.LocalPeerID() == "peer-a"
	})

	inbound := newScriptChannel(proto.Ping{Timestamp: 1})
	a.mgr.wg.Add(1)
	a.mgr.handleInbound(inbound)

	if !inbound.isClosed() {
		t.Fatal("channel opening with a non-handshake frame must be dropped")
	}
	if a.mgr.reg.Len() != 0 {
		t.Fatal("no record should exist for a rejected inbound")
	}
}

package signal

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kotaAnuj/PeerGram/internal/metrics"
	"github.com/kotaAnuj/PeerGram/internal/proto"
	"github.com/kotaAnuj/PeerGram/internal/testutil"
)

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func waitEvent(t *testing.T, c *Client, kind string) proto.SignalMessage {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case msg, ok := <-c.Events():
			if !ok {
				t.Fatalf("events closed while waiting for %s", kind)
			}
			if msg.Kind == kind {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func TestWelcomeAssignsPeerID(t *testing.T) {
	srv := NewServer()
	ts := httptest.NewServer(srv)
	defer ts.Close()

	c := Dial(context.Background(), wsURL(ts), 7, "mem-1", metrics.New())
	defer c.Close()

	msg := waitEvent(t, c, proto.SignalWelcome)
	if msg.PeerID == "" {
		t.Fatal("welcome carried no peer id")
	}
	if c.PeerID() != msg.PeerID {
		t.Fatalf("PeerID() = %q, welcome said %q", c.PeerID(), msg.PeerID)
	}
}

func TestRegisterThenActivePeers(t *testing.T) {
	srv := NewServer()
	ts := httptest.NewServer(srv)
	defer ts.Close()

	a := Dial(context.Background(), wsURL(ts), 1, "mem-a", metrics.New())
	defer a.Close()
	waitEvent(t, a, proto.SignalActivePeers)

	b := Dial(context.Background(), wsURL(ts), 2, "mem-b", metrics.New())
	defer b.Close()

	// b's first roster must contain a with its setup data.
	msg := waitEvent(t, b, proto.SignalActivePeers)
	if len(msg.Peers) != 1 {
		t.Fatalf("active-peers = %d entries, want 1", len(msg.Peers))
	}
	p := msg.Peers[0]
	if p.PeerID != a.PeerID() || p.UserID != 1 || p.Addr != "mem-a" {
		t.Fatalf("roster entry = %+v", p)
	}

	// a hears b join.
	joined := waitEvent(t, a, proto.SignalPeerJoined)
	if len(joined.Peers) != 1 || joined.Peers[0].PeerID != b.PeerID() {
		t.Fatalf("peer-joined = %+v", joined.Peers)
	}
}

func TestPeerLeftBroadcast(t *testing.T) {
	srv := NewServer()
	ts := httptest.NewServer(srv)
	defer ts.Close()

	a := Dial(context.Background(), wsURL(ts), 1, "mem-a", metrics.New())
	defer a.Close()
	waitEvent(t, a, proto.SignalActivePeers)

	b := Dial(context.Background(), wsURL(ts), 2, "mem-b", metrics.New())
	waitEvent(t, b, proto.SignalActivePeers)
	bID := b.PeerID()
	b.Close()

	left := waitEvent(t, a, proto.SignalPeerLeft)
	if left.PeerID != bID {
		t.Fatalf("peer-left for %q, want %q", left.PeerID, bID)
	}
	testutil.WaitFor(t, 2*time.Second, "session dropped", func() bool {
		return srv.SessionCount() == 1
	})
}

func TestRequestPeersRefreshesRoster(t *testing.T) {
	srv := NewServer()
	ts := httptest.NewServer(srv)
	defer ts.Close()

	a := Dial(context.Background(), wsURL(ts), 1, "mem-a", metrics.New())
	defer a.Close()
	waitEvent(t, a, proto.SignalActivePeers)

	b := Dial(context.Background(), wsURL(ts), 2, "mem-b", metrics.New())
	defer b.Close()
	waitEvent(t, b, proto.SignalActivePeers)
	waitEvent(t, a, proto.SignalPeerJoined)

	a.RequestPeers()
	msg := waitEvent(t, a, proto.SignalActivePeers)
	if len(msg.Peers) != 1 || msg.Peers[0].PeerID != b.PeerID() {
		t.Fatalf("refreshed roster = %+v", msg.Peers)
	}
}

func TestStrengthReportAbsorbed(t *testing.T) {
	srv := NewServer()
	ts := httptest.NewServer(srv)
	defer ts.Close()

	c := Dial(context.Background(), wsURL(ts), 1, "mem-a", metrics.New())
	defer c.Close()
	waitEvent(t, c, proto.SignalActivePeers)

	c.ReportStrength("strong")
	testutil.WaitFor(t, 2*time.Second, "strength recorded", func() bool {
		v, ok := srv.StrengthReport(c.PeerID())
		return ok && v == "strong"
	})
}

func TestClientReconnectsAndReregisters(t *testing.T) {
	srv := NewServer()
	ts := httptest.NewServer(srv)
	defer ts.Close()

	m := metrics.New()
	c := Dial(context.Background(), wsURL(ts), 9, "mem-x", m)
	defer c.Close()
	waitEvent(t, c, proto.SignalActivePeers)
	firstID := c.PeerID()

	// Kill the server side; the client should come back with a fresh
	// welcome and a fresh registration.
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	_ = conn.Close()

	msg := waitEvent(t, c, proto.SignalWelcome)
	if msg.PeerID == firstID {
		t.Fatal("reconnect should yield a new server-issued id")
	}
	waitEvent(t, c, proto.SignalActivePeers)
	if c.PeerID() != msg.PeerID {
		t.Fatalf("PeerID() = %q after reconnect, want %q", c.PeerID(), msg.PeerID)
	}
}

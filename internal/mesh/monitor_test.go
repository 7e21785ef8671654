package mesh

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/kotaAnuj/PeerGram/internal/metrics"
	"github.com/kotaAnuj/PeerGram/internal/registry"
)

func TestClassifyRTT(t *testing.T) {
	cases := []struct {
		rtt  time.Duration
		want registry.Tier
	}{
		{0, registry.TierStrong},
		{50 * time.Millisecond, registry.TierStrong},
		{99 * time.Millisecond, registry.TierStrong},
		{100 * time.Millisecond, registry.TierMedium},
		{250 * time.Millisecond, registry.TierMedium},
		{299 * time.Millisecond, registry.TierMedium},
		{300 * time.Millisecond, registry.TierWeak},
		{2 * time.Second, registry.TierWeak},
	}
	for _, tc := range cases {
		if got := classifyRTT(tc.rtt); got != tc.want {
			t.Errorf("classifyRTT(%s) = %s, want %s", tc.rtt, got, tc.want)
		}
	}
}

// newMonitorHarness builds a manager with a mock clock, no loops running,
// and one open peer, so pong handling can be driven deterministically.
func newMonitorHarness(t *testing.T) (*Manager, *fakeSignaler, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Unix(1_700_000_000, 0))
	sig := newFakeSignaler("peer-a")
	mgr := New(Config{
		UserID:   1,
		Signaler: sig,
		Metrics:  metrics.New(),
		Clock:    mock,
	})
	mgr.reg.AcceptOpen("peer-b", newScriptChannel())
	return mgr, sig, mock
}

// pongWithRTT simulates a pong whose echoed timestamp is rtt in the past.
func pongWithRTT(m *Manager, mock *clock.Mock, peerID string, rtt time.Duration) {
	m.handlePong(peerID, mock.Now().Add(-rtt).UnixMilli())
}

func TestTierEventsAreChangeOnly(t *testing.T) {
	mgr, _, mock := newMonitorHarness(t)

	var events []TierEvent
	mgr.OnTier(func(ev TierEvent) { events = append(events, ev) })

	// strong, strong, medium, weak: only the two transitions emit.
	pongWithRTT(mgr, mock, "peer-b", 50*time.Millisecond)
	pongWithRTT(mgr, mock, "peer-b", 50*time.Millisecond)
	pongWithRTT(mgr, mock, "peer-b", 250*time.Millisecond)
	pongWithRTT(mgr, mock, "peer-b", 400*time.Millisecond)

	if len(events) != 2 {
		t.Fatalf("got %d tier events, want 2: %+v", len(events), events)
	}
	if events[0].Tier != registry.TierMedium || events[1].Tier != registry.TierWeak {
		t.Fatalf("tiers = %s, %s", events[0].Tier, events[1].Tier)
	}
	if got := mgr.cfg.Metrics.TierChanges(); got != 2 {
		t.Fatalf("tier change counter = %d, want 2", got)
	}
	if got := mgr.cfg.Metrics.Snapshot().Mesh.PongsReceived; got != 4 {
		t.Fatalf("pongs received = %d, want 4", got)
	}
}

func TestTierRecoversUpward(t *testing.T) {
	mgr, _, mock := newMonitorHarness(t)

	var events []TierEvent
	mgr.OnTier(func(ev TierEvent) { events = append(events, ev) })

	pongWithRTT(mgr, mock, "peer-b", 400*time.Millisecond)
	pongWithRTT(mgr, mock, "peer-b", 40*time.Millisecond)

	if len(events) != 2 {
		t.Fatalf("got %d events, want weak then strong", len(events))
	}
	if events[1].Tier != registry.TierStrong {
		t.Fatalf("recovery tier = %s, want strong", events[1].Tier)
	}
}

func TestPongForUnknownPeerIgnored(t *testing.T) {
	mgr, _, mock := newMonitorHarness(t)

	var events []TierEvent
	mgr.OnTier(func(ev TierEvent) { events = append(events, ev) })
	pongWithRTT(mgr, mock, "nobody", 400*time.Millisecond)

	if len(events) != 0 {
		t.Fatalf("events = %+v, want none", events)
	}
}

func TestNegativeRTTClampedToZero(t *testing.T) {
	mgr, _, mock := newMonitorHarness(t)

	// Echoed timestamp from the future (clock skew): treated as 0 RTT, so
	// the tier stays strong and nothing emits.
	var events []TierEvent
	mgr.OnTier(func(ev TierEvent) { events = append(events, ev) })
	pongWithRTT(mgr, mock, "peer-b", -5*time.Second)

	if len(events) != 0 {
		t.Fatalf("events = %+v, want none", events)
	}
	rec, _ := mgr.reg.Get("peer-b")
	if rec.Tier != registry.TierStrong {
		t.Fatalf("tier = %s, want strong", rec.Tier)
	}
}

func TestAggregateStrengthReported(t *testing.T) {
	mgr, sig, mock := newMonitorHarness(t)
	mgr.reg.AcceptOpen("peer-c", newScriptChannel())
	mgr.reg.AcceptOpen("peer-d", newScriptChannel())

	// Two peers degrade to weak; one stays strong. Majority wins.
	pongWithRTT(mgr, mock, "peer-b", 400*time.Millisecond)
	pongWithRTT(mgr, mock, "peer-c", 400*time.Millisecond)

	sig.mu.Lock()
	defer sig.mu.Unlock()
	if len(sig.strengths) == 0 {
		t.Fatal("no strength reports published")
	}
	if last := sig.strengths[len(sig.strengths)-1]; last != "weak" {
		t.Fatalf("aggregate strength = %q, want weak", last)
	}
}

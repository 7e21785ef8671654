package mesh

import (
	"time"

	"github.com/kotaAnuj/PeerGram/internal/proto"
	"github.com/kotaAnuj/PeerGram/internal/registry"
)

// PeerEvent announces a data channel opening or closing.
type PeerEvent struct {
	PeerID    string
	UserID    int64
	Connected bool
}

// TierEvent announces a quality-tier change for an open peer. Emitted only
// when the classification actually changes.
type TierEvent struct {
	PeerID string
	Tier   registry.Tier
	RTT    time.Duration
}

// FrameEvent delivers an application frame received from a peer. Control
// frames (handshake, ping, pong) are consumed internally and never appear
// here; unrecognized frame types do, as proto.Unknown.
type FrameEvent struct {
	PeerID string
	Frame  proto.Frame
}

// Subscription unregisters a callback when cancelled.
type Subscription struct {
	cancel func()
}

func (s Subscription) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}

// OnPeer registers a callback for connect/disconnect events. Callbacks run on
// mesh goroutines and must not block.
func (m *Manager) OnPeer(fn func(PeerEvent)) Subscription {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.subSeq
	m.subSeq++
	m.peerSubs[id] = fn
	return Subscription{cancel: func() {
		m.subMu.Lock()
		delete(m.peerSubs, id)
		m.subMu.Unlock()
	}}
}

// OnTier registers a callback for quality-tier changes.
func (m *Manager) OnTier(fn func(TierEvent)) Subscription {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.subSeq
	m.subSeq++
	m.tierSubs[id] = fn
	return Subscription{cancel: func() {
		m.subMu.Lock()
		delete(m.tierSubs, id)
		m.subMu.Unlock()
	}}
}

// OnFrame registers a callback for inbound application frames.
func (m *Manager) OnFrame(fn func(FrameEvent)) Subscription {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.subSeq
	m.subSeq++
	m.frameSubs[id] = fn
	return Subscription{cancel: func() {
		m.subMu.Lock()
		delete(m.frameSubs, id)
		m.subMu.Unlock()
	}}
}

func (m *Manager) emitPeer(ev PeerEvent) {
	m.subMu.Lock()
	fns := make([]func(PeerEvent), 0, len(m.peerSubs))
	for _, fn := range m.peerSubs {
		fns = append(fns, fn)
	}
	m.subMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (m *Manager) emitTier(ev TierEvent) {
	m.subMu.Lock()
	fns := make([]func(TierEvent), 0, len(m.tierSubs))
	for _, fn := range m.tierSubs {
		fns = append(fns, fn)
	}
	m.subMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (m *Manager) emitFrame(ev FrameEvent) {
	m.subMu.Lock()
	fns := make([]func(FrameEvent), 0, len(m.frameSubs))
	for _, fn := range m.frameSubs {
		fns = append(fns, fn)
	}
	m.subMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

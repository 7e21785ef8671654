// Package registry is the peer-connection registry: the single source of
// truth for which peers the node knows about, the lifecycle state of each
// connection, and the aggregate mesh stats projected from those records.
// All mutation happens under one mutex and every mutator leaves the stats
// snapshot consistent with the records before it returns.
package registry

import (
	"sync"
	"time"

	"github.com/kotaAnuj/PeerGram/internal/transport"
)

// State is the lifecycle state of one peer connection record.
type State string

const (
	StateDialing State = "dialing"
	StateOpen    State = "open"
	StateClosed  State = "closed"
	StateFailed  State = "failed"
)

// Tier is the coarse connection-quality classification derived from RTT.
type Tier string

const (
	TierStrong Tier = "strong"
	TierMedium Tier = "medium"
	TierWeak   Tier = "weak"
)

// Snapshot is the aggregate stats projection. It is recomputed from the
// records on every mutation, never incremented independently.
type Snapshot struct {
	TotalPeers    int    `json:"totalPeers"`
	Strong        int    `json:"strong"`
	Medium        int    `json:"medium"`
	Weak          int    `json:"weak"`
	BytesSent     uint64 `json:"bytesSent"`
	BytesReceived uint64 `json:"bytesReceived"`
}

// Record is a value snapshot of one peer entry. The live channel is reachable
// through Channel(); everything else is copied out under the lock.
type Record struct {
	PeerID     string
	UserID     int64
	State      State
	Tier       Tier
	RetryCount int
	OpenedAt   time.Time
}

type entry struct {
	peerID     string
	userID     int64
	state      State
	tier       Tier
	retryCount int
	openedAt   time.Time
	ch         transport.Channel
}

type Registry struct {
	mu        sync.Mutex
	entries   map[string]*entry
	stats     Snapshot
	bytesSent uint64
	bytesRecv uint64
}

func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Begin creates a dialing record for peerID. It reports false without
// touching anything when a record already exists, which keeps the at-most-one
// record invariant regardless of how many triggers race.
func (r *Registry) Begin(peerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[peerID]; ok {
		return false
	}
	r.entries[peerID] = &entry{peerID: peerID, state: StateDialing}
	r.recompute()
	return true
}

// AttachOpen promotes a dialing record to open with the dialed channel. It
// fails when the record is gone or already open (the concurrent inbound won).
func (r *Registry) AttachOpen(peerID string, ch transport.Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[peerID]
	if !ok || e.state == StateOpen {
		return false
	}
	e.state = StateOpen
	e.tier = TierStrong
	e.ch = ch
	e.openedAt = time.Now()
	r.recompute()
	return true
}

// AcceptOpen installs an inbound channel as the open connection for peerID,
// creating the record if needed. When a previous channel was attached it is
// returned so the caller can close it outside the lock.
func (r *Registry) AcceptOpen(peerID string, ch transport.Channel) (old transport.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[peerID]
	if !ok {
		e = &entry{peerID: peerID}
		r.entries[peerID] = e
	}
	old = e.ch
	if old == ch {
		old = nil
	}
	e.state = StateOpen
	e.tier = TierStrong
	e.ch = ch
	e.retryCount = 0
	e.openedAt = time.Now()
	r.recompute()
	return old
}

// SetUser resolves the user identity for a peer. First write wins: a later
// handshake cannot reassign an identity that is already known.
func (r *Registry) SetUser(peerID string, userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[peerID]; ok && e.userID == 0 {
		e.userID = userID
	}
}

// SetTier updates the quality tier of an open record. It reports whether the
// tier actually changed so callers can emit change-only notifications.
func (r *Registry) SetTier(peerID string, tier Tier) (changed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[peerID]
	if !ok || e.state != StateOpen || e.tier == tier {
		return false
	}
	e.tier = tier
	r.recompute()
	return true
}

// IncRetry bumps the retry counter and returns the new count. ok is false
// when the record no longer exists.
func (r *Registry) IncRetry(peerID string) (count int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, exists := r.entries[peerID]
	if !exists {
		return 0, false
	}
	e.retryCount++
	return e.retryCount, true
}

// SetState transitions a record without touching its channel. It reports
// false when the record does not exist.
func (r *Registry) SetState(peerID string, s State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[peerID]
	if !ok {
		return false
	}
	e.state = s
	if s != StateOpen {
		e.ch = nil
		e.tier = ""
	}
	r.recompute()
	return true
}

func (r *Registry) Get(peerID string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[peerID]
	if !ok {
		return Record{}, false
	}
	return e.record(), true
}

func (r *Registry) Channel(peerID string) (transport.Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[peerID]
	if !ok || e.state != StateOpen || e.ch == nil {
		return nil, false
	}
	return e.ch, true
}

// Remove deletes the record and returns its channel (if any) for the caller
// to close.
func (r *Registry) Remove(peerID string) (transport.Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[peerID]
	if !ok {
		return nil, false
	}
	delete(r.entries, peerID)
	r.recompute()
	return e.ch, true
}

// RemoveIfChannel deletes the record only when the given channel is still the
// attached one. A stale close notification for a replaced channel is a no-op.
func (r *Registry) RemoveIfChannel(peerID string, ch transport.Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[peerID]
	if !ok || e.ch != ch {
		return false
	}
	delete(r.entries, peerID)
	r.recompute()
	return true
}

// OpenPeers lists records currently in the open state.
func (r *Registry) OpenPeers() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0, len(r.entries))
	for _, e := range r.entries {
		if e.state == StateOpen {
			out = append(out, e.record())
		}
	}
	return out
}

// OpenChannels returns peerID->channel for every open record.
func (r *Registry) OpenChannels() map[string]transport.Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]transport.Channel, len(r.entries))
	for id, e := range r.entries {
		if e.state == StateOpen && e.ch != nil {
			out[id] = e.ch
		}
	}
	return out
}

// All lists every record regardless of state.
func (r *Registry) All() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.record())
	}
	return out
}

func (r *Registry) AddBytesSent(n uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bytesSent += n
	r.recompute()
}

func (r *Registry) AddBytesReceived(n uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bytesRecv += n
	r.recompute()
}

// Stats returns the projection as of the last mutation.
func (r *Registry) Stats() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Clear drops every record and zeroes the stats, returning the channels that
// were attached so the caller can close them. Safe to call repeatedly and on
// an empty registry.
func (r *Registry) Clear() []transport.Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	chans := make([]transport.Channel, 0, len(r.entries))
	for _, e := range r.entries {
		if e.ch != nil {
			chans = append(chans, e.ch)
		}
	}
	r.entries = make(map[string]*entry)
	r.bytesSent = 0
	r.bytesRecv = 0
	r.recompute()
	return chans
}

// recompute rebuilds the stats projection from the records. Callers hold the
// mutex.
func (r *Registry) recompute() {
	snap := Snapshot{BytesSent: r.bytesSent, BytesReceived: r.bytesRecv}
	for _, e := range r.entries {
		if e.state != StateOpen {
			continue
		}
		snap.TotalPeers++
		switch e.tier {
		case TierStrong:
			snap.Strong++
		case TierMedium:
			snap.Medium++
		case TierWeak:
			snap.Weak++
		}
	}
	r.stats = snap
}

func (e *entry) record() Record {
	return Record{
		PeerID:     e.peerID,
		UserID:     e.userID,
		State:      e.state,
		Tier:       e.tier,
		RetryCount: e.retryCount,
		OpenedAt:   e.openedAt,
	}
}

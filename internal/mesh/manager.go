// Package mesh is the peer-connection layer of the node: it turns signaling
// presence into live data channels, keeps them healthy, and exposes the
// messaging surface the application builds on. One Manager owns one node's
// mesh membership.
package mesh

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/kotaAnuj/PeerGram/internal/cache"
	"github.com/kotaAnuj/PeerGram/internal/debuglog"
	"github.com/kotaAnuj/PeerGram/internal/ledger"
	"github.com/kotaAnuj/PeerGram/internal/proto"
	"github.com/kotaAnuj/PeerGram/internal/registry"
)

var (
	ErrNotConnected = errors.New("mesh: no open channel to peer")
	ErrNotStarted   = errors.New("mesh: not initialized")
)

// Signaler is the signaling-channel surface the manager consumes. Production
// uses *signal.Client; tests substitute an in-process fake.
type Signaler interface {
	Events() <-chan proto.SignalMessage
	PeerID() string
	RequestPeers()
	ReportStrength(strength string)
	ReportDataTransfer(shared, received uint64)
	Close()
}

type Manager struct {
	cfg Config
	reg *registry.Registry
	clk clock.Clock

	mu        sync.Mutex
	started   bool
	localID   string
	directory map[string]proto.PeerInfo

	subMu     sync.Mutex
	subSeq    int
	peerSubs  map[int]func(PeerEvent)
	tierSubs  map[int]func(TierEvent)
	frameSubs map[int]func(FrameEvent)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config) *Manager {
	cfg.applyDefaults()
	return &Manager{
		cfg:       cfg,
		reg:       registry.New(),
		clk:       cfg.Clock,
		directory: make(map[string]proto.PeerInfo),
		peerSubs:  make(map[int]func(PeerEvent)),
		tierSubs:  make(map[int]func(TierEvent)),
		frameSubs: make(map[int]func(FrameEvent)),
	}
}

// Init starts the mesh loops: signaling consumption, inbound accepts, quality
// probing, and telemetry. Calling Init twice is an error; Cleanup first.
func (m *Manager) Init() error {
	if m.cfg.Transport == nil {
		return errors.New("mesh: config missing transport")
	}
	if m.cfg.Signaler == nil {
		return errors.New("mesh: config missing signaler")
	}
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return errors.New("mesh: already initialized")
	}
	m.started = true
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.mu.Unlock()

	m.wg.Add(4)
	go m.eventLoop()
	go m.acceptLoop()
	go m.probeLoop()
	go m.telemetryLoop()
	return nil
}

// Cleanup tears the mesh down: stops every loop, closes all channels, and
// zeroes the stats. Safe before Init and safe to call repeatedly.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	wasStarted := m.started
	m.started = false
	m.directory = make(map[string]proto.PeerInfo)
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if wasStarted {
		m.cfg.Signaler.Close()
		_ = m.cfg.Transport.Close()
	}
	for _, ch := range m.reg.Clear() {
		_ = ch.Close()
	}
	if wasStarted {
		m.wg.Wait()
	}
}

// LocalPeerID returns the server-issued identity of this node, empty until
// the first signaling welcome arrives.
func (m *Manager) LocalPeerID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.localID
}

func (m *Manager) running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

// SendToPeer pushes one frame to a single peer over its open channel.
func (m *Manager) SendToPeer(peerID string, f proto.Frame) error {
	ch, ok := m.reg.Channel(peerID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotConnected, peerID)
	}
	return m.sendOn(peerID, ch, f)
}

// Broadcast pushes one frame to every open peer and reports how many sends
// succeeded.
func (m *Manager) Broadcast(f proto.Frame) int {
	sent := 0
	for peerID, ch := range m.reg.OpenChannels() {
		if err := m.sendOn(peerID, ch, f); err == nil {
			sent++
		}
	}
	return sent
}

// SendMessage takes the durable path first: the ledger write assigns the
// canonical message id, then the mesh copy carries exactly that id. The
// mesh push is best effort; the receiver reconciles from the ledger either
// way.
func (m *Manager) SendMessage(ctx context.Context, peerID string, receiverUserID int64, content string, embed *proto.Embed) (string, error) {
	if m.cfg.Ledger == nil {
		return "", errors.New("mesh: no ledger configured")
	}
	id, err := m.cfg.Ledger.CreateMessage(ctx, ledger.Message{
		SenderID:   m.cfg.UserID,
		ReceiverID: receiverUserID,
		Content:    content,
		Embed:      embed,
		Timestamp:  m.clk.Now().UnixMilli(),
	})
	if err != nil {
		m.cfg.Metrics.IncLedgerErrors()
		return "", err
	}
	frame := proto.Message{
		MessageID:  id,
		SenderID:   m.cfg.UserID,
		ReceiverID: receiverUserID,
		Content:    content,
		Embed:      embed,
		Timestamp:  m.clk.Now().UnixMilli(),
	}
	if err := m.SendToPeer(peerID, frame); err != nil {
		debuglog.Debugf("mesh: message %s queued durably, mesh push skipped: %v", id, err)
	}
	return id, nil
}

// ConfirmDelivery acknowledges a received message back to its sender and
// marks it delivered in the ledger.
func (m *Manager) ConfirmDelivery(ctx context.Context, peerID, messageID string) error {
	frame := proto.Delivered{MessageID: messageID, ReceiverID: m.cfg.UserID}
	if err := m.SendToPeer(peerID, frame); err != nil {
		return err
	}
	if m.cfg.Ledger != nil {
		if err := m.cfg.Ledger.UpdateMessage(ctx, messageID, true); err != nil {
			m.cfg.Metrics.IncLedgerErrors()
			return err
		}
	}
	return nil
}

// StoreContent caches content locally and announces it to every open peer so
// their caches warm up. Returns the content hash.
func (m *Manager) StoreContent(contentType string, content []byte) (string, error) {
	if m.cfg.Cache == nil {
		return "", errors.New("mesh: no cache configured")
	}
	hash := m.cfg.Cache.Put(contentType, content)
	m.Broadcast(proto.Store{
		ContentType: contentType,
		Content:     content,
		Hash:        hash,
		UserID:      m.cfg.UserID,
		Timestamp:   m.clk.Now().UnixMilli(),
	})
	return hash, nil
}

// CachedContent looks a hash up in the local content cache.
func (m *Manager) CachedContent(hash string) (cache.Entry, bool) {
	if m.cfg.Cache == nil {
		return cache.Entry{}, false
	}
	e, ok := m.cfg.Cache.Get(hash)
	if ok {
		m.cfg.Metrics.IncCacheHits()
	} else {
		m.cfg.Metrics.IncCacheMisses()
	}
	return e, ok
}

// Connections lists every known peer record, open or not.
func (m *Manager) Connections() []registry.Record {
	return m.reg.All()
}

// Stats returns the aggregate projection as of the last registry mutation.
func (m *Manager) Stats() registry.Snapshot {
	return m.reg.Stats()
}

func (m *Manager) sendOn(peerID string, ch channelWriter, f proto.Frame) error {
	data, err := proto.EncodeFrame(f)
	if err != nil {
		return err
	}
	if err := ch.Send(data); err != nil {
		return fmt.Errorf("mesh: send to %s: %w", peerID, err)
	}
	m.cfg.Metrics.IncFramesOut()
	m.reg.AddBytesSent(uint64(len(data)))
	return nil
}

type channelWriter interface {
	Send([]byte) error
}

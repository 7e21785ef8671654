package mesh

import (
	"context"
	"errors"

	"github.com/kotaAnuj/PeerGram/internal/debuglog"
	"github.com/kotaAnuj/PeerGram/internal/ledger"
	"github.com/kotaAnuj/PeerGram/internal/proto"
	"github.com/kotaAnuj/PeerGram/internal/registry"
	"github.com/kotaAnuj/PeerGram/internal/transport"
)

// eventLoop consumes the signaling stream. Signaling is the only source of
// peer discovery; the registry never grows a record except through a dial
// decision made here or an inbound handshake.
func (m *Manager) eventLoop() {
	defer m.wg.Done()
	for {
		select {
		case msg, ok := <-m.cfg.Signaler.Events():
			if !ok {
				return
			}
			m.handleSignal(msg)
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Manager) handleSignal(msg proto.SignalMessage) {
	switch msg.Kind {
	case proto.SignalWelcome:
		m.mu.Lock()
		m.localID = msg.PeerID
		m.mu.Unlock()
		debuglog.Debugf("mesh: identity %s", msg.PeerID)
	case proto.SignalActivePeers, proto.SignalPeerJoined:
		for _, p := range msg.Peers {
			m.mu.Lock()
			m.directory[p.PeerID] = p
			m.mu.Unlock()
			m.maybeAutoDial(p)
		}
	case proto.SignalPeerLeft:
		m.mu.Lock()
		delete(m.directory, msg.PeerID)
		m.mu.Unlock()
		if ch, ok := m.reg.Remove(msg.PeerID); ok {
			if ch != nil {
				_ = ch.Close()
			}
			m.emitPeer(PeerEvent{PeerID: msg.PeerID, Connected: false})
		}
	default:
		debuglog.Debugf("mesh: ignoring signal %q", msg.Kind)
	}
}

// maybeAutoDial applies the deterministic tiebreak: of any two peers, only
// the one with the lexically smaller id dials. The other side waits for the
// inbound handshake, so the pair never races two connections by default.
func (m *Manager) maybeAutoDial(p proto.PeerInfo) {
	m.mu.Lock()
	local := m.localID
	m.mu.Unlock()
	if local == "" || p.PeerID == local || p.Addr == "" {
		return
	}
	if local >= p.PeerID {
		return
	}
	m.dial(p.PeerID, p.Addr)
}

// Connect dials a peer regardless of the tiebreak. Callers use it when the
// application explicitly wants the connection now.
func (m *Manager) Connect(peerID string) error {
	if !m.running() {
		return ErrNotStarted
	}
	m.mu.Lock()
	p, ok := m.directory[peerID]
	m.mu.Unlock()
	if !ok || p.Addr == "" {
		return errors.New("mesh: peer not in directory")
	}
	m.dial(peerID, p.Addr)
	return nil
}

// dial starts the retry cycle for a peer unless a record already exists.
// Duplicate triggers and self-dials collapse into no-ops here.
func (m *Manager) dial(peerID, addr string) {
	if !m.running() {
		return
	}
	if !m.reg.Begin(peerID) {
		return
	}
	m.wg.Add(1)
	go m.runDial(peerID, addr)
}

// runDial is one full dial cycle: up to MaxRetries+1 attempts separated by
// RetryDelay. The cycle ends early when the record disappears or an inbound
// connection wins the race.
func (m *Manager) runDial(peerID, addr string) {
	defer m.wg.Done()
	for {
		ch, err := m.attemptDial(peerID, addr)
		if err == nil {
			if !m.reg.AttachOpen(peerID, ch) {
				// Inbound handshake got there first; ours is redundant.
				_ = ch.Close()
				return
			}
			m.afterOpen(peerID, ch)
			return
		}
		if m.ctx.Err() != nil {
			return
		}
		m.cfg.Metrics.IncDialFailures()
		if errors.Is(err, context.DeadlineExceeded) {
			m.cfg.Metrics.IncDialTimeouts()
		}
		count, ok := m.reg.IncRetry(peerID)
		if !ok {
			return
		}
		if count > m.cfg.MaxRetries {
			debuglog.Debugf("mesh: dial %s exhausted after %d attempts: %v", peerID, count, err)
			m.reg.SetState(peerID, registry.StateFailed)
			m.reg.Remove(peerID)
			return
		}
		select {
		case <-m.clk.After(m.cfg.RetryDelay):
		case <-m.ctx.Done():
			return
		}
		if rec, exists := m.reg.Get(peerID); !exists || rec.State != registry.StateDialing {
			return
		}
	}
}

// attemptDial is one bounded attempt: transport dial plus our handshake send,
// all inside EstablishTimeout.
func (m *Manager) attemptDial(peerID, addr string) (transport.Channel, error) {
	m.cfg.Metrics.IncDialAttempts()
	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.EstablishTimeout)
	defer cancel()
	ch, err := m.cfg.Transport.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	if err := m.sendHandshake(peerID, ch); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return ch, nil
}

// sendHandshake goes through sendOn like every other frame write, so
// handshakes count toward frames-out and cumulative bytes sent.
func (m *Manager) sendHandshake(peerID string, ch transport.Channel) error {
	m.mu.Lock()
	local := m.localID
	m.mu.Unlock()
	return m.sendOn(peerID, ch, proto.Handshake{
		PeerID:    local,
		UserID:    m.cfg.UserID,
		Timestamp: m.clk.Now().UnixMilli(),
	})
}

// acceptLoop admits inbound channels. Identity is established by the first
// frame, which must be a handshake; a channel that opens with anything else
// is dropped.
func (m *Manager) acceptLoop() {
	defer m.wg.Done()
	for {
		ch, err := m.cfg.Transport.Accept(m.ctx)
		if err != nil {
			if m.ctx.Err() != nil {
				return
			}
			debuglog.Debugf("mesh: accept: %v", err)
			continue
		}
		m.wg.Add(1)
		go m.handleInbound(ch)
	}
}

func (m *Manager) handleInbound(ch transport.Channel) {
	defer m.wg.Done()
	hs, err := m.awaitHandshake(ch)
	if err != nil {
		debuglog.Debugf("mesh: inbound rejected: %v", err)
		_ = ch.Close()
		return
	}
	m.mu.Lock()
	local := m.localID
	m.mu.Unlock()
	if hs.PeerID == "" || hs.PeerID == local {
		_ = ch.Close()
		return
	}

	// Glare: when both sides raced a connection, the smaller id's outbound
	// is canonical. As the smaller id we discard the inbound; as the larger
	// id we adopt it, replacing anything we had.
	if rec, ok := m.reg.Get(hs.PeerID); ok && local < hs.PeerID {
		if rec.State == registry.StateDialing || rec.State == registry.StateOpen {
			debuglog.Debugf("mesh: discarding inbound from %s, outbound wins tiebreak", hs.PeerID)
			_ = ch.Close()
			return
		}
	}
	old := m.reg.AcceptOpen(hs.PeerID, ch)
	if old != nil {
		_ = old.Close()
	}
	m.reg.SetUser(hs.PeerID, hs.UserID)
	if err := m.sendHandshake(hs.PeerID, ch); err != nil {
		debuglog.Debugf("mesh: handshake reply to %s: %v", hs.PeerID, err)
	}
	m.afterOpen(hs.PeerID, ch)
}

// awaitHandshake reads the identifying first frame within EstablishTimeout.
func (m *Manager) awaitHandshake(ch transport.Channel) (proto.Handshake, error) {
	type result struct {
		hs  proto.Handshake
		err error
	}
	done := make(chan result, 1)
	go func() {
		data, err := ch.Recv()
		if err != nil {
			done <- result{err: err}
			return
		}
		frame, err := proto.DecodeFrame(data)
		if err != nil {
			done <- result{err: err}
			return
		}
		hs, ok := frame.(proto.Handshake)
		if !ok {
			done <- result{err: errors.New("first frame is not a handshake")}
			return
		}
		done <- result{hs: hs}
	}()
	select {
	case r := <-done:
		return r.hs, r.err
	case <-m.clk.After(m.cfg.EstablishTimeout):
		return proto.Handshake{}, errors.New("handshake timeout")
	case <-m.ctx.Done():
		return proto.Handshake{}, m.ctx.Err()
	}
}

// afterOpen runs once per established channel, dialer and acceptor alike.
func (m *Manager) afterOpen(peerID string, ch transport.Channel) {
	m.cfg.Metrics.IncDialSuccess()
	rec, _ := m.reg.Get(peerID)
	m.emitPeer(PeerEvent{PeerID: peerID, UserID: rec.UserID, Connected: true})
	m.reportAggregateStrength()
	if m.cfg.Ledger != nil {
		go m.recordConnection(peerID, true)
	}
	m.wg.Add(1)
	go m.readLoop(peerID, ch)
}

// handleChannelClosed runs when a read loop exits. A stale notification for
// a channel that was already replaced is ignored; otherwise the record is
// dropped and, when the peer is still present, one fresh dial cycle starts
// with a full retry budget.
func (m *Manager) handleChannelClosed(peerID string, ch transport.Channel) {
	if !m.reg.RemoveIfChannel(peerID, ch) {
		return
	}
	m.emitPeer(PeerEvent{PeerID: peerID, Connected: false})
	m.reportAggregateStrength()
	if m.cfg.Ledger != nil {
		go m.recordConnection(peerID, false)
	}
	if m.ctx.Err() != nil {
		return
	}
	m.mu.Lock()
	p, present := m.directory[peerID]
	local := m.localID
	m.mu.Unlock()
	if !present || p.Addr == "" || local == "" || local >= peerID {
		return
	}
	m.cfg.Metrics.IncReconnects()
	debuglog.Debugf("mesh: reconnecting to %s in %s", peerID, m.cfg.RetryDelay)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		// Reconnects wait one inter-retry delay; an immediate redial would
		// hammer a peer that is cycling.
		select {
		case <-m.clk.After(m.cfg.RetryDelay):
		case <-m.ctx.Done():
			return
		}
		m.dial(peerID, p.Addr)
	}()
}

func (m *Manager) recordConnection(peerID string, connected bool) {
	rec, _ := m.reg.Get(peerID)
	conn := ledger.Connection{
		UserID:     m.cfg.UserID,
		PeerUserID: rec.UserID,
		PeerID:     peerID,
		Strength:   string(rec.Tier),
		Connected:  connected,
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.EstablishTimeout)
	defer cancel()
	var err error
	if connected {
		err = m.cfg.Ledger.CreateConnection(ctx, conn)
	} else {
		err = m.cfg.Ledger.UpdateConnection(ctx, conn)
	}
	if err != nil {
		m.cfg.Metrics.IncLedgerErrors()
		debuglog.Debugf("mesh: ledger connection update for %s: %v", peerID, err)
	}
}

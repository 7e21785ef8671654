package mesh

import (
	"context"
	"time"

	"github.com/kotaAnuj/PeerGram/internal/debuglog"
	"github.com/kotaAnuj/PeerGram/internal/proto"
	"github.com/kotaAnuj/PeerGram/internal/registry"
)

// Quality tiers by round trip time. A connection opens as strong and is
// reclassified only by measured pongs; the tier event stream is change-only.
const (
	strongBelow = 100 * time.Millisecond
	mediumBelow = 300 * time.Millisecond
)

func classifyRTT(rtt time.Duration) registry.Tier {
	switch {
	case rtt < strongBelow:
		return registry.TierStrong
	case rtt < mediumBelow:
		return registry.TierMedium
	default:
		return registry.TierWeak
	}
}

// probeLoop pings every open peer on each tick. Pongs come back through the
// per-channel read loops into handlePong.
func (m *Manager) probeLoop() {
	defer m.wg.Done()
	ticker := m.clk.Ticker(m.cfg.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := m.clk.Now().UnixMilli()
			for peerID, ch := range m.reg.OpenChannels() {
				if err := m.sendOn(peerID, ch, proto.Ping{Timestamp: now}); err != nil {
					debuglog.Debugf("mesh: probe %s: %v", peerID, err)
					continue
				}
				m.cfg.Metrics.IncPingsSent()
			}
		case <-m.ctx.Done():
			return
		}
	}
}

// handlePong reclassifies the peer from the measured round trip. Only an
// actual tier change produces an event, a metrics tick, and a fresh
// aggregate-strength report.
func (m *Manager) handlePong(peerID string, sentAtMilli int64) {
	m.cfg.Metrics.IncPongsReceived()
	rtt := time.Duration(m.clk.Now().UnixMilli()-sentAtMilli) * time.Millisecond
	if rtt < 0 {
		rtt = 0
	}
	tier := classifyRTT(rtt)
	if !m.reg.SetTier(peerID, tier) {
		return
	}
	m.cfg.Metrics.IncTierChanges()
	debuglog.Debugf("mesh: %s now %s (rtt %s)", peerID, tier, rtt)
	m.emitTier(TierEvent{PeerID: peerID, Tier: tier, RTT: rtt})
	m.reportAggregateStrength()
	if m.cfg.Ledger != nil {
		go m.recordConnection(peerID, true)
	}
}

// reportAggregateStrength publishes the dominant tier across open peers to
// the signaling server.
func (m *Manager) reportAggregateStrength() {
	snap := m.reg.Stats()
	strength := "none"
	switch {
	case snap.TotalPeers == 0:
	case snap.Strong >= snap.Medium && snap.Strong >= snap.Weak:
		strength = string(registry.TierStrong)
	case snap.Medium >= snap.Weak:
		strength = string(registry.TierMedium)
	default:
		strength = string(registry.TierWeak)
	}
	m.cfg.Signaler.ReportStrength(strength)
}

// telemetryLoop periodically publishes transfer counters to signaling and
// the stats projection to the ledger.
func (m *Manager) telemetryLoop() {
	defer m.wg.Done()
	ticker := m.clk.Ticker(m.cfg.TelemetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			snap := m.reg.Stats()
			m.cfg.Signaler.ReportDataTransfer(snap.BytesSent, snap.BytesReceived)
			if m.cfg.Ledger != nil {
				ctx, cancel := context.WithTimeout(context.Background(), m.cfg.EstablishTimeout)
				if err := m.cfg.Ledger.UpdateNetworkStats(ctx, m.cfg.UserID, snap); err != nil {
					m.cfg.Metrics.IncLedgerErrors()
					debuglog.Debugf("mesh: network stats push: %v", err)
				}
				cancel()
			}
		case <-m.ctx.Done():
			return
		}
	}
}

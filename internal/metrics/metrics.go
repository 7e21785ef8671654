package metrics

import (
	"os"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
)

// Metrics holds process-wide mesh counters. All counters are cumulative; the
// per-connection NetworkStats projection lives in the registry, not here.
type Metrics struct {
	dialAttempts     atomic.Uint64
	dialSuccess      atomic.Uint64
	dialFailures     atomic.Uint64
	dialTimeouts     atomic.Uint64
	reconnects       atomic.Uint64
	framesIn         atomic.Uint64
	framesOut        atomic.Uint64
	pingsSent        atomic.Uint64
	pongsReceived    atomic.Uint64
	tierChanges      atomic.Uint64
	signalReconnects atomic.Uint64
	cacheHits        atomic.Uint64
	cacheMisses      atomic.Uint64
	ledgerErrors     atomic.Uint64
}

type Snapshot struct {
	GeneratedAt time.Time   `json:"generated_at"`
	Dial        DialMetrics `json:"dial"`
	Mesh        MeshMetrics `json:"mesh"`
}

type DialMetrics struct {
	Attempts   uint64 `json:"attempts"`
	Success    uint64 `json:"success"`
	Failures   uint64 `json:"failures"`
	Timeouts   uint64 `json:"timeouts"`
	Reconnects uint64 `json:"reconnects"`
}

type MeshMetrics struct {
	FramesIn         uint64 `json:"frames_in"`
	FramesOut        uint64 `json:"frames_out"`
	PingsSent        uint64 `json:"pings_sent"`
	PongsReceived    uint64 `json:"pongs_received"`
	TierChanges      uint64 `json:"tier_changes"`
	SignalReconnects uint64 `json:"signal_reconnects"`
	CacheHits        uint64 `json:"cache_hits"`
	CacheMisses      uint64 `json:"cache_misses"`
	LedgerErrors     uint64 `json:"ledger_errors"`
}

func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncDialAttempts()     { m.dialAttempts.Add(1) }
func (m *Metrics) IncDialSuccess()      { m.dialSuccess.Add(1) }
func (m *Metrics) IncDialFailures()     { m.dialFailures.Add(1) }
func (m *Metrics) IncDialTimeouts()     { m.dialTimeouts.Add(1) }
func (m *Metrics) IncReconnects()       { m.reconnects.Add(1) }
func (m *Metrics) IncFramesIn()         { m.framesIn.Add(1) }
func (m *Metrics) IncFramesOut()        { m.framesOut.Add(1) }
func (m *Metrics) IncPingsSent()        { m.pingsSent.Add(1) }
func (m *Metrics) IncPongsReceived()    { m.pongsReceived.Add(1) }
func (m *Metrics) IncTierChanges()      { m.tierChanges.Add(1) }
func (m *Metrics) IncSignalReconnects() { m.signalReconnects.Add(1) }
func (m *Metrics) IncCacheHits()        { m.cacheHits.Add(1) }
func (m *Metrics) IncCacheMisses()      { m.cacheMisses.Add(1) }
func (m *Metrics) IncLedgerErrors()     { m.ledgerErrors.Add(1) }

func (m *Metrics) DialAttempts() uint64 { return m.dialAttempts.Load() }
func (m *Metrics) TierChanges() uint64  { return m.tierChanges.Load() }

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		GeneratedAt: time.Now().UTC(),
		Dial: DialMetrics{
			Attempts:   m.dialAttempts.Load(),
			Success:    m.dialSuccess.Load(),
			Failures:   m.dialFailures.Load(),
			Timeouts:   m.dialTimeouts.Load(),
			Reconnects: m.reconnects.Load(),
		},
		Mesh: MeshMetrics{
			FramesIn:         m.framesIn.Load(),
			FramesOut:        m.framesOut.Load(),
			PingsSent:        m.pingsSent.Load(),
			PongsReceived:    m.pongsReceived.Load(),
			TierChanges:      m.tierChanges.Load(),
			SignalReconnects: m.signalReconnects.Load(),
			CacheHits:        m.cacheHits.Load(),
			CacheMisses:      m.cacheMisses.Load(),
			LedgerErrors:     m.ledgerErrors.Load(),
		},
	}
}

// WriteSnapshot dumps the current counters as indented JSON. A missing path
// is a no-op so callers can wire it straight from optional config.
func (m *Metrics) WriteSnapshot(path string) error {
	if path == "" {
		return nil
	}
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// ReadSnapshot loads a snapshot previously written by WriteSnapshot.
func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

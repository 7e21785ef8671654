package mesh

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/kotaAnuj/PeerGram/internal/cache"
	"github.com/kotaAnuj/PeerGram/internal/ledger"
	"github.com/kotaAnuj/PeerGram/internal/metrics"
	"github.com/kotaAnuj/PeerGram/internal/transport"
)

const (
	defaultEstablishTimeout  = 10 * time.Second
	defaultRetryDelay        = 2 * time.Second
	defaultMaxRetries        = 3
	defaultProbeInterval     = 5 * time.Second
	defaultTelemetryInterval = 30 * time.Second
)

// Config carries everything a Manager needs. Zero-value timing fields resolve
// to the defaults above, overridable through PEERGRAM_* environment variables.
type Config struct {
	UserID    int64
	Transport transport.Transport
	Signaler  Signaler
	Ledger    *ledger.Client // nil disables durable writes
	Cache     *cache.ContentCache
	Metrics   *metrics.Metrics
	Clock     clock.Clock

	// EstablishTimeout bounds one dial attempt end to end, stream setup
	// and handshake included.
	EstablishTimeout time.Duration
	// RetryDelay is the pause between failed dial attempts.
	RetryDelay time.Duration
	// MaxRetries is the number of re-dials after the first failure, so a
	// peer gets MaxRetries+1 attempts before the record is dropped.
	MaxRetries int
	// ProbeInterval is the quality-probe cadence per open peer.
	ProbeInterval time.Duration
	// TelemetryInterval is the cadence of transfer/stats reporting.
	TelemetryInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.New()
	}
	if c.EstablishTimeout <= 0 {
		c.EstablishTimeout = envDuration("PEERGRAM_DIAL_TIMEOUT_MS", defaultEstablishTimeout)
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = envDuration("PEERGRAM_RETRY_DELAY_MS", defaultRetryDelay)
	}
	if c.MaxRetries <= 0 {
		if v, ok := envInt("PEERGRAM_MAX_RETRIES"); ok && v >= 0 {
			c.MaxRetries = v
		} else {
			c.MaxRetries = defaultMaxRetries
		}
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = envDuration("PEERGRAM_PROBE_INTERVAL_MS", defaultProbeInterval)
	}
	if c.TelemetryInterval <= 0 {
		c.TelemetryInterval = envDuration("PEERGRAM_TELEMETRY_INTERVAL_MS", defaultTelemetryInterval)
	}
}

func envInt(key string) (int, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envDuration(key string, def time.Duration) time.Duration {
	if v, ok := envInt(key); ok && v > 0 {
		return time.Duration(v) * time.Millisecond
	}
	return def
}

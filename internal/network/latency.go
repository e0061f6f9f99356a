package network

import (
	"math/rand"
	"net/http"
	"sync"
	"time"
)

// LatencyConfig specifies latency simulation parameters
type LatencyConfig struct {
	Enabled  bool          `json:"enabled"`
	MinDelay time.Duration `json:"min_delay"`
	MaxDelay time.Duration `json:"max_delay"`
}

// LatencyRoundTripper wraps http.RoundTripper with a random delay per request
type LatencyRoundTripper struct {
	base   http.RoundTripper
	config LatencyConfig

	mu  sync.Mutex // rand.Rand is not safe for concurrent use
	rng *rand.Rand
}

// NewLatencyRoundTripper creates a new LatencyRoundTripper.
// If base is nil, http.DefaultTransport is used.
func NewLatencyRoundTripper(base http.RoundTripper, config LatencyConfig) *LatencyRoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &LatencyRoundTripper{
		base:   base,
		config: config,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// RoundTrip delays the request, giving up early if the request context ends.
func (l *LatencyRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if l.config.Enabled {
		timer := time.NewTimer(l.delay())
		select {
		case <-timer.C:
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		}
	}
	return l.base.RoundTrip(req)
}

func (l *LatencyRoundTripper) delay() time.Duration {
	lo, hi := l.config.MinDelay, l.config.MaxDelay
	if hi <= lo {
		return lo
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return lo + time.Duration(l.rng.Int63n(int64(hi-lo)))
}

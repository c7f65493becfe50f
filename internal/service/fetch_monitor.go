package service

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/portfolio-dashboard/internal/types"
)

// Fetch monitor defaults
const (
	defaultMonitorSamples = 500
	slowFetchThreshold    = 5 * time.Second
)

// FetchMonitor tracks per-chain upstream fetch latency and failures
type FetchMonitor struct {
	mu         sync.RWMutex
	maxSamples int
	chains     map[types.ChainID]*chainSamples
}

type chainSamples struct {
	durations []time.Duration
	total     int64
	failures  int64
	timeouts  int64
	slow      int64
}

// ChainFetchStats summarizes the recorded fetches of one chain
type ChainFetchStats struct {
	Fetches  int64   `json:"fetches"`
	Failures int64   `json:"failures"`
	Timeouts int64   `json:"timeouts"`
	Slow     int64   `json:"slow"`
	AvgMs    float64 `json:"avgMs"`
	P95Ms    float64 `json:"p95Ms"`
}

// FetchHealth is the result of CheckHealth
type FetchHealth struct {
	Healthy bool     `json:"healthy"`
	Issues  []string `json:"issues"`
}

// NewFetchMonitor creates a new fetch monitor
func NewFetchMonitor() *FetchMonitor {
	return &FetchMonitor{
		maxSamples: defaultMonitorSamples,
		chains:     make(map[types.ChainID]*chainSamples),
	}
}

// Record adds one chain fetch outcome
func (m *FetchMonitor) Record(chain types.ChainID, duration time.Duration, failed, timedOut bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cs, ok := m.chains[chain]
	if !ok {
		cs = &chainSamples{}
		m.chains[chain] = cs
	}

	cs.total++
	if failed {
		cs.failures++
	}
	if timedOut {
		cs.timeouts++
	}
	if duration > slowFetchThreshold {
		cs.slow++
	}

	cs.durations = append(cs.durations, duration)
	if len(cs.durations) > m.maxSamples {
		cs.durations = cs.durations[len(cs.durations)-m.maxSamples:]
	}
}

// Stats returns the per-chain statistics
func (m *FetchMonitor) Stats() map[types.ChainID]ChainFetchStats {
	out := make(map[types.ChainID]ChainFetchStats)
	if m == nil {
		return out
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	for chain, cs := range m.chains {
		st := ChainFetchStats{
			Fetches:  cs.total,
			Failures: cs.failures,
			Timeouts: cs.timeouts,
			Slow:     cs.slow,
		}
		if n := len(cs.durations); n > 0 {
			sorted := make([]time.Duration, n)
			copy(sorted, cs.durations)
			sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

			var total time.Duration
			for _, d := range sorted {
				total += d
			}
			st.AvgMs = float64(total.Milliseconds()) / float64(n)

			idx := int(float64(n) * 0.95)
			if idx >= n {
				idx = n - 1
			}
			st.P95Ms = float64(sorted[idx].Milliseconds())
		}
		out[chain] = st
	}
	return out
}

// CheckHealth flags chains whose recent failure rate is at least half of
// their fetches, once they have enough samples to judge
func (m *FetchMonitor) CheckHealth() *FetchHealth {
	health := &FetchHealth{Healthy: true, Issues: make([]string, 0)}

	stats := m.Stats()
	for _, chain := range types.SupportedChains {
		st, ok := stats[chain]
		if !ok || st.Fetches < 10 {
			continue
		}
		rate := float64(st.Failures) / float64(st.Fetches) * 100
		if rate >= 50 {
			health.Healthy = false
			health.Issues = append(health.Issues,
				fmt.Sprintf("%s fetch failure rate %.1f%% over %d fetches", chain, rate, st.Fetches))
		}
	}
	return health
}

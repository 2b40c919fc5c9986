package session

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds session counters. A nil *Metrics is a no-op.
type Metrics struct {
	verifications *prometheus.CounterVec
	cache         *prometheus.CounterVec
}

// NewMetrics registers session collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "handoff",
			Subsystem: "session",
			Name:      "verifications_total",
			Help:      "Session verifications by result.",
		}, []string{"result"}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "handoff",
			Subsystem: "session",
			Name:      "cache_requests_total",
			Help:      "Session cache lookups by result (hit, miss).",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.verifications, m.cache)
	}
	return m
}

func (m *Metrics) verification(result string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(result).Inc()
}

func (m *Metrics) cacheResult(result string) {
	if m == nil {
		return
	}
	m.cache.WithLabelValues(result).Inc()
}

package pairing

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds pairing counters. A nil *Metrics is a no-op.
type Metrics struct {
	issued      *prometheus.CounterVec
	redemptions *prometheus.CounterVec
	polls       *prometheus.CounterVec
}

// NewMetrics registers pairing collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		issued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "handoff",
			Subsystem: "pairing",
			Name:      "tokens_issued_total",
			Help:      "Pairing tokens issued by initiating side.",
		}, []string{"initiator"}),
		redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "handoff",
			Subsystem: "pairing",
			Name:      "redemptions_total",
			Help:      "Redemption attempts by result.",
		}, []string{"result"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "handoff",
			Subsystem: "pairing",
			Name:      "polls_total",
			Help:      "Status polls by observed status.",
		}, []string{"status"}),
	}
	if reg != nil {
		reg.MustRegister(m.issued, m.redemptions, m.polls)
	}
	return m
}

func (m *Metrics) tokenIssued(i Initiator) {
	if m == nil {
		return
	}
	m.issued.WithLabelValues(string(i)).Inc()
}

func (m *Metrics) redemption(result string) {
	if m == nil {
		return
	}
	m.redemptions.WithLabelValues(result).Inc()
}

func (m *Metrics) poll(s Status) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(string(s)).Inc()
}

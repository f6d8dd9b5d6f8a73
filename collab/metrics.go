package collab

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultOK       = "ok"
	resultAborted  = "aborted"
	resultFailed   = "failed"
	resultConflict = "conflict"
	resultSkipped  = "skipped"
)

// Metrics counts replica activity. A nil *Metrics records nothing.
type Metrics struct {
	mutations *prometheus.CounterVec
	pushes    *prometheus.CounterVec
}

// NewMetrics registers the collab counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		mutations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tripsync",
			Subsystem: "collab",
			Name:      "mutations_total",
			Help:      "Document mutations by outcome (ok, skipped, aborted, failed, conflict).",
		}, []string{"kind", "result"}),
		pushes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tripsync",
			Subsystem: "collab",
			Name:      "pushes_total",
			Help:      "Subscription pushes applied to local replicas.",
		}, []string{"kind"}),
	}
}

func (m *Metrics) mutation(kind, result string) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) push(kind string) {
	if m == nil {
		return
	}
	m.pushes.WithLabelValues(kind).Inc()
}

package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Ticks     *prometheus.CounterVec
	Skipped   prometheus.Counter
	Discarded prometheus.Counter
	Mutations *prometheus.CounterVec
}

// NewMetrics registers the engine collectors with reg. A nil reg gives
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Ticks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "expiryx",
			Subsystem: "sync",
			Name:      "ticks_total",
			Help:      "Reconciliation ticks by result.",
		}, []string{"result"}),
		Skipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "expiryx",
			Subsystem: "sync",
			Name:      "skipped_ticks_total",
			Help:      "Poll ticks skipped because the previous tick was still running.",
		}),
		Discarded: f.NewCounter(prometheus.CounterOpts{
			Namespace: "expiryx",
			Subsystem: "sync",
			Name:      "discarded_records_total",
			Help:      "Fetched records dropped as stale against a local mutation.",
		}),
		Mutations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "expiryx",
			Subsystem: "sync",
			Name:      "mutations_total",
			Help:      "Submitted mutations by intent and outcome.",
		}, []string{"intent", "outcome"}),
	}
}

// Package telemetry exports Prometheus metrics for ledger commands and the
// events they publish.
package telemetry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/medsafar/supplychain/internal/domain/ledger"
)

// Metrics implements ledger.Observer and ledger.Publisher.
type Metrics struct {
	commands *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	events   *prometheus.CounterVec
}

// New registers the ledger metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		commands: f.NewCounterVec(prometheus.CounterOpts{
			Name: "medsafar_ledger_operations_total",
			Help: "Ledger operations processed, labeled by outcome kind",
		}, []string{"op", "outcome"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "medsafar_ledger_operation_duration_seconds",
			Help:    "Latency distribution of ledger operations",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"op"}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "medsafar_ledger_events_total",
			Help: "Committed ledger events, labeled by type",
		}, []string{"type"}),
	}
}

func (m *Metrics) ObserveCommand(op, outcome string, elapsed time.Duration) {
	m.commands.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *Metrics) Publish(_ context.Context, events []ledger.Event) error {
	for _, e := range events {
		m.events.WithLabelValues(string(e.Type)).Inc()
	}
	return nil
}

var (
	_ ledger.Observer  = (*Metrics)(nil)
	_ ledger.Publisher = (*Metrics)(nil)
)

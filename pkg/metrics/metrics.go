// Package metrics exposes Prometheus instrumentation for the stock engine.
// All collectors are registered once at construction and passed by handle,
// never reached through package-level state.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	MovementsRecorded   *prometheus.CounterVec
	MovementsQueued     prometheus.Counter
	AllocationsTotal    *prometheus.CounterVec
	AllocationConflicts prometheus.Counter
	DriftDetected       prometheus.Counter
	DriftCorrected      prometheus.Counter
	OutboxDepth         prometheus.Gauge
	OutboxEvictions     prometheus.Counter
	OutboxFlushed       *prometheus.CounterVec
	AlertsEmitted       *prometheus.CounterVec
}

// New creates and registers the engine collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MovementsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stock_movements_recorded_total",
			Help: "Ledger movements committed, by movement type.",
		}, []string{"movement_type"}),
		MovementsQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stock_movements_queued_total",
			Help: "Movements routed to the outbox after a transient store failure.",
		}),
		AllocationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stock_allocations_total",
			Help: "FEFO sale allocations, by outcome (full, partial, failed).",
		}, []string{"outcome"}),
		AllocationConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stock_allocation_conflicts_total",
			Help: "Optimistic concurrency conflicts during allocation.",
		}),
		DriftDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stock_drift_detected_total",
			Help: "Counter discrepancies found by reconciliation.",
		}),
		DriftCorrected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stock_drift_corrected_total",
			Help: "Counters overwritten from ledger replay.",
		}),
		OutboxDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stock_outbox_depth",
			Help: "Entries currently queued in the durable outbox.",
		}),
		OutboxEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stock_outbox_evictions_total",
			Help: "Outbox entries evicted to stay within the size bound.",
		}),
		OutboxFlushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stock_outbox_flushed_total",
			Help: "Outbox flush results, by outcome (ok, retry, failed).",
		}, []string{"outcome"}),
		AlertsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stock_alerts_emitted_total",
			Help: "Alerts computed, by kind and urgency.",
		}, []string{"kind", "urgency"}),
	}

	reg.MustRegister(
		m.MovementsRecorded,
		m.MovementsQueued,
		m.AllocationsTotal,
		m.AllocationConflicts,
		m.DriftDetected,
		m.DriftCorrected,
		m.OutboxDepth,
		m.OutboxEvictions,
		m.OutboxFlushed,
		m.AlertsEmitted,
	)

	return m
}

// NewNop returns metrics registered on a throwaway registry, for tests.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

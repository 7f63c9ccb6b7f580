// Package metrics exposes Prometheus instrumentation for the sink's
// drain cycle, its emitters, and its registry, following the
// teacher-wide promauto convention (one global registerer, metrics
// named "<component>_<noun>_total" / "..._seconds").
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DrainCyclesTotal counts completed drain loop iterations, labeled
	// by sink id.
	DrainCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratesink_drain_cycles_total",
			Help: "Total number of completed drain worker iterations",
		},
		[]string{"sink"},
	)

	// EmitFailuresTotal counts emitter failures that caused a drain
	// worker to exit and the supervisor to consider a restart, labeled
	// by sink id and emitter variant (containerfile/topicbus).
	EmitFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratesink_emit_failures_total",
			Help: "Total number of emitter failures observed by the drain worker",
		},
		[]string{"sink", "variant"},
	)

	// WorkerRestartsTotal counts supervisor-initiated drain worker
	// restarts, labeled by sink id.
	WorkerRestartsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratesink_worker_restarts_total",
			Help: "Total number of times the supervisor restarted a crashed drain worker",
		},
		[]string{"sink"},
	)

	// WorkerExhaustedTotal counts the supervisor giving up after
	// exhausting its restart budget, labeled by sink id.
	WorkerExhaustedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratesink_worker_exhausted_total",
			Help: "Total number of times the supervisor exhausted its restart attempts for a sink",
		},
		[]string{"sink"},
	)

	// RegistrySize reports the current number of registered sources,
	// labeled by sink id. Set by a periodic sampler (see
	// UpdateRegistrySize), since the registry itself has no metrics
	// dependency.
	RegistrySize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ratesink_registry_size",
			Help: "Current number of sources registered in the sink",
		},
		[]string{"sink"},
	)

	// NamesVersionChurnTotal counts names_version increments observed
	// across all cells in a sink, labeled by sink id. A source with
	// persistent_structure=false churns this every write (spec's
	// documented, not-a-bug, behavior); a high rate here is a signal to
	// set persistent_structure where the caller's shape is actually
	// stable.
	NamesVersionChurnTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratesink_names_version_churn_total",
			Help: "Total number of names_version increments observed across all cells",
		},
		[]string{"sink"},
	)

	// CellContentionTotal counts try-lock failures on the write or
	// drain path, labeled by sink id and path ("write"/"drain"). This is
	// the expected, lossy backpressure mechanism from spec.md §5, not an
	// error; the metric exists to let operators see how often it's
	// happening.
	CellContentionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratesink_cell_contention_total",
			Help: "Total number of try-lock failures on a cell, by path",
		},
		[]string{"sink", "path"},
	)

	// UnknownWriteTotal counts writes to a source that was never
	// assigned (or was already retracted), labeled by sink id.
	UnknownWriteTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratesink_unknown_write_total",
			Help: "Total number of write calls against an unassigned source",
		},
		[]string{"sink"},
	)
)

// RegistrySizer is the subset of *registry.Registry metrics needs,
// narrowed to avoid an import cycle between internal/metrics and
// internal/registry.
type RegistrySizer interface {
	Len() int
}

// UpdateRegistrySize samples reg.Len() into the RegistrySize gauge for
// sink. The drain worker calls it once per drain cycle; it is cheap (a
// single RLock).
func UpdateRegistrySize(sink string, reg RegistrySizer) {
	RegistrySize.WithLabelValues(sink).Set(float64(reg.Len()))
}

// Package metrics exposes the counters of a build run in Prometheus format.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters of one run on a private registry, so repeated
// runs in one process do not collide.
type Metrics struct {
	Registry *prometheus.Registry

	RecordsParsed       *prometheus.CounterVec
	RowsLoaded          *prometheus.CounterVec
	RowsRejected        *prometheus.CounterVec
	BatchesFailed       *prometheus.CounterVec
	AssociationsDropped *prometheus.CounterVec
	DerivationOutcomes  *prometheus.CounterVec
	SatelliteErrors     prometheus.Counter
	StageDuration       *prometheus.GaugeVec
}

// New creates and registers all counters.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		RecordsParsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "schenql_records_parsed_total",
			Help: "Corpus records parsed, by element name.",
		}, []string{"tag"}),
		RowsLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "schenql_rows_loaded_total",
			Help: "Rows written to the database, by table.",
		}, []string{"table"}),
		RowsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "schenql_rows_rejected_total",
			Help: "Rows the database declined, by table.",
		}, []string{"table"}),
		BatchesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "schenql_batches_failed_total",
			Help: "Batches rolled back for a constraint violation, by table.",
		}, []string{"table"}),
		AssociationsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "schenql_associations_dropped_total",
			Help: "References discarded during resolution or load, by reason.",
		}, []string{"reason"}),
		DerivationOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "schenql_container_key_derivations_total",
			Help: "Journal and conference key derivations, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		SatelliteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "schenql_satellite_errors_total",
			Help: "Satellite files skipped because they could not be parsed.",
		}),
		StageDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "schenql_stage_duration_seconds",
			Help: "Wall time of each pipeline stage in the last run.",
		}, []string{"stage"}),
	}
	m.Registry.MustRegister(
		m.RecordsParsed,
		m.RowsLoaded,
		m.RowsRejected,
		m.BatchesFailed,
		m.AssociationsDropped,
		m.DerivationOutcomes,
		m.SatelliteErrors,
		m.StageDuration,
	)
	return m
}

// WriteTextfile writes all metrics to path for the node exporter textfile
// collector.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}

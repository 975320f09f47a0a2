package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	nlQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinicsql_nl_queries_total",
			Help: "Natural-language queries by outcome (success or error kind).",
		},
		[]string{"outcome"},
	)
	nlStageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clinicsql_nl_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage.",
			Buckets: []float64{0.001, 0.005, 0.025, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		},
		[]string{"stage"},
	)
	modelAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinicsql_model_attempts_total",
			Help: "Language model calls by provider and result.",
		},
		[]string{"provider", "result"},
	)
	queryRows = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clinicsql_query_rows",
			Help:    "Rows returned per executed statement.",
			Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000},
		},
	)
	snapshotExportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinicsql_snapshot_exports_total",
			Help: "Snapshot exports by result.",
		},
		[]string{"result"},
	)
	snapshotExportDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clinicsql_snapshot_export_duration_seconds",
			Help:    "Duration of successful snapshot exports.",
			Buckets: prometheus.DefBuckets,
		},
	)
	snapshotRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinicsql_snapshot_rows_total",
			Help: "Rows written to snapshots per table.",
		},
		[]string{"table"},
	)
)

func init() {
	prometheus.MustRegister(
		nlQueriesTotal,
		nlStageDurationSeconds,
		modelAttemptsTotal,
		queryRows,
		snapshotExportsTotal,
		snapshotExportDurationSeconds,
		snapshotRowsTotal,
	)
}

func ObserveNLQuery(outcome string) {
	nlQueriesTotal.WithLabelValues(outcome).Inc()
}

func ObserveStage(stage string, elapsed time.Duration) {
	nlStageDurationSeconds.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func ObserveQueryRows(rows int) {
	queryRows.Observe(float64(rows))
}

// ModelAttempts records each language model call. It satisfies
// nl2sql.AttemptObserver.
type ModelAttempts struct{}

func (ModelAttempts) ObserveModelAttempt(provider, result string) {
	modelAttemptsTotal.WithLabelValues(provider, result).Inc()
}

func ObserveSnapshotExport(err error, elapsed time.Duration, rowsByTable map[string]int64) {
	if err != nil {
		snapshotExportsTotal.WithLabelValues("error").Inc()
		return
	}
	snapshotExportsTotal.WithLabelValues("success").Inc()
	snapshotExportDurationSeconds.Observe(elapsed.Seconds())
	for table, rows := range rowsByTable {
		snapshotRowsTotal.WithLabelValues(table).Add(float64(rows))
	}
}

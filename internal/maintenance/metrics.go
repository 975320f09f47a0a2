package maintenance

import "github.com/prometheus/client_golang/prometheus"

var (
	scheduledExportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinicsql_scheduled_exports_total",
			Help: "Total number of scheduled snapshot exports by status.",
		},
		[]string{"status"},
	)
	integrityRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinicsql_snapshot_integrity_runs_total",
			Help: "Total number of snapshot integrity check runs by status.",
		},
		[]string{"status"},
	)
	integrityFilesCheckedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clinicsql_snapshot_integrity_files_checked_total",
			Help: "Total number of snapshot table files checked by integrity validation.",
		},
	)
	integrityMissingFilesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clinicsql_snapshot_integrity_missing_files_total",
			Help: "Total number of missing snapshot table files detected by integrity validation.",
		},
	)
	integritySizeMismatchFilesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clinicsql_snapshot_integrity_size_mismatch_files_total",
			Help: "Total number of snapshot table file size mismatches detected by integrity validation.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		scheduledExportsTotal,
		integrityRunsTotal,
		integrityFilesCheckedTotal,
		integrityMissingFilesTotal,
		integritySizeMismatchFilesTotal,
	)
}

package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestDomainMetricsAreExported(t *testing.T) {
	ObserveNLQuery("success")
	ObserveStage("awaiting_model", 120*time.Millisecond)
	ObserveQueryRows(3)
	ModelAttempts{}.ObserveModelAttempt("dashscope", "success")
	ObserveSnapshotExport(nil, time.Second, map[string]int64{"customers": 10})
	ObserveSnapshotExport(errors.New("boom"), 0, nil)

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	found := map[string]bool{}
	for _, family := range families {
		found[family.GetName()] = len(family.GetMetric()) > 0
	}
	for _, name := range []string{
		"clinicsql_nl_queries_total",
		"clinicsql_nl_stage_duration_seconds",
		"clinicsql_model_attempts_total",
		"clinicsql_query_rows",
		"clinicsql_snapshot_exports_total",
		"clinicsql_snapshot_export_duration_seconds",
		"clinicsql_snapshot_rows_total",
	} {
		if !found[name] {
			t.Fatalf("metric %s not gathered", name)
		}
	}
}

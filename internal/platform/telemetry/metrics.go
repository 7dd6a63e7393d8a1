// Package telemetry holds the Prometheus collectors and the OpenTelemetry
// tracer shared by the data-access layer.
package telemetry

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_queries_total",
		Help: "Reads served, by table and data origin (remote, cache, none)",
	}, []string{"table", "origin"})

	MutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_mutations_total",
		Help: "Writes attempted, by table, operation and result",
	}, []string{"table", "op", "result"})

	ConnectionChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_connection_checks_total",
		Help: "Table reachability checks, by table and result",
	}, []string{"table", "result"})

	ImportRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_import_rows_total",
		Help: "Bulk import rows, by result",
	}, []string{"result"})

	DemoRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_demo_runs_total",
		Help: "Demo data generate/clear runs, by result",
	}, []string{"op", "result"})

	PanicsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_http_panics_total",
		Help: "Handler panics recovered, by route",
	}, []string{"route"})

	StoreDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crm_store_duration_seconds",
		Help:    "Latency of remote store calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
)

// Result maps an error to the "ok"/"error" label used across collectors.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveStore records the elapsed time of a store call started at start.
func ObserveStore(op string, start time.Time) {
	StoreDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Handler serves the default Prometheus registry.
func Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.Handler())
}

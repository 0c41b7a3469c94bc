package observability

import (
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "etl_job_attempts_total",
		Help: "Extraction+load attempts by outcome.",
	}, []string{"job", "source", "result"}) // result: success, retry, failed

	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "etl_job_runs_total",
		Help: "Terminal job runs by status.",
	}, []string{"job", "status"}) // status: succeeded, failed, disabled

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "etl_job_attempt_duration_seconds",
		Help:    "Duration of one extraction+load attempt.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"job"})

	RowsLoaded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "etl_rows_loaded_total",
		Help: "Rows written to the warehouse.",
	}, []string{"source", "table"})

	DatasetFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "etl_dataset_failures_total",
		Help: "Datasets skipped within an otherwise successful attempt.",
	}, []string{"source", "dataset", "stage"}) // stage: extract, load

	InsightsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "insights_generated_total",
		Help: "Insights emitted by the insight engine.",
	}, []string{"source", "priority"})

	InsightSourceErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "insight_source_errors_total",
		Help: "Sources skipped by the insight engine because a query failed.",
	}, []string{"source"})

	GrainDuplicateRows = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "warehouse_grain_duplicate_rows",
		Help: "Duplicate rows per table from the last grain validation.",
	}, []string{"table"})
)

// NewLogger creates a JSON structured logger writing to stdout.
func NewLogger(level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// MetricsHandler exposes the default Prometheus registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

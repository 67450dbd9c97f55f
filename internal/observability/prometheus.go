package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus records pipeline metrics into a prometheus registry for
// deployments scraped by an external collector.
type Prometheus struct {
	durations *prometheus.HistogramVec
	results   *prometheus.CounterVec
	rows      *prometheus.CounterVec
}

// NewPrometheus registers the pipeline collectors with reg (the default
// registerer when nil) and returns the recorder.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	rec := &Prometheus{
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "omicscore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of pipeline operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "omicscore",
			Name:      "operation_results_total",
			Help:      "Pipeline operation outcomes by status.",
		}, []string{"operation", "status"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "omicscore",
			Name:      "stage_rows_total",
			Help:      "Rows produced per pipeline stage.",
		}, []string{"stage"}),
	}
	for _, c := range []prometheus.Collector{rec.durations, rec.results, rec.rows} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

func (r *Prometheus) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.durations.WithLabelValues(operation).Observe(duration.Seconds())
	r.results.WithLabelValues(operation, status).Inc()
}

func (r *Prometheus) RecordRows(_ context.Context, stage string, rows int) {
	if stage == "" {
		return
	}
	r.rows.WithLabelValues(stage).Add(float64(rows))
}

var _ Recorder = (*Prometheus)(nil)

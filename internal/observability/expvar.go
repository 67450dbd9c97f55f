package observability

import (
	"context"
	"expvar"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var expvarSeq uint64

// Expvar publishes aggregate timing, result and row counters via expvar for
// deployments that prefer process-local metrics without a scrape endpoint.
// Totals are kept in milliseconds per operation.
type Expvar struct {
	name      string
	mu        sync.Mutex
	durations map[string]float64
	results   map[string]map[string]int64
	rows      map[string]int64
}

// ExpvarSnapshot is a read-only view of the recorded metrics.
type ExpvarSnapshot struct {
	DurationsMS map[string]float64          `json:"durations_ms_total"`
	Results     map[string]map[string]int64 `json:"results_total"`
	Rows        map[string]int64            `json:"rows_total"`
	RecordedAt  time.Time                   `json:"recorded_at"`
}

// NewExpvar constructs an expvar-backed recorder published under name. When
// name is empty a unique identifier is generated.
func NewExpvar(name string) *Expvar {
	if name == "" {
		id := atomic.AddUint64(&expvarSeq, 1)
		name = fmt.Sprintf("pipeline_metrics_%d", id)
	}
	rec := &Expvar{
		name:      name,
		durations: make(map[string]float64),
		results:   make(map[string]map[string]int64),
		rows:      make(map[string]int64),
	}
	expvar.Publish(name, expvar.Func(func() any {
		return rec.Snapshot()
	}))
	return rec
}

// Name returns the expvar export name.
func (r *Expvar) Name() string { return r.name }

// Snapshot returns an immutable copy of the aggregated metrics.
func (r *Expvar) Snapshot() ExpvarSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	durations := make(map[string]float64, len(r.durations))
	for op, total := range r.durations {
		durations[op] = total
	}
	results := make(map[string]map[string]int64, len(r.results))
	for op, statusCounts := range r.results {
		cpy := make(map[string]int64, len(statusCounts))
		for status, count := range statusCounts {
			cpy[status] = count
		}
		results[op] = cpy
	}
	rows := make(map[string]int64, len(r.rows))
	for stage, total := range r.rows {
		rows[stage] = total
	}

	return ExpvarSnapshot{
		DurationsMS: durations,
		Results:     results,
		Rows:        rows,
		RecordedAt:  time.Now().UTC(),
	}
}

func (r *Expvar) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	ms := float64(duration) / float64(time.Millisecond)
	status := "error"
	if success {
		status = "success"
	}

	r.mu.Lock()
	r.durations[operation] += ms
	if _, ok := r.results[operation]; !ok {
		r.results[operation] = make(map[string]int64, 2)
	}
	r.results[operation][status]++
	r.mu.Unlock()
}

func (r *Expvar) RecordRows(_ context.Context, stage string, rows int) {
	if stage == "" {
		return
	}
	r.mu.Lock()
	r.rows[stage] += int64(rows)
	r.mu.Unlock()
}

var _ Recorder = (*Expvar)(nil)

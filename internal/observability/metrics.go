package observability

import (
	"context"
	"expvar"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsRecorder receives operation outcomes and respondent load statistics.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
	RecordRespondentLoad(ctx context.Context, subsetID string, loaded, unweighted int)
	RecordCartesianRejection(ctx context.Context, size int)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration)   {}
func (noopMetrics) RecordRespondentLoad(context.Context, string, int, int) {}
func (noopMetrics) RecordCartesianRejection(context.Context, int)          {}

// NoopMetrics returns a recorder that discards everything.
func NoopMetrics() MetricsRecorder { return noopMetrics{} }

// MetricsOrNoop returns m, or a no-op recorder when m is nil.
func MetricsOrNoop(m MetricsRecorder) MetricsRecorder {
	if m == nil {
		return noopMetrics{}
	}
	return m
}

var expvarSeq uint64

// ExpvarMetricsRecorder publishes aggregate timing, result and load counters
// via expvar. Durations are totals in milliseconds per operation.
type ExpvarMetricsRecorder struct {
	name       string
	mu         sync.Mutex
	durations  map[string]float64
	results    map[string]map[string]int64
	loaded     map[string]int64
	unweighted map[string]int64
	rejections int64
}

// ExpvarMetricsSnapshot captures a read-only view of the recorded metrics.
type ExpvarMetricsSnapshot struct {
	DurationsMS map[string]float64          `json:"durations_ms_total"`
	Results     map[string]map[string]int64 `json:"results_total"`
	Loaded      map[string]int64            `json:"respondents_loaded"`
	Unweighted  map[string]int64            `json:"respondents_unweighted"`
	Rejections  int64                       `json:"cartesian_rejections"`
	RecordedAt  time.Time                   `json:"recorded_at"`
}

// NewExpvarMetricsRecorder constructs an expvar-backed recorder and publishes
// it under name. When name is empty a unique name is generated.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		id := atomic.AddUint64(&expvarSeq, 1)
		name = fmt.Sprintf("surveycore_metrics_%d", id)
	}
	rec := &ExpvarMetricsRecorder{
		name:       name,
		durations:  make(map[string]float64),
		results:    make(map[string]map[string]int64),
		loaded:     make(map[string]int64),
		unweighted: make(map[string]int64),
	}
	expvar.Publish(name, expvar.Func(func() any {
		return rec.Snapshot()
	}))
	return rec
}

// Name returns the expvar export name.
func (r *ExpvarMetricsRecorder) Name() string { return r.name }

// Snapshot returns a copy of the aggregated metrics.
func (r *ExpvarMetricsRecorder) Snapshot() ExpvarMetricsSnapshot {
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
	return ExpvarMetricsSnapshot{
		DurationsMS: durations,
		Results:     results,
		Loaded:      copyCounts(r.loaded),
		Unweighted:  copyCounts(r.unweighted),
		Rejections:  r.rejections,
		RecordedAt:  time.Now().UTC(),
	}
}

// Observe records an operation outcome.
func (r *ExpvarMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
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

// RecordRespondentLoad adds a subset load to the running totals.
func (r *ExpvarMetricsRecorder) RecordRespondentLoad(_ context.Context, subsetID string, loaded, unweighted int) {
	r.mu.Lock()
	r.loaded[subsetID] += int64(loaded)
	r.unweighted[subsetID] += int64(unweighted)
	r.mu.Unlock()
}

// RecordCartesianRejection counts an expansion refused for exceeding the cap.
func (r *ExpvarMetricsRecorder) RecordCartesianRejection(context.Context, int) {
	r.mu.Lock()
	r.rejections++
	r.mu.Unlock()
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

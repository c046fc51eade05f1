package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder exports operation and load metrics to a Prometheus registry.
type PrometheusRecorder struct {
	durations  *prometheus.HistogramVec
	operations *prometheus.CounterVec
	loaded     *prometheus.CounterVec
	unweighted *prometheus.CounterVec
	rejections prometheus.Counter
	rejected   prometheus.Histogram
}

// NewPrometheusRecorder registers the surveycore collectors on reg under namespace.
func NewPrometheusRecorder(reg prometheus.Registerer, namespace string) (*PrometheusRecorder, error) {
	if namespace == "" {
		namespace = "surveycore"
	}
	r := &PrometheusRecorder{
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of surveycore operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Completed surveycore operations by status.",
		}, []string{"operation", "status"}),
		loaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "respondents_loaded_total",
			Help:      "Respondents loaded into respondent repositories.",
		}, []string{"subset"}),
		unweighted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "respondents_unweighted_total",
			Help:      "Respondents placed in the unweighted quota cell.",
		}, []string{"subset"}),
		rejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cartesian_rejections_total",
			Help:      "Target expansions refused for exceeding the cartesian product cap.",
		}),
		rejected: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cartesian_rejected_size",
			Help:      "Product size of refused target expansions.",
			Buckets:   prometheus.ExponentialBuckets(1e5, 10, 6),
		}),
	}
	for _, c := range []prometheus.Collector{r.durations, r.operations, r.loaded, r.unweighted, r.rejections, r.rejected} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Observe records an operation outcome.
func (r *PrometheusRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.durations.WithLabelValues(operation).Observe(duration.Seconds())
	r.operations.WithLabelValues(operation, status).Inc()
}

// RecordRespondentLoad adds a subset load to the counters.
func (r *PrometheusRecorder) RecordRespondentLoad(_ context.Context, subsetID string, loaded, unweighted int) {
	r.loaded.WithLabelValues(subsetID).Add(float64(loaded))
	r.unweighted.WithLabelValues(subsetID).Add(float64(unweighted))
}

// RecordCartesianRejection counts an expansion refused for exceeding the cap.
func (r *PrometheusRecorder) RecordCartesianRejection(_ context.Context, size int) {
	r.rejections.Inc()
	r.rejected.Observe(float64(size))
}

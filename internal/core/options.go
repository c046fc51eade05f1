package core

import (
	"time"

	"surveycore/internal/entity"
	"surveycore/internal/observability"
	"surveycore/internal/respondents"
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now returns the function's time in UTC, or the system time when nil.
func (f ClockFunc) Now() time.Time {
	if f == nil {
		return time.Now().UTC()
	}
	return f().UTC()
}

// Option configures a Service.
type Option func(*serviceOptions)

type serviceOptions struct {
	logger      observability.Logger
	metrics     observability.MetricsRecorder
	tracer      observability.Tracer
	clock       Clock
	maxProduct  int
	configs     entity.SetConfigurationRepository
	sourceOpts  []respondents.SourceOption
	factoryOpts []respondents.FactoryOption
}

func defaultOptions() serviceOptions {
	return serviceOptions{
		logger:  observability.NoopLogger(),
		metrics: observability.NoopMetrics(),
		tracer:  observability.NoopTracer(),
		clock:   ClockFunc(nil),
	}
}

// WithLogger sets the service logger. Repositories and loaders owned by the
// service log through it.
func WithLogger(l observability.Logger) Option {
	return func(o *serviceOptions) { o.logger = observability.OrNoop(l) }
}

// WithMetricsRecorder sets the recorder receiving operation and load metrics.
func WithMetricsRecorder(m observability.MetricsRecorder) Option {
	return func(o *serviceOptions) { o.metrics = observability.MetricsOrNoop(m) }
}

// WithTracer sets the tracer wrapping every service operation.
func WithTracer(t observability.Tracer) Option {
	return func(o *serviceOptions) { o.tracer = observability.TracerOrNoop(t) }
}

// WithClock overrides the clock stamping applied definitions.
func WithClock(c Clock) Option {
	return func(o *serviceOptions) {
		if c == nil {
			c = ClockFunc(nil)
		}
		o.clock = c
	}
}

// WithMaxCartesianProductSize caps target expansion. Non-positive values
// keep the default.
func WithMaxCartesianProductSize(n int) Option {
	return func(o *serviceOptions) { o.maxProduct = n }
}

// WithSetConfigurationRepository stores entity set configurations somewhere
// other than memory.
func WithSetConfigurationRepository(r entity.SetConfigurationRepository) Option {
	return func(o *serviceOptions) { o.configs = r }
}

// WithSourceOptions passes options to every respondent source the service
// creates, e.g. a quota cell cache.
func WithSourceOptions(opts ...respondents.SourceOption) Option {
	return func(o *serviceOptions) { o.sourceOpts = append(o.sourceOpts, opts...) }
}

// WithFactoryOptions passes options to the respondent factories built by
// RespondentFactory.
func WithFactoryOptions(opts ...respondents.FactoryOption) Option {
	return func(o *serviceOptions) { o.factoryOpts = append(o.factoryOpts, opts...) }
}

// Package observability holds the logging, metrics and tracing seams shared by
// the surveycore stores and loaders.
package observability

import (
	"log/slog"
)

// Logger is the structured logging contract used across surveycore. Arguments
// are alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// NoopLogger returns a logger that discards everything.
func NoopLogger() Logger { return noopLogger{} }

// OrNoop returns l, or a no-op logger when l is nil.
func OrNoop(l Logger) Logger {
	if l == nil {
		return noopLogger{}
	}
	return l
}

type slogLogger struct {
	l *slog.Logger
}

// NewSlogLogger adapts a *slog.Logger. A nil logger uses slog.Default().
func NewSlogLogger(l *slog.Logger) Logger {
	if l == nil {
		l = slog.Default()
	}
	return slogLogger{l: l}
}

func (s slogLogger) Debug(msg string, args ...any) { s.l.Debug(msg, args...) }
func (s slogLogger) Info(msg string, args ...any)  { s.l.Info(msg, args...) }
func (s slogLogger) Warn(msg string, args ...any)  { s.l.Warn(msg, args...) }
func (s slogLogger) Error(msg string, args ...any) { s.l.Error(msg, args...) }

// Critical logs a data-quality failure that leaves a subset without data.
// It is emitted at error level tagged with severity=critical.
func Critical(l Logger, msg string, args ...any) {
	OrNoop(l).Error(msg, append([]any{"severity", "critical"}, args...)...)
}

// ParseLevel maps a configured level name onto a slog level.
func ParseLevel(name string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// With returns a logger that prepends args to every call.
func With(l Logger, args ...any) Logger {
	if len(args) == 0 {
		return OrNoop(l)
	}
	return withLogger{base: OrNoop(l), args: args}
}

type withLogger struct {
	base Logger
	args []any
}

func (w withLogger) merge(args []any) []any {
	out := make([]any, 0, len(w.args)+len(args))
	out = append(out, w.args...)
	return append(out, args...)
}

func (w withLogger) Debug(msg string, args ...any) { w.base.Debug(msg, w.merge(args)...) }
func (w withLogger) Info(msg string, args ...any)  { w.base.Info(msg, w.merge(args)...) }
func (w withLogger) Warn(msg string, args ...any)  { w.base.Warn(msg, w.merge(args)...) }
func (w withLogger) Error(msg string, args ...any) { w.base.Error(msg, w.merge(args)...) }

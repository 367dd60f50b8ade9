// Package infra implements infrastructure concerns (logging sink, target
// process discovery).
package infra

import (
	"go.uber.org/zap"
)

// Sink is the process-wide logging sink for interception decisions.
// The quiet flag is fixed at construction, before any strategy installs
// a hook, and is read-only afterwards; nothing mutates it later.
type Sink struct {
	logger *zap.Logger
	quiet  bool
}

// NewSink creates a sink over a zap logger.
func NewSink(logger *zap.Logger, quiet bool) *Sink {
	return &Sink{logger: logger, quiet: quiet}
}

// NewNopSink creates a sink that discards everything (for tests).
func NewNopSink() *Sink {
	return &Sink{logger: zap.NewNop(), quiet: true}
}

// Log records a message unconditionally.
func (s *Sink) Log(msg string, fields ...zap.Field) {
	s.logger.Info(msg, fields...)
}

// Warn records a warning unconditionally.
func (s *Sink) Warn(msg string, fields ...zap.Field) {
	s.logger.Warn(msg, fields...)
}

// Verbose records a per-hook diagnostic message; suppressed when quiet.
func (s *Sink) Verbose(msg string, fields ...zap.Field) {
	if s.quiet {
		return
	}
	s.logger.Info(msg, fields...)
}

// Quiet reports whether per-hook diagnostics are suppressed.
func (s *Sink) Quiet() bool { return s.quiet }

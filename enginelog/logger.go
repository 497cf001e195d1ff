// Package enginelog provides the engine's structured logging, adapted from
// the teacher's common.ContextLogger/StructuredLog pair: a logrus base
// logger, an error/info-stream splitter, and a context-aware field builder
// used throughout the engine package instead of ad-hoc log.Printf calls.
package enginelog

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
)

// Level mirrors the engine's recognized log levels.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelFatal Level = "fatal"
)

// Config configures a new base logger.
type Config struct {
	Level      Level
	Format     string // "json" or "text"
	EngineName string
	AddCaller  bool
	TimeFormat string
}

// DefaultConfig returns sensible defaults: info level, text format.
func DefaultConfig() Config {
	return Config{Level: LevelInfo, Format: "text", TimeFormat: time.RFC3339}
}

// New creates a base *logrus.Logger from cfg, routed through Splitter so
// error-level lines land on stderr and everything else on stdout.
func New(cfg Config) *logrus.Logger {
	logger := logrus.New()

	switch cfg.Level {
	case LevelDebug:
		logger.SetLevel(logrus.DebugLevel)
	case LevelWarn:
		logger.SetLevel(logrus.WarnLevel)
	case LevelError:
		logger.SetLevel(logrus.ErrorLevel)
	case LevelFatal:
		logger.SetLevel(logrus.FatalLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: cfg.TimeFormat})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{TimestampFormat: cfg.TimeFormat, FullTimestamp: true})
	}

	logger.SetReportCaller(cfg.AddCaller)
	logger.SetOutput(&Splitter{})
	return logger
}

// Splitter routes logrus output: error-level lines to stderr, everything
// else to stdout.
type Splitter struct{}

func (Splitter) Write(p []byte) (int, error) {
	if bytes.Contains(p, []byte("level=error")) || bytes.Contains(p, []byte("level=fatal")) ||
		bytes.Contains(p, []byte(`"level":"error"`)) || bytes.Contains(p, []byte(`"level":"fatal"`)) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// ContextLogger carries a fixed set of fields (rule id, correlation id,
// component name) across a chain of WithX calls, the way one trigger's
// processing accumulates context as it moves through the dispatcher.
type ContextLogger struct {
	logger *logrus.Logger
	fields logrus.Fields
}

// NewContextLogger wraps logger (the package's New, if nil) with a base
// field set.
func NewContextLogger(logger *logrus.Logger, fields map[string]interface{}) *ContextLogger {
	if logger == nil {
		logger = New(DefaultConfig())
	}
	base := make(logrus.Fields, len(fields))
	for k, v := range fields {
		base[k] = v
	}
	return &ContextLogger{logger: logger, fields: base}
}

func (cl *ContextLogger) clone(extra logrus.Fields) *ContextLogger {
	merged := make(logrus.Fields, len(cl.fields)+len(extra))
	for k, v := range cl.fields {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return &ContextLogger{logger: cl.logger, fields: merged}
}

func (cl *ContextLogger) WithField(key string, value interface{}) *ContextLogger {
	return cl.clone(logrus.Fields{key: value})
}

func (cl *ContextLogger) WithFields(fields map[string]interface{}) *ContextLogger {
	extra := make(logrus.Fields, len(fields))
	for k, v := range fields {
		extra[k] = v
	}
	return cl.clone(extra)
}

func (cl *ContextLogger) WithError(err error) *ContextLogger {
	return cl.clone(logrus.Fields{"error": err.Error()})
}

// WithContext pulls a correlation/causation id pair out of ctx, when a
// caller has stashed them there with context.WithValue.
func (cl *ContextLogger) WithContext(ctx context.Context) *ContextLogger {
	extra := logrus.Fields{}
	if v := ctx.Value(correlationIDKey{}); v != nil {
		extra["correlation_id"] = v
	}
	if v := ctx.Value(causationIDKey{}); v != nil {
		extra["causation_id"] = v
	}
	return cl.clone(extra)
}

type correlationIDKey struct{}
type causationIDKey struct{}

// WithCorrelation returns a context carrying the correlation/causation ids
// for ContextLogger.WithContext to pick up later in the call chain.
func WithCorrelation(ctx context.Context, correlationID, causationID string) context.Context {
	ctx = context.WithValue(ctx, correlationIDKey{}, correlationID)
	ctx = context.WithValue(ctx, causationIDKey{}, causationID)
	return ctx
}

func (cl *ContextLogger) Debug(msg string) { cl.logger.WithFields(cl.fields).Debug(msg) }
func (cl *ContextLogger) Info(msg string)  { cl.logger.WithFields(cl.fields).Info(msg) }
func (cl *ContextLogger) Warn(msg string)  { cl.logger.WithFields(cl.fields).Warn(msg) }
func (cl *ContextLogger) Error(msg string) { cl.logger.WithFields(cl.fields).Error(msg) }

func (cl *ContextLogger) Debugf(format string, args ...interface{}) {
	cl.logger.WithFields(cl.fields).Debugf(format, args...)
}
func (cl *ContextLogger) Infof(format string, args ...interface{}) {
	cl.logger.WithFields(cl.fields).Infof(format, args...)
}
func (cl *ContextLogger) Warnf(format string, args ...interface{}) {
	cl.logger.WithFields(cl.fields).Warnf(format, args...)
}
func (cl *ContextLogger) Errorf(format string, args ...interface{}) {
	cl.logger.WithFields(cl.fields).Errorf(format, args...)
}

// Entry returns a *logrus.Entry carrying the same fields, for handing to
// collaborators (action executors, the dispatcher) that expect a raw entry.
func (cl *ContextLogger) Entry() *logrus.Entry {
	return cl.logger.WithFields(cl.fields)
}

// EngineLogger builds the root ContextLogger for one engine instance,
// tagged with its configured name.
func EngineLogger(logger *logrus.Logger, engineName string) *ContextLogger {
	return NewContextLogger(logger, map[string]interface{}{"engine": engineName})
}

// WithTiming runs fn, logging start/completion with duration, the way the
// teacher's LogOperation wraps a unit of work.
func WithTiming(logger *ContextLogger, operation string, fn func() error) error {
	start := time.Now()
	logger.WithField("operation", operation).Debug("operation started")

	err := fn()
	duration := time.Since(start)
	entry := logger.WithFields(map[string]interface{}{
		"operation":   operation,
		"duration_ms": duration.Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Error("operation failed")
		return err
	}
	entry.Debug("operation completed")
	return nil
}

// RecoverAndLog, when deferred, recovers a panic, if any, and logs it with
// a stack trace.
func RecoverAndLog(logger *ContextLogger) {
	if r := recover(); r != nil {
		buf := make([]byte, 4096)
		n := runtime.Stack(buf, false)
		logger.WithFields(map[string]interface{}{
			"panic":      fmt.Sprintf("%v", r),
			"stacktrace": string(buf[:n]),
		}).Error("recovered from panic")
	}
}

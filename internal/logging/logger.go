// Package logging provides the structured, component-aware logging sink used
// throughout codeforge. Every call site passes a map of fields rather than
// formatting strings, so downstream sinks (stdout, OTel, a log aggregator)
// can render or index them uniformly.
package logging

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
)

// Fields is the structured payload attached to a log record.
type Fields map[string]interface{}

// Logger is the logging contract every codeforge component depends on.
type Logger interface {
	Debug(msg string, fields Fields)
	Info(msg string, fields Fields)
	Warn(msg string, fields Fields)
	Error(msg string, fields Fields)
}

// ComponentAwareLogger can be scoped to a named component so every record it
// emits carries a "component" field without the caller repeating it.
type ComponentAwareLogger interface {
	Logger
	WithComponent(component string) Logger
}

// NoOpLogger discards everything. It is the safe zero value for components
// that have not been wired to a real sink yet.
type NoOpLogger struct{}

func (NoOpLogger) Debug(string, Fields) {}
func (NoOpLogger) Info(string, Fields)  {}
func (NoOpLogger) Warn(string, Fields)  {}
func (NoOpLogger) Error(string, Fields) {}

// WithComponent on NoOpLogger returns itself; there is nothing to tag.
func (n NoOpLogger) WithComponent(string) Logger { return n }

// Level controls which records StdLogger emits.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// StdLogger is a minimal structured logger over the standard library's
// *log.Logger, writing one line per record as `level msg key=value ...`.
// It is the default sink wired by cmd/codeforged when no richer exporter is
// configured.
type StdLogger struct {
	mu        sync.Mutex
	out       *log.Logger
	level     Level
	component string
}

// NewStdLogger builds a StdLogger writing to stderr at the given level.
func NewStdLogger(level Level) *StdLogger {
	return &StdLogger{out: log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds), level: level}
}

func (l *StdLogger) WithComponent(component string) Logger {
	return &StdLogger{out: l.out, level: l.level, component: component}
}

func (l *StdLogger) log(level Level, label, msg string, fields Fields) {
	if level < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	line := label + " " + msg
	if l.component != "" {
		line += fmt.Sprintf(" component=%s", l.component)
	}
	for k, v := range fields {
		line += fmt.Sprintf(" %s=%v", k, v)
	}
	l.out.Println(line)
}

func (l *StdLogger) Debug(msg string, fields Fields) { l.log(LevelDebug, "DEBUG", msg, fields) }
func (l *StdLogger) Info(msg string, fields Fields)  { l.log(LevelInfo, "INFO", msg, fields) }
func (l *StdLogger) Warn(msg string, fields Fields)  { l.log(LevelWarn, "WARN", msg, fields) }
func (l *StdLogger) Error(msg string, fields Fields) { l.log(LevelError, "ERROR", msg, fields) }

type ctxKey struct{}

// IntoContext stores a logger in ctx so phase-level code can pull the
// ambient sink back out without threading it through every signature.
func IntoContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored in ctx, or NoOpLogger if none.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(ctxKey{}).(Logger); ok && l != nil {
		return l
	}
	return NoOpLogger{}
}

// JobFields builds the {jobId, iteration, phase} triple spec.md §9 requires
// on every phase-boundary log line.
func JobFields(jobID string, iteration int, phase string, extra Fields) Fields {
	f := Fields{"job_id": jobID, "iteration": iteration, "phase": phase}
	for k, v := range extra {
		f[k] = v
	}
	return f
}

// Package logger wraps zerolog with the structured field vocabulary this
// pipeline logs against: component, operation, email_id, category,
// retry_count, circuit_state, plus a free-form context object (external
// interfaces, "Log line shape").
package logger

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.TimestampFieldName = "timestamp"
	zerolog.LevelFieldName = "severity"
	zerolog.MessageFieldName = "message"
	zerolog.ErrorFieldName = "error"
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.LevelFieldMarshalFunc = func(l zerolog.Level) string {
		return strings.ToUpper(l.String())
	}
}

// Level is zerolog's severity ordering (Debug < Info < Warn < Error < Fatal),
// reused directly rather than re-declared.
type Level = zerolog.Level

const (
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
	LevelFatal = zerolog.FatalLevel
)

// ParseLevel parses a string level to Level, defaulting to info.
func ParseLevel(s string) Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil {
		return LevelInfo
	}
	return lvl
}

// Category labels the retry classification a log line pertains to.
type Category string

const (
	CategoryTransient Category = "TRANSIENT"
	CategoryPermanent Category = "PERMANENT"
	CategoryCritical  Category = "CRITICAL"
)

// Logger accumulates fields immutably via With* calls onto an underlying
// zerolog.Logger, so a derived logger can be handed to a goroutine without
// synchronization. The free-form "context" object is kept separately because
// it nests as a single sub-object rather than flattening into top-level
// fields.
type Logger struct {
	zl      zerolog.Logger
	context map[string]any
}

// Config configures a Logger.
type Config struct {
	Level  Level
	Output io.Writer
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Init initializes the process-wide default logger. Safe to call once;
// subsequent calls are no-ops, matching the teacher's singleton-init idiom.
func Init(cfg Config) {
	once.Do(func() {
		defaultLogger = New(cfg)
	})
}

// Default returns the process-wide default logger, initializing it with
// sane defaults if Init was never called.
func Default() *Logger {
	if defaultLogger == nil {
		Init(Config{Level: LevelInfo, Output: os.Stdout})
	}
	return defaultLogger
}

// New creates a standalone logger instance (mainly for tests).
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	zl := zerolog.New(cfg.Output).Level(cfg.Level).With().Timestamp().Logger()
	return &Logger{zl: zl}
}

func (l *Logger) cloneContext() map[string]any {
	if l.context == nil {
		return nil
	}
	m := make(map[string]any, len(l.context))
	for k, v := range l.context {
		m[k] = v
	}
	return m
}

// WithComponent tags subsequent log lines with the emitting component
// (e.g. "orchestrator", "writer", "daemon").
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{zl: l.zl.With().Str("component", component).Logger(), context: l.cloneContext()}
}

// WithOperation tags subsequent log lines with the operation being
// performed (e.g. "extract", "match_company", "write_page").
func (l *Logger) WithOperation(operation string) *Logger {
	return &Logger{zl: l.zl.With().Str("operation", operation).Logger(), context: l.cloneContext()}
}

// WithEmailID tags subsequent log lines with the message id under
// processing.
func (l *Logger) WithEmailID(emailID string) *Logger {
	return &Logger{zl: l.zl.With().Str("email_id", emailID).Logger(), context: l.cloneContext()}
}

// WithCategory tags subsequent log lines with a retry-classification
// category.
func (l *Logger) WithCategory(category Category) *Logger {
	return &Logger{zl: l.zl.With().Str("category", string(category)).Logger(), context: l.cloneContext()}
}

// WithRetryCount tags subsequent log lines with the current attempt count.
func (l *Logger) WithRetryCount(count int) *Logger {
	return &Logger{zl: l.zl.With().Int("retry_count", count).Logger(), context: l.cloneContext()}
}

// WithCircuitState tags subsequent log lines with a circuit breaker state.
func (l *Logger) WithCircuitState(state string) *Logger {
	return &Logger{zl: l.zl.With().Str("circuit_state", state).Logger(), context: l.cloneContext()}
}

// WithError attaches error text to subsequent log lines.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{zl: l.zl.With().Err(err).Logger(), context: l.cloneContext()}
}

// WithDuration attaches an elapsed duration (ms) to subsequent log lines.
func (l *Logger) WithDuration(d time.Duration) *Logger {
	ms := float64(d.Microseconds()) / 1000.0
	return &Logger{zl: l.zl.With().Float64("duration_ms", ms).Logger(), context: l.cloneContext()}
}

// WithContext merges arbitrary key/value pairs into the free-form "context"
// object nested under each log line.
func (l *Logger) WithContext(fields map[string]any) *Logger {
	n := &Logger{zl: l.zl, context: l.cloneContext()}
	if n.context == nil {
		n.context = make(map[string]any, len(fields))
	}
	for k, v := range fields {
		n.context[k] = v
	}
	return n
}

func (l *Logger) emit(ev *zerolog.Event, level Level, msg string, args ...any) {
	if level >= LevelError {
		if _, file, line, ok := runtime.Caller(2); ok {
			ev = ev.Str("file", file).Int("line", line)
		}
	}
	if len(l.context) > 0 {
		ev = ev.Interface("context", l.context)
	}
	ev.Msg(fmt.Sprintf(msg, args...))
}

// Log methods.
func (l *Logger) Debug(msg string, args ...any) { l.emit(l.zl.Debug(), LevelDebug, msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.emit(l.zl.Info(), LevelInfo, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.emit(l.zl.Warn(), LevelWarn, msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.emit(l.zl.Error(), LevelError, msg, args...) }

// Fatal logs at fatal severity and terminates the process (zerolog's Fatal
// event calls os.Exit(1) once Msg is sent).
func (l *Logger) Fatal(msg string, args ...any) { l.emit(l.zl.Fatal(), LevelFatal, msg, args...) }

// Package-level convenience functions using the default logger.
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }
func Fatal(msg string, args ...any) { Default().Fatal(msg, args...) }

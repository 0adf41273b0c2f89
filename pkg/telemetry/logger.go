package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultSource is the source used when none is configured. Syslog lines from
// the default source carry no "(source)" prefix.
const DefaultSource = "converge"

const (
	severityField = "severity"
	sourceField   = "source"
)

// Logger wraps zerolog.Logger with the agent's eight-level log sink.
//
// A Logger is cheap to derive; all derived loggers share the underlying
// destination, which is released by Close.
type Logger struct {
	zlog   zerolog.Logger
	source string
	min    Level
	sink   *sink
	config LoggingConfig
}

// sink owns the open destination handle.
type sink struct {
	sys    syslogWriter
	closer io.Closer
	once   sync.Once
	err    error
}

func (s *sink) close() error {
	if s == nil {
		return nil
	}
	s.once.Do(func() {
		if s.closer != nil {
			s.err = s.closer.Close()
		}
	})
	return s.err
}

// loggerContextKey is the context key for logger instances.
type loggerContextKey struct{}

// NewLogger resolves the configured destination once and returns a logger
// writing to it. The caller must Close the logger on shutdown.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	minLevel, _ := ParseLevel(cfg.Level)

	source := cfg.Source
	if source == "" {
		source = DefaultSource
	}

	l := &Logger{
		source: source,
		min:    minLevel,
		sink:   &sink{},
		config: cfg,
	}

	switch cfg.Destination {
	case DestinationSyslog:
		w, err := openSyslog(DefaultSource)
		if err != nil {
			return nil, fmt.Errorf("failed to open syslog: %w", err)
		}
		l.sink.sys = w
		l.sink.closer = w
		l.zlog = zerolog.Nop()
		return l, nil

	case DestinationConsole:
		out := cfg.Writer
		if out == nil {
			out = os.Stdout
		}
		l.zlog = newZerolog(out, cfg, false)

	default:
		file, err := os.OpenFile(cfg.Destination, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", cfg.Destination, err)
		}
		l.sink.closer = file
		l.zlog = newZerolog(file, cfg, true)
	}

	return l, nil
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *Logger {
	return &Logger{
		zlog:   zerolog.Nop(),
		source: DefaultSource,
		min:    LevelCrit + 1,
		sink:   &sink{},
	}
}

func newZerolog(out io.Writer, cfg LoggingConfig, withTimestamp bool) zerolog.Logger {
	if cfg.Format == "json" {
		return zerolog.New(out).With().Timestamp().Logger()
	}

	parts := []string{zerolog.MessageFieldName}
	if withTimestamp {
		parts = []string{zerolog.TimestampFieldName, zerolog.MessageFieldName}
	}
	color := !withTimestamp && !cfg.NoColor

	writer := zerolog.ConsoleWriter{
		Out:           out,
		NoColor:       true,
		TimeFormat:    time.RFC3339,
		PartsOrder:    parts,
		FieldsExclude: []string{severityField, sourceField},
		FormatPrepare: func(evt map[string]interface{}) error {
			sev, _ := evt[severityField].(string)
			src, _ := evt[sourceField].(string)
			msg, _ := evt[zerolog.MessageFieldName].(string)
			line := fmt.Sprintf("%s (%s): %s", src, sev, msg)
			if color {
				if lvl, err := ParseLevel(sev); err == nil {
					line = lvl.colorize(line)
				}
			}
			evt[zerolog.MessageFieldName] = line
			return nil
		},
	}
	return zerolog.New(writer).With().Timestamp().Logger()
}

func (l *Logger) derive(zlog zerolog.Logger) *Logger {
	return &Logger{
		zlog:   zlog,
		source: l.source,
		min:    l.min,
		sink:   l.sink,
		config: l.config,
	}
}

// WithSource returns a logger whose messages are attributed to source.
func (l *Logger) WithSource(source string) *Logger {
	child := l.derive(l.zlog)
	child.source = source
	return child
}

// Source returns the message source of this logger.
func (l *Logger) Source() string {
	return l.source
}

// WithContext adds the logger to the context.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, l)
}

// FromContext retrieves the logger from the context.
// If no logger is found, it returns a console logger at notice level.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerContextKey{}).(*Logger); ok {
		return l
	}
	return &Logger{
		zlog:   newZerolog(os.Stderr, LoggingConfig{NoColor: true}, false),
		source: DefaultSource,
		min:    LevelNotice,
		sink:   &sink{},
	}
}

// WithFields returns a logger with additional fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	ctx := l.zlog.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return l.derive(ctx.Logger())
}

// WithField returns a logger with a single additional field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.derive(l.zlog.With().Interface(key, value).Logger())
}

// WithRunID adds a run_id field to the logger.
func (l *Logger) WithRunID(runID string) *Logger {
	return l.WithField("run_id", runID)
}

// WithError adds error information to the logger.
func (l *Logger) WithError(err error) *Logger {
	return l.derive(l.zlog.With().Err(err).Logger())
}

// Enabled reports whether messages at level pass the minimum level filter.
func (l *Logger) Enabled(level Level) bool {
	return level >= l.min
}

// Log writes msg at level.
func (l *Logger) Log(level Level, msg string) {
	if !l.Enabled(level) {
		return
	}

	if sys := l.sink.sys; sys != nil {
		if l.source != DefaultSource {
			msg = "(" + l.source + ") " + msg
		}
		_ = writeSyslog(sys, level, msg)
		return
	}

	l.zlog.WithLevel(level.zerolog()).
		Str(severityField, level.String()).
		Str(sourceField, l.source).
		Msg(msg)
}

// Logf writes a formatted message at level.
func (l *Logger) Logf(level Level, format string, args ...interface{}) {
	if !l.Enabled(level) {
		return
	}
	l.Log(level, fmt.Sprintf(format, args...))
}

// Debug logs a debug-level message.
func (l *Logger) Debug(msg string) { l.Log(LevelDebug, msg) }

// Debugf logs a formatted debug-level message.
func (l *Logger) Debugf(format string, args ...interface{}) { l.Logf(LevelDebug, format, args...) }

// Info logs an info-level message.
func (l *Logger) Info(msg string) { l.Log(LevelInfo, msg) }

// Infof logs a formatted info-level message.
func (l *Logger) Infof(format string, args ...interface{}) { l.Logf(LevelInfo, format, args...) }

// Notice logs a notice-level message.
func (l *Logger) Notice(msg string) { l.Log(LevelNotice, msg) }

// Noticef logs a formatted notice-level message.
func (l *Logger) Noticef(format string, args ...interface{}) { l.Logf(LevelNotice, format, args...) }

// Warning logs a warning-level message.
func (l *Logger) Warning(msg string) { l.Log(LevelWarning, msg) }

// Warningf logs a formatted warning-level message.
func (l *Logger) Warningf(format string, args ...interface{}) { l.Logf(LevelWarning, format, args...) }

// Err logs an err-level message.
func (l *Logger) Err(msg string) { l.Log(LevelErr, msg) }

// Errf logs a formatted err-level message.
func (l *Logger) Errf(format string, args ...interface{}) { l.Logf(LevelErr, format, args...) }

// Alert logs an alert-level message.
func (l *Logger) Alert(msg string) { l.Log(LevelAlert, msg) }

// Emerg logs an emerg-level message.
func (l *Logger) Emerg(msg string) { l.Log(LevelEmerg, msg) }

// Crit logs a crit-level message.
func (l *Logger) Crit(msg string) { l.Log(LevelCrit, msg) }

// Close releases the destination. It is safe to call more than once and from
// any logger derived from the same NewLogger call.
func (l *Logger) Close() error {
	return l.sink.close()
}

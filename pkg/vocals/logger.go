package vocals

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// VocalsLogger wraps zerolog for structured logging
type VocalsLogger struct {
	logger zerolog.Logger
}

// LogLevel represents the logging level
type LogLevel int

const (
	TraceLevel LogLevel = iota
	DebugLevel
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
	PanicLevel
)

// ParseLogLevel maps the config's debug level names onto LogLevel.
func ParseLogLevel(name string) LogLevel {
	switch strings.ToUpper(name) {
	case "TRACE":
		return TraceLevel
	case "DEBUG":
		return DebugLevel
	case "WARN", "WARNING":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	}
	return InfoLevel
}

// LogConfig represents the configuration for logging
type LogConfig struct {
	Level     LogLevel
	Pretty    bool
	Output    io.Writer
	AddSource bool
	Fields    map[string]interface{}
}

// DefaultLogConfig returns a default logging configuration
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		Level:  InfoLevel,
		Pretty: true,
		Output: os.Stderr,
		Fields: make(map[string]interface{}),
	}
}

var zerologLevels = map[LogLevel]zerolog.Level{
	TraceLevel: zerolog.TraceLevel,
	DebugLevel: zerolog.DebugLevel,
	InfoLevel:  zerolog.InfoLevel,
	WarnLevel:  zerolog.WarnLevel,
	ErrorLevel: zerolog.ErrorLevel,
	FatalLevel: zerolog.FatalLevel,
	PanicLevel: zerolog.PanicLevel,
}

// NewVocalsLogger builds a zerolog logger from config. Pretty selects the
// console writer; otherwise every entry is one JSON line.
func NewVocalsLogger(config *LogConfig) *VocalsLogger {
	if config == nil {
		config = DefaultLogConfig()
	}
	out := config.Output
	if out == nil {
		out = os.Stderr
	}
	if config.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, ok := zerologLevels[config.Level]
	if !ok {
		level = zerolog.InfoLevel
	}

	ctx := zerolog.New(out).Level(level).With().Timestamp()
	if config.AddSource {
		ctx = ctx.Caller()
	}
	if len(config.Fields) > 0 {
		ctx = ctx.Fields(config.Fields)
	}
	return &VocalsLogger{logger: ctx.Logger()}
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *VocalsLogger {
	return &VocalsLogger{logger: zerolog.Nop()}
}

func (l *VocalsLogger) with(fn func(zerolog.Context) zerolog.Context) *VocalsLogger {
	return &VocalsLogger{logger: fn(l.logger.With()).Logger()}
}

// WithComponent tags entries with the emitting part of the SDK.
func (l *VocalsLogger) WithComponent(component string) *VocalsLogger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Str("component", component) })
}

func (l *VocalsLogger) WithField(key string, value interface{}) *VocalsLogger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Interface(key, value) })
}

func (l *VocalsLogger) WithFields(fields map[string]interface{}) *VocalsLogger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Fields(fields) })
}

func (l *VocalsLogger) WithError(err error) *VocalsLogger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Err(err) })
}

func (l *VocalsLogger) Trace(msg string)                          { l.logger.Trace().Msg(msg) }
func (l *VocalsLogger) Tracef(format string, args ...interface{}) { l.logger.Trace().Msgf(format, args...) }
func (l *VocalsLogger) Debug(msg string)                          { l.logger.Debug().Msg(msg) }
func (l *VocalsLogger) Debugf(format string, args ...interface{}) { l.logger.Debug().Msgf(format, args...) }
func (l *VocalsLogger) Info(msg string)                           { l.logger.Info().Msg(msg) }
func (l *VocalsLogger) Infof(format string, args ...interface{})  { l.logger.Info().Msgf(format, args...) }
func (l *VocalsLogger) Warn(msg string)                           { l.logger.Warn().Msg(msg) }
func (l *VocalsLogger) Warnf(format string, args ...interface{})  { l.logger.Warn().Msgf(format, args...) }
func (l *VocalsLogger) Error(msg string)                          { l.logger.Error().Msg(msg) }
func (l *VocalsLogger) Errorf(format string, args ...interface{}) { l.logger.Error().Msgf(format, args...) }

// LogSessionEvent logs a session lifecycle transition
func (l *VocalsLogger) LogSessionEvent(event string, state SessionState, fields map[string]interface{}) {
	l.logger.Debug().
		Str("event_type", "session").
		Str("event", event).
		Str("state", state.String()).
		Fields(fields).
		Msg("Session event")
}

// LogResponseEvent logs a decoded response at trace level
func (l *VocalsLogger) LogResponseEvent(ev ResponseEvent) {
	e := l.logger.Trace().Str("event_type", "response")
	switch v := ev.(type) {
	case *PartialEvent:
		e = e.Str("kind", "partial").Float64("progress", v.Progress).Str("text", v.Text).Int("audio_bytes", len(v.Audio))
	case *CompleteEvent:
		e = e.Str("kind", "complete").Bool("success", v.Success).Float64("score", v.Score)
	case *ErrorEvent:
		e = e.Str("kind", "error").Str("code", v.Code).Str("message", v.Message)
	}
	e.Msg("Response event")
}

// LogError logs a VocalsError with structured fields
func (l *VocalsLogger) LogError(err *VocalsError) {
	l.logger.Error().
		Str("error_code", err.Code).
		Float64("timestamp", err.Timestamp).
		Fields(err.Details).
		Msg(err.Error())
}

// LogResult logs the summary of a finished run
func (l *VocalsLogger) LogResult(r *RunResult) {
	l.logger.Info().
		Str("event_type", "result").
		Str("session_id", r.SessionID).
		Str("service", string(r.Service)).
		Str("outcome", r.Outcome.String()).
		Int("chunks_sent", r.ChunksSent).
		Int64("bytes_sent", r.BytesSent).
		Int("events_read", r.EventsRead).
		Bool("quota_reached", r.QuotaReached).
		Dur("duration", r.Duration).
		Msg("Session finished")
}

var globalLogger = NewVocalsLogger(DefaultLogConfig())

// GetGlobalLogger returns the package default logger
func GetGlobalLogger() *VocalsLogger {
	return globalLogger
}

// SetGlobalLogger replaces the package default logger
func SetGlobalLogger(logger *VocalsLogger) {
	globalLogger = logger
}

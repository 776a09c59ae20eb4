package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	confMu     sync.RWMutex
	confLevel  string
	confFormat string
)

// Configure sets the level and the format ("json" or "console") of loggers
// created afterwards. Empty values fall back to LOG_LEVEL and APP_ENV.
func Configure(level, format string) error {
	level, format = strings.ToLower(level), strings.ToLower(format)
	if level != "" {
		if _, err := zerolog.ParseLevel(level); err != nil {
			return fmt.Errorf("log level %q: %w", level, err)
		}
	}
	switch format {
	case "", "json", "console":
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	confMu.Lock()
	confLevel, confFormat = level, format
	confMu.Unlock()
	return nil
}

func settings() (level, format string) {
	confMu.RLock()
	level, format = confLevel, confFormat
	confMu.RUnlock()
	if level == "" {
		level = strings.ToLower(os.Getenv("LOG_LEVEL"))
	}
	if format == "" && strings.ToLower(os.Getenv("APP_ENV")) == "dev" {
		format = "console"
	}
	return level, format
}

// ZerologLogger implements Logger using rs/zerolog.
type ZerologLogger struct {
	log zerolog.Logger
}

// NewZerologLogger creates a ZerologLogger. The output format comes from
// Configure or the APP_ENV environment variable ("dev" selects the console
// writer). All logs include the provided component field. The minimum level
// comes from Configure or LOG_LEVEL, info by default.
func NewZerologLogger(component string) Logger {
	var out io.Writer = os.Stdout
	if _, format := settings(); format == "console" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return NewZerologLoggerWithWriter(out, component)
}

// NewZerologLoggerWithWriter writes JSON entries to w.
func NewZerologLoggerWithWriter(w io.Writer, component string) Logger {
	name, _ := settings()
	level, err := zerolog.ParseLevel(name)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	z := zerolog.New(w).Level(level).With().Timestamp().Str("component", component).Logger()
	return &ZerologLogger{log: z}
}

func (l *ZerologLogger) Debugf(format string, args ...any) {
	l.log.Debug().Msgf(format, args...)
}

func (l *ZerologLogger) Debugw(msg string, fields map[string]any) {
	l.log.Debug().Fields(fields).Msg(msg)
}

func (l *ZerologLogger) Infof(format string, args ...any) {
	l.log.Info().Msgf(format, args...)
}

func (l *ZerologLogger) Warnf(format string, args ...any) {
	l.log.Warn().Msgf(format, args...)
}

func (l *ZerologLogger) Errorf(format string, args ...any) {
	l.log.Error().Msgf(format, args...)
}

// With returns a child logger with an additional field.
func (l *ZerologLogger) With(key string, value any) Logger {
	return &ZerologLogger{log: l.log.With().Interface(key, value).Logger()}
}

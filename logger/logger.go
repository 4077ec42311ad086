package logger

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Logger represents a structured logger
type Logger struct {
	logger zerolog.Logger
}

// Fields represents log fields
type Fields map[string]interface{}

var (
	// Default is the default logger instance
	Default *Logger

	initOnce sync.Once
)

// Init initializes the default logger writing to stdout
func Init() {
	initOnce.Do(func() {
		Default = newLogger(os.Stdout, getLogLevel(), os.Getenv("HOTDEAL_ENVIRONMENT") == "production")
		Default.Info().
			Str("level", Default.logger.GetLevel().String()).
			Msg("Logger initialized")
	})
}

// New creates an uncolored console logger writing to w at the given level
func New(w io.Writer, level zerolog.Level) *Logger {
	return newLogger(w, level, true)
}

func newLogger(w io.Writer, level zerolog.Level, noColor bool) *Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
		NoColor:    noColor,
	}

	return &Logger{logger: zerolog.New(output).Level(level).With().Timestamp().Logger()}
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

// getLogLevel returns the log level from environment variable
func getLogLevel() zerolog.Level {
	levelStr := os.Getenv("LOG_LEVEL")
	if levelStr == "" {
		if os.Getenv("HOTDEAL_ENVIRONMENT") == "production" {
			return zerolog.InfoLevel
		}
		return zerolog.DebugLevel
	}

	level, err := zerolog.ParseLevel(levelStr)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

// WithFields creates a new logger with fields
func (l *Logger) WithFields(fields Fields) *Logger {
	newLogger := l.logger.With()
	for k, v := range fields {
		newLogger = newLogger.Interface(k, v)
	}
	return &Logger{logger: newLogger.Logger()}
}

// WithField creates a new logger with a single field
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{logger: l.logger.With().Interface(key, value).Logger()}
}

// WithError adds an error to the logger
func (l *Logger) WithError(err error) *Logger {
	return &Logger{logger: l.logger.With().Err(err).Logger()}
}

// Debug returns a debug event
func (l *Logger) Debug() *zerolog.Event {
	return l.logger.Debug()
}

// Info returns an info event
func (l *Logger) Info() *zerolog.Event {
	return l.logger.Info()
}

// Warn returns a warn event
func (l *Logger) Warn() *zerolog.Event {
	return l.logger.Warn()
}

// Error returns an error event
func (l *Logger) Error() *zerolog.Event {
	return l.logger.Error()
}

// Fatal returns a fatal event
func (l *Logger) Fatal() *zerolog.Event {
	return l.logger.Fatal()
}

// IsDebugEnabled returns true if debug logging is enabled
func (l *Logger) IsDebugEnabled() bool {
	return l.logger.GetLevel() <= zerolog.DebugLevel
}

func defaultLogger() *Logger {
	if Default == nil {
		Init()
	}
	return Default
}

// ForComponent creates a logger tagged with a component name
func ForComponent(component string) *Logger {
	return defaultLogger().WithField("component", component)
}

// ForCrawler creates a logger for the crawler of one category
func ForCrawler(category string) *Logger {
	return ForComponent("crawler").WithField("category", category)
}

// ForPipeline creates a logger for the ingestion pipeline
func ForPipeline() *Logger {
	return ForComponent("pipeline")
}

// ForStore creates a logger for the deal store
func ForStore() *Logger {
	return ForComponent("store")
}

// ForCache creates a logger for the identifier and rate-limit caches
func ForCache() *Logger {
	return ForComponent("cache")
}

// ForPublisher creates a logger for the publisher
func ForPublisher() *Logger {
	return ForComponent("publisher")
}

// ForScheduler creates a logger for the cron trigger
func ForScheduler() *Logger {
	return ForComponent("scheduler")
}

// ForServer creates a logger for the admin HTTP server
func ForServer() *Logger {
	return ForComponent("server")
}

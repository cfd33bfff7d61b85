package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide root logger. Components derive child
// loggers from it via the With* helpers rather than holding their own.
var Logger zerolog.Logger

// Level names a log severity threshold.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

func (l Level) zerolog() zerolog.Level {
	switch l {
	case DebugLevel:
		return zerolog.DebugLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Config selects the level, output format, and destination.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer // nil means stdout
}

// Init configures the global Logger. JSON output is meant for
// production scraping; console output renders level, timestamp, and
// fields in a readable column layout for local development.
func Init(cfg Config) {
	zerolog.SetGlobalLevel(cfg.Level.zerolog())

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if !cfg.JSONOutput {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}
	Logger = zerolog.New(output).With().Timestamp().Logger()
}

// WithComponent derives a child logger tagged with the subsystem that
// produced the line (executor, iterator, hnsw, session, ...).
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithSession derives a child logger scoped to one session, tagging
// every line it produces with the session's uuid.
func WithSession(sessionID string) zerolog.Logger {
	return Logger.With().Str("session_id", sessionID).Logger()
}

// WithTxn derives a child logger scoped to one transaction, tagging
// lines with its id so slow-query and rollback logs can be correlated
// back to the transaction that produced them.
func WithTxn(txnID string) zerolog.Logger {
	return Logger.With().Str("txn_id", txnID).Logger()
}

// WithNamespace derives a child logger scoped to a namespace/database
// pair.
func WithNamespace(ns, db string) zerolog.Logger {
	return Logger.With().Str("ns", ns).Str("db", db).Logger()
}

// Shorthand message helpers on the root logger.

func Debug(msg string) { Logger.Debug().Msg(msg) }
func Info(msg string)  { Logger.Info().Msg(msg) }
func Warn(msg string)  { Logger.Warn().Msg(msg) }
func Error(msg string) { Logger.Error().Msg(msg) }

func Errorf(msg string, err error) { Logger.Error().Err(err).Msg(msg) }

func Fatal(msg string) { Logger.Fatal().Msg(msg) }

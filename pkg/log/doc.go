/*
Package log provides structured logging for nexus using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-scoped child loggers, configurable log levels, and helper
functions for the logging patterns the executor, session bridge, and
storage layer all need: tagging a line with the session, transaction,
or namespace/database it belongs to so a slow query or a rolled-back
write can be traced back to its origin.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("executor")                │          │
	│  │  - WithSession("018f...")                   │          │
	│  │  - WithTxn("018f...")                       │          │
	│  │  - WithNamespace("test", "main")             │          │
	│  └──────────────────────────────────────────────┘         │
	└────────────────────────────────────────────────────────────┘

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	log.Info("datastore starting")

	l := log.WithSession(sess.ID.String())
	l.Warn().Dur("elapsed", elapsed).Msg("slow query")

Every line carries a timestamp. JSON output is meant for production;
console output (JSONOutput: false) is meant for local development,
rendering level, timestamp, and fields in a readable column layout.
*/
package log

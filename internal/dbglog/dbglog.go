// Package dbglog wraps the standard library logger for the handful of
// diagnostics the engine emits: fatal I/O aborts and optional verbose
// tracing (db.Open traces each table it loads). It intentionally stays thin — nothing
// in the retrieval pack reaches for a structured logging library for an
// embedded, single-process engine like this one.
package dbglog

import (
	"log"
	"os"
)

// Logger is the minimal surface the storage core needs.
type Logger struct {
	verbose bool
	l       *log.Logger
}

// New returns a Logger writing to stderr. When verbose is false, Tracef
// calls are silently dropped.
func New(verbose bool) *Logger {
	return &Logger{
		verbose: verbose,
		l:       log.New(os.Stderr, "tetodb: ", log.LstdFlags),
	}
}

// Tracef logs a low-priority diagnostic (such as a table loaded at open)
// only when verbose mode is enabled.
func (lg *Logger) Tracef(format string, args ...interface{}) {
	if lg == nil || !lg.verbose {
		return
	}
	lg.l.Printf(format, args...)
}

// Fatalf logs an unrecoverable error and terminates the process. Used only
// on the IO_FATAL path described in spec §7: a failure that would corrupt
// the commit protocol if the process tried to continue.
func (lg *Logger) Fatalf(format string, args ...interface{}) {
	if lg == nil {
		log.Fatalf(format, args...)
		return
	}
	lg.l.Fatalf(format, args...)
}

// Package logging provides the leveled debug/info logger threaded through
// every component by construction (no package-level singleton). It mirrors
// the teacher's internal/debug texture: terse fmt-over-io.Writer calls
// gated by an enabled flag, not a structured logging framework.
package logging

import (
	"fmt"
	"io"
	"os"
)

// Logger is a small leveled logger, built with New or NewFromEnv. A nil
// *Logger discards everything; a zero Logger value has no writer set.
type Logger struct {
	out   io.Writer
	debug bool
}

// New returns a Logger writing to out. debug enables Debugf output; Infof
// and Warnf always print.
func New(out io.Writer, debug bool) *Logger {
	if out == nil {
		out = os.Stderr
	}
	return &Logger{out: out, debug: debug}
}

// NewFromEnv returns a Logger writing to os.Stderr with debug output
// enabled iff the named environment variable is set to a non-empty value,
// matching the teacher's BD_DEBUG convention.
func NewFromEnv(envVar string) *Logger {
	return New(os.Stderr, os.Getenv(envVar) != "")
}

// Debugf prints only when the logger was constructed with debug enabled.
func (l *Logger) Debugf(format string, args ...any) {
	if l == nil || !l.debug {
		return
	}
	fmt.Fprintf(l.out, "[debug] "+format+"\n", args...)
}

// Infof always prints.
func (l *Logger) Infof(format string, args ...any) {
	if l == nil {
		return
	}
	fmt.Fprintf(l.out, format+"\n", args...)
}

// Warnf always prints, prefixed so it stands out in mixed output.
func (l *Logger) Warnf(format string, args ...any) {
	if l == nil {
		return
	}
	fmt.Fprintf(l.out, "[warn] "+format+"\n", args...)
}

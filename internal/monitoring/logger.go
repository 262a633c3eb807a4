// Package monitoring holds the process-wide diagnostic logger used by the
// tracking pipeline and its background workers.
package monitoring

import (
	"log"
	"strings"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// logfWriter forwards each write to whatever Logf currently points at, so a
// worker logger created at startup still honours a later SetLogger call.
type logfWriter struct{}

func (logfWriter) Write(p []byte) (int, error) {
	Logf("%s", strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// ComponentLogger returns a *log.Logger for injection into workers such as
// the sample flusher. Lines are prefixed with "[component] ".
func ComponentLogger(component string) *log.Logger {
	return log.New(logfWriter{}, "["+component+"] ", 0)
}

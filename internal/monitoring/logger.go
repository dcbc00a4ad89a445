// Package monitoring carries the process-wide diagnostic logger used by the
// elevation packages. Retrieval and cache housekeeping report through Logf so
// library callers can redirect or mute diagnostics without touching the
// global log flags.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf and
// may be replaced with SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

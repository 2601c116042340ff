// Package logging centralizes the engine's structured logger. The teacher
// repo calls bare log.Printf/log.Println at every error site; here those
// call sites go through a single leveled logger instead.
package logging

import (
	"os"

	"github.com/charmbracelet/log"
)

// L is the package-wide logger. Tests and cmd/flowctl may replace it
// (e.g. to raise the level or redirect output) via SetLevel/SetOutput.
var L = log.NewWithOptions(os.Stderr, log.Options{
	ReportTimestamp: true,
	Prefix:          "flow",
})

// SetLevel adjusts the minimum logged level ("debug", "info", "warn", "error").
func SetLevel(level string) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		L.Warnf("unknown log level %q, keeping %s", level, L.GetLevel())
		return
	}
	L.SetLevel(lvl)
}

// Debugf logs at debug level.
func Debugf(format string, args ...any) { L.Debugf(format, args...) }

// Infof logs at info level.
func Infof(format string, args ...any) { L.Infof(format, args...) }

// Warnf logs at warn level.
func Warnf(format string, args ...any) { L.Warnf(format, args...) }

// Errorf logs at error level.
func Errorf(format string, args ...any) { L.Errorf(format, args...) }

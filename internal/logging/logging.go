// Package logging centralizes the zerolog sub-loggers used across the core
// subsystems, following the global-logger style of asig/odit's
// internal/filesystem package.
package logging

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	once sync.Once
	base zerolog.Logger
)

func initBase() {
	base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().
		Timestamp().
		Logger()
}

// For returns a sub-logger tagged with the owning package's name, e.g.
// logging.For("block") or logging.For("fat").
func For(pkg string) zerolog.Logger {
	once.Do(initBase)
	return base.With().Str("pkg", pkg).Logger()
}

// SetLevel adjusts the global log verbosity; embfsctl wires this to a CLI
// flag.
func SetLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

// AssertionsEnabled gates debug-only contract checks (out-of-range unit
// numbers, bounds checks on sector ranges, missing HW bindings) across the
// core packages. Release builds leave it false: per spec §7 "User-visible
// behavior", release code must not panic or fail extra checks on
// user-reachable input; debug builds set this true to catch contract
// violations during development and testing.
var AssertionsEnabled = false

// Package glclog provides the logging conventions shared by every
// component: a log/slog logger tagged with a "component" attribute,
// plus the severity levels the glc stream format historically used
// (error, warning, performance, information, debug) mapped onto slog's
// four levels.
package glclog

import (
	"log/slog"
	"os"
)

// Level aliases slog.Level so call sites don't need to import log/slog
// just to name a severity.
type Level = slog.Level

const (
	LevelDebug       = slog.LevelDebug
	LevelInformation = slog.LevelInfo
	LevelWarning     = slog.LevelWarn
	LevelError       = slog.LevelError
	// LevelPerformance has no direct slog equivalent; performance messages
	// are logged at Info with a "kind":"performance" attribute (see Perf).
	LevelPerformance = slog.LevelInfo
)

// Init installs a text-handler default logger writing to stderr, honoring
// the DEBUG environment variable the way cmd/glc-capture and cmd/glc-play
// both do at startup.
func Init() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// For returns a logger tagged with the given component name, the
// convention every package in this module follows for its own logging
// (stage workers additionally tag "stage", capture additionally tags
// "pcm", and so on).
func For(component string) *slog.Logger {
	return slog.With("component", component)
}

// Perf logs a performance-class message (glc's GLC_PERFORMANCE level),
// which has no dedicated slog level, at Info with a distinguishing
// attribute so log consumers can still filter performance lines out.
func Perf(log *slog.Logger, msg string, args ...any) {
	log.Info(msg, append([]any{"kind", "performance"}, args...)...)
}

// Package build provides the logging plumbing shared by the watchtower
// client plugin's subsystems: a backend that can be pointed at a rotating
// log file once the data directory is known, and a constructor for the
// per-subsystem loggers each package exposes through a UseLogger hook.
package build

import (
	"io"
	"os"

	"github.com/decred/slog"
)

// LogWriter is an io.Writer that tees subsystem log output to both stderr
// and a rotating log file. Stdout is reserved for the line-delimited JSON-RPC
// protocol the plugin speaks to its host (spec.md §6); logging there would
// corrupt the wire stream. The file is nil until SetFile attaches one, so
// packages may log before the data directory is known; that output simply
// goes to stderr only.
type LogWriter struct {
	file io.Writer
}

// Write implements io.Writer.
func (w *LogWriter) Write(p []byte) (int, error) {
	os.Stderr.Write(p)
	if w.file != nil {
		return w.file.Write(p)
	}
	return len(p), nil
}

// SetFile attaches the rotating log file sink. Called once, during startup,
// after the data directory has been created.
func (w *LogWriter) SetFile(f io.Writer) {
	w.file = f
}

// NewSubLogger derives a tagged subsystem logger from the shared backend.
// Every package that logs exposes a UseLogger(slog.Logger) function so the
// binary wiring it together can call this once per subsystem tag.
func NewSubLogger(tag string, backend *slog.Backend) slog.Logger {
	logger := backend.Logger(tag)
	logger.SetLevel(slog.LevelInfo)
	return logger
}

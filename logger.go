package match

import (
	"log/slog"
	"os"
)

var logger = slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("component", "matching-core")

// SetLogger replaces the package logger, e.g. to route output through the
// host process's handler.
func SetLogger(l *slog.Logger) {
	logger = l
}

package application

import "log/slog"

// ResolveLogger lets use cases and workers take an optional logger without
// nil checks at every call site.
func ResolveLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

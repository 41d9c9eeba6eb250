// Package logger defines the minimal structured logging surface the
// authorization core emits through, with adapters for oarkflow/log and
// log/slog.
package logger

// Logger accepts alternating key/value pairs as variadic arguments. The
// interface is deliberately small so every store and engine component can
// take it without caring which backend is installed.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}

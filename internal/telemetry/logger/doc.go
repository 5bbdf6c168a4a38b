// Package logger provides structured logging for toolhost.
//
//   - logger.go: slog handler construction and the process-wide level
//   - context.go: request-scoped loggers and request ids
//   - redact.go: sensitive attribute redaction
package logger

// Package logger provides structured logging for the storage engine.
//
// This package builds log/slog loggers:
//
//   - logger.go: handler construction and dynamic level control
//   - context.go: context propagation with operation IDs
//   - redact.go: sensitive data redaction
//
// Features:
//
//   - JSON and text output formats
//   - Log level filtering adjustable at runtime
//   - Automatic masking of key material and passphrases
package logger

// Package logx wraps zerolog behind a small structured-logging API.
//
// Components receive a Logger value (not a pointer) and derive scoped
// loggers with With(). The Service owns the configured sinks and can
// swap level/outputs at runtime without invalidating handed-out loggers.
package logx

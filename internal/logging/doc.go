// Package logging constructs slog loggers and defines the standardized
// structured field keys used across the pipeline.
//
// Loggers are created from config (level, format, log directory) and every
// component receives one at construction. Context helpers stamp task IDs,
// stage names, and correlation identifiers so dispatcher and worker logs
// can be traced per task.
package logging

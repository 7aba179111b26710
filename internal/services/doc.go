// Package services defines shared utilities consumed by the stage workers
// and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp task IDs, stage names, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that keep failure
//     handling uniform across storage, transcription, and LLM calls.
//
// Use these helpers when wiring new stage logic so operational behaviour
// (error handling, observability) stays consistent across the pipeline.
package services

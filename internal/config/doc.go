// Package config loads, normalizes, and validates icast configuration.
//
// Configuration lives in a TOML file. Every external collaborator (object
// storage, the transcription service, the LLM) reads its credentials and
// endpoints from the typed sections here; nothing reads ambient process
// state. Components receive the config object (or a section of it) at
// construction time.
package config

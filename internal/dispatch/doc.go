// Package dispatch drives the outbox: a single-threaded polling loop
// claims pending events, routes each kind through a closed dispatch
// table, and hands tasks to a bounded per-stage worker pool.
//
// # Claim batch
//
// Every pass stamps all unprocessed, unclaimed events with the
// dispatcher's id in one conditional UPDATE before reading them back.
// A second dispatcher pointed at the same database sees an empty batch
// instead of double-dispatching.
//
// # Join rule
//
// template_selected never routes on its own. It waits for a
// transcription_ready event of the same task, found by searching the
// live log rather than the pass snapshot; when the pair exists both
// events are consumed atomically and the extraction stage is scheduled.
// Cross-task pairing is impossible by construction: the partner query
// is scoped to the event's task id.
//
// # Failure isolation
//
// A failed route releases that event's claim with the error recorded
// and the pass continues; one poisoned event cannot stall the log.
package dispatch

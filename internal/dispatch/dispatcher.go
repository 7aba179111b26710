package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"icast/internal/config"
	"icast/internal/logging"
	"icast/internal/services"
	"icast/internal/store"
)

type routeAction int

const (
	// actionSchedule hands the event's task to a worker lane and consumes
	// the event.
	actionSchedule routeAction = iota
	// actionJoin waits for the task's transcription_ready partner before
	// scheduling extraction; both events are consumed together.
	actionJoin
	// actionMark flags informational markers processed, keeping the row
	// as an audit trail.
	actionMark
	// actionAwait releases the claim untouched: the event is consumed by
	// another route's join, never on its own.
	actionAwait
)

type route struct {
	action   routeAction
	category Category
}

// routingTable is closed over the event kind enum; newDispatcher refuses
// to start when a kind has no route.
func routingTable() map[store.EventKind]route {
	return map[store.EventKind]route{
		store.EventAudioUploaded:        {action: actionSchedule, category: CategoryUpload},
		store.EventAudioStoredRemotely:  {action: actionSchedule, category: CategoryTranscription},
		store.EventTranscriptionStarted: {action: actionMark},
		// transcription_ready has no route of its own; the join consumes it.
		store.EventTranscriptionReady: {action: actionAwait},
		store.EventTemplateSelected:   {action: actionJoin, category: CategoryExtraction},
		store.EventExtractionReady:    {action: actionSchedule, category: CategoryReport},
		store.EventReportReady:        {action: actionMark},
	}
}

// Dispatcher polls the outbox and routes claimed events. It is strictly
// single-threaded: passes never overlap, and all concurrency lives in the
// worker pool behind the Scheduler.
type Dispatcher struct {
	cfg       *config.Config
	store     *store.Store
	logger    *slog.Logger
	scheduler Scheduler

	id            string
	pollInterval  time.Duration
	errorRetry    time.Duration
	claimTimeout  time.Duration
	staleTimeout  time.Duration
	joinWarnAfter time.Duration
	retainEvents  bool
	routes        map[store.EventKind]route

	// Written only by the single-threaded dispatch loop.
	lastPassErrored bool
}

// New constructs a dispatcher over the given scheduler.
func New(cfg *config.Config, st *store.Store, logger *slog.Logger, scheduler Scheduler) (*Dispatcher, error) {
	routes := routingTable()
	for _, kind := range store.AllEventKinds() {
		if _, ok := routes[kind]; !ok {
			return nil, fmt.Errorf("dispatch: event kind %q has no route", kind)
		}
	}
	return &Dispatcher{
		cfg:           cfg,
		store:         st,
		logger:        logging.NewComponentLogger(logger, "dispatcher"),
		scheduler:     scheduler,
		id:            uuid.NewString(),
		pollInterval:  time.Duration(cfg.Dispatch.PollIntervalSeconds) * time.Second,
		errorRetry:    time.Duration(cfg.Dispatch.ErrorRetrySeconds) * time.Second,
		claimTimeout:  2 * time.Duration(cfg.Dispatch.PollIntervalSeconds) * time.Second,
		staleTimeout:  time.Duration(cfg.Dispatch.StaleTaskTimeoutSecs) * time.Second,
		joinWarnAfter: time.Duration(cfg.Dispatch.JoinWarnAfterSeconds) * time.Second,
		retainEvents:  cfg.Dispatch.RetainProcessedEvents,
		routes:        routes,
	}, nil
}

// ID returns the claimant id stamped onto claimed events.
func (d *Dispatcher) ID() string { return d.id }

// Run polls until the context ends. A pass that hit errors schedules the
// next one after the shorter error-retry interval instead of the regular
// poll interval.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher started",
		logging.String("claimant", d.id),
		logging.Duration("poll_interval", d.pollInterval))
	for {
		d.RunOnce(ctx)
		delay := time.NewTimer(d.nextPollDelay())
		select {
		case <-ctx.Done():
			delay.Stop()
			d.logger.Info("dispatcher stopped")
			return ctx.Err()
		case <-delay.C:
		}
	}
}

func (d *Dispatcher) nextPollDelay() time.Duration {
	if d.lastPassErrored && d.errorRetry > 0 {
		return d.errorRetry
	}
	return d.pollInterval
}

// RunOnce executes a single dispatch pass: stale-task sweep, claim batch,
// then per-event routing with failure isolation.
func (d *Dispatcher) RunOnce(ctx context.Context) {
	d.lastPassErrored = false
	d.sweepStaleTasks(ctx)
	d.reclaimOrphanedClaims(ctx)
	d.warnUnmatchedJoins(ctx)

	events, err := d.store.ClaimEvents(ctx, d.id)
	if err != nil {
		d.logger.Error("claim pass failed", logging.Error(err))
		d.lastPassErrored = true
		return
	}
	if len(events) == 0 {
		return
	}
	d.logger.Debug("claimed event batch", logging.Int("events", len(events)))

	consumed := make(map[int64]bool, len(events))
	for _, event := range events {
		if ctx.Err() != nil {
			return
		}
		// Skip events a join consumed earlier in this pass.
		if consumed[event.ID] {
			continue
		}
		if err := d.routeEvent(ctx, event, consumed); err != nil {
			d.lastPassErrored = true
			d.logger.Error("event dispatch failed",
				logging.Int64(logging.FieldEventID, event.ID),
				logging.String(logging.FieldEventKind, string(event.Kind)),
				logging.Int64(logging.FieldTaskID, event.TaskID),
				logging.Error(err))
			if releaseErr := d.store.ReleaseClaim(ctx, event.ID, err.Error()); releaseErr != nil {
				d.logger.Warn("failed to release claim", logging.Error(releaseErr))
			}
		}
	}
}

func (d *Dispatcher) routeEvent(ctx context.Context, event *store.Event, consumed map[int64]bool) error {
	rt, ok := d.routes[event.Kind]
	if !ok {
		// AppendEvent validates kinds, so this only fires on rows written
		// by a newer binary. Park the row instead of looping on it.
		return d.store.MarkEventProcessed(ctx, event.ID, fmt.Sprintf("no route for kind %q", event.Kind))
	}

	switch rt.action {
	case actionMark:
		return d.store.MarkEventProcessed(ctx, event.ID, "")
	case actionAwait:
		return d.store.ReleaseClaim(ctx, event.ID, "")
	case actionSchedule:
		return d.scheduleTask(ctx, event, rt.category)
	case actionJoin:
		return d.joinAndSchedule(ctx, event, rt.category, consumed)
	default:
		return fmt.Errorf("unknown route action %d", rt.action)
	}
}

func (d *Dispatcher) scheduleTask(ctx context.Context, event *store.Event, category Category) error {
	task, err := d.store.GetTask(ctx, event.TaskID)
	if err != nil {
		return err
	}
	if task == nil {
		// Orphaned event; nothing can ever consume it, so drop it.
		d.logger.Warn("dropping event for missing task",
			logging.Int64(logging.FieldEventID, event.ID),
			logging.Int64(logging.FieldTaskID, event.TaskID))
		return d.store.RemoveEvent(ctx, event.ID)
	}
	if err := d.scheduler.Schedule(ctx, category, task); err != nil {
		return err
	}
	d.logger.Info("event dispatched",
		logging.Int64(logging.FieldEventID, event.ID),
		logging.String(logging.FieldEventKind, string(event.Kind)),
		logging.Int64(logging.FieldTaskID, task.ID),
		logging.String(logging.FieldStage, string(category)))
	return d.consume(ctx, event.ID)
}

func (d *Dispatcher) joinAndSchedule(ctx context.Context, event *store.Event, category Category, consumed map[int64]bool) error {
	partner, err := d.store.FindJoinPartner(ctx, event.TaskID, store.EventTranscriptionReady)
	if err != nil {
		return err
	}
	if partner == nil {
		// Transcript not ready yet; release and retry next pass.
		d.logger.Debug("join partner not ready",
			logging.Int64(logging.FieldEventID, event.ID),
			logging.Int64(logging.FieldTaskID, event.TaskID))
		return d.store.ReleaseClaim(ctx, event.ID, "")
	}

	task, err := d.store.GetTask(ctx, event.TaskID)
	if err != nil {
		return err
	}
	if task == nil {
		d.logger.Warn("dropping join pair for missing task",
			logging.Int64(logging.FieldTaskID, event.TaskID))
		return d.store.RemoveEventPair(ctx, event.ID, partner.ID)
	}

	if err := d.scheduler.Schedule(ctx, category, task); err != nil {
		return err
	}
	if err := d.store.RemoveEventPair(ctx, event.ID, partner.ID); err != nil {
		return err
	}
	consumed[partner.ID] = true
	d.logger.Info("join pair dispatched",
		logging.Int64(logging.FieldEventID, event.ID),
		logging.Int64("partner_event_id", partner.ID),
		logging.Int64(logging.FieldTaskID, task.ID))
	return nil
}

// consume removes a routed event, or marks it processed when the operator
// asked to retain audit rows.
func (d *Dispatcher) consume(ctx context.Context, eventID int64) error {
	if d.retainEvents {
		return d.store.MarkEventProcessed(ctx, eventID, "")
	}
	return d.store.RemoveEvent(ctx, eventID)
}

// reclaimOrphanedClaims releases event claims left by a dispatcher that
// died mid-pass, restoring the unprocessed-rows-are-the-recovery-state
// property across restarts. The cutoff is well past one pass; a live
// instance never holds a claim that long, so only orphans are swept.
func (d *Dispatcher) reclaimOrphanedClaims(ctx context.Context) {
	cutoff := time.Now().Add(-d.claimTimeout)
	reclaimed, err := d.store.ReclaimStaleClaims(ctx, cutoff)
	if err != nil {
		d.logger.Warn("orphaned claim sweep failed", logging.Error(err))
		return
	}
	if reclaimed > 0 {
		d.logger.Warn("reclaimed orphaned event claims",
			logging.Int64("events", reclaimed),
			logging.Duration("claim_timeout", d.claimTimeout))
	}
}

func (d *Dispatcher) sweepStaleTasks(ctx context.Context) {
	if d.staleTimeout <= 0 {
		return
	}
	cutoff := time.Now().Add(-d.staleTimeout)
	failed, err := d.store.FailStale(ctx, cutoff)
	if err != nil {
		d.logger.Warn("stale task sweep failed", logging.Error(err))
		return
	}
	for _, id := range failed {
		d.logger.Error("task failed: heartbeat expired",
			logging.Int64(logging.FieldTaskID, id),
			logging.String(logging.FieldErrorKind, services.Kind(services.ErrTransient)),
			logging.Duration("timeout", d.staleTimeout))
	}
}

// warnUnmatchedJoins surfaces template_selected events that have waited
// past the configured age. They are never timed out automatically; pairing
// stays correct no matter how late the transcript arrives.
func (d *Dispatcher) warnUnmatchedJoins(ctx context.Context) {
	if d.joinWarnAfter <= 0 {
		return
	}
	stats, err := d.store.EventStatsByKind(ctx, store.EventTemplateSelected)
	if err != nil || stats.Unprocessed == 0 || stats.OldestCreatedAt == nil {
		return
	}
	if age := time.Since(*stats.OldestCreatedAt); age > d.joinWarnAfter {
		d.logger.Warn("template_selected event waiting unusually long for its transcript",
			logging.Duration("oldest_age", age),
			logging.Int("unmatched", stats.Unprocessed))
	}
}

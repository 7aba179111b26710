package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AppendEvent adds an outbox event for an existing task. It fails with
// ErrTaskNotFound when the referenced task does not exist.
func (s *Store) AppendEvent(ctx context.Context, taskID int64, kind EventKind, payload Payload) (int64, error) {
	if !KnownEventKind(kind) {
		return 0, fmt.Errorf("append event: unknown kind %q", kind)
	}
	encoded, err := payload.Encode()
	if err != nil {
		return 0, fmt.Errorf("append event: encode payload: %w", err)
	}

	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return 0, err
	}
	if task == nil {
		return 0, fmt.Errorf("%w: task %d", ErrTaskNotFound, taskID)
	}

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO outbox_events (task_id, kind, payload, created_at) VALUES (?, ?, ?, ?)`,
		taskID, kind, encoded, timestamp(time.Now()),
	)
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append event id: %w", err)
	}
	return id, nil
}

// UnprocessedEvents returns a materialized snapshot of pending events in
// creation order, so deletions triggered while handling one event cannot
// corrupt iteration over the others.
func (s *Store) UnprocessedEvents(ctx context.Context) ([]*Event, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT `+eventColumns+` FROM outbox_events WHERE processed = 0 ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("unprocessed events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// ClaimEvents atomically stamps every unprocessed, unclaimed event with the
// claimant id, then returns the claimed batch in creation order. A second
// dispatcher claiming concurrently sees an empty batch for rows already
// stamped; this is the claim-batch guard against double dispatch.
func (s *Store) ClaimEvents(ctx context.Context, claimant string) ([]*Event, error) {
	if claimant == "" {
		return nil, errors.New("claim events: claimant required")
	}
	now := timestamp(time.Now())
	if _, err := s.execWithRetry(
		ctx,
		`UPDATE outbox_events SET claimed_by = ?, claimed_at = ?
         WHERE processed = 0 AND claimed_by IS NULL`,
		claimant, now,
	); err != nil {
		return nil, fmt.Errorf("claim events: %w", err)
	}

	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT `+eventColumns+` FROM outbox_events
         WHERE processed = 0 AND claimed_by = ? ORDER BY id`,
		claimant,
	)
	if err != nil {
		return nil, fmt.Errorf("read claimed events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// ReclaimStaleClaims returns events whose claim expired to the unclaimed
// pool. A dispatcher that died between claiming and routing leaves its batch
// stamped with an id no live instance will ever read back; without this
// sweep those rows are invisible to every future ClaimEvents call and their
// tasks stall permanently. Returns the number of claims cleared.
func (s *Store) ReclaimStaleClaims(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE outbox_events SET claimed_by = NULL, claimed_at = NULL
         WHERE processed = 0 AND claimed_by IS NOT NULL AND claimed_at < ?`,
		timestamp(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale claims: %w", err)
	}
	return res.RowsAffected()
}

// ReleaseClaim returns an event to the unclaimed pool, optionally recording
// error text from the failed dispatch attempt. Releasing an event that no
// longer exists is a no-op.
func (s *Store) ReleaseClaim(ctx context.Context, eventID int64, errText string) error {
	if _, err := s.execWithRetry(
		ctx,
		`UPDATE outbox_events SET claimed_by = NULL, claimed_at = NULL, error = ? WHERE id = ?`,
		nullableString(errText), eventID,
	); err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	return nil
}

// RemoveEvent deletes an event once dispatch succeeded. Removing a
// non-existent id is a no-op, not an error.
func (s *Store) RemoveEvent(ctx context.Context, eventID int64) error {
	if _, err := s.execWithRetry(
		ctx,
		`DELETE FROM outbox_events WHERE id = ?`,
		eventID,
	); err != nil {
		return fmt.Errorf("remove event: %w", err)
	}
	return nil
}

// RemoveEventPair deletes a join rule's two sibling events atomically.
func (s *Store) RemoveEventPair(ctx context.Context, first, second int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range []int64{first, second} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM outbox_events WHERE id = ?`, id); err != nil {
				return fmt.Errorf("remove event %d: %w", id, err)
			}
		}
		return nil
	})
}

// MarkEventProcessed flags an event processed with a timestamp instead of
// deleting it, keeping an audit row. Idempotent: marking twice neither
// errors nor moves the original processed_at.
func (s *Store) MarkEventProcessed(ctx context.Context, eventID int64, errText string) error {
	if _, err := s.execWithRetry(
		ctx,
		`UPDATE outbox_events
         SET processed = 1, processed_at = COALESCE(processed_at, ?),
             claimed_by = NULL, claimed_at = NULL, error = ?
         WHERE id = ?`,
		timestamp(time.Now()), nullableString(errText), eventID,
	); err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	return nil
}

// FindJoinPartner searches the live log, not any snapshot, for the oldest
// unprocessed event of the given kind belonging to the same task. Returns
// nil when no partner exists yet.
func (s *Store) FindJoinPartner(ctx context.Context, taskID int64, kind EventKind) (*Event, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT `+eventColumns+` FROM outbox_events
         WHERE task_id = ? AND kind = ? AND processed = 0
         ORDER BY id LIMIT 1`,
		taskID, kind,
	)
	event, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find join partner: %w", err)
	}
	return event, nil
}

// EventStatsByKind reports the age of the oldest unprocessed event per kind,
// the operator-visible staleness signal for join events that never pair.
func (s *Store) EventStatsByKind(ctx context.Context, kind EventKind) (EventStats, error) {
	var stats EventStats
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT processed, claimed_by, created_at FROM outbox_events WHERE kind = ?`,
		kind,
	)
	if err != nil {
		return stats, fmt.Errorf("event stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var processed int64
		var claimedBy sql.NullString
		var createdRaw sql.NullString
		if err := rows.Scan(&processed, &claimedBy, &createdRaw); err != nil {
			return stats, fmt.Errorf("scan event stats: %w", err)
		}
		if processed != 0 {
			stats.Processed++
			continue
		}
		stats.Unprocessed++
		if claimedBy.Valid && claimedBy.String != "" {
			stats.Claimed++
		}
		if created, err := parseTimeString(createdRaw.String); err == nil {
			if stats.OldestCreatedAt == nil || created.Before(*stats.OldestCreatedAt) {
				stats.OldestCreatedAt = &created
			}
		}
	}
	return stats, rows.Err()
}

// ListEvents returns all events in creation order, processed or not.
func (s *Store) ListEvents(ctx context.Context) ([]*Event, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT `+eventColumns+` FROM outbox_events ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

func collectEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

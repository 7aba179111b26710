package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// NewTaskInput describes a freshly submitted audio asset.
type NewTaskInput struct {
	AudioName      string
	AudioExt       string
	AudioLocalPath string
	AudioSavedName string
	TemplateID     *int64
}

// NewTask inserts a task at the loaded stage together with its initiating
// audio_uploaded event. Both rows commit in one transaction.
func (s *Store) NewTask(ctx context.Context, in NewTaskInput) (*Task, error) {
	now := timestamp(time.Now())

	var taskID int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(
			ctx,
			`INSERT INTO tasks (
                stage, template_id, audio_name, audio_ext, audio_local_path,
                audio_saved_name, created_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			StageLoaded,
			nullableTemplateID(in.TemplateID),
			nullableString(in.AudioName),
			nullableString(in.AudioExt),
			nullableString(in.AudioLocalPath),
			nullableString(in.AudioSavedName),
			now,
			now,
		)
		if err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		taskID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}

		payload, err := Payload{"file_name": in.AudioSavedName}.Encode()
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO outbox_events (task_id, kind, payload, created_at) VALUES (?, ?, ?, ?)`,
			taskID, EventAudioUploaded, payload, now,
		); err != nil {
			return fmt.Errorf("insert initiating event: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.GetTask(ctx, taskID)
}

// GetTask fetches a task by identifier. Returns nil when missing.
func (s *Store) GetTask(ctx context.Context, id int64) (*Task, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// ListTasks returns all tasks ordered by creation.
func (s *Store) ListTasks(ctx context.Context) ([]*Task, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT `+taskColumns+` FROM tasks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// TransitionStage moves a task from an expected prior stage to the next one.
// The update is conditional on the current stage matching, which is the
// per-task guard against concurrent writers; a miss returns ErrStageConflict
// and persists nothing.
func (s *Store) TransitionStage(ctx context.Context, id int64, from, to Stage) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s is not a forward transition", ErrStageConflict, from, to)
	}
	now := timestamp(time.Now())
	res, err := s.execWithRetry(
		ctx,
		`UPDATE tasks SET stage = ?, updated_at = ?, last_heartbeat = ? WHERE id = ? AND stage = ?`,
		to, now, now, id, from,
	)
	if err != nil {
		return fmt.Errorf("transition stage: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition stage rows: %w", err)
	}
	if affected == 0 {
		task, getErr := s.GetTask(ctx, id)
		if getErr == nil && task == nil {
			return fmt.Errorf("%w: task %d", ErrTaskNotFound, id)
		}
		if getErr == nil {
			return fmt.Errorf("%w: task %d is %s, expected %s", ErrStageConflict, id, task.Stage, from)
		}
		return fmt.Errorf("%w: task %d", ErrStageConflict, id)
	}
	return nil
}

// CompleteStage persists a task's stage outputs and appends the follow-up
// event in the same transaction (the outbox guarantee). The task's current
// row must still be at the expected prior stage; the caller sets task.Stage
// to the new value before calling. Pass an empty kind to complete a stage
// without emitting an event.
func (s *Store) CompleteStage(ctx context.Context, task *Task, expected Stage, kind EventKind, payload Payload) error {
	if task == nil {
		return errors.New("complete stage: nil task")
	}
	if !CanTransition(expected, task.Stage) {
		return fmt.Errorf("%w: %s -> %s is not a forward transition", ErrStageConflict, expected, task.Stage)
	}
	if kind != "" && !KnownEventKind(kind) {
		return fmt.Errorf("complete stage: unknown event kind %q", kind)
	}

	now := time.Now()
	nowStr := timestamp(now)
	task.UpdatedAt = now.UTC()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(
			ctx,
			`UPDATE tasks SET
                stage = ?, template_id = ?, audio_storage_url = ?,
                audio_duration_seconds = ?, transcript_text = ?, transcript_segments = ?,
                extraction_result = ?, extraction_raw = ?, token_count = ?,
                report_path = ?, error_message = ?, updated_at = ?,
                stage_completed_at = ?, finished_at = ?, last_heartbeat = NULL
            WHERE id = ? AND stage = ?`,
			task.Stage,
			nullableTemplateID(task.TemplateID),
			nullableString(task.AudioStorageURL),
			task.AudioDurationSeconds,
			nullableString(task.TranscriptText),
			nullableString(task.TranscriptSegments),
			nullableString(task.ExtractionResult),
			nullableString(task.ExtractionRaw),
			task.TokenCount,
			nullableString(task.ReportPath),
			nullableString(task.ErrorMessage),
			nowStr,
			nowStr,
			nullableTime(task.FinishedAt),
			task.ID,
			expected,
		)
		if err != nil {
			return fmt.Errorf("persist stage outputs: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("persist stage outputs rows: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("%w: task %d no longer at %s", ErrStageConflict, task.ID, expected)
		}

		if kind == "" {
			return nil
		}
		encoded, err := payload.Encode()
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO outbox_events (task_id, kind, payload, created_at) VALUES (?, ?, ?, ?)`,
			task.ID, kind, encoded, nowStr,
		); err != nil {
			return fmt.Errorf("append follow-up event: %w", err)
		}
		return nil
	})
}

// RecordTaskError stores error text on the task without touching its stage.
// Used when a collaborator call fails mid-stage: the task stays frozen at
// its in-progress stage until the stale sweep or an operator intervenes.
func (s *Store) RecordTaskError(ctx context.Context, id int64, message string) error {
	now := timestamp(time.Now())
	if _, err := s.execWithRetry(
		ctx,
		`UPDATE tasks SET error_message = ?, updated_at = ? WHERE id = ?`,
		nullableString(message), now, id,
	); err != nil {
		return fmt.Errorf("record task error: %w", err)
	}
	return nil
}

// BindTemplate links a template to a task and appends the template_selected
// event in the same transaction.
func (s *Store) BindTemplate(ctx context.Context, taskID, templateID int64) error {
	now := timestamp(time.Now())
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(
			ctx,
			`UPDATE tasks SET template_id = ?, updated_at = ? WHERE id = ?`,
			templateID, now, taskID,
		)
		if err != nil {
			return fmt.Errorf("bind template: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("bind template rows: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("%w: task %d", ErrTaskNotFound, taskID)
		}

		payload, err := Payload{"template_id": templateID}.Encode()
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO outbox_events (task_id, kind, payload, created_at) VALUES (?, ?, ?, ?)`,
			taskID, EventTemplateSelected, payload, now,
		); err != nil {
			return fmt.Errorf("append template event: %w", err)
		}
		return nil
	})
}

// UpdateHeartbeat refreshes the liveness timestamp for an in-flight task.
func (s *Store) UpdateHeartbeat(ctx context.Context, id int64) error {
	now := timestamp(time.Now())
	if _, err := s.execWithRetry(
		ctx,
		`UPDATE tasks SET last_heartbeat = ?, updated_at = ? WHERE id = ?`,
		now, now, id,
	); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// FailStale moves tasks stuck at an in-progress stage with an expired
// heartbeat to failed, returning the affected task ids.
func (s *Store) FailStale(ctx context.Context, cutoff time.Time) ([]int64, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id FROM tasks
         WHERE stage IN (?, ?, ?)
           AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`,
		StageTranscriptionInProgress,
		StageExtractionInProgress,
		StageReportInProgress,
		timestamp(cutoff),
	)
	if err != nil {
		return nil, fmt.Errorf("find stale tasks: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan stale task: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	now := timestamp(time.Now())
	args := make([]any, 0, len(ids)+6)
	args = append(args, StageFailed, "stage heartbeat expired", now,
		StageTranscriptionInProgress, StageExtractionInProgress, StageReportInProgress)
	for _, id := range ids {
		args = append(args, id)
	}
	query := `UPDATE tasks
        SET stage = ?, error_message = ?, updated_at = ?, last_heartbeat = NULL
        WHERE stage IN (?, ?, ?) AND id IN (` + makePlaceholders(len(ids)) + `)`
	if _, err := s.execWithRetry(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("fail stale tasks: %w", err)
	}
	return ids, nil
}

// RetryTask returns a failed task to its last completed stage, clears the
// error, and re-appends the event(s) that stage had produced, all in one
// transaction. A loaded task with a recorded error is also eligible: the
// upload stage has no in-progress value, so its failures park the task at
// loaded with the initiating event already consumed, and re-appending is
// the only way back. This is the only path that moves a task's stage
// backwards; it exists for operators, not workers. The appended kinds are
// returned so the caller can report them.
func (s *Store) RetryTask(ctx context.Context, id int64) ([]EventKind, error) {
	task, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("%w: task %d", ErrTaskNotFound, id)
	}
	retryable := task.Stage == StageFailed ||
		(task.Stage == StageLoaded && task.ErrorMessage != "")
	if !retryable {
		return nil, fmt.Errorf("retry task %d: stage is %s with no recorded error; only failed tasks or loaded tasks with an upload error can be retried", id, task.Stage)
	}

	var resumeStage Stage
	var kinds []EventKind
	switch {
	case task.ExtractionResult != "" || task.ExtractionRaw != "":
		resumeStage = StageExtractionDone
		kinds = []EventKind{EventExtractionReady}
	case task.TranscriptText != "":
		resumeStage = StageTranscriptionDone
		kinds = []EventKind{EventTranscriptionReady}
		// The join consumed the original template_selected; re-arm it too.
		if task.TemplateID != nil {
			kinds = append(kinds, EventTemplateSelected)
		}
	case task.AudioStorageURL != "":
		resumeStage = StageLoaded
		kinds = []EventKind{EventAudioStoredRemotely}
	default:
		resumeStage = StageLoaded
		kinds = []EventKind{EventAudioUploaded}
	}

	now := timestamp(time.Now())
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(
			ctx,
			`UPDATE tasks
             SET stage = ?, error_message = NULL, updated_at = ?, last_heartbeat = NULL
             WHERE id = ? AND stage = ?`,
			resumeStage, now, id, task.Stage,
		)
		if err != nil {
			return fmt.Errorf("reset task stage: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("reset task stage rows: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("%w: task %d changed stage concurrently", ErrStageConflict, id)
		}
		for _, kind := range kinds {
			payload, err := Payload{"retried": true}.Encode()
			if err != nil {
				return fmt.Errorf("encode payload: %w", err)
			}
			if _, err := tx.ExecContext(
				ctx,
				`INSERT INTO outbox_events (task_id, kind, payload, created_at) VALUES (?, ?, ?, ?)`,
				id, kind, payload, now,
			); err != nil {
				return fmt.Errorf("append retry event: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return kinds, nil
}

// TaskStats aggregates task counts for status rendering.
func (s *Store) TaskStats(ctx context.Context) (TaskStats, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT stage, COUNT(1) FROM tasks GROUP BY stage`)
	if err != nil {
		return TaskStats{}, fmt.Errorf("task stats: %w", err)
	}
	defer rows.Close()

	var stats TaskStats
	for rows.Next() {
		var stageStr string
		var count int
		if err := rows.Scan(&stageStr, &count); err != nil {
			return TaskStats{}, fmt.Errorf("scan task stats: %w", err)
		}
		stats.Total += count
		switch stage := Stage(stageStr); {
		case stage == StageLoaded:
			stats.Loaded += count
		case stage == StageFailed:
			stats.Failed += count
		case stage == StageReportDone:
			stats.Done += count
		default:
			stats.InProgress += count
		}
	}
	return stats, rows.Err()
}

func nullableTemplateID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const taskColumns = "id, stage, template_id, audio_name, audio_ext, audio_local_path, audio_saved_name, audio_storage_url, audio_duration_seconds, transcript_text, transcript_segments, extraction_result, extraction_raw, token_count, report_path, error_message, created_at, updated_at, stage_completed_at, finished_at, last_heartbeat"

const eventColumns = "id, task_id, kind, payload, created_at, processed, processed_at, error, claimed_by, claimed_at"

type rowScanner interface{ Scan(dest ...any) error }

func scanTask(scanner rowScanner) (*Task, error) {
	var (
		id            int64
		stageStr      string
		templateID    sql.NullInt64
		audioName     sql.NullString
		audioExt      sql.NullString
		audioLocal    sql.NullString
		audioSaved    sql.NullString
		audioURL      sql.NullString
		duration      sql.NullFloat64
		transcript    sql.NullString
		segments      sql.NullString
		extraction    sql.NullString
		extractionRaw sql.NullString
		tokenCount    sql.NullInt64
		reportPath    sql.NullString
		errorMessage  sql.NullString
		createdRaw    sql.NullString
		updatedRaw    sql.NullString
		stageDoneRaw  sql.NullString
		finishedRaw   sql.NullString
		heartbeatRaw  sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&stageStr,
		&templateID,
		&audioName,
		&audioExt,
		&audioLocal,
		&audioSaved,
		&audioURL,
		&duration,
		&transcript,
		&segments,
		&extraction,
		&extractionRaw,
		&tokenCount,
		&reportPath,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
		&stageDoneRaw,
		&finishedRaw,
		&heartbeatRaw,
	); err != nil {
		return nil, err
	}

	task := &Task{
		ID:                   id,
		Stage:                Stage(stageStr),
		AudioName:            audioName.String,
		AudioExt:             audioExt.String,
		AudioLocalPath:       audioLocal.String,
		AudioSavedName:       audioSaved.String,
		AudioStorageURL:      audioURL.String,
		AudioDurationSeconds: duration.Float64,
		TranscriptText:       transcript.String,
		TranscriptSegments:   segments.String,
		ExtractionResult:     extraction.String,
		ExtractionRaw:        extractionRaw.String,
		TokenCount:           tokenCount.Int64,
		ReportPath:           reportPath.String,
		ErrorMessage:         errorMessage.String,
	}
	if templateID.Valid {
		v := templateID.Int64
		task.TemplateID = &v
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		task.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		task.UpdatedAt = updated
	}
	task.StageCompletedAt = parseNullableTime(stageDoneRaw)
	task.FinishedAt = parseNullableTime(finishedRaw)
	task.LastHeartbeat = parseNullableTime(heartbeatRaw)
	return task, nil
}

func scanEvent(scanner rowScanner) (*Event, error) {
	var (
		id           int64
		taskID       int64
		kindStr      string
		payload      sql.NullString
		createdRaw   sql.NullString
		processed    int64
		processedRaw sql.NullString
		errText      sql.NullString
		claimedBy    sql.NullString
		claimedRaw   sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&taskID,
		&kindStr,
		&payload,
		&createdRaw,
		&processed,
		&processedRaw,
		&errText,
		&claimedBy,
		&claimedRaw,
	); err != nil {
		return nil, err
	}

	event := &Event{
		ID:        id,
		TaskID:    taskID,
		Kind:      EventKind(kindStr),
		Payload:   payload.String,
		Processed: processed != 0,
		Error:     errText.String,
		ClaimedBy: claimedBy.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		event.CreatedAt = created
	}
	event.ProcessedAt = parseNullableTime(processedRaw)
	event.ClaimedAt = parseNullableTime(claimedRaw)
	return event, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func parseNullableTime(value sql.NullString) *time.Time {
	if !value.Valid || strings.TrimSpace(value.String) == "" {
		return nil
	}
	if parsed, err := parseTimeString(value.String); err == nil {
		return &parsed
	}
	return nil
}

func parseTimeString(value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if parsed, err := time.Parse(layout, trimmed); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time value %q", value)
}

func timestamp(now time.Time) string {
	return now.UTC().Format(time.RFC3339Nano)
}

func makePlaceholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

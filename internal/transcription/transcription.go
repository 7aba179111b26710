// Package transcription implements the diarized transcription stage.
package transcription

import (
	"context"
	"log/slog"
	"strings"

	"icast/internal/config"
	"icast/internal/logging"
	"icast/internal/services"
	"icast/internal/services/nexara"
	"icast/internal/stage"
	"icast/internal/store"
)

// Handler sends a task's stored audio to the diarization service and
// persists the transcript.
type Handler struct {
	store       *store.Store
	cfg         *config.Config
	logger      *slog.Logger
	transcriber nexara.Transcriber
}

// NewHandler constructs the transcription stage handler with default dependencies.
func NewHandler(cfg *config.Config, st *store.Store, logger *slog.Logger) *Handler {
	return NewHandlerWithTranscriber(cfg, st, logger, nexara.New(cfg, logger))
}

// NewHandlerWithTranscriber allows injecting the transcriber (used in tests).
func NewHandlerWithTranscriber(cfg *config.Config, st *store.Store, logger *slog.Logger, transcriber nexara.Transcriber) *Handler {
	return &Handler{
		store:       st,
		cfg:         cfg,
		logger:      logging.NewComponentLogger(logger, "transcription"),
		transcriber: transcriber,
	}
}

// Execute moves the task to transcription_in_progress, calls the diarize
// endpoint, and persists text, segments, and duration together with the
// transcription_ready event. An external failure leaves the task frozen
// in progress with the error recorded; the stale sweep reaps it later.
func (h *Handler) Execute(ctx context.Context, task *store.Task) error {
	logger := logging.WithContext(ctx, h.logger)

	audioURL := strings.TrimSpace(task.AudioStorageURL)
	if audioURL == "" {
		return services.Wrap(services.ErrValidation, "transcription", "validate inputs",
			"Task has no storage URL; upload must complete first", nil)
	}

	if err := h.store.TransitionStage(ctx, task.ID, store.StageLoaded, store.StageTranscriptionInProgress); err != nil {
		return err
	}
	task.Stage = store.StageTranscriptionInProgress

	// Audit marker only; the dispatcher never routes it.
	if _, err := h.store.AppendEvent(ctx, task.ID, store.EventTranscriptionStarted, store.Payload{
		"audio_url": audioURL,
	}); err != nil {
		logger.Warn("failed to append transcription_started marker", logging.Error(err))
	}

	logger.Info("requesting diarized transcription", logging.String("audio_url", audioURL))
	transcript, err := h.transcriber.Transcribe(ctx, audioURL)
	if err != nil {
		return err
	}

	task.TranscriptText = transcript.Text
	task.AudioDurationSeconds = transcript.Duration
	if err := task.SetSegments(transcript.Segments); err != nil {
		return services.Wrap(services.ErrMalformedResponse, "transcription", "encode segments",
			"Diarization segments could not be stored", err)
	}

	task.Stage = store.StageTranscriptionDone
	if err := h.store.CompleteStage(ctx, task, store.StageTranscriptionInProgress, store.EventTranscriptionReady, store.Payload{
		"segments":         len(transcript.Segments),
		"duration_seconds": transcript.Duration,
	}); err != nil {
		return err
	}
	logger.Info("transcription complete",
		logging.Int("segments", len(transcript.Segments)),
		logging.Float64("duration_seconds", transcript.Duration))
	return nil
}

// HealthCheck reports whether the transcription service is configured.
func (h *Handler) HealthCheck(ctx context.Context) stage.Health {
	if strings.TrimSpace(h.cfg.Nexara.APIKey) == "" {
		return stage.Unhealthy("transcription", "nexara api key not configured")
	}
	return stage.Healthy("transcription")
}

// Package extraction implements the stage that pulls answers to a
// template's question set out of a diarized transcript.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"icast/internal/config"
	"icast/internal/logging"
	"icast/internal/services"
	"icast/internal/services/llm"
	"icast/internal/stage"
	"icast/internal/store"
	"icast/internal/templates"
)

const systemPromptSuffix = `Answer using the speaker's literal quotes from the interview, do not paraphrase. ` +
	`If the interview contains no answer to a question, return "No answer". ` +
	`Return JSON of the form {"question number": "answer"} and nothing else.`

// Handler runs the LLM extraction for tasks whose transcript and template
// are both ready.
type Handler struct {
	store     *store.Store
	cfg       *config.Config
	logger    *slog.Logger
	completer llm.Completer
	templates templates.Provider
}

// NewHandler constructs the extraction stage handler with default dependencies.
func NewHandler(cfg *config.Config, st *store.Store, logger *slog.Logger) *Handler {
	return NewHandlerWithDependencies(cfg, st, logger, llm.New(cfg), templates.NewStoreProvider(st))
}

// NewHandlerWithDependencies allows injecting collaborators (used in tests).
func NewHandlerWithDependencies(cfg *config.Config, st *store.Store, logger *slog.Logger, completer llm.Completer, provider templates.Provider) *Handler {
	return &Handler{
		store:     st,
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "extraction"),
		completer: completer,
		templates: provider,
	}
}

// Execute moves the task to extraction_in_progress, requests a JSON-only
// completion, and persists the structured answers together with the
// extraction_ready event. A malformed model payload is not a failure: the
// raw text is stored, the structured result stays empty, and the stage
// still completes.
func (h *Handler) Execute(ctx context.Context, task *store.Task) error {
	logger := logging.WithContext(ctx, h.logger)

	if task.TemplateID == nil {
		return services.Wrap(services.ErrValidation, "extraction", "validate inputs",
			"Task has no bound template; select a template first", nil)
	}
	segments, err := task.Segments()
	if err != nil {
		return services.Wrap(services.ErrValidation, "extraction", "decode segments",
			"Stored diarization segments are unreadable", err)
	}
	if len(segments) == 0 {
		return services.Wrap(services.ErrValidation, "extraction", "validate inputs",
			"Task has no diarization segments; transcription must complete first", nil)
	}

	template, err := h.templates.Get(ctx, *task.TemplateID)
	if err != nil {
		return err
	}
	if len(template.Questions) == 0 {
		return services.Wrap(services.ErrValidation, "extraction", "validate template",
			fmt.Sprintf("Template %d has no questions", template.ID), nil)
	}

	if err := h.store.TransitionStage(ctx, task.ID, store.StageTranscriptionDone, store.StageExtractionInProgress); err != nil {
		return err
	}
	task.Stage = store.StageExtractionInProgress

	systemPrompt, userPrompt := BuildPrompts(template, segments)
	logger.Info("requesting answer extraction",
		logging.Int64("template_id", template.ID),
		logging.Int("questions", len(template.Questions)))

	completion, err := h.completer.CompleteJSON(ctx, systemPrompt, userPrompt)
	if err != nil {
		return services.Wrap(services.ErrExternalService, "extraction", "complete",
			"Language model request failed", err)
	}
	task.ExtractionRaw = completion.Content
	task.TokenCount = int64(completion.TotalTokens)

	var answers map[string]string
	if decodeErr := llm.DecodeLLMJSON(completion.Content, &answers); decodeErr != nil {
		logger.Warn("model payload is not valid JSON, storing raw text",
			logging.Error(decodeErr))
		task.ExtractionResult = ""
	} else {
		encoded, err := json.Marshal(answers)
		if err != nil {
			return services.Wrap(services.ErrMalformedResponse, "extraction", "encode answers",
				"Extracted answers could not be stored", err)
		}
		task.ExtractionResult = string(encoded)
	}

	task.Stage = store.StageExtractionDone
	if err := h.store.CompleteStage(ctx, task, store.StageExtractionInProgress, store.EventExtractionReady, store.Payload{
		"task_id": task.ID,
	}); err != nil {
		return err
	}
	logger.Info("extraction complete",
		logging.Int("answers", len(answers)),
		logging.Int64("total_tokens", task.TokenCount))
	return nil
}

// HealthCheck reports whether the language model is configured.
func (h *Handler) HealthCheck(ctx context.Context) stage.Health {
	if strings.TrimSpace(h.cfg.LLM.APIKey) == "" {
		return stage.Unhealthy("extraction", "llm api key not configured")
	}
	return stage.Healthy("extraction")
}

// BuildPrompts assembles the system and user prompts: the template's
// preamble plus the JSON answer contract, then the speaker-tagged
// transcript followed by the numbered question list.
func BuildPrompts(template *templates.Template, segments []store.Segment) (string, string) {
	var system strings.Builder
	preamble := strings.TrimSpace(template.PromptPreamble)
	if preamble != "" {
		system.WriteString(preamble)
		system.WriteString(" ")
	}
	system.WriteString(systemPromptSuffix)

	var transcript strings.Builder
	for i, seg := range segments {
		if i > 0 {
			transcript.WriteString("\n")
		}
		fmt.Fprintf(&transcript, "[%s] %s", seg.Speaker, seg.Text)
	}

	var questions strings.Builder
	for i, q := range template.Questions {
		if i > 0 {
			questions.WriteString("\n")
		}
		fmt.Fprintf(&questions, "%d. %s", q.ID, q.Text)
	}

	user := fmt.Sprintf("Interview:\n%s\n\nQuestions:\n%s", transcript.String(), questions.String())
	return system.String(), user
}

// Package report implements the final stage: it renders the extracted
// answers into an xlsx workbook and publishes it to object storage.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"icast/internal/config"
	"icast/internal/logging"
	"icast/internal/services"
	"icast/internal/services/storage"
	"icast/internal/stage"
	"icast/internal/store"
	"icast/internal/templates"
)

// ObjectStore is the slice of the storage client this stage needs.
type ObjectStore interface {
	Upload(ctx context.Context, key string, payload []byte) (string, error)
	HealthCheck(ctx context.Context) error
}

// Handler renders and publishes the spreadsheet report for a task.
type Handler struct {
	store     *store.Store
	cfg       *config.Config
	logger    *slog.Logger
	storage   ObjectStore
	templates templates.Provider
	now       func() time.Time
}

// NewHandler constructs the report stage handler with default dependencies.
func NewHandler(cfg *config.Config, st *store.Store, logger *slog.Logger) (*Handler, error) {
	client, err := storage.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	return NewHandlerWithDependencies(cfg, st, logger, client, templates.NewStoreProvider(st)), nil
}

// NewHandlerWithDependencies allows injecting collaborators (used in tests).
func NewHandlerWithDependencies(cfg *config.Config, st *store.Store, logger *slog.Logger, objectStore ObjectStore, provider templates.Provider) *Handler {
	return &Handler{
		store:     st,
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "report"),
		storage:   objectStore,
		templates: provider,
		now:       time.Now,
	}
}

// Execute moves the task to report_in_progress, renders one row per
// question in numeric order, uploads the workbook, and finishes the task:
// report path, report_done, finished_at, and the report_ready marker all
// land in one transaction.
func (h *Handler) Execute(ctx context.Context, task *store.Task) error {
	logger := logging.WithContext(ctx, h.logger)

	if task.TemplateID == nil {
		return services.Wrap(services.ErrValidation, "report", "validate inputs",
			"Task has no bound template", nil)
	}
	answers, err := task.Answers()
	if err != nil {
		return services.Wrap(services.ErrValidation, "report", "decode answers",
			"Stored extraction result is unreadable", err)
	}

	template, err := h.templates.Get(ctx, *task.TemplateID)
	if err != nil {
		return err
	}

	if err := h.store.TransitionStage(ctx, task.ID, store.StageExtractionDone, store.StageReportInProgress); err != nil {
		return err
	}
	task.Stage = store.StageReportInProgress

	rows := BuildRows(template, answers)
	workbook, err := RenderWorkbook(template.Title, rows)
	if err != nil {
		return services.Wrap(services.ErrMalformedResponse, "report", "render workbook",
			"Failed to render the xlsx report", err)
	}

	key := fmt.Sprintf("reports/task-%d.xlsx", task.ID)
	url, err := h.storage.Upload(ctx, key, workbook)
	if err != nil {
		return err
	}

	finished := h.now().UTC()
	task.ReportPath = url
	task.FinishedAt = &finished
	task.Stage = store.StageReportDone
	if err := h.store.CompleteStage(ctx, task, store.StageReportInProgress, store.EventReportReady, store.Payload{
		"report_url": url,
		"rows":       len(rows),
	}); err != nil {
		return err
	}
	logger.Info("report published",
		logging.String("report_url", url),
		logging.Int("rows", len(rows)))
	return nil
}

// HealthCheck reports whether the storage bucket is reachable.
func (h *Handler) HealthCheck(ctx context.Context) stage.Health {
	if err := h.storage.HealthCheck(ctx); err != nil {
		return stage.Unhealthy("report", err.Error())
	}
	return stage.Healthy("report")
}

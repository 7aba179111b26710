package main

import (
	"fmt"
	"log/slog"

	"icast/internal/config"
	"icast/internal/dispatch"
	"icast/internal/extraction"
	"icast/internal/report"
	"icast/internal/store"
	"icast/internal/transcription"
	"icast/internal/upload"
)

// registerStages wires every pipeline stage handler into the worker
// pool with its configured lane width.
func registerStages(pool *dispatch.Pool, cfg *config.Config, st *store.Store, logger *slog.Logger) error {
	uploadHandler, err := upload.NewHandler(cfg, st, logger)
	if err != nil {
		return fmt.Errorf("upload handler: %w", err)
	}
	reportHandler, err := report.NewHandler(cfg, st, logger)
	if err != nil {
		return fmt.Errorf("report handler: %w", err)
	}

	pool.Register(dispatch.CategoryUpload, uploadHandler, cfg.Dispatch.UploadWorkers)
	pool.Register(dispatch.CategoryTranscription, transcription.NewHandler(cfg, st, logger), cfg.Dispatch.TranscriptionWorkers)
	pool.Register(dispatch.CategoryExtraction, extraction.NewHandler(cfg, st, logger), cfg.Dispatch.ExtractionWorkers)
	pool.Register(dispatch.CategoryReport, reportHandler, cfg.Dispatch.ReportWorkers)
	return nil
}

// Package upload implements the stage that moves submitted audio into
// object storage.
package upload

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"icast/internal/config"
	"icast/internal/logging"
	"icast/internal/services"
	"icast/internal/services/storage"
	"icast/internal/stage"
	"icast/internal/store"
)

// ObjectStore is the slice of the storage client this stage needs.
type ObjectStore interface {
	UploadFile(ctx context.Context, localPath, key string) (string, error)
	ObjectKey(name string) string
	HealthCheck(ctx context.Context) error
}

// Handler uploads a task's local audio file and records the public URL.
type Handler struct {
	store   *store.Store
	cfg     *config.Config
	logger  *slog.Logger
	storage ObjectStore
}

// NewHandler constructs the upload stage handler with default dependencies.
func NewHandler(cfg *config.Config, st *store.Store, logger *slog.Logger) (*Handler, error) {
	client, err := storage.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	return NewHandlerWithStorage(cfg, st, logger, client), nil
}

// NewHandlerWithStorage allows injecting the object store (used in tests).
func NewHandlerWithStorage(cfg *config.Config, st *store.Store, logger *slog.Logger, objectStore ObjectStore) *Handler {
	return &Handler{
		store:   st,
		cfg:     cfg,
		logger:  logging.NewComponentLogger(logger, "upload"),
		storage: objectStore,
	}
}

// Execute streams the local asset to object storage. The task stays at the
// loaded stage throughout; success appends audio_stored_remotely in the
// same transaction that records the storage URL.
func (h *Handler) Execute(ctx context.Context, task *store.Task) error {
	logger := logging.WithContext(ctx, h.logger)

	localPath := strings.TrimSpace(task.AudioLocalPath)
	if localPath == "" {
		return services.Wrap(services.ErrValidation, "upload", "validate inputs",
			"Task has no local audio path to upload", nil)
	}
	savedName := strings.TrimSpace(task.AudioSavedName)
	if savedName == "" {
		savedName = filepath.Base(localPath)
	}

	key := h.storage.ObjectKey(savedName)
	logger.Info("uploading audio",
		logging.String("local_path", localPath),
		logging.String("object_key", key))

	url, err := h.storage.UploadFile(ctx, localPath, key)
	if err != nil {
		return err
	}

	task.AudioStorageURL = url
	task.Stage = store.StageLoaded
	if err := h.store.CompleteStage(ctx, task, store.StageLoaded, store.EventAudioStoredRemotely, store.Payload{
		"filename":    savedName,
		"storage_url": url,
		"uploaded_by": "daemon",
	}); err != nil {
		return err
	}
	logger.Info("audio stored remotely", logging.String("storage_url", url))
	return nil
}

// HealthCheck reports whether the storage bucket is reachable.
func (h *Handler) HealthCheck(ctx context.Context) stage.Health {
	if err := h.storage.HealthCheck(ctx); err != nil {
		return stage.Unhealthy("upload", err.Error())
	}
	return stage.Healthy("upload")
}

// Package nexara wraps the Nexara speech-to-text API.
//
// The service takes a publicly reachable audio URL and returns a diarized
// transcript: full text plus speaker-attributed segments.
package nexara

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"icast/internal/config"
	"icast/internal/logging"
	"icast/internal/services"
	"icast/internal/store"
)

// Transcript is the diarized transcription result.
type Transcript struct {
	Text     string          `json:"text"`
	Segments []store.Segment `json:"segments"`
	Duration float64         `json:"duration"`
}

// Transcriber converts remote audio into diarized transcripts.
type Transcriber interface {
	Transcribe(ctx context.Context, audioURL string) (*Transcript, error)
}

// Client calls the Nexara transcription endpoint.
type Client struct {
	http   *resty.Client
	logger *slog.Logger
}

// New builds a Nexara client from configuration.
func New(cfg *config.Config, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.Nexara.BaseURL).
		SetAuthToken(cfg.Nexara.APIKey).
		SetTimeout(time.Duration(cfg.Nexara.TimeoutSeconds) * time.Second)
	return &Client{
		http:   httpClient,
		logger: logging.NewComponentLogger(logger, "nexara"),
	}
}

// Transcribe submits audioURL for diarized transcription and blocks until
// the service responds. Non-200 responses surface the service's error body
// so the task record keeps the upstream diagnostics.
func (c *Client) Transcribe(ctx context.Context, audioURL string) (*Transcript, error) {
	var result Transcript
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"task":            "diarize",
			"response_format": "verbose_json",
			"url":             audioURL,
		}).
		SetResult(&result).
		Post("/audio/transcriptions")
	if err != nil {
		return nil, services.Wrap(services.ErrExternalService, "transcription", "diarize request",
			"Transcription service is unreachable", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, services.Wrap(services.ErrExternalService, "transcription", "diarize request",
			fmt.Sprintf("Transcription service returned %d: %s", resp.StatusCode(), resp.String()), nil)
	}
	c.logger.Info("diarization complete",
		logging.Float64("duration_seconds", result.Duration),
		logging.Int("segments", len(result.Segments)))
	return &result, nil
}

package nexara

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"icast/internal/logging"
	"icast/internal/services"
	"icast/internal/testsupport"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	cfg := testsupport.NewConfig(t)
	cfg.Nexara.BaseURL = server.URL
	cfg.Nexara.APIKey = "test-key"
	return New(cfg, logging.NewNop())
}

func TestTranscribeDecodesVerboseJSON(t *testing.T) {
	var gotAuth, gotTask, gotURL string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm() error = %v", err)
		}
		gotTask = r.FormValue("task")
		gotURL = r.FormValue("url")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"text": "hello there",
			"duration": 12.5,
			"segments": [
				{"speaker": "SPEAKER_00", "start": 0, "end": 4.2, "text": "hello"},
				{"speaker": "SPEAKER_01", "start": 4.2, "end": 12.5, "text": "there"}
			]
		}`))
	})

	transcript, err := client.Transcribe(context.Background(), "https://storage.example.net/bucket/a.mp3")
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
	if gotTask != "diarize" {
		t.Errorf("task form field = %q, want %q", gotTask, "diarize")
	}
	if gotURL != "https://storage.example.net/bucket/a.mp3" {
		t.Errorf("url form field = %q", gotURL)
	}
	if transcript.Text != "hello there" || transcript.Duration != 12.5 {
		t.Errorf("transcript = %+v", transcript)
	}
	if len(transcript.Segments) != 2 || transcript.Segments[1].Speaker != "SPEAKER_01" {
		t.Errorf("segments = %+v", transcript.Segments)
	}
}

func TestTranscribePreservesServiceErrorBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error": "audio url unreachable"}`))
	})

	_, err := client.Transcribe(context.Background(), "https://storage.example.net/bucket/a.mp3")
	if !errors.Is(err, services.ErrExternalService) {
		t.Fatalf("Transcribe() error = %v, want ErrExternalService", err)
	}
	if !strings.Contains(err.Error(), "audio url unreachable") {
		t.Errorf("error %q does not carry the service response body", err)
	}
}

func TestTranscribeUnreachableService(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Nexara.BaseURL = "http://127.0.0.1:1"
	client := New(cfg, logging.NewNop())

	_, err := client.Transcribe(context.Background(), "https://storage.example.net/bucket/a.mp3")
	if !errors.Is(err, services.ErrExternalService) {
		t.Fatalf("Transcribe() error = %v, want ErrExternalService", err)
	}
}

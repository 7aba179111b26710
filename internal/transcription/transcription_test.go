package transcription

import (
	"context"
	"errors"
	"testing"

	"icast/internal/logging"
	"icast/internal/services/nexara"
	"icast/internal/store"
	"icast/internal/testsupport"
)

type fakeTranscriber struct {
	transcript *nexara.Transcript
	err        error
	gotURL     string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, audioURL string) (*nexara.Transcript, error) {
	f.gotURL = audioURL
	if f.err != nil {
		return nil, f.err
	}
	return f.transcript, nil
}

func uploadedTask(t *testing.T, st *store.Store) *store.Task {
	t.Helper()
	task := testsupport.NewTask(t, st, "interview.wav")
	task.AudioStorageURL = "https://storage.example.net/icast-test/media_uploads/interview.wav"
	if err := st.CompleteStage(context.Background(), task, store.StageLoaded, "", nil); err != nil {
		t.Fatalf("CompleteStage() error = %v", err)
	}
	return task
}

func TestExecutePersistsTranscriptAndEmitsReady(t *testing.T) {
	st := testsupport.MustOpenStore(t)
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()
	task := uploadedTask(t, st)

	transcriber := &fakeTranscriber{transcript: &nexara.Transcript{
		Text:     "hello there",
		Duration: 42.5,
		Segments: []store.Segment{
			{Speaker: "SPEAKER_00", Start: 0, End: 20, Text: "hello"},
			{Speaker: "SPEAKER_01", Start: 20, End: 42.5, Text: "there"},
		},
	}}
	handler := NewHandlerWithTranscriber(cfg, st, logging.NewNop(), transcriber)

	if err := handler.Execute(ctx, task); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if transcriber.gotURL != "https://storage.example.net/icast-test/media_uploads/interview.wav" {
		t.Errorf("transcriber received url %q", transcriber.gotURL)
	}

	stored, err := st.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if stored.Stage != store.StageTranscriptionDone {
		t.Errorf("stage = %s, want %s", stored.Stage, store.StageTranscriptionDone)
	}
	if stored.TranscriptText != "hello there" || stored.AudioDurationSeconds != 42.5 {
		t.Errorf("transcript fields not persisted: %+v", stored)
	}
	segments, err := stored.Segments()
	if err != nil {
		t.Fatalf("Segments() error = %v", err)
	}
	if len(segments) != 2 || segments[1].Speaker != "SPEAKER_01" {
		t.Errorf("segments = %+v", segments)
	}

	events, err := st.ListEvents(ctx)
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	var started, ready bool
	for _, event := range events {
		switch event.Kind {
		case store.EventTranscriptionStarted:
			started = true
		case store.EventTranscriptionReady:
			ready = true
		}
	}
	if !started || !ready {
		t.Errorf("started = %v, ready = %v, want both events", started, ready)
	}
}

func TestExecuteFailureFreezesTaskInProgress(t *testing.T) {
	st := testsupport.MustOpenStore(t)
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()
	task := uploadedTask(t, st)

	transcriber := &fakeTranscriber{err: errors.New("nexara timeout")}
	handler := NewHandlerWithTranscriber(cfg, st, logging.NewNop(), transcriber)

	if err := handler.Execute(ctx, task); err == nil {
		t.Fatal("Execute() succeeded, want transcriber error")
	}

	stored, err := st.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if stored.Stage != store.StageTranscriptionInProgress {
		t.Errorf("stage = %s, want frozen %s", stored.Stage, store.StageTranscriptionInProgress)
	}

	events, err := st.ListEvents(ctx)
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	for _, event := range events {
		if event.Kind == store.EventTranscriptionReady {
			t.Error("transcription_ready appended despite failure")
		}
	}
}

func TestExecuteRejectsMissingStorageURL(t *testing.T) {
	st := testsupport.MustOpenStore(t)
	cfg := testsupport.NewConfig(t)
	task := testsupport.NewTask(t, st, "interview.wav")

	handler := NewHandlerWithTranscriber(cfg, st, logging.NewNop(), &fakeTranscriber{})
	if err := handler.Execute(context.Background(), task); err == nil {
		t.Fatal("Execute() succeeded without a storage URL")
	}
}

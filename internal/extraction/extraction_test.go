package extraction

import (
	"context"
	"errors"
	"strings"
	"testing"

	"icast/internal/logging"
	"icast/internal/services/llm"
	"icast/internal/store"
	"icast/internal/templates"
	"icast/internal/testsupport"
)

type fakeCompleter struct {
	completion llm.Completion
	err        error

	gotSystem string
	gotUser   string
}

func (f *fakeCompleter) CompleteJSON(_ context.Context, systemPrompt, userPrompt string) (llm.Completion, error) {
	f.gotSystem = systemPrompt
	f.gotUser = userPrompt
	if f.err != nil {
		return llm.Completion{}, f.err
	}
	return f.completion, nil
}

func transcribedTask(t *testing.T, st *store.Store) *store.Task {
	t.Helper()
	ctx := context.Background()
	task := testsupport.NewTask(t, st, "interview.wav")
	template := testsupport.NewTemplate(t, st, "custdev")
	if err := st.BindTemplate(ctx, task.ID, template.ID); err != nil {
		t.Fatalf("BindTemplate() error = %v", err)
	}

	task.TemplateID = &template.ID
	task.TranscriptText = "hello there"
	if err := task.SetSegments([]store.Segment{
		{Speaker: "SPEAKER_00", Start: 0, End: 5, Text: "I am a product marketer."},
		{Speaker: "SPEAKER_01", Start: 5, End: 9, Text: "We drown in spreadsheets."},
	}); err != nil {
		t.Fatalf("SetSegments() error = %v", err)
	}
	task.Stage = store.StageTranscriptionDone
	if err := st.CompleteStage(ctx, task, store.StageLoaded, "", nil); err != nil {
		t.Fatalf("CompleteStage() error = %v", err)
	}
	return task
}

func TestExecuteParsesAnswersAndEmitsReady(t *testing.T) {
	st := testsupport.MustOpenStore(t)
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()
	task := transcribedTask(t, st)

	completer := &fakeCompleter{completion: llm.Completion{
		Content:     `{"1": "I am a product marketer.", "2": "We drown in spreadsheets."}`,
		TotalTokens: 512,
	}}
	handler := NewHandlerWithDependencies(cfg, st, logging.NewNop(), completer, templates.NewStoreProvider(st))

	if err := handler.Execute(ctx, task); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	stored, err := st.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if stored.Stage != store.StageExtractionDone {
		t.Errorf("stage = %s, want %s", stored.Stage, store.StageExtractionDone)
	}
	if stored.TokenCount != 512 {
		t.Errorf("TokenCount = %d, want 512", stored.TokenCount)
	}
	answers, err := stored.Answers()
	if err != nil {
		t.Fatalf("Answers() error = %v", err)
	}
	if answers["1"] != "I am a product marketer." {
		t.Errorf("answers = %v", answers)
	}

	events, err := st.ListEvents(ctx)
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	var ready bool
	for _, event := range events {
		if event.Kind == store.EventExtractionReady {
			ready = true
		}
	}
	if !ready {
		t.Error("extraction_ready event was not appended")
	}
}

func TestExecutePromptCarriesSpeakersAndNumberedQuestions(t *testing.T) {
	st := testsupport.MustOpenStore(t)
	cfg := testsupport.NewConfig(t)
	task := transcribedTask(t, st)

	completer := &fakeCompleter{completion: llm.Completion{Content: `{}`}}
	handler := NewHandlerWithDependencies(cfg, st, logging.NewNop(), completer, templates.NewStoreProvider(st))

	if err := handler.Execute(context.Background(), task); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(completer.gotUser, "[SPEAKER_00] I am a product marketer.") {
		t.Errorf("user prompt lacks speaker-tagged transcript:\n%s", completer.gotUser)
	}
	if !strings.Contains(completer.gotUser, "1. What is your role?") ||
		!strings.Contains(completer.gotUser, "2. What problem do you solve?") {
		t.Errorf("user prompt lacks numbered questions:\n%s", completer.gotUser)
	}
	if !strings.Contains(completer.gotSystem, "You are an interviewer.") {
		t.Errorf("system prompt lacks template preamble:\n%s", completer.gotSystem)
	}
	if !strings.Contains(completer.gotSystem, `{"question number": "answer"}`) {
		t.Errorf("system prompt lacks the JSON answer contract:\n%s", completer.gotSystem)
	}
}

func TestExecuteMalformedPayloadStoresRawAndStillCompletes(t *testing.T) {
	st := testsupport.MustOpenStore(t)
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()
	task := transcribedTask(t, st)

	completer := &fakeCompleter{completion: llm.Completion{
		Content: "I could not find any of the requested answers.",
	}}
	handler := NewHandlerWithDependencies(cfg, st, logging.NewNop(), completer, templates.NewStoreProvider(st))

	if err := handler.Execute(ctx, task); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	stored, err := st.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if stored.Stage != store.StageExtractionDone {
		t.Errorf("stage = %s, want %s (malformed payload is not a failure)", stored.Stage, store.StageExtractionDone)
	}
	if stored.ExtractionRaw != "I could not find any of the requested answers." {
		t.Errorf("ExtractionRaw = %q", stored.ExtractionRaw)
	}
	if stored.ExtractionResult != "" {
		t.Errorf("ExtractionResult = %q, want empty", stored.ExtractionResult)
	}
}

func TestExecuteCodeFencedPayloadParses(t *testing.T) {
	st := testsupport.MustOpenStore(t)
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()
	task := transcribedTask(t, st)

	completer := &fakeCompleter{completion: llm.Completion{
		Content: "```json\n{\"1\": \"fenced answer\"}\n```",
	}}
	handler := NewHandlerWithDependencies(cfg, st, logging.NewNop(), completer, templates.NewStoreProvider(st))

	if err := handler.Execute(ctx, task); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	stored, err := st.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	answers, err := stored.Answers()
	if err != nil {
		t.Fatalf("Answers() error = %v", err)
	}
	if answers["1"] != "fenced answer" {
		t.Errorf("answers = %v", answers)
	}
}

func TestExecuteModelFailureFreezesTask(t *testing.T) {
	st := testsupport.MustOpenStore(t)
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()
	task := transcribedTask(t, st)

	completer := &fakeCompleter{err: errors.New("model overloaded")}
	handler := NewHandlerWithDependencies(cfg, st, logging.NewNop(), completer, templates.NewStoreProvider(st))

	if err := handler.Execute(ctx, task); err == nil {
		t.Fatal("Execute() succeeded, want model error")
	}
	stored, err := st.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if stored.Stage != store.StageExtractionInProgress {
		t.Errorf("stage = %s, want frozen %s", stored.Stage, store.StageExtractionInProgress)
	}
}

func TestExecuteRequiresTemplate(t *testing.T) {
	st := testsupport.MustOpenStore(t)
	cfg := testsupport.NewConfig(t)
	task := testsupport.NewTask(t, st, "interview.wav")

	handler := NewHandlerWithDependencies(cfg, st, logging.NewNop(), &fakeCompleter{}, templates.NewStoreProvider(st))
	if err := handler.Execute(context.Background(), task); err == nil {
		t.Fatal("Execute() succeeded without a bound template")
	}
}

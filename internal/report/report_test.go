package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/xuri/excelize/v2"

	"icast/internal/logging"
	"icast/internal/store"
	"icast/internal/templates"
	"icast/internal/testsupport"
)

type fakeObjectStore struct {
	payloads map[string][]byte
	err      error
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{payloads: make(map[string][]byte)}
}

func (f *fakeObjectStore) Upload(_ context.Context, key string, payload []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.payloads[key] = payload
	return "https://storage.example.net/icast-test/" + key, nil
}

func (f *fakeObjectStore) HealthCheck(context.Context) error { return f.err }

func extractedTask(t *testing.T, st *store.Store, answers map[string]string) *store.Task {
	t.Helper()
	ctx := context.Background()
	task := testsupport.NewTask(t, st, "interview.wav")
	template := testsupport.NewTemplate(t, st, "custdev")
	if err := st.BindTemplate(ctx, task.ID, template.ID); err != nil {
		t.Fatalf("BindTemplate() error = %v", err)
	}

	encoded, err := json.Marshal(answers)
	if err != nil {
		t.Fatalf("marshal answers: %v", err)
	}
	task.TemplateID = &template.ID
	task.ExtractionResult = string(encoded)
	task.Stage = store.StageExtractionDone
	if err := st.CompleteStage(ctx, task, store.StageLoaded, "", nil); err != nil {
		t.Fatalf("CompleteStage() error = %v", err)
	}
	return task
}

func TestExecutePublishesReportAndFinishesTask(t *testing.T) {
	st := testsupport.MustOpenStore(t)
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()
	task := extractedTask(t, st, map[string]string{"1": "product marketer", "2": "spreadsheets"})

	objectStore := newFakeObjectStore()
	handler := NewHandlerWithDependencies(cfg, st, logging.NewNop(), objectStore, templates.NewStoreProvider(st))

	if err := handler.Execute(ctx, task); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	stored, err := st.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if stored.Stage != store.StageReportDone {
		t.Errorf("stage = %s, want %s", stored.Stage, store.StageReportDone)
	}
	if stored.FinishedAt == nil {
		t.Error("FinishedAt was not set")
	}
	wantURL := fmt.Sprintf("https://storage.example.net/icast-test/reports/task-%d.xlsx", task.ID)
	if stored.ReportPath != wantURL {
		t.Errorf("ReportPath = %q, want %q", stored.ReportPath, wantURL)
	}
	if _, ok := objectStore.payloads[fmt.Sprintf("reports/task-%d.xlsx", task.ID)]; !ok {
		t.Error("workbook payload was not uploaded")
	}

	events, err := st.ListEvents(ctx)
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	var ready bool
	for _, event := range events {
		if event.Kind == store.EventReportReady {
			ready = true
		}
	}
	if !ready {
		t.Error("report_ready event was not appended")
	}
}

func TestExecuteUploadFailureFreezesTask(t *testing.T) {
	st := testsupport.MustOpenStore(t)
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()
	task := extractedTask(t, st, map[string]string{"1": "a"})

	objectStore := newFakeObjectStore()
	objectStore.err = errors.New("bucket unavailable")
	handler := NewHandlerWithDependencies(cfg, st, logging.NewNop(), objectStore, templates.NewStoreProvider(st))

	if err := handler.Execute(ctx, task); err == nil {
		t.Fatal("Execute() succeeded, want storage error")
	}
	stored, err := st.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if stored.Stage != store.StageReportInProgress {
		t.Errorf("stage = %s, want frozen %s", stored.Stage, store.StageReportInProgress)
	}
	if stored.FinishedAt != nil {
		t.Error("FinishedAt set despite failure")
	}
}

func TestBuildRowsNumericOrderAndSentinel(t *testing.T) {
	template := &templates.Template{
		Questions: []templates.Question{
			{ID: 1, Text: "first"},
			{ID: 2, Text: "second"},
			{ID: 9, Text: "ninth"},
			{ID: 10, Text: "tenth"},
		},
	}
	rows := BuildRows(template, map[string]string{"1": "a", "10": "j"})

	wantIDs := []int{1, 2, 9, 10}
	for i, row := range rows {
		if row.QuestionID != wantIDs[i] {
			t.Errorf("rows[%d].QuestionID = %d, want %d", i, row.QuestionID, wantIDs[i])
		}
	}
	if rows[1].Answer != noAnswerSentinel || rows[2].Answer != noAnswerSentinel {
		t.Errorf("unanswered rows = %+v, want sentinel %q", rows, noAnswerSentinel)
	}
	if rows[3].Answer != "j" {
		t.Errorf("rows[3].Answer = %q, want %q", rows[3].Answer, "j")
	}
}

func TestRenderWorkbookRoundTrip(t *testing.T) {
	rows := []Row{
		{QuestionID: 1, Question: "What is your role?", Answer: "product marketer"},
		{QuestionID: 2, Question: "What problem do you solve?", Answer: noAnswerSentinel},
	}
	payload, err := RenderWorkbook("custdev", rows)
	if err != nil {
		t.Fatalf("RenderWorkbook() error = %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer f.Close()

	cells, err := f.GetRows(sheetName)
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if len(cells) != 3 {
		t.Fatalf("row count = %d, want header + 2", len(cells))
	}
	if cells[0][0] != "#" || cells[0][1] != "Question" || cells[0][2] != "Answer" {
		t.Errorf("header = %v", cells[0])
	}
	if cells[1][2] != "product marketer" {
		t.Errorf("answer cell = %q", cells[1][2])
	}
	if cells[2][2] != noAnswerSentinel {
		t.Errorf("sentinel cell = %q", cells[2][2])
	}
}

package testsupport

import (
	"context"
	"path/filepath"
	"testing"

	"icast/internal/store"
)

// MustOpenStore opens a store in a temp directory and registers cleanup.
func MustOpenStore(t testing.TB) *store.Store {
	t.Helper()

	st, err := store.OpenPath(filepath.Join(t.TempDir(), "icast.db"))
	if err != nil {
		t.Fatalf("store.OpenPath: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewTask creates a task for tests using the provided store.
func NewTask(t testing.TB, st *store.Store, name string) *store.Task {
	t.Helper()

	task, err := st.NewTask(context.Background(), store.NewTaskInput{
		AudioName:      name,
		AudioExt:       "wav",
		AudioLocalPath: "/tmp/" + name,
		AudioSavedName: name,
	})
	if err != nil {
		t.Fatalf("store.NewTask: %v", err)
	}
	return task
}

// NewTemplate creates a question-set template for tests.
func NewTemplate(t testing.TB, st *store.Store, title string) *store.Template {
	t.Helper()

	questions := `[{"id":1,"text":"What is your role?"},{"id":2,"text":"What problem do you solve?"}]`
	template, err := st.CreateTemplate(context.Background(), title, "You are an interviewer.", questions)
	if err != nil {
		t.Fatalf("store.CreateTemplate: %v", err)
	}
	return template
}

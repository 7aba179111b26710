// Package templates exposes read-only access to question-set templates.
//
// A template is an ordered question set plus a prompt preamble. Once a task
// references a template the row is never mutated, so extraction results stay
// reproducible against the exact question set that produced them.
package templates

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"icast/internal/services"
	"icast/internal/store"
)

// Question is one entry of a template's question set.
type Question struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

// Template is the typed view of a stored template row.
type Template struct {
	ID             int64
	Title          string
	PromptPreamble string
	Questions      []Question
}

// Provider resolves templates for the extraction and report stages.
type Provider interface {
	Get(ctx context.Context, id int64) (*Template, error)
}

// StoreProvider reads templates from the pipeline store.
type StoreProvider struct {
	store *store.Store
}

// NewStoreProvider wraps a store as a template provider.
func NewStoreProvider(st *store.Store) *StoreProvider {
	return &StoreProvider{store: st}
}

// Get fetches and decodes a template. Missing templates are ErrNotFound.
func (p *StoreProvider) Get(ctx context.Context, id int64) (*Template, error) {
	row, err := p.store.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, services.Wrap(services.ErrNotFound, "templates", "get",
			fmt.Sprintf("template %d", id), nil)
	}
	return Decode(row)
}

// Decode converts a stored template row into its typed form with questions
// sorted by numeric id.
func Decode(row *store.Template) (*Template, error) {
	questions, err := ParseQuestions(row.QuestionsJSON)
	if err != nil {
		return nil, fmt.Errorf("template %d: %w", row.ID, err)
	}
	return &Template{
		ID:             row.ID,
		Title:          row.Title,
		PromptPreamble: row.PromptPreamble,
		Questions:      questions,
	}, nil
}

// ParseQuestions decodes a question-set JSON array and sorts it by numeric
// question id, so report rows and prompt lines come out in 1, 2, ... 9, 10
// order rather than lexicographic.
func ParseQuestions(raw string) ([]Question, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	var questions []Question
	if err := json.Unmarshal([]byte(trimmed), &questions); err != nil {
		return nil, fmt.Errorf("parse questions: %w", err)
	}
	sort.Slice(questions, func(i, j int) bool {
		return questions[i].ID < questions[j].ID
	})
	return questions, nil
}

// EncodeQuestions serializes a question set for storage.
func EncodeQuestions(questions []Question) (string, error) {
	raw, err := json.Marshal(questions)
	if err != nil {
		return "", fmt.Errorf("encode questions: %w", err)
	}
	return string(raw), nil
}

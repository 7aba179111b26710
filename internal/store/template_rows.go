package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const templateColumns = "id, title, prompt_preamble, questions, created_at"

// CreateTemplate inserts a question-set template. Templates are never
// updated after creation; a changed question set is a new template.
func (s *Store) CreateTemplate(ctx context.Context, title, promptPreamble, questionsJSON string) (*Template, error) {
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO templates (title, prompt_preamble, questions, created_at) VALUES (?, ?, ?, ?)`,
		title, promptPreamble, questionsJSON, timestamp(time.Now()),
	)
	if err != nil {
		return nil, fmt.Errorf("create template: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("template id: %w", err)
	}
	return s.GetTemplate(ctx, id)
}

// GetTemplate fetches a template by identifier. Returns nil when missing.
func (s *Store) GetTemplate(ctx context.Context, id int64) (*Template, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT `+templateColumns+` FROM templates WHERE id = ?`,
		id,
	)
	template, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return template, nil
}

// ListTemplates returns all templates ordered by creation.
func (s *Store) ListTemplates(ctx context.Context) ([]*Template, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT `+templateColumns+` FROM templates ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var templates []*Template
	for rows.Next() {
		template, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		templates = append(templates, template)
	}
	return templates, rows.Err()
}

func scanTemplate(scanner rowScanner) (*Template, error) {
	var (
		id         int64
		title      sql.NullString
		preamble   sql.NullString
		questions  sql.NullString
		createdRaw sql.NullString
	)
	if err := scanner.Scan(&id, &title, &preamble, &questions, &createdRaw); err != nil {
		return nil, err
	}
	template := &Template{
		ID:             id,
		Title:          title.String,
		PromptPreamble: preamble.String,
		QuestionsJSON:  questions.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		template.CreatedAt = created
	}
	return template, nil
}

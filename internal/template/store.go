package template

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Template is a stored email template.
type Template struct {
	ID          string
	CompanyID   string
	Name        string
	Subject     string
	HTML        string
	Text        string
	PreviewText string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Store persists templates.
type Store struct {
	db *sql.DB
}

// NewStore creates a template store backed by db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetByID fetches one template, nil when absent.
func (s *Store) GetByID(ctx context.Context, id string) (*Template, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, company_id, name, subject, html, COALESCE(text_body, ''),
		       COALESCE(preview_text, ''), active, created_at, updated_at
		FROM email_templates WHERE id = $1`, id)

	var t Template
	err := row.Scan(&t.ID, &t.CompanyID, &t.Name, &t.Subject, &t.HTML, &t.Text,
		&t.PreviewText, &t.Active, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return &t, nil
}

// ListByCompany returns a company's templates, newest first.
func (s *Store) ListByCompany(ctx context.Context, companyID string) ([]*Template, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, name, subject, html, COALESCE(text_body, ''),
		       COALESCE(preview_text, ''), active, created_at, updated_at
		FROM email_templates
		WHERE company_id = $1
		ORDER BY created_at DESC`, companyID)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []*Template
	for rows.Next() {
		var t Template
		if err := rows.Scan(&t.ID, &t.CompanyID, &t.Name, &t.Subject, &t.HTML, &t.Text,
			&t.PreviewText, &t.Active, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// Create inserts a template.
func (s *Store) Create(ctx context.Context, t *Template) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO email_templates (id, company_id, name, subject, html, text_body, preview_text, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, NOW(), NOW())`,
		t.ID, t.CompanyID, t.Name, t.Subject, t.HTML, t.Text, t.PreviewText, t.Active)
	if err != nil {
		return fmt.Errorf("create template: %w", err)
	}
	return nil
}

// FindByName returns a company's template with the given name, nil
// when absent.
func (s *Store) FindByName(ctx context.Context, companyID, name string) (*Template, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, company_id, name, subject, html, COALESCE(text_body, ''),
		       COALESCE(preview_text, ''), active, created_at, updated_at
		FROM email_templates WHERE company_id = $1 AND name = $2`, companyID, name)

	var t Template
	err := row.Scan(&t.ID, &t.CompanyID, &t.Name, &t.Subject, &t.HTML, &t.Text,
		&t.PreviewText, &t.Active, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find template by name: %w", err)
	}
	return &t, nil
}

// Update rewrites a template's content fields.
func (s *Store) Update(ctx context.Context, t *Template) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE email_templates
		SET name = $1, subject = $2, html = $3, text_body = NULLIF($4, ''),
		    preview_text = NULLIF($5, ''), active = $6, updated_at = NOW()
		WHERE id = $7 AND company_id = $8`,
		t.Name, t.Subject, t.HTML, t.Text, t.PreviewText, t.Active, t.ID, t.CompanyID)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	return nil
}

// SetActive flips a template's active flag.
func (s *Store) SetActive(ctx context.Context, id string, active bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE email_templates SET active = $2, updated_at = NOW() WHERE id = $1`,
		id, active)
	if err != nil {
		return fmt.Errorf("set template active: %w", err)
	}
	return nil
}

package blast

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/keepup-email-engine/internal/schedule"
)

// Store handles CRUD for the email_blasts table.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const blastColumns = `id, company_id, name, template_id, COALESCE(request_id, ''),
	status, send_mode, scheduled_for, audience, settings_snapshot, pacing_summary,
	COALESCE(created_by, ''), created_at, updated_at`

func scanBlast(row interface{ Scan(...any) error }) (*Blast, error) {
	var b Blast
	var audienceJSON, settingsJSON []byte
	var pacingJSON []byte
	err := row.Scan(&b.ID, &b.CompanyID, &b.Name, &b.TemplateID, &b.RequestID,
		&b.Status, &b.SendMode, &b.ScheduledFor, &audienceJSON, &settingsJSON,
		&pacingJSON, &b.CreatedBy, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(audienceJSON, &b.Audience); err != nil {
		return nil, fmt.Errorf("decode blast audience: %w", err)
	}
	if err := json.Unmarshal(settingsJSON, &b.Settings); err != nil {
		return nil, fmt.Errorf("decode blast settings: %w", err)
	}
	if len(pacingJSON) > 0 {
		var summary schedule.PlanSummary
		if err := json.Unmarshal(pacingJSON, &summary); err != nil {
			return nil, fmt.Errorf("decode blast pacing: %w", err)
		}
		b.PacingSummary = &summary
	}
	return &b, nil
}

// Get fetches one blast scoped to a company, nil when absent.
func (s *Store) Get(ctx context.Context, companyID, id string) (*Blast, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+blastColumns+` FROM email_blasts
		WHERE id = $1 AND company_id = $2`, id, companyID)
	b, err := scanBlast(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get blast: %w", err)
	}
	return b, nil
}

// FindByRequestID returns the blast created under a client request id,
// nil when none. Launch uses this for idempotent retries.
func (s *Store) FindByRequestID(ctx context.Context, companyID, requestID string) (*Blast, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+blastColumns+` FROM email_blasts
		WHERE company_id = $1 AND request_id = $2`, companyID, requestID)
	b, err := scanBlast(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find blast by request id: %w", err)
	}
	return b, nil
}

// ListByCompany returns a company's blasts, newest first.
func (s *Store) ListByCompany(ctx context.Context, companyID string, limit int) ([]*Blast, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+blastColumns+` FROM email_blasts
		WHERE company_id = $1 ORDER BY created_at DESC LIMIT $2`, companyID, limit)
	if err != nil {
		return nil, fmt.Errorf("list blasts: %w", err)
	}
	defer rows.Close()

	var out []*Blast
	for rows.Next() {
		b, err := scanBlast(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ErrDuplicateRequest marks a request id collision on insert.
var ErrDuplicateRequest = fmt.Errorf("blast: duplicate request id")

// Create inserts a blast. A request id that lost a race to another
// insert surfaces as ErrDuplicateRequest so the caller can return the
// existing blast.
func (s *Store) Create(ctx context.Context, b *Blast) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.Status == "" {
		b.Status = StatusScheduled
	}
	audienceJSON, err := json.Marshal(b.Audience)
	if err != nil {
		return fmt.Errorf("encode blast audience: %w", err)
	}
	settingsJSON, err := json.Marshal(b.Settings)
	if err != nil {
		return fmt.Errorf("encode blast settings: %w", err)
	}
	var pacingJSON any
	if b.PacingSummary != nil {
		raw, err := json.Marshal(b.PacingSummary)
		if err != nil {
			return fmt.Errorf("encode blast pacing: %w", err)
		}
		pacingJSON = raw
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO email_blasts (id, company_id, name, template_id, request_id, status, send_mode, scheduled_for, audience, settings_snapshot, pacing_summary, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11, NULLIF($12, ''), NOW(), NOW())`,
		b.ID, b.CompanyID, b.Name, b.TemplateID, b.RequestID, b.Status,
		b.SendMode, b.ScheduledFor, audienceJSON, settingsJSON, pacingJSON, b.CreatedBy)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateRequest
		}
		return fmt.Errorf("create blast: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// SetStatus moves a blast between lifecycle states.
func (s *Store) SetStatus(ctx context.Context, companyID, id, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE email_blasts SET status = $1, updated_at = NOW()
		WHERE id = $2 AND company_id = $3`, status, id, companyID)
	if err != nil {
		return fmt.Errorf("set blast status: %w", err)
	}
	return nil
}

// Progress summarizes a blast's job counts by status.
type Progress struct {
	Queued   int `json:"queued"`
	Sent     int `json:"sent"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
	Canceled int `json:"canceled"`
}

// GetProgress counts the blast's jobs per status.
func (s *Store) GetProgress(ctx context.Context, companyID, blastID string) (*Progress, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM email_jobs
		WHERE company_id = $1 AND blast_id = $2
		GROUP BY status`, companyID, blastID)
	if err != nil {
		return nil, fmt.Errorf("blast progress: %w", err)
	}
	defer rows.Close()

	var p Progress
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		switch status {
		case "queued", "processing":
			p.Queued += count
		case "sent":
			p.Sent = count
		case "failed":
			p.Failed = count
		case "skipped":
			p.Skipped = count
		case "canceled":
			p.Canceled = count
		}
	}
	return &p, rows.Err()
}

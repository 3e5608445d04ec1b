package followup

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Store handles CRUD for the follow_up_schedules table.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const scheduleColumns = `id, company_id, name, COALESCE(summary, ''), status,
	COALESCE(stop_on_statuses, '{}'), steps, version,
	COALESCE(created_by, ''), created_at, updated_at`

func scanSchedule(row interface{ Scan(...any) error }) (*Schedule, error) {
	var s Schedule
	var stops pq.StringArray
	var stepsJSON []byte
	err := row.Scan(&s.ID, &s.CompanyID, &s.Name, &s.Summary, &s.Status,
		&stops, &stepsJSON, &s.Version, &s.CreatedBy, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.StopOnStatuses = stops
	if err := json.Unmarshal(stepsJSON, &s.Steps); err != nil {
		return nil, fmt.Errorf("decode schedule steps: %w", err)
	}
	return &s, nil
}

// Get fetches one schedule scoped to a company, nil when absent.
func (s *Store) Get(ctx context.Context, companyID, id string) (*Schedule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM follow_up_schedules
		WHERE id = $1 AND company_id = $2`, id, companyID)
	sched, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return sched, nil
}

// ListByCompany returns a company's schedules, newest first.
func (s *Store) ListByCompany(ctx context.Context, companyID string) ([]*Schedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scheduleColumns+` FROM follow_up_schedules
		WHERE company_id = $1 ORDER BY created_at DESC`, companyID)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var out []*Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sched)
	}
	return out, rows.Err()
}

// Create inserts a schedule. Active schedules need at least one step.
func (s *Store) Create(ctx context.Context, sched *Schedule) error {
	if sched.ID == "" {
		sched.ID = uuid.New().String()
	}
	if sched.Status == "" {
		sched.Status = StatusDraft
	}
	if sched.Version == 0 {
		sched.Version = 1
	}
	if sched.Status == StatusActive && len(sched.Steps) == 0 {
		return fmt.Errorf("active schedule %q has no steps", sched.Name)
	}
	for i := range sched.Steps {
		if sched.Steps[i].StepID == "" {
			sched.Steps[i].StepID = uuid.New().String()
		}
	}
	stepsJSON, err := json.Marshal(sched.Steps)
	if err != nil {
		return fmt.Errorf("encode schedule steps: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO follow_up_schedules (id, company_id, name, summary, status, stop_on_statuses, steps, version, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, NULLIF($9, ''), NOW(), NOW())`,
		sched.ID, sched.CompanyID, sched.Name, sched.Summary, sched.Status,
		pq.StringArray(sched.StopOnStatuses), stepsJSON, sched.Version, sched.CreatedBy)
	if err != nil {
		return fmt.Errorf("create schedule: %w", err)
	}
	return nil
}

// Update rewrites a schedule and bumps its version.
func (s *Store) Update(ctx context.Context, sched *Schedule) error {
	if sched.Status == StatusActive && len(sched.Steps) == 0 {
		return fmt.Errorf("active schedule %q has no steps", sched.Name)
	}
	for i := range sched.Steps {
		if sched.Steps[i].StepID == "" {
			sched.Steps[i].StepID = uuid.New().String()
		}
	}
	stepsJSON, err := json.Marshal(sched.Steps)
	if err != nil {
		return fmt.Errorf("encode schedule steps: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE follow_up_schedules
		SET name = $1, summary = NULLIF($2, ''), status = $3, stop_on_statuses = $4,
		    steps = $5, version = version + 1, updated_at = NOW()
		WHERE id = $6 AND company_id = $7`,
		sched.Name, sched.Summary, sched.Status, pq.StringArray(sched.StopOnStatuses),
		stepsJSON, sched.ID, sched.CompanyID)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	return nil
}

// Archive retires a schedule without deleting its history.
func (s *Store) Archive(ctx context.Context, companyID, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE follow_up_schedules SET status = $1, updated_at = NOW()
		WHERE id = $2 AND company_id = $3`, StatusArchived, id, companyID)
	if err != nil {
		return fmt.Errorf("archive schedule: %w", err)
	}
	return nil
}

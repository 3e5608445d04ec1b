package company

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Store persists company email state.
type Store struct {
	db *sql.DB
}

// NewStore creates a company state store backed by db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const stateColumns = `
	company_id, paused, paused_at, COALESCE(paused_by, ''), COALESCE(pause_reason, ''),
	COALESCE(pause_meta::text, '{}'), warmup_enabled, warmup_started_at, warmup_ended_at,
	warmup_days_total, COALESCE(warmup_schedule::text, '[]'), updated_at`

func scanState(row *sql.Row) (*State, error) {
	var st State
	var metaRaw, scheduleRaw string
	err := row.Scan(
		&st.CompanyID, &st.Paused, &st.PausedAt, &st.PausedBy, &st.PauseReason,
		&metaRaw, &st.WarmupEnabled, &st.WarmupStartedAt, &st.WarmupEndedAt,
		&st.WarmupDaysTotal, &scheduleRaw, &st.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if metaRaw != "" && metaRaw != "{}" {
		if err := json.Unmarshal([]byte(metaRaw), &st.PauseMeta); err != nil {
			return nil, fmt.Errorf("decode pause meta: %w", err)
		}
	}
	if scheduleRaw != "" && scheduleRaw != "[]" {
		if err := json.Unmarshal([]byte(scheduleRaw), &st.WarmupSchedule); err != nil {
			return nil, fmt.Errorf("decode warmup schedule: %w", err)
		}
	}
	return &st, nil
}

// Get loads a company's state. Companies with no row get a zero state,
// never nil.
func (s *Store) Get(ctx context.Context, companyID string) (*State, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+stateColumns+` FROM company_email_state WHERE company_id = $1`, companyID)
	st, err := scanState(row)
	if err == sql.ErrNoRows {
		return &State{CompanyID: companyID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get company state: %w", err)
	}
	return st, nil
}

// Pause marks the company paused. Already-paused companies are left
// untouched and reported back, so repeated triggers never overwrite
// the original pause context.
func (s *Store) Pause(ctx context.Context, companyID, by, reason string, meta map[string]any) (bool, error) {
	metaJSON := []byte("{}")
	if meta != nil {
		var err error
		metaJSON, err = json.Marshal(meta)
		if err != nil {
			return false, fmt.Errorf("encode pause meta: %w", err)
		}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO company_email_state (company_id, paused, paused_at, paused_by, pause_reason, pause_meta, updated_at)
		VALUES ($1, TRUE, NOW(), $2, $3, $4, NOW())
		ON CONFLICT (company_id) DO UPDATE SET
			paused = TRUE,
			paused_at = NOW(),
			paused_by = EXCLUDED.paused_by,
			pause_reason = EXCLUDED.pause_reason,
			pause_meta = EXCLUDED.pause_meta,
			updated_at = NOW()
		WHERE company_email_state.paused = FALSE`,
		companyID, by, reason, string(metaJSON),
	)
	if err != nil {
		return false, fmt.Errorf("pause company: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Resume clears the pause. Returns whether anything changed.
func (s *Store) Resume(ctx context.Context, companyID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE company_email_state
		SET paused = FALSE, paused_at = NULL, paused_by = NULL,
		    pause_reason = NULL, pause_meta = NULL, updated_at = NOW()
		WHERE company_id = $1 AND paused = TRUE`,
		companyID,
	)
	if err != nil {
		return false, fmt.Errorf("resume company: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// StartWarmup begins (or restarts) the warmup ramp for a company.
func (s *Store) StartWarmup(ctx context.Context, companyID string, startedAt time.Time, daysTotal int, steps []WarmupStep) error {
	scheduleJSON, err := json.Marshal(steps)
	if err != nil {
		return fmt.Errorf("encode warmup schedule: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO company_email_state (company_id, warmup_enabled, warmup_started_at, warmup_ended_at, warmup_days_total, warmup_schedule, updated_at)
		VALUES ($1, TRUE, $2, NULL, $3, $4, NOW())
		ON CONFLICT (company_id) DO UPDATE SET
			warmup_enabled = TRUE,
			warmup_started_at = EXCLUDED.warmup_started_at,
			warmup_ended_at = NULL,
			warmup_days_total = EXCLUDED.warmup_days_total,
			warmup_schedule = EXCLUDED.warmup_schedule,
			updated_at = NOW()`,
		companyID, startedAt, daysTotal, string(scheduleJSON),
	)
	if err != nil {
		return fmt.Errorf("start warmup: %w", err)
	}
	return nil
}

// EndWarmup records the ramp as finished.
func (s *Store) EndWarmup(ctx context.Context, companyID string, endedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE company_email_state
		SET warmup_ended_at = $2, updated_at = NOW()
		WHERE company_id = $1 AND warmup_ended_at IS NULL`,
		companyID, endedAt,
	)
	if err != nil {
		return fmt.Errorf("end warmup: %w", err)
	}
	return nil
}

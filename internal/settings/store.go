package settings

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// Store persists per-company settings.
type Store struct {
	db *sql.DB
}

// NewStore creates a settings store backed by db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetForCompany loads a company's settings, returning Defaults when no
// row exists. Never returns nil on success.
func (s *Store) GetForCompany(ctx context.Context, companyID string) (*Settings, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT company_id, timezone, allowed_days, allowed_start_time, allowed_end_time,
		       quiet_hours_enabled, daily_cap, rate_limit_per_minute, unsubscribe_behavior,
		       bounce_monitor_enabled, bounce_rate_threshold, bounce_min_sent,
		       pause_on_spam_report, COALESCE(from_name, ''), COALESCE(from_email, ''),
		       COALESCE(reply_to, ''), updated_at
		FROM email_settings WHERE company_id = $1`,
		companyID,
	)

	var st Settings
	var days pq.Int64Array
	err := row.Scan(
		&st.CompanyID, &st.Timezone, &days, &st.AllowedStartTime, &st.AllowedEndTime,
		&st.QuietHoursEnabled, &st.DailyCap, &st.RateLimitPerMinute, &st.UnsubscribeBehavior,
		&st.BounceMonitorOn, &st.BounceRateThreshold, &st.BounceMinSent,
		&st.PauseOnSpamReport, &st.FromName, &st.FromEmail,
		&st.ReplyTo, &st.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return Defaults(companyID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}

	st.AllowedDays = make([]int, len(days))
	for i, d := range days {
		st.AllowedDays[i] = int(d)
	}
	return &st, nil
}

// Upsert writes a company's settings.
func (s *Store) Upsert(ctx context.Context, st *Settings) error {
	days := make(pq.Int64Array, len(st.AllowedDays))
	for i, d := range st.AllowedDays {
		days[i] = int64(d)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO email_settings (
			company_id, timezone, allowed_days, allowed_start_time, allowed_end_time,
			quiet_hours_enabled, daily_cap, rate_limit_per_minute, unsubscribe_behavior,
			bounce_monitor_enabled, bounce_rate_threshold, bounce_min_sent,
			pause_on_spam_report, from_name, from_email, reply_to, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
		          NULLIF($14, ''), NULLIF($15, ''), NULLIF($16, ''), NOW())
		ON CONFLICT (company_id) DO UPDATE SET
			timezone = EXCLUDED.timezone,
			allowed_days = EXCLUDED.allowed_days,
			allowed_start_time = EXCLUDED.allowed_start_time,
			allowed_end_time = EXCLUDED.allowed_end_time,
			quiet_hours_enabled = EXCLUDED.quiet_hours_enabled,
			daily_cap = EXCLUDED.daily_cap,
			rate_limit_per_minute = EXCLUDED.rate_limit_per_minute,
			unsubscribe_behavior = EXCLUDED.unsubscribe_behavior,
			bounce_monitor_enabled = EXCLUDED.bounce_monitor_enabled,
			bounce_rate_threshold = EXCLUDED.bounce_rate_threshold,
			bounce_min_sent = EXCLUDED.bounce_min_sent,
			pause_on_spam_report = EXCLUDED.pause_on_spam_report,
			from_name = EXCLUDED.from_name,
			from_email = EXCLUDED.from_email,
			reply_to = EXCLUDED.reply_to,
			updated_at = NOW()`,
		st.CompanyID, st.Timezone, days, st.AllowedStartTime, st.AllowedEndTime,
		st.QuietHoursEnabled, st.DailyCap, st.RateLimitPerMinute, st.UnsubscribeBehavior,
		st.BounceMonitorOn, st.BounceRateThreshold, st.BounceMinSent,
		st.PauseOnSpamReport, st.FromName, st.FromEmail, st.ReplyTo,
	)
	if err != nil {
		return fmt.Errorf("upsert settings: %w", err)
	}
	return nil
}

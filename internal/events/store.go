// Package events persists provider delivery events. Rows are
// insert-once per (provider, dedupe key), which is what makes webhook
// redelivery safe: side effects run only for rows that were new.
package events

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// BounceClass are the event types counted against a company's bounce
// rate.
var BounceClass = []string{"bounce", "blocked", "dropped"}

// Event is one provider delivery event.
type Event struct {
	ID                string
	Provider          string
	DedupeKey         string
	CompanyID         string
	JobID             string
	Email             string
	EventType         string
	ProviderMessageID string
	OccurredAt        time.Time
	Raw               string
	CreatedAt         time.Time
}

// Store persists events.
type Store struct {
	db *sql.DB
}

// NewStore creates an event store backed by db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// InsertOnce writes the event unless its dedupe key was seen before.
// Returns whether the row was new.
func (s *Store) InsertOnce(ctx context.Context, e *Event) (bool, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO email_events (
			id, provider, dedupe_key, company_id, job_id, email,
			event_type, provider_message_id, occurred_at, raw, created_at
		) VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''),
		          $7, NULLIF($8, ''), $9, $10, NOW())
		ON CONFLICT (provider, dedupe_key) DO NOTHING`,
		e.ID, e.Provider, e.DedupeKey, e.CompanyID, e.JobID, e.Email,
		e.EventType, e.ProviderMessageID, e.OccurredAt, e.Raw,
	)
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CountByTypesBetween counts a company's events of the given types
// with occurred_at in [from, to).
func (s *Store) CountByTypesBetween(ctx context.Context, companyID string, types []string, from, to time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM email_events
		WHERE company_id = $1
		  AND event_type = ANY($2)
		  AND occurred_at >= $3 AND occurred_at < $4`,
		companyID, pq.Array(types), from, to,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// ListRecentByCompany returns a company's newest events, for debugging
// delivery problems.
func (s *Store) ListRecentByCompany(ctx context.Context, companyID string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, provider, dedupe_key, COALESCE(company_id, ''), COALESCE(job_id, ''),
		       COALESCE(email, ''), event_type, COALESCE(provider_message_id, ''),
		       occurred_at, raw, created_at
		FROM email_events
		WHERE company_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2`, companyID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Provider, &e.DedupeKey, &e.CompanyID, &e.JobID,
			&e.Email, &e.EventType, &e.ProviderMessageID,
			&e.OccurredAt, &e.Raw, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

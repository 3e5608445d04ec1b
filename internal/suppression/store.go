// Package suppression keeps the per-company do-not-send list and the
// unsubscribe machinery: signed tokens, the footer every outgoing HTML
// body carries, and the behavior applied when someone opts out.
package suppression

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/keepup-email-engine/internal/contacts"
)

// Reasons an address can be suppressed.
const (
	ReasonUnsubscribe = "unsubscribe"
	ReasonBounce      = "bounce"
	ReasonSpamReport  = "spamreport"
	ReasonManual      = "manual"
)

// Suppression is one do-not-send entry, unique per company and email.
type Suppression struct {
	ID        string
	CompanyID string
	Email     string
	Reason    string
	Source    string
	CreatedAt time.Time
}

// Store persists suppressions.
type Store struct {
	db *sql.DB
}

// NewStore creates a suppression store backed by db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Add records a suppression. Existing entries keep their original
// reason; opt-outs don't get rewritten by later bounces.
func (s *Store) Add(ctx context.Context, companyID, email, reason, source string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppressions (id, company_id, email, reason, source, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (company_id, email) DO NOTHING`,
		uuid.New().String(), companyID, contacts.NormalizeEmail(email), reason, source,
	)
	if err != nil {
		return fmt.Errorf("add suppression: %w", err)
	}
	return nil
}

// IsSuppressed reports whether an address is on the company's list.
func (s *Store) IsSuppressed(ctx context.Context, companyID, email string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM suppressions WHERE company_id = $1 AND email = $2
		)`,
		companyID, contacts.NormalizeEmail(email),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check suppression: %w", err)
	}
	return exists, nil
}

// EmailSet returns all of a company's suppressed addresses keyed for
// membership checks. Blast audience resolution loads this once instead
// of probing per contact.
func (s *Store) EmailSet(ctx context.Context, companyID string) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT email FROM suppressions WHERE company_id = $1`, companyID)
	if err != nil {
		return nil, fmt.Errorf("load suppression set: %w", err)
	}
	defer rows.Close()

	set := make(map[string]struct{})
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		set[contacts.NormalizeEmail(email)] = struct{}{}
	}
	return set, rows.Err()
}

// Get fetches one entry, nil when absent.
func (s *Store) Get(ctx context.Context, companyID, email string) (*Suppression, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, company_id, email, reason, COALESCE(source, ''), created_at
		FROM suppressions WHERE company_id = $1 AND email = $2`,
		companyID, contacts.NormalizeEmail(email))

	var sup Suppression
	err := row.Scan(&sup.ID, &sup.CompanyID, &sup.Email, &sup.Reason, &sup.Source, &sup.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get suppression: %w", err)
	}
	return &sup, nil
}

// Remove deletes an entry, for operator corrections.
func (s *Store) Remove(ctx context.Context, companyID, email string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM suppressions WHERE company_id = $1 AND email = $2`,
		companyID, contacts.NormalizeEmail(email))
	if err != nil {
		return fmt.Errorf("remove suppression: %w", err)
	}
	return nil
}

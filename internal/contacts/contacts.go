// Package contacts reads and mutates the contact and realtor records
// the email engine depends on: recipient addresses, statuses, pause
// flags, tags and merge data.
package contacts

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Contact is a recipient.
type Contact struct {
	ID          string
	CompanyID   string
	RealtorID   string
	CommunityID string
	FirstName   string
	LastName    string
	Email       string
	Phone       string
	Status      string
	DoNotEmail  bool
	Paused      bool
	Tags        []string

	// FollowUpScheduleID is the follow-up schedule currently applied
	// to the contact, empty when none.
	FollowUpScheduleID string
	UpdatedAt          time.Time
}

// Realtor is the agent a contact belongs to.
type Realtor struct {
	ID        string
	CompanyID string
	Name      string
	Email     string
	Phone     string
	Paused    bool
}

// NormalizeEmail lowercases and trims an address for comparisons and
// storage keys.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// MergeData flattens a contact and its realtor into template variables.
func MergeData(c *Contact, r *Realtor) map[string]any {
	data := map[string]any{
		"firstName": "",
		"lastName":  "",
		"email":     "",
		"status":    "",
	}
	if c != nil {
		data["firstName"] = c.FirstName
		data["lastName"] = c.LastName
		data["email"] = c.Email
		data["status"] = c.Status
	}
	if r != nil {
		data["realtorName"] = r.Name
		data["realtorEmail"] = r.Email
		data["realtorPhone"] = r.Phone
	}
	return data
}

// Store queries contacts and realtors.
type Store struct {
	db *sql.DB
}

// NewStore creates a contact store backed by db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetContact fetches one contact, nil when absent.
func (s *Store) GetContact(ctx context.Context, id string) (*Contact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, company_id, COALESCE(realtor_id, ''), COALESCE(community_id, ''),
		       COALESCE(first_name, ''), COALESCE(last_name, ''), COALESCE(email, ''),
		       COALESCE(phone, ''), COALESCE(status, ''), do_not_email, paused,
		       COALESCE(tags, '{}'), COALESCE(follow_up_schedule_id, ''), updated_at
		FROM contacts WHERE id = $1`, id)

	var c Contact
	var tags pq.StringArray
	err := row.Scan(
		&c.ID, &c.CompanyID, &c.RealtorID, &c.CommunityID,
		&c.FirstName, &c.LastName, &c.Email,
		&c.Phone, &c.Status, &c.DoNotEmail, &c.Paused,
		&tags, &c.FollowUpScheduleID, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	c.Tags = tags
	return &c, nil
}

// FindContactByEmail fetches a company's contact by normalized email,
// nil when absent.
func (s *Store) FindContactByEmail(ctx context.Context, companyID, email string) (*Contact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, company_id, COALESCE(realtor_id, ''), COALESCE(community_id, ''),
		       COALESCE(first_name, ''), COALESCE(last_name, ''), COALESCE(email, ''),
		       COALESCE(phone, ''), COALESCE(status, ''), do_not_email, paused,
		       COALESCE(tags, '{}'), COALESCE(follow_up_schedule_id, ''), updated_at
		FROM contacts WHERE company_id = $1 AND LOWER(email) = $2`,
		companyID, NormalizeEmail(email))

	var c Contact
	var tags pq.StringArray
	err := row.Scan(
		&c.ID, &c.CompanyID, &c.RealtorID, &c.CommunityID,
		&c.FirstName, &c.LastName, &c.Email,
		&c.Phone, &c.Status, &c.DoNotEmail, &c.Paused,
		&tags, &c.FollowUpScheduleID, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find contact by email: %w", err)
	}
	c.Tags = tags
	return &c, nil
}

// Filter narrows a contact listing. Zero values match everything.
type Filter struct {
	Statuses    []string
	CommunityID string
	Tag         string
}

// ListContacts returns a company's contacts matching the filter.
func (s *Store) ListContacts(ctx context.Context, companyID string, f Filter) ([]*Contact, error) {
	query := `
		SELECT id, company_id, COALESCE(realtor_id, ''), COALESCE(community_id, ''),
		       COALESCE(first_name, ''), COALESCE(last_name, ''), COALESCE(email, ''),
		       COALESCE(phone, ''), COALESCE(status, ''), do_not_email, paused,
		       COALESCE(tags, '{}'), COALESCE(follow_up_schedule_id, ''), updated_at
		FROM contacts WHERE company_id = $1`
	args := []any{companyID}
	if len(f.Statuses) > 0 {
		args = append(args, pq.StringArray(f.Statuses))
		query += fmt.Sprintf(" AND LOWER(status) = ANY(SELECT LOWER(unnest($%d::text[])))", len(args))
	}
	if f.CommunityID != "" {
		args = append(args, f.CommunityID)
		query += fmt.Sprintf(" AND community_id = $%d", len(args))
	}
	if f.Tag != "" {
		args = append(args, f.Tag)
		query += fmt.Sprintf(" AND $%d = ANY(COALESCE(tags, '{}'))", len(args))
	}
	query += " ORDER BY created_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	var out []*Contact
	for rows.Next() {
		var c Contact
		var tags pq.StringArray
		if err := rows.Scan(
			&c.ID, &c.CompanyID, &c.RealtorID, &c.CommunityID,
			&c.FirstName, &c.LastName, &c.Email,
			&c.Phone, &c.Status, &c.DoNotEmail, &c.Paused,
			&tags, &c.FollowUpScheduleID, &c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		c.Tags = tags
		out = append(out, &c)
	}
	return out, rows.Err()
}

// ListRealtors returns a company's realtors.
func (s *Store) ListRealtors(ctx context.Context, companyID string) ([]*Realtor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, COALESCE(name, ''), COALESCE(email, ''),
		       COALESCE(phone, ''), paused
		FROM realtors WHERE company_id = $1 ORDER BY name`, companyID)
	if err != nil {
		return nil, fmt.Errorf("list realtors: %w", err)
	}
	defer rows.Close()

	var out []*Realtor
	for rows.Next() {
		var r Realtor
		if err := rows.Scan(&r.ID, &r.CompanyID, &r.Name, &r.Email, &r.Phone, &r.Paused); err != nil {
			return nil, fmt.Errorf("scan realtor: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// GetRealtor fetches one realtor, nil when absent.
func (s *Store) GetRealtor(ctx context.Context, id string) (*Realtor, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, company_id, COALESCE(name, ''), COALESCE(email, ''),
		       COALESCE(phone, ''), paused
		FROM realtors WHERE id = $1`, id)

	var r Realtor
	err := row.Scan(&r.ID, &r.CompanyID, &r.Name, &r.Email, &r.Phone, &r.Paused)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get realtor: %w", err)
	}
	return &r, nil
}

// SetDoNotEmail flips the contact's do-not-email flag.
func (s *Store) SetDoNotEmail(ctx context.Context, contactID string, v bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE contacts SET do_not_email = $2, updated_at = NOW() WHERE id = $1`,
		contactID, v)
	if err != nil {
		return fmt.Errorf("set do_not_email: %w", err)
	}
	return nil
}

// SetStatus moves a contact to a new status.
func (s *Store) SetStatus(ctx context.Context, contactID, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE contacts SET status = $2, updated_at = NOW() WHERE id = $1`,
		contactID, status)
	if err != nil {
		return fmt.Errorf("set contact status: %w", err)
	}
	return nil
}

// SetFollowUpSchedule records which follow-up schedule the contact is
// on. Empty clears the assignment.
func (s *Store) SetFollowUpSchedule(ctx context.Context, contactID, scheduleID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE contacts SET follow_up_schedule_id = NULLIF($2, ''), updated_at = NOW() WHERE id = $1`,
		contactID, scheduleID)
	if err != nil {
		return fmt.Errorf("set follow-up schedule: %w", err)
	}
	return nil
}

// AddTag appends a tag unless the contact already carries it.
func (s *Store) AddTag(ctx context.Context, contactID, tag string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE contacts
		SET tags = array_append(tags, $2), updated_at = NOW()
		WHERE id = $1 AND NOT ($2 = ANY(COALESCE(tags, '{}')))`,
		contactID, tag)
	if err != nil {
		return fmt.Errorf("add contact tag: %w", err)
	}
	return nil
}

package automation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Store handles CRUD for the automation_rules table.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const ruleColumns = `id, company_id, name, enabled, trigger_type, trigger_config,
	action, COALESCE(created_by, ''), created_at, updated_at`

func scanRule(row interface{ Scan(...any) error }) (*Rule, error) {
	var r Rule
	var triggerJSON, actionJSON []byte
	err := row.Scan(&r.ID, &r.CompanyID, &r.Name, &r.Enabled, &r.TriggerType,
		&triggerJSON, &actionJSON, &r.CreatedBy, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(triggerJSON, &r.TriggerConfig); err != nil {
		return nil, fmt.Errorf("decode trigger config: %w", err)
	}
	if err := json.Unmarshal(actionJSON, &r.Action); err != nil {
		return nil, fmt.Errorf("decode rule action: %w", err)
	}
	return &r, nil
}

// GetRule fetches one rule, nil when absent.
func (s *Store) GetRule(ctx context.Context, id string) (*Rule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM automation_rules WHERE id = $1`, id)
	r, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get rule: %w", err)
	}
	return r, nil
}

// ListEnabledByTrigger returns a company's enabled rules for one
// trigger type, oldest first so rule order is stable.
func (s *Store) ListEnabledByTrigger(ctx context.Context, companyID, triggerType string) ([]*Rule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM automation_rules
		WHERE company_id = $1 AND trigger_type = $2 AND enabled = TRUE
		ORDER BY created_at`, companyID, triggerType)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var out []*Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListByCompany returns all of a company's rules, newest first.
func (s *Store) ListByCompany(ctx context.Context, companyID string) ([]*Rule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM automation_rules
		WHERE company_id = $1 ORDER BY created_at DESC`, companyID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var out []*Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CreateRule inserts a rule, filling defaults for id, trigger type and
// action type.
func (s *Store) CreateRule(ctx context.Context, r *Rule) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.TriggerType == "" {
		r.TriggerType = TriggerContactStatusChanged
	}
	if r.Action.Type == "" {
		r.Action.Type = ActionSendEmail
	}
	triggerJSON, err := json.Marshal(r.TriggerConfig)
	if err != nil {
		return fmt.Errorf("encode trigger config: %w", err)
	}
	actionJSON, err := json.Marshal(r.Action)
	if err != nil {
		return fmt.Errorf("encode rule action: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO automation_rules (id, company_id, name, enabled, trigger_type, trigger_config, action, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NOW(), NOW())`,
		r.ID, r.CompanyID, r.Name, r.Enabled, r.TriggerType, triggerJSON, actionJSON, r.CreatedBy)
	if err != nil {
		return fmt.Errorf("create rule: %w", err)
	}
	return nil
}

// UpdateRule rewrites a rule's mutable fields.
func (s *Store) UpdateRule(ctx context.Context, r *Rule) error {
	triggerJSON, err := json.Marshal(r.TriggerConfig)
	if err != nil {
		return fmt.Errorf("encode trigger config: %w", err)
	}
	actionJSON, err := json.Marshal(r.Action)
	if err != nil {
		return fmt.Errorf("encode rule action: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE automation_rules
		SET name = $1, enabled = $2, trigger_config = $3, action = $4, updated_at = NOW()
		WHERE id = $5 AND company_id = $6`,
		r.Name, r.Enabled, triggerJSON, actionJSON, r.ID, r.CompanyID)
	if err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	return nil
}

// SetEnabled flips a rule on or off.
func (s *Store) SetEnabled(ctx context.Context, companyID, id string, enabled bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE automation_rules SET enabled = $1, updated_at = NOW()
		WHERE id = $2 AND company_id = $3`, enabled, id, companyID)
	if err != nil {
		return fmt.Errorf("set rule enabled: %w", err)
	}
	return nil
}

// DeleteRule removes a rule.
func (s *Store) DeleteRule(ctx context.Context, companyID, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM automation_rules WHERE id = $1 AND company_id = $2`, id, companyID)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	return nil
}

// FindByName returns a company's rule with the given name, nil when
// absent. The preset installer keys on names to stay idempotent.
func (s *Store) FindByName(ctx context.Context, companyID, name string) (*Rule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM automation_rules
		WHERE company_id = $1 AND name = $2`, companyID, name)
	r, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find rule by name: %w", err)
	}
	return r, nil
}

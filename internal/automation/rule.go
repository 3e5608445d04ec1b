// Package automation reacts to contact status changes with trigger
// rules: each rule matches a status transition and enqueues a
// templated email, optionally delayed, with a cooldown so one contact
// never gets the same automation twice in quick succession.
package automation

import (
	"strings"
	"time"
)

// Trigger and action types. Both are single-valued today; the columns
// are strings so new types slot in without a migration.
const (
	TriggerContactStatusChanged = "contact.status.changed"
	ActionSendEmail             = "send_email"
)

// TriggerConfig narrows which status changes a rule fires on. Empty
// fields match anything.
type TriggerConfig struct {
	FromStatus  string `json:"fromStatus,omitempty"`
	ToStatus    string `json:"toStatus,omitempty"`
	CommunityID string `json:"communityId,omitempty"`
}

// Action is what a matched rule does.
type Action struct {
	Type                 string `json:"type"`
	TemplateID           string `json:"templateId"`
	DelayMinutes         int    `json:"delayMinutes"`
	CooldownMinutes      int    `json:"cooldownMinutes"`
	MustStillMatchAtSend bool   `json:"mustStillMatchAtSend"`
}

// Rule is one automation rule.
type Rule struct {
	ID            string        `json:"id"`
	CompanyID     string        `json:"companyId"`
	Name          string        `json:"name"`
	Enabled       bool          `json:"enabled"`
	TriggerType   string        `json:"triggerType"`
	TriggerConfig TriggerConfig `json:"triggerConfig"`
	Action        Action        `json:"action"`
	CreatedBy     string        `json:"createdBy,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

func normalizeStatus(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// StatusChange describes a contact moving between statuses.
type StatusChange struct {
	CompanyID      string
	ContactID      string
	PreviousStatus string
	NextStatus     string
}

// Matches reports whether the rule fires for the given change.
// Status comparison is case-insensitive; a configured community must
// be the contact's community.
func (r *Rule) Matches(change StatusChange, contactCommunityID string) bool {
	cfg := r.TriggerConfig
	if to := normalizeStatus(cfg.ToStatus); to != "" && normalizeStatus(change.NextStatus) != to {
		return false
	}
	if from := normalizeStatus(cfg.FromStatus); from != "" && normalizeStatus(change.PreviousStatus) != from {
		return false
	}
	if cfg.CommunityID != "" && cfg.CommunityID != contactCommunityID {
		return false
	}
	return true
}

// MatchesStatus reports whether the rule still fires for a contact
// currently in status. Used at send time for rules that require the
// trigger condition to hold when the email actually goes out.
func (r *Rule) MatchesStatus(status string) bool {
	to := normalizeStatus(r.TriggerConfig.ToStatus)
	return to == "" || normalizeStatus(status) == to
}

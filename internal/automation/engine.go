package automation

import (
	"context"
	"time"

	"github.com/ignite/keepup-email-engine/internal/contacts"
	"github.com/ignite/keepup-email-engine/internal/jobs"
	"github.com/ignite/keepup-email-engine/internal/pkg/logger"
)

// Engine turns contact status changes into queued email jobs.
type Engine struct {
	rules        *Store
	contactStore *contacts.Store
	jobsStore    *jobs.Store
}

// NewEngine creates an automation engine.
func NewEngine(rules *Store, contactStore *contacts.Store, jobsStore *jobs.Store) *Engine {
	return &Engine{rules: rules, contactStore: contactStore, jobsStore: jobsStore}
}

// Result reports how a status change was handled.
type Result struct {
	Evaluated int `json:"evaluated"`
	Enqueued  int `json:"enqueued"`
}

// HandleContactStatusChange evaluates the company's enabled rules
// against the change and enqueues one job per matching rule, honoring
// each rule's cooldown. A rule whose cooldown check fails is skipped
// rather than failing the whole change; the status update that
// triggered us already happened.
func (e *Engine) HandleContactStatusChange(ctx context.Context, change StatusChange) (*Result, error) {
	res := &Result{}
	if change.CompanyID == "" || change.ContactID == "" {
		return res, nil
	}

	rules, err := e.rules.ListEnabledByTrigger(ctx, change.CompanyID, TriggerContactStatusChanged)
	if err != nil {
		return nil, err
	}
	res.Evaluated = len(rules)
	if len(rules) == 0 {
		return res, nil
	}

	contact, err := e.contactStore.GetContact(ctx, change.ContactID)
	if err != nil {
		return nil, err
	}
	if contact == nil || contact.Email == "" {
		return res, nil
	}

	now := time.Now()
	for _, rule := range rules {
		if !rule.Matches(change, contact.CommunityID) {
			continue
		}

		if cd := rule.Action.CooldownMinutes; cd > 0 {
			since := now.Add(-time.Duration(cd) * time.Minute)
			recent, err := e.jobsStore.HasRecentJobForRule(ctx, contact.ID, rule.ID, since)
			if err != nil {
				logger.Error("rule cooldown check failed",
					"ruleId", rule.ID, "contactId", contact.ID, "error", err.Error())
				continue
			}
			if recent {
				continue
			}
		}

		scheduledFor := now
		if rule.Action.DelayMinutes > 0 {
			scheduledFor = now.Add(time.Duration(rule.Action.DelayMinutes) * time.Minute)
		}

		job := &jobs.Job{
			CompanyID:    change.CompanyID,
			ContactID:    contact.ID,
			Kind:         jobs.KindAutomation,
			TemplateID:   rule.Action.TemplateID,
			RuleID:       rule.ID,
			ScheduledFor: scheduledFor,
			Meta: map[string]any{
				"trigger": map[string]any{
					"type":   rule.TriggerType,
					"config": rule.TriggerConfig,
				},
				"mustStillMatchAtSend": rule.Action.MustStillMatchAtSend,
			},
		}
		if err := e.jobsStore.Enqueue(ctx, job); err != nil {
			logger.Error("automation enqueue failed",
				"ruleId", rule.ID, "contactId", contact.ID, "error", err.Error())
			continue
		}
		res.Enqueued++
		logger.Info("automation job enqueued",
			"ruleId", rule.ID, "jobId", job.ID, "delayMinutes", rule.Action.DelayMinutes)
	}

	return res, nil
}

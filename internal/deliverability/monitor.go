// Package deliverability protects sender reputation: it pauses company
// sending, parks the queue behind the pause, and watches daily bounce
// rates to pull that trigger automatically.
package deliverability

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/keepup-email-engine/internal/company"
	"github.com/ignite/keepup-email-engine/internal/events"
	"github.com/ignite/keepup-email-engine/internal/jobs"
	"github.com/ignite/keepup-email-engine/internal/pkg/logger"
	"github.com/ignite/keepup-email-engine/internal/schedule"
	"github.com/ignite/keepup-email-engine/internal/settings"
)

// Pause reasons recorded on company state.
const (
	PauseReasonBounceRate = "BOUNCE_RATE"
	PauseReasonSpamReport = "SPAM_REPORT"
	PauseReasonManual     = "MANUAL"
)

// Monitor owns pause and resume plus the bounce-rate evaluation.
type Monitor struct {
	companies *company.Store
	jobsStore *jobs.Store
	settings  *settings.Store
	events    *events.Store
	alerter   Alerter
}

// NewMonitor creates a deliverability monitor.
func NewMonitor(companies *company.Store, jobsStore *jobs.Store, settingsStore *settings.Store, eventStore *events.Store, alerter Alerter) *Monitor {
	return &Monitor{
		companies: companies,
		jobsStore: jobsStore,
		settings:  settingsStore,
		events:    eventStore,
		alerter:   alerter,
	}
}

// PauseCompanySending pauses a company. Idempotent: an already paused
// company is untouched and the call reports nothing changed. Queued
// jobs are parked behind the pause without moving their schedule, and
// an operator alert goes out best effort.
func (m *Monitor) PauseCompanySending(ctx context.Context, companyID, by, reason string, meta map[string]any) (bool, error) {
	changed, err := m.companies.Pause(ctx, companyID, by, reason, meta)
	if err != nil {
		return false, err
	}
	if !changed {
		logger.Info("pause requested for already paused company", "companyId", companyID)
		return false, nil
	}

	held, err := m.jobsStore.HoldQueuedForCompany(ctx, companyID, jobs.ReasonCompanyPaused)
	if err != nil {
		return true, fmt.Errorf("pause applied but queue hold failed: %w", err)
	}

	logger.Warn("company sending paused",
		"companyId", companyID, "reason", reason, "by", by, "heldJobs", held)

	if m.alerter != nil {
		fields := map[string]any{"companyId": companyID, "reason": reason, "heldJobs": held}
		for k, v := range meta {
			fields[k] = v
		}
		if err := m.alerter.Alert(ctx, "Company sending paused",
			fmt.Sprintf("Sending paused for company %s (%s)", companyID, reason), fields); err != nil {
			logger.Warn("pause alert failed", "companyId", companyID, "error", err.Error())
		}
	}
	return true, nil
}

// ResumeCompanySending clears the pause and releases the held queue.
func (m *Monitor) ResumeCompanySending(ctx context.Context, companyID string) (bool, error) {
	changed, err := m.companies.Resume(ctx, companyID)
	if err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}

	released, err := m.jobsStore.ReleaseHeldForCompany(ctx, companyID, jobs.ReasonCompanyPaused)
	if err != nil {
		return true, fmt.Errorf("resume applied but queue release failed: %w", err)
	}
	logger.Info("company sending resumed", "companyId", companyID, "releasedJobs", released)
	return true, nil
}

// BounceEvaluation reports what the monitor saw for one company.
type BounceEvaluation struct {
	Skipped    bool
	SentToday  int
	Bounces    int
	BounceRate float64
	Paused     bool
}

// EvaluateBounceRateAndPause checks today's bounce rate in the
// company's local day and pauses the company when it crosses the
// threshold with enough volume to mean something.
func (m *Monitor) EvaluateBounceRateAndPause(ctx context.Context, companyID string, now time.Time) (*BounceEvaluation, error) {
	s, err := m.settings.GetForCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if !s.BounceMonitorOn {
		return &BounceEvaluation{Skipped: true}, nil
	}

	state, err := m.companies.Get(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if state.Paused {
		return &BounceEvaluation{Skipped: true}, nil
	}

	dayStart, dayEnd := schedule.DayBounds(now, s.Location())
	sent, err := m.jobsStore.CountSentBetween(ctx, companyID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}

	eval := &BounceEvaluation{SentToday: sent}
	minSent := s.BounceMinSent
	if minSent <= 0 {
		minSent = 50
	}
	if sent < minSent {
		return eval, nil
	}

	bounces, err := m.events.CountByTypesBetween(ctx, companyID, events.BounceClass, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	eval.Bounces = bounces
	eval.BounceRate = float64(bounces) / float64(sent)

	threshold := s.BounceRateThreshold
	if threshold <= 0 {
		threshold = 0.05
	}
	if eval.BounceRate < threshold {
		return eval, nil
	}

	paused, err := m.PauseCompanySending(ctx, companyID, "system", PauseReasonBounceRate, map[string]any{
		"sentToday":  sent,
		"bounces":    bounces,
		"bounceRate": eval.BounceRate,
		"threshold":  threshold,
	})
	if err != nil {
		return eval, err
	}
	eval.Paused = paused
	return eval, nil
}

// PauseOnSpamReport pauses immediately on a spam complaint unless the
// company opted out of that protection.
func (m *Monitor) PauseOnSpamReport(ctx context.Context, companyID, email string) (bool, error) {
	s, err := m.settings.GetForCompany(ctx, companyID)
	if err != nil {
		return false, err
	}
	if !s.PauseOnSpamReport {
		return false, nil
	}
	return m.PauseCompanySending(ctx, companyID, "system", PauseReasonSpamReport, map[string]any{
		"email": email,
	})
}

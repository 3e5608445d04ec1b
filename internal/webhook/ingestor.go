// Package webhook ingests SendGrid event batches. Delivery is at
// least once, so everything hangs off an insert-once event row: the
// suppression, job and pause side effects run only for events seen for
// the first time.
package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/keepup-email-engine/internal/contacts"
	"github.com/ignite/keepup-email-engine/internal/deliverability"
	"github.com/ignite/keepup-email-engine/internal/events"
	"github.com/ignite/keepup-email-engine/internal/jobs"
	"github.com/ignite/keepup-email-engine/internal/pkg/logger"
	"github.com/ignite/keepup-email-engine/internal/suppression"
)

// SendGridEvent is one entry of a SendGrid webhook batch.
type SendGridEvent struct {
	Email       string            `json:"email"`
	Event       string            `json:"event"`
	Timestamp   int64             `json:"timestamp"`
	SGEventID   string            `json:"sg_event_id"`
	SGMessageID string            `json:"sg_message_id"`
	SMTPID      string            `json:"smtp-id"`
	Reason      string            `json:"reason"`
	CustomArgs  map[string]string `json:"custom_args"`
}

// jobID returns the job id custom arg sends carry.
func (e *SendGridEvent) jobID() string {
	return e.CustomArgs["job_id"]
}

func (e *SendGridEvent) companyID() string {
	return e.CustomArgs["company_id"]
}

func (e *SendGridEvent) providerMessageID() string {
	if e.SGMessageID != "" {
		return e.SGMessageID
	}
	return e.SMTPID
}

func (e *SendGridEvent) occurredAt() time.Time {
	if e.Timestamp > 0 {
		return time.Unix(e.Timestamp, 0).UTC()
	}
	return time.Now().UTC()
}

// Ingestor processes webhook batches.
type Ingestor struct {
	events       *events.Store
	jobsStore    *jobs.Store
	suppressions *suppression.Store
	monitor      *deliverability.Monitor
}

// NewIngestor creates a webhook ingestor.
func NewIngestor(eventStore *events.Store, jobsStore *jobs.Store, suppressionStore *suppression.Store, monitor *deliverability.Monitor) *Ingestor {
	return &Ingestor{
		events:       eventStore,
		jobsStore:    jobsStore,
		suppressions: suppressionStore,
		monitor:      monitor,
	}
}

// Summary reports what a batch did.
type Summary struct {
	Received  int `json:"received"`
	Processed int `json:"processed"`
	Deduped   int `json:"deduped"`
}

// DedupeKey derives the idempotency key for an event: the SendGrid
// event id when present, otherwise a hash over the identifying fields.
func DedupeKey(e *SendGridEvent) string {
	if e.SGEventID != "" {
		return "sg:" + e.SGEventID
	}
	stamp := ""
	if e.Timestamp > 0 {
		stamp = e.occurredAt().Format(time.RFC3339)
	}
	parts := strings.Join([]string{
		strings.ToLower(strings.TrimSpace(e.Event)),
		e.providerMessageID(),
		contacts.NormalizeEmail(e.Email),
		e.jobID(),
		stamp,
	}, "|")
	sum := sha256.Sum256([]byte(parts))
	return "fallback:" + hex.EncodeToString(sum[:])
}

// reasonForEvent maps a SendGrid event type to a job reason code.
func reasonForEvent(eventType string) (reason string, failJob bool, known bool) {
	switch eventType {
	case "spamreport":
		return jobs.ReasonSendGridSpamReport, true, true
	case "bounce":
		return jobs.ReasonSendGridBounce, true, true
	case "dropped":
		return jobs.ReasonSendGridDropped, false, true
	case "blocked":
		return jobs.ReasonSendGridBlocked, false, true
	default:
		return "", false, false
	}
}

func isBounceClass(eventType string) bool {
	for _, t := range events.BounceClass {
		if t == eventType {
			return true
		}
	}
	return false
}

// ProcessBatch stores each event once and applies side effects for the
// new ones. After the batch, companies that saw a spam report get
// paused and companies with new bounce-class events get one bounce
// rate evaluation each.
func (i *Ingestor) ProcessBatch(ctx context.Context, batch []SendGridEvent) (*Summary, error) {
	summary := &Summary{Received: len(batch)}
	spamByCompany := map[string]string{}      // companyID -> reporting email
	bounceCompanies := map[string]struct{}{}

	for idx := range batch {
		ev := &batch[idx]
		eventType := strings.ToLower(strings.TrimSpace(ev.Event))
		if eventType == "" {
			continue
		}

		raw, err := json.Marshal(ev)
		if err != nil {
			return summary, fmt.Errorf("encode event: %w", err)
		}
		inserted, err := i.events.InsertOnce(ctx, &events.Event{
			Provider:          "sendgrid",
			DedupeKey:         DedupeKey(ev),
			CompanyID:         ev.companyID(),
			JobID:             ev.jobID(),
			Email:             contacts.NormalizeEmail(ev.Email),
			EventType:         eventType,
			ProviderMessageID: ev.providerMessageID(),
			OccurredAt:        ev.occurredAt(),
			Raw:               string(raw),
		})
		if err != nil {
			return summary, err
		}
		if !inserted {
			summary.Deduped++
			continue
		}
		summary.Processed++

		if err := i.applySideEffects(ctx, ev, eventType); err != nil {
			logger.Error("webhook side effect failed",
				"eventType", eventType, "jobId", ev.jobID(), "error", err.Error())
		}

		if companyID := ev.companyID(); companyID != "" {
			if eventType == "spamreport" {
				if _, seen := spamByCompany[companyID]; !seen {
					spamByCompany[companyID] = contacts.NormalizeEmail(ev.Email)
				}
			}
			if isBounceClass(eventType) {
				bounceCompanies[companyID] = struct{}{}
			}
		}
	}

	for companyID, email := range spamByCompany {
		if _, err := i.monitor.PauseOnSpamReport(ctx, companyID, email); err != nil {
			logger.Error("spam report pause failed", "companyId", companyID, "error", err.Error())
		}
	}
	for companyID := range bounceCompanies {
		if _, err := i.monitor.EvaluateBounceRateAndPause(ctx, companyID, time.Now()); err != nil {
			logger.Error("bounce rate evaluation failed", "companyId", companyID, "error", err.Error())
		}
	}

	return summary, nil
}

func (i *Ingestor) applySideEffects(ctx context.Context, ev *SendGridEvent, eventType string) error {
	reason, failJob, known := reasonForEvent(eventType)
	if !known {
		return nil
	}

	switch eventType {
	case "spamreport":
		if companyID := ev.companyID(); companyID != "" && ev.Email != "" {
			if err := i.suppressions.Add(ctx, companyID, ev.Email, suppression.ReasonSpamReport, "sendgrid"); err != nil {
				return err
			}
		}
	case "bounce":
		if companyID := ev.companyID(); companyID != "" && ev.Email != "" {
			if err := i.suppressions.Add(ctx, companyID, ev.Email, suppression.ReasonBounce, "sendgrid"); err != nil {
				return err
			}
		}
	}

	if ev.jobID() == "" && ev.providerMessageID() == "" {
		return nil
	}
	_, err := i.jobsStore.ApplyProviderEvent(ctx, ev.jobID(), ev.providerMessageID(), reason, failJob)
	return err
}

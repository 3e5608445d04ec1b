package followup

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/keepup-email-engine/internal/contacts"
	"github.com/ignite/keepup-email-engine/internal/jobs"
	"github.com/ignite/keepup-email-engine/internal/pkg/logger"
)

// Engine applies schedules to contacts.
type Engine struct {
	schedules    *Store
	contactStore *contacts.Store
	jobsStore    *jobs.Store
}

// NewEngine creates a follow-up engine.
func NewEngine(schedules *Store, contactStore *contacts.Store, jobsStore *jobs.Store) *Engine {
	return &Engine{schedules: schedules, contactStore: contactStore, jobsStore: jobsStore}
}

// ApplyResult reports what applying a schedule did.
type ApplyResult struct {
	Enqueued int    `json:"enqueued"`
	Canceled int    `json:"canceled"`
	Reason   string `json:"reason,omitempty"`
}

// Apply puts a contact on a schedule. Any queued jobs from the
// contact's previous schedule run are canceled first, with a reason
// that distinguishes reapplying the same schedule from switching to a
// different one. Email steps become jobs offset by whole days from
// now; a contact already in one of the schedule's stop statuses gets
// the cancellation but nothing new.
func (e *Engine) Apply(ctx context.Context, companyID, contactID, scheduleID string) (*ApplyResult, error) {
	if companyID == "" || contactID == "" || scheduleID == "" {
		return nil, fmt.Errorf("companyID, contactID and scheduleID are required")
	}

	sched, err := e.schedules.Get(ctx, companyID, scheduleID)
	if err != nil {
		return nil, err
	}
	if sched == nil {
		return &ApplyResult{Reason: "schedule_missing"}, nil
	}
	contact, err := e.contactStore.GetContact(ctx, contactID)
	if err != nil {
		return nil, err
	}
	if contact == nil || contact.CompanyID != companyID {
		return &ApplyResult{Reason: "contact_missing"}, nil
	}

	cancelReason := jobs.ReasonScheduleReplaced
	if contact.FollowUpScheduleID == scheduleID {
		cancelReason = jobs.ReasonScheduleReapplied
	}
	canceled, err := e.jobsStore.CancelQueuedScheduleJobs(ctx, contactID, cancelReason)
	if err != nil {
		return nil, err
	}
	res := &ApplyResult{Canceled: int(canceled)}

	if sched.StoppedBy(contact.Status) {
		return &ApplyResult{Canceled: res.Canceled, Reason: "stopped_by_status"}, nil
	}

	now := time.Now()
	for _, step := range sched.SortedEmailSteps() {
		offset := step.DayOffset
		if offset < 0 {
			offset = 0
		}
		job := &jobs.Job{
			CompanyID:    companyID,
			ContactID:    contactID,
			Kind:         jobs.KindSchedule,
			TemplateID:   step.TemplateID,
			ScheduleID:   scheduleID,
			StepIndex:    step.Order,
			ScheduledFor: now.Add(time.Duration(offset) * 24 * time.Hour),
			Meta: map[string]any{
				"scheduleName":   sched.Name,
				"scheduleStepId": step.StepID,
				"stopOnStatuses": sched.StopOnStatuses,
			},
		}
		if err := e.jobsStore.Enqueue(ctx, job); err != nil {
			return res, fmt.Errorf("enqueue schedule step: %w", err)
		}
		res.Enqueued++
	}

	if err := e.contactStore.SetFollowUpSchedule(ctx, contactID, scheduleID); err != nil {
		return res, err
	}

	logger.Info("follow-up schedule applied",
		"scheduleId", scheduleID, "contactId", contactID,
		"enqueued", res.Enqueued, "canceled", res.Canceled)
	return res, nil
}

// Remove takes a contact off their schedule, canceling queued steps.
func (e *Engine) Remove(ctx context.Context, companyID, contactID string) (*ApplyResult, error) {
	contact, err := e.contactStore.GetContact(ctx, contactID)
	if err != nil {
		return nil, err
	}
	if contact == nil || contact.CompanyID != companyID {
		return &ApplyResult{Reason: "contact_missing"}, nil
	}
	canceled, err := e.jobsStore.CancelQueuedScheduleJobs(ctx, contactID, jobs.ReasonScheduleReplaced)
	if err != nil {
		return nil, err
	}
	if err := e.contactStore.SetFollowUpSchedule(ctx, contactID, ""); err != nil {
		return nil, err
	}
	return &ApplyResult{Canceled: int(canceled)}, nil
}

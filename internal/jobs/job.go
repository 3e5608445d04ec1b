// Package jobs owns the email job queue: the job record, its status
// machine, the closed reason-code vocabulary, and the Postgres store
// that all workers coordinate through. There is no leader election;
// concurrent workers stay correct because every state change is a
// single conditional write.
package jobs

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
	StatusCanceled   Status = "canceled"
)

// Kind distinguishes how a job was created.
type Kind string

const (
	KindAutomation Kind = "automation"
	KindSchedule   Kind = "schedule"
	KindBlast      Kind = "blast"
	KindManual     Kind = "manual"
)

// Event is a requested lifecycle change. Status writes go through
// Transition so an illegal move is caught at one place.
type Event string

const (
	EventClaim   Event = "claim"
	EventSend    Event = "send"
	EventFail    Event = "fail"
	EventSkip    Event = "skip"
	EventCancel  Event = "cancel"
	EventRequeue Event = "requeue"
)

// ErrInvalidTransition is returned when an event is not legal from the
// job's current status. It indicates a programming error, not bad data.
var ErrInvalidTransition = errors.New("jobs: invalid status transition")

var transitions = map[Status]map[Event]Status{
	StatusQueued: {
		EventClaim:  StatusProcessing,
		EventCancel: StatusCanceled,
	},
	StatusProcessing: {
		EventSend:    StatusSent,
		EventFail:    StatusFailed,
		EventSkip:    StatusSkipped,
		EventCancel:  StatusCanceled,
		EventRequeue: StatusQueued,
	},
}

// Transition returns the status that results from applying ev to a job
// in status from.
func Transition(from Status, ev Event) (Status, error) {
	next, ok := transitions[from][ev]
	if !ok {
		return "", fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, from)
	}
	return next, nil
}

// Reason codes recorded on jobs in last_error or canceled_reason.
// The set is closed: the store rejects codes it does not know, but the
// column stays a plain string so old rows survive vocabulary changes.
const (
	ReasonMissingRecipient         = "MISSING_RECIPIENT"
	ReasonSuppressed               = "SUPPRESSED"
	ReasonContactPaused            = "CONTACT_PAUSED"
	ReasonRealtorPaused            = "REALTOR_PAUSED"
	ReasonStopStatus               = "STOP_STATUS"
	ReasonRuleDisabled             = "RULE_DISABLED"
	ReasonStaleStatus              = "STALE_STATUS"
	ReasonBlastCanceled            = "BLAST_CANCELED"
	ReasonTemplateMissing          = "TEMPLATE_MISSING"
	ReasonTemplateInactive         = "TEMPLATE_INACTIVE"
	ReasonSendingDisabled          = "EMAIL_SENDING_DISABLED"
	ReasonNotAllowlisted           = "NOT_ALLOWLISTED"
	ReasonCompanyPaused            = "COMPANY_SENDING_PAUSED"
	ReasonUnsubscribeConfigMissing = "UNSUBSCRIBE_CONFIG_MISSING"
	ReasonOutsideSendWindow        = "OUTSIDE_SEND_WINDOW"
	ReasonDailyCap                 = "DAILY_CAP"
	ReasonRateLimited              = "RATE_LIMITED"
	ReasonProviderError            = "PROVIDER_ERROR"
	ReasonStaleProcessing          = "STALE_PROCESSING"
	ReasonScheduleReplaced         = "SCHEDULE_REPLACED"
	ReasonScheduleReapplied        = "SCHEDULE_REAPPLIED"
	ReasonSendGridBounce           = "SENDGRID_BOUNCE"
	ReasonSendGridSpamReport       = "SENDGRID_SPAMREPORT"
	ReasonSendGridDropped          = "SENDGRID_DROPPED"
	ReasonSendGridBlocked          = "SENDGRID_BLOCKED"
	ReasonManualCancel             = "MANUAL_CANCEL"
)

// ErrInvalidReason is returned by store writes given a reason code
// outside the known vocabulary.
var ErrInvalidReason = errors.New("jobs: unknown reason code")

var knownReasons = map[string]struct{}{
	ReasonMissingRecipient:         {},
	ReasonSuppressed:               {},
	ReasonContactPaused:            {},
	ReasonRealtorPaused:            {},
	ReasonStopStatus:               {},
	ReasonRuleDisabled:             {},
	ReasonStaleStatus:              {},
	ReasonBlastCanceled:            {},
	ReasonTemplateMissing:          {},
	ReasonTemplateInactive:         {},
	ReasonSendingDisabled:          {},
	ReasonNotAllowlisted:           {},
	ReasonCompanyPaused:            {},
	ReasonUnsubscribeConfigMissing: {},
	ReasonOutsideSendWindow:        {},
	ReasonDailyCap:                 {},
	ReasonRateLimited:              {},
	ReasonProviderError:            {},
	ReasonStaleProcessing:          {},
	ReasonScheduleReplaced:         {},
	ReasonScheduleReapplied:        {},
	ReasonSendGridBounce:           {},
	ReasonSendGridSpamReport:       {},
	ReasonSendGridDropped:          {},
	ReasonSendGridBlocked:          {},
	ReasonManualCancel:             {},
}

// ValidReason reports whether code belongs to the known vocabulary.
func ValidReason(code string) bool {
	_, ok := knownReasons[code]
	return ok
}

// HeldReasons are queued-job markers that make a job unclaimable until
// an operator or a state change clears them. DAILY_CAP is deliberately
// absent: capped jobs become claimable again once next_attempt_at
// passes.
var HeldReasons = []string{
	ReasonCompanyPaused,
	ReasonSendingDisabled,
	ReasonNotAllowlisted,
	ReasonUnsubscribeConfigMissing,
}

// DefaultMaxAttempts bounds provider retries per job.
const DefaultMaxAttempts = 3

// lastErrorMaxLen caps stored provider error text.
const lastErrorMaxLen = 300

// Job is one email to one recipient.
type Job struct {
	ID        string
	CompanyID string
	ContactID string

	// ToEmail is the recipient address frozen at enqueue time. Jobs
	// with a contact can re-resolve it; realtor blast jobs only have
	// this.
	ToEmail           string
	Kind              Kind
	TemplateID        string
	RuleID            string
	ScheduleID        string
	BlastID           string
	StepIndex         int
	ScheduledFor      time.Time
	NextAttemptAt     time.Time
	Attempts          int
	MaxAttempts       int
	Status            Status
	LastError         string
	ProviderMessageID string
	SentAt            *time.Time
	CanceledReason    string
	ClaimedBy         string
	ClaimedAt         *time.Time
	Meta              map[string]any
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// TruncateError trims provider error text to the stored limit.
func TruncateError(msg string) string {
	if len(msg) > lastErrorMaxLen {
		return msg[:lastErrorMaxLen]
	}
	return msg
}

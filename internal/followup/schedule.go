// Package followup owns multi-step follow-up schedules. A schedule is
// an ordered list of steps across channels; applying one to a contact
// queues its email steps day-offset apart and cancels whatever
// schedule jobs the contact had queued before.
package followup

import (
	"sort"
	"strings"
	"time"
)

// Schedule lifecycle.
const (
	StatusDraft    = "DRAFT"
	StatusActive   = "ACTIVE"
	StatusArchived = "ARCHIVED"
)

// Step channels. Only email steps produce jobs here; the rest are
// surfaced to the CRM as tasks.
const (
	ChannelEmail    = "EMAIL"
	ChannelSMS      = "SMS"
	ChannelCall     = "CALL"
	ChannelMeeting  = "MEETING"
	ChannelReminder = "REMINDER"
	ChannelTask     = "TASK"
	ChannelNote     = "NOTE"
)

// Step is one touchpoint in a schedule.
type Step struct {
	StepID     string `json:"stepId"`
	Order      int    `json:"order"`
	DayOffset  int    `json:"dayOffset"`
	Channel    string `json:"channel"`
	Title      string `json:"title"`
	TemplateID string `json:"templateId,omitempty"`
}

// IsEmail reports whether the step sends an email.
func (s *Step) IsEmail() bool {
	return strings.EqualFold(strings.TrimSpace(s.Channel), ChannelEmail)
}

// Schedule is a named follow-up sequence.
type Schedule struct {
	ID             string    `json:"id"`
	CompanyID      string    `json:"companyId"`
	Name           string    `json:"name"`
	Summary        string    `json:"summary,omitempty"`
	Status         string    `json:"status"`
	StopOnStatuses []string  `json:"stopOnStatuses,omitempty"`
	Steps          []Step    `json:"steps"`
	Version        int       `json:"version"`
	CreatedBy      string    `json:"createdBy,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// DurationDays is the largest day offset across steps.
func (s *Schedule) DurationDays() int {
	max := 0
	for _, step := range s.Steps {
		if step.DayOffset > max {
			max = step.DayOffset
		}
	}
	return max
}

// StoppedBy reports whether a contact status halts this schedule.
func (s *Schedule) StoppedBy(status string) bool {
	needle := strings.ToLower(strings.TrimSpace(status))
	if needle == "" {
		return false
	}
	for _, stop := range s.StopOnStatuses {
		if strings.ToLower(strings.TrimSpace(stop)) == needle {
			return true
		}
	}
	return false
}

// SortedEmailSteps returns the email steps in send order. Order is the
// explicit order field when set, falling back to day offset, and the
// sort is stable so equal keys keep their authored order.
func (s *Schedule) SortedEmailSteps() []Step {
	var steps []Step
	for _, step := range s.Steps {
		if step.IsEmail() && step.TemplateID != "" {
			steps = append(steps, step)
		}
	}
	sort.SliceStable(steps, func(i, j int) bool {
		return stepKey(steps[i]) < stepKey(steps[j])
	})
	return steps
}

func stepKey(s Step) int {
	if s.Order > 0 {
		return s.Order
	}
	return s.DayOffset
}

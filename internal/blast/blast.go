// Package blast runs one-off bulk sends. Launching a blast snapshots
// the audience, paces every recipient across allowed send windows, and
// writes one job per recipient; the worker takes it from there.
package blast

import (
	"time"

	"github.com/ignite/keepup-email-engine/internal/schedule"
)

// Blast lifecycle.
const (
	StatusDraft     = "draft"
	StatusScheduled = "scheduled"
	StatusSending   = "sending"
	StatusCompleted = "completed"
	StatusCanceled  = "canceled"
)

// Audience types.
const (
	AudienceContacts = "contacts"
	AudienceRealtors = "realtors"
)

// SendModes.
const (
	SendNow       = "now"
	SendScheduled = "scheduled"
)

// ConfirmThreshold is the recipient count above which launching
// requires typed confirmation.
const ConfirmThreshold = 200

// AudienceSnapshot records what the blast resolved to at launch.
type AudienceSnapshot struct {
	Type          string         `json:"type"`
	Filters       map[string]any `json:"filters,omitempty"`
	SnapshotCount int            `json:"snapshotCount"`
	ExcludedCount int            `json:"excludedCount"`
}

// SettingsSnapshot freezes the sending settings a blast was paced
// under, for later inspection.
type SettingsSnapshot struct {
	Timezone           string `json:"timezone,omitempty"`
	DailyCap           int    `json:"dailyCap,omitempty"`
	RateLimitPerMinute int    `json:"rateLimitPerMinute,omitempty"`
}

// Blast is one bulk send.
type Blast struct {
	ID               string                `json:"id"`
	CompanyID        string                `json:"companyId"`
	Name             string                `json:"name"`
	TemplateID       string                `json:"templateId"`
	RequestID        string                `json:"requestId,omitempty"`
	Status           string                `json:"status"`
	SendMode         string                `json:"sendMode"`
	ScheduledFor     *time.Time            `json:"scheduledFor,omitempty"`
	Audience         AudienceSnapshot      `json:"audience"`
	Settings         SettingsSnapshot      `json:"settingsSnapshot"`
	PacingSummary    *schedule.PlanSummary `json:"pacingSummary,omitempty"`
	CreatedBy        string                `json:"createdBy,omitempty"`
	CreatedAt        time.Time             `json:"createdAt"`
	UpdatedAt        time.Time             `json:"updatedAt"`
}

// FinalToSend is the audience after exclusions.
func (b *Blast) FinalToSend() int {
	n := b.Audience.SnapshotCount - b.Audience.ExcludedCount
	if n < 0 {
		return 0
	}
	return n
}

// Package settings holds per-company email sending policy: timezone,
// send window, caps, rate limits, unsubscribe behavior and sender
// identity. Companies without a saved row get the defaults.
package settings

import "time"

// Unsubscribe behaviors a company can choose.
const (
	BehaviorDoNotEmail       = "do_not_email"
	BehaviorSetNotInterested = "set_not_interested"
	BehaviorTagUnsubscribed  = "tag_unsubscribed"
)

// DefaultTimezone is applied when a company never set one.
const DefaultTimezone = "America/Chicago"

// Settings is one company's sending policy.
type Settings struct {
	CompanyID           string
	Timezone            string
	AllowedDays         []int // 0=Sunday .. 6=Saturday; empty means every day
	AllowedStartTime    string
	AllowedEndTime      string
	QuietHoursEnabled   bool
	DailyCap            int
	RateLimitPerMinute  int
	UnsubscribeBehavior string
	BounceMonitorOn     bool
	BounceRateThreshold float64
	BounceMinSent       int
	PauseOnSpamReport   bool
	FromName            string
	FromEmail           string
	ReplyTo             string
	UpdatedAt           time.Time
}

// Defaults returns the policy used for companies with no saved row.
func Defaults(companyID string) *Settings {
	return &Settings{
		CompanyID:           companyID,
		Timezone:            DefaultTimezone,
		AllowedDays:         []int{1, 2, 3, 4, 5},
		AllowedStartTime:    "09:00",
		AllowedEndTime:      "17:00",
		QuietHoursEnabled:   true,
		DailyCap:            200,
		RateLimitPerMinute:  30,
		UnsubscribeBehavior: BehaviorDoNotEmail,
		BounceMonitorOn:     true,
		BounceRateThreshold: 0.05,
		BounceMinSent:       50,
		PauseOnSpamReport:   true,
	}
}

// Location resolves the company timezone, falling back to the default
// and finally UTC when the zone name is unknown.
func (s *Settings) Location() *time.Location {
	if loc, err := time.LoadLocation(s.Timezone); err == nil && s.Timezone != "" {
		return loc
	}
	if loc, err := time.LoadLocation(DefaultTimezone); err == nil {
		return loc
	}
	return time.UTC
}

// DayAllowed reports whether the weekday is sendable. An empty
// AllowedDays list allows every day.
func (s *Settings) DayAllowed(d time.Weekday) bool {
	if len(s.AllowedDays) == 0 {
		return true
	}
	for _, allowed := range s.AllowedDays {
		if allowed == int(d) {
			return true
		}
	}
	return false
}

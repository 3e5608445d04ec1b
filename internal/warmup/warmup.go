// Package warmup computes the daily sending ramp for newly activated
// companies and the effective daily cap that combines the ramp with
// the company's configured cap.
package warmup

import (
	"context"
	"sort"
	"time"

	"github.com/ignite/keepup-email-engine/internal/company"
	"github.com/ignite/keepup-email-engine/internal/jobs"
	"github.com/ignite/keepup-email-engine/internal/schedule"
	"github.com/ignite/keepup-email-engine/internal/settings"
)

// DefaultDays is the ramp length when a company never set one.
const DefaultDays = 14

// DefaultDailyCap applies when a company has no configured cap at all.
const DefaultDailyCap = 500

// DefaultSchedule is the standard ramp: higher caps kick in as the
// ramp day passes each step.
var DefaultSchedule = []company.WarmupStep{
	{Day: 1, Cap: 25},
	{Day: 4, Cap: 50},
	{Day: 8, Cap: 100},
	{Day: 11, Cap: 250},
}

// Status is the computed warmup position for a company on a given day.
type Status struct {
	Enabled   bool
	Active    bool
	DayIndex  int
	DaysTotal int
	CapToday  int // 0 when warmup is inactive
	EndedAt   *time.Time
}

// NormalizeSchedule drops invalid steps and sorts by day. An empty
// result falls back to the default ramp.
func NormalizeSchedule(steps []company.WarmupStep) []company.WarmupStep {
	var out []company.WarmupStep
	for _, st := range steps {
		if st.Day > 0 && st.Cap > 0 {
			out = append(out, st)
		}
	}
	if len(out) == 0 {
		out = make([]company.WarmupStep, len(DefaultSchedule))
		copy(out, DefaultSchedule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out
}

// CapForDay returns the cap of the highest step whose day has been
// reached, 0 when dayIndex precedes the first step.
func CapForDay(dayIndex int, steps []company.WarmupStep) int {
	if dayIndex <= 0 {
		return 0
	}
	cap := 0
	for _, st := range steps {
		if dayIndex >= st.Day {
			cap = st.Cap
		} else {
			break
		}
	}
	return cap
}

// Compute derives the warmup position from persisted state. Day one is
// the local day containing the start; once dayIndex passes daysTotal
// the ramp is over and EndedAt reports when.
func Compute(st *company.State, s *settings.Settings, now time.Time) Status {
	out := Status{DaysTotal: st.WarmupDaysTotal}
	if out.DaysTotal <= 0 {
		out.DaysTotal = DefaultDays
	}
	if !st.WarmupEnabled || st.WarmupStartedAt == nil {
		return out
	}
	out.Enabled = true

	loc := s.Location()
	startDay, _ := schedule.DayBounds(*st.WarmupStartedAt, loc)
	todayStart, _ := schedule.DayBounds(now, loc)
	diffDays := int(todayStart.Sub(startDay) / (24 * time.Hour))
	out.DayIndex = diffDays + 1
	if out.DayIndex < 1 {
		out.DayIndex = 1
	}

	if out.DayIndex > out.DaysTotal {
		ended := st.WarmupEndedAt
		if ended == nil {
			e := startDay.AddDate(0, 0, out.DaysTotal)
			ended = &e
		}
		out.EndedAt = ended
		return out
	}
	if st.WarmupEndedAt != nil {
		out.EndedAt = st.WarmupEndedAt
		return out
	}

	out.Active = true
	out.CapToday = CapForDay(out.DayIndex, NormalizeSchedule(st.WarmupSchedule))
	return out
}

// EffectiveDailyCap combines the configured cap with the warmup ramp.
// During an active ramp the stricter of the two wins.
func EffectiveDailyCap(s *settings.Settings, status Status) int {
	base := s.DailyCap
	if base <= 0 {
		base = DefaultDailyCap
	}
	if status.Active && status.CapToday > 0 && status.CapToday < base {
		return status.CapToday
	}
	return base
}

// CapCheck is the daily-cap gate result.
type CapCheck struct {
	Blocked   bool
	Cap       int
	SentToday int
	Warmup    Status
}

// SentCounter is satisfied by the jobs store.
type SentCounter interface {
	CountSentBetween(ctx context.Context, companyID string, from, to time.Time) (int, error)
}

// CheckDailyCap counts today's sends in the company's local day and
// reports whether the effective cap is exhausted.
func CheckDailyCap(ctx context.Context, counter SentCounter, st *company.State, s *settings.Settings, now time.Time) (*CapCheck, error) {
	status := Compute(st, s, now)
	cap := EffectiveDailyCap(s, status)
	check := &CapCheck{Cap: cap, Warmup: status}
	if cap <= 0 {
		return check, nil
	}

	dayStart, dayEnd := schedule.DayBounds(now, s.Location())
	sent, err := counter.CountSentBetween(ctx, st.CompanyID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	check.SentToday = sent
	check.Blocked = sent >= cap
	return check, nil
}

var _ SentCounter = (*jobs.Store)(nil)

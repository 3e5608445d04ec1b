// Package schedule computes when mail is allowed to go out: send
// window adjustment, tenant-local day math, blast pacing and retry
// backoff. All zone arithmetic goes through time.LoadLocation so DST
// transitions behave.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ignite/keepup-email-engine/internal/settings"
)

// maxWindowIterations bounds the window walk; 14 days is enough to
// cross any allowed-days configuration that allows at least one day.
const maxWindowIterations = 14

// ParseClock parses "HH:MM" into minutes past midnight. Returns -1 for
// anything unparseable.
func ParseClock(v string) int {
	parts := strings.SplitN(strings.TrimSpace(v), ":", 2)
	if len(parts) != 2 {
		return -1
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return -1
	}
	return h*60 + m
}

// DayBounds returns the start (inclusive) and end (exclusive) of the
// local day containing t.
func DayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// LocalDateKey formats t's local date as yyyy-mm-dd.
func LocalDateKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

func dayAtMinutes(t time.Time, loc *time.Location, minutes int) time.Time {
	local := t.In(loc)
	if minutes < 0 {
		minutes = 0
	}
	return time.Date(local.Year(), local.Month(), local.Day(), minutes/60, minutes%60, 0, 0, loc)
}

func nextAllowedDayStart(t time.Time, s *settings.Settings, loc *time.Location, startMinutes int) time.Time {
	candidate := t
	for i := 0; i < 8; i++ {
		candidate = candidate.AddDate(0, 0, 1)
		if s.DayAllowed(candidate.In(loc).Weekday()) {
			return dayAtMinutes(candidate, loc, startMinutes)
		}
	}
	return dayAtMinutes(candidate, loc, startMinutes)
}

// InAllowedWindow reports whether t falls on an allowed day inside the
// quiet-hours window.
func InAllowedWindow(t time.Time, s *settings.Settings) bool {
	loc := s.Location()
	local := t.In(loc)
	if !s.DayAllowed(local.Weekday()) {
		return false
	}
	if !s.QuietHoursEnabled {
		return true
	}
	start := ParseClock(s.AllowedStartTime)
	end := ParseClock(s.AllowedEndTime)
	if start < 0 || end < 0 || start > end {
		return true
	}
	minutes := local.Hour()*60 + local.Minute()
	return minutes >= start && minutes < end
}

// AdjustToAllowedWindow moves t forward to the next instant sending is
// allowed. Disallowed weekdays jump to the next allowed day's window
// start; times before the window jump to the window start; times at or
// past the window end move to the next allowed day. A window whose
// start is after its end is treated as unrestricted hours. The walk is
// bounded, so a pathological configuration returns the last candidate
// rather than spinning.
func AdjustToAllowedWindow(t time.Time, s *settings.Settings) time.Time {
	loc := s.Location()
	start := ParseClock(s.AllowedStartTime)
	end := ParseClock(s.AllowedEndTime)

	candidate := t
	for i := 0; i < maxWindowIterations; i++ {
		local := candidate.In(loc)

		if !s.DayAllowed(local.Weekday()) {
			candidate = nextAllowedDayStart(candidate, s, loc, start)
			continue
		}
		if !s.QuietHoursEnabled || start < 0 || end < 0 {
			return candidate
		}
		if start > end {
			return candidate
		}

		minutes := local.Hour()*60 + local.Minute()
		if minutes < start {
			return dayAtMinutes(candidate, loc, start)
		}
		if minutes >= end {
			candidate = nextAllowedDayStart(candidate, s, loc, start)
			continue
		}
		return candidate
	}
	return candidate
}

// WindowBounds describes the sendable span of the day containing the
// aligned time.
type WindowBounds struct {
	Aligned     time.Time
	WindowStart time.Time
	WindowEnd   time.Time
	Location    *time.Location
}

// BoundsFor aligns t into the allowed window and returns that day's
// window start and end. Without an effective quiet-hours window the
// bounds are the whole local day.
func BoundsFor(t time.Time, s *settings.Settings) WindowBounds {
	loc := s.Location()
	aligned := AdjustToAllowedWindow(t, s)
	dayStart, dayEnd := DayBounds(aligned, loc)

	start := ParseClock(s.AllowedStartTime)
	end := ParseClock(s.AllowedEndTime)
	hasWindow := s.QuietHoursEnabled && start >= 0 && end >= 0 && start <= end

	b := WindowBounds{Aligned: aligned, WindowStart: dayStart, WindowEnd: dayEnd, Location: loc}
	if hasWindow {
		b.WindowStart = dayStart.Add(time.Duration(start) * time.Minute)
		b.WindowEnd = dayStart.Add(time.Duration(end) * time.Minute)
	}
	return b
}

// NextDayRetryAt returns the start of the next allowed day plus a
// 1 to 5 minute jitter. Daily-capped jobs retry here so a fleet of
// workers does not stampede at midnight.
func NextDayRetryAt(now time.Time, s *settings.Settings, jitter func(min, max time.Duration) time.Duration) time.Time {
	loc := s.Location()
	start := ParseClock(s.AllowedStartTime)
	next := nextAllowedDayStart(now, s, loc, start)
	if jitter == nil {
		return next.Add(time.Minute)
	}
	return next.Add(jitter(time.Minute, 5*time.Minute))
}

// String implements fmt.Stringer for debug logs.
func (b WindowBounds) String() string {
	return fmt.Sprintf("window %s to %s (%s)",
		b.WindowStart.Format(time.RFC3339), b.WindowEnd.Format(time.RFC3339), b.Location)
}

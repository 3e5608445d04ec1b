package schedule

import (
	"sort"
	"strings"
	"time"

	"github.com/ignite/keepup-email-engine/internal/settings"
)

// Recipient is one blast target.
type Recipient struct {
	ContactID string
	Email     string
}

// PlannedSend pairs a recipient with its scheduled slot.
type PlannedSend struct {
	Recipient Recipient
	At        time.Time
}

// PlanSummary describes a pacing plan for operators.
type PlanSummary struct {
	FirstSendAt   time.Time      `json:"firstSendAt"`
	LastSendAt    time.Time      `json:"lastSendAt"`
	DaysSpanned   int            `json:"daysSpanned"`
	PerDayPlanned map[string]int `json:"perDayPlanned"`
}

// Planner spreads blast recipients across allowed send windows while
// honoring the daily cap.
type Planner struct{}

// NewPlanner creates a pacing planner.
func NewPlanner() *Planner {
	return &Planner{}
}

func normalizeEmail(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

func sortRecipientsStable(recipients []Recipient) []Recipient {
	ordered := make([]Recipient, len(recipients))
	copy(ordered, recipients)
	sort.SliceStable(ordered, func(i, j int) bool {
		return normalizeEmail(ordered[i].Email) < normalizeEmail(ordered[j].Email)
	})
	return ordered
}

// Plan assigns each recipient a send slot starting no earlier than
// startAt. Recipients are stable-sorted by normalized email so the
// same input always produces the same order. With no cap everyone gets
// the aligned start. Otherwise today's remaining cap budget is spread
// evenly across what is left of today's window, and each following day
// spreads up to a full cap across its whole window.
func (p *Planner) Plan(recipients []Recipient, s *settings.Settings, startAt time.Time, dailyCap, sentToday int) ([]PlannedSend, *PlanSummary) {
	ordered := sortRecipientsStable(recipients)
	if len(ordered) == 0 {
		return nil, nil
	}

	loc := s.Location()
	alignedStart := AdjustToAllowedWindow(startAt, s)

	if dailyCap <= 0 {
		plan := make([]PlannedSend, len(ordered))
		for i, r := range ordered {
			plan[i] = PlannedSend{Recipient: r, At: alignedStart}
		}
		return plan, &PlanSummary{
			FirstSendAt: alignedStart,
			LastSendAt:  alignedStart,
			DaysSpanned: 1,
			PerDayPlanned: map[string]int{
				LocalDateKey(alignedStart, loc): len(ordered),
			},
		}
	}

	now := time.Now()
	todayStart, todayEnd := DayBounds(now, loc)
	remainingForDay := dailyCap
	if !alignedStart.Before(todayStart) && alignedStart.Before(todayEnd) {
		remainingForDay = dailyCap - sentToday
		if remainingForDay < 0 {
			remainingForDay = 0
		}
	}

	plan := make([]PlannedSend, len(ordered))
	perDay := map[string]int{}
	cursor := alignedStart
	index := 0

	for index < len(ordered) {
		bounds := BoundsFor(cursor, s)
		dayStart := bounds.WindowStart
		if cursor.After(dayStart) {
			dayStart = cursor
		}

		available := remainingForDay
		if left := len(ordered) - index; left < available {
			available = left
		}
		if available <= 0 {
			cursor = AdjustToAllowedWindow(bounds.WindowEnd.Add(time.Second), s)
			remainingForDay = dailyCap
			continue
		}

		span := bounds.WindowEnd.Sub(dayStart)
		if span < time.Millisecond {
			span = time.Millisecond
		}
		interval := span / time.Duration(available)

		for i := 0; i < available; i++ {
			scheduled := dayStart.Add(interval * time.Duration(i))
			if !scheduled.Before(bounds.WindowEnd) {
				scheduled = bounds.WindowEnd.Add(-time.Minute)
			}
			if scheduled.Before(dayStart) {
				scheduled = dayStart
			}

			plan[index] = PlannedSend{Recipient: ordered[index], At: scheduled}
			perDay[LocalDateKey(scheduled, loc)]++
			index++
		}

		cursor = AdjustToAllowedWindow(bounds.WindowEnd.Add(time.Second), s)
		remainingForDay = dailyCap
	}

	return plan, &PlanSummary{
		FirstSendAt:   plan[0].At,
		LastSendAt:    plan[len(plan)-1].At,
		DaysSpanned:   len(perDay),
		PerDayPlanned: perDay,
	}
}

package warmup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/keepup-email-engine/internal/company"
	"github.com/ignite/keepup-email-engine/internal/settings"
)

func utcSettings() *settings.Settings {
	s := settings.Defaults("comp-1")
	s.Timezone = "UTC"
	return s
}

func TestNormalizeSchedule(t *testing.T) {
	got := NormalizeSchedule(nil)
	assert.Equal(t, DefaultSchedule, got)

	got = NormalizeSchedule([]company.WarmupStep{
		{Day: 8, Cap: 100},
		{Day: 0, Cap: 50},
		{Day: 1, Cap: 25},
		{Day: 4, Cap: -1},
	})
	assert.Equal(t, []company.WarmupStep{{Day: 1, Cap: 25}, {Day: 8, Cap: 100}}, got)
}

func TestCapForDay(t *testing.T) {
	steps := NormalizeSchedule(nil)

	tests := []struct {
		day  int
		want int
	}{
		{0, 0},
		{1, 25},
		{3, 25},
		{4, 50},
		{7, 50},
		{8, 100},
		{11, 250},
		{14, 250},
		{99, 250},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CapForDay(tt.day, steps), "day %d", tt.day)
	}
}

func TestComputeNotStarted(t *testing.T) {
	st := &company.State{CompanyID: "comp-1"}
	got := Compute(st, utcSettings(), time.Now())
	assert.False(t, got.Enabled)
	assert.False(t, got.Active)
	assert.Equal(t, DefaultDays, got.DaysTotal)
}

func TestComputeActiveRamp(t *testing.T) {
	started := time.Date(2026, 1, 5, 15, 30, 0, 0, time.UTC)
	st := &company.State{
		CompanyID:       "comp-1",
		WarmupEnabled:   true,
		WarmupStartedAt: &started,
	}

	// Same local day is ramp day 1
	got := Compute(st, utcSettings(), time.Date(2026, 1, 5, 23, 0, 0, 0, time.UTC))
	assert.True(t, got.Active)
	assert.Equal(t, 1, got.DayIndex)
	assert.Equal(t, 25, got.CapToday)

	// Day 9 sits on the day-8 step
	got = Compute(st, utcSettings(), time.Date(2026, 1, 13, 10, 0, 0, 0, time.UTC))
	assert.True(t, got.Active)
	assert.Equal(t, 9, got.DayIndex)
	assert.Equal(t, 100, got.CapToday)
}

func TestComputeRampOver(t *testing.T) {
	started := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	st := &company.State{
		CompanyID:       "comp-1",
		WarmupEnabled:   true,
		WarmupStartedAt: &started,
	}

	// Day 15 of a 14-day ramp
	got := Compute(st, utcSettings(), time.Date(2026, 1, 19, 10, 0, 0, 0, time.UTC))
	assert.True(t, got.Enabled)
	assert.False(t, got.Active)
	assert.Equal(t, 15, got.DayIndex)
	assert.Equal(t, 0, got.CapToday)
	require.NotNil(t, got.EndedAt)
	assert.Equal(t, time.Date(2026, 1, 19, 0, 0, 0, 0, time.UTC), *got.EndedAt)
}

func TestEffectiveDailyCap(t *testing.T) {
	s := utcSettings()
	s.DailyCap = 200

	assert.Equal(t, 200, EffectiveDailyCap(s, Status{}))
	assert.Equal(t, 25, EffectiveDailyCap(s, Status{Active: true, CapToday: 25}))
	assert.Equal(t, 200, EffectiveDailyCap(s, Status{Active: true, CapToday: 400}))

	s.DailyCap = 0
	assert.Equal(t, DefaultDailyCap, EffectiveDailyCap(s, Status{}))
	assert.Equal(t, 25, EffectiveDailyCap(s, Status{Active: true, CapToday: 25}))
}

type fakeCounter struct {
	count int
	err   error
}

func (f *fakeCounter) CountSentBetween(ctx context.Context, companyID string, from, to time.Time) (int, error) {
	return f.count, f.err
}

func TestCheckDailyCap(t *testing.T) {
	s := utcSettings()
	s.DailyCap = 10
	st := &company.State{CompanyID: "comp-1"}
	now := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)

	check, err := CheckDailyCap(context.Background(), &fakeCounter{count: 9}, st, s, now)
	require.NoError(t, err)
	assert.False(t, check.Blocked)
	assert.Equal(t, 10, check.Cap)
	assert.Equal(t, 9, check.SentToday)

	check, err = CheckDailyCap(context.Background(), &fakeCounter{count: 10}, st, s, now)
	require.NoError(t, err)
	assert.True(t, check.Blocked)
}

func TestCheckDailyCapDuringWarmup(t *testing.T) {
	s := utcSettings()
	s.DailyCap = 200
	started := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	st := &company.State{
		CompanyID:       "comp-1",
		WarmupEnabled:   true,
		WarmupStartedAt: &started,
	}
	now := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)

	check, err := CheckDailyCap(context.Background(), &fakeCounter{count: 25}, st, s, now)
	require.NoError(t, err)
	assert.True(t, check.Blocked)
	assert.Equal(t, 25, check.Cap)
	assert.True(t, check.Warmup.Active)
}

// Package company tracks per-company email state that is not policy:
// the sending pause and the warmup ramp. Policy lives in the settings
// package; this state changes at runtime, usually without a human.
package company

import "time"

// WarmupStep raises the warmup cap starting on a given ramp day.
type WarmupStep struct {
	Day int `json:"day"`
	Cap int `json:"cap"`
}

// State is one company's runtime email state.
type State struct {
	CompanyID       string
	Paused          bool
	PausedAt        *time.Time
	PausedBy        string
	PauseReason     string
	PauseMeta       map[string]any
	WarmupEnabled   bool
	WarmupStartedAt *time.Time
	WarmupEndedAt   *time.Time
	WarmupDaysTotal int
	WarmupSchedule  []WarmupStep
	UpdatedAt       time.Time
}

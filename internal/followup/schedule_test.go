package followup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSortedEmailSteps(t *testing.T) {
	sched := &Schedule{
		Steps: []Step{
			{StepID: "d", Order: 0, DayOffset: 7, Channel: "EMAIL", TemplateID: "tpl-4"},
			{StepID: "a", Order: 1, DayOffset: 0, Channel: "email", TemplateID: "tpl-1"},
			{StepID: "call", Order: 2, DayOffset: 1, Channel: "CALL"},
			{StepID: "b", Order: 3, DayOffset: 2, Channel: "EMAIL", TemplateID: "tpl-2"},
			{StepID: "no-template", Order: 4, DayOffset: 3, Channel: "EMAIL"},
		},
	}
	steps := sched.SortedEmailSteps()
	ids := make([]string, len(steps))
	for i, s := range steps {
		ids[i] = s.StepID
	}
	// Step "d" has no explicit order, so it sorts by day offset
	assert.Equal(t, []string{"a", "b", "d"}, ids)
}

func TestSortedEmailStepsFallsBackToDayOffset(t *testing.T) {
	sched := &Schedule{
		Steps: []Step{
			{StepID: "later", DayOffset: 5, Channel: "EMAIL", TemplateID: "tpl-2"},
			{StepID: "sooner", DayOffset: 1, Channel: "EMAIL", TemplateID: "tpl-1"},
		},
	}
	steps := sched.SortedEmailSteps()
	assert.Equal(t, "sooner", steps[0].StepID)
	assert.Equal(t, "later", steps[1].StepID)
}

func TestStoppedBy(t *testing.T) {
	sched := &Schedule{StopOnStatuses: []string{"Closed", "Not-Interested"}}
	assert.True(t, sched.StoppedBy("closed"))
	assert.True(t, sched.StoppedBy(" NOT-INTERESTED "))
	assert.False(t, sched.StoppedBy("Hot"))
	assert.False(t, sched.StoppedBy(""))

	open := &Schedule{}
	assert.False(t, open.StoppedBy("Closed"))
}

func TestDurationDays(t *testing.T) {
	sched := &Schedule{Steps: []Step{
		{DayOffset: 0}, {DayOffset: 14}, {DayOffset: 3},
	}}
	assert.Equal(t, 14, sched.DurationDays())
	assert.Equal(t, 0, (&Schedule{}).DurationDays())
}

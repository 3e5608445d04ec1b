package jobs

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		event   Event
		want    Status
		wantErr bool
	}{
		{"claim queued", StatusQueued, EventClaim, StatusProcessing, false},
		{"cancel queued", StatusQueued, EventCancel, StatusCanceled, false},
		{"send processing", StatusProcessing, EventSend, StatusSent, false},
		{"fail processing", StatusProcessing, EventFail, StatusFailed, false},
		{"skip processing", StatusProcessing, EventSkip, StatusSkipped, false},
		{"cancel processing", StatusProcessing, EventCancel, StatusCanceled, false},
		{"requeue processing", StatusProcessing, EventRequeue, StatusQueued, false},
		{"send from queued", StatusQueued, EventSend, "", true},
		{"claim processing", StatusProcessing, EventClaim, "", true},
		{"anything from sent", StatusSent, EventRequeue, "", true},
		{"anything from failed", StatusFailed, EventClaim, "", true},
		{"anything from canceled", StatusCanceled, EventSend, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Transition(tt.from, tt.event)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidReason(t *testing.T) {
	assert.True(t, ValidReason(ReasonDailyCap))
	assert.True(t, ValidReason(ReasonSendGridSpamReport))
	assert.True(t, ValidReason(ReasonStaleProcessing))
	assert.False(t, ValidReason("NOT_A_REASON"))
	assert.False(t, ValidReason(""))
	assert.False(t, ValidReason("daily_cap"))
}

func TestHeldReasonsExcludeDailyCap(t *testing.T) {
	for _, r := range HeldReasons {
		assert.NotEqual(t, ReasonDailyCap, r)
		assert.True(t, ValidReason(r))
	}
	assert.Contains(t, HeldReasons, ReasonCompanyPaused)
	assert.Contains(t, HeldReasons, ReasonSendingDisabled)
	assert.Contains(t, HeldReasons, ReasonNotAllowlisted)
	assert.Contains(t, HeldReasons, ReasonUnsubscribeConfigMissing)
}

func TestTruncateError(t *testing.T) {
	short := "connection refused"
	assert.Equal(t, short, TruncateError(short))

	long := strings.Repeat("x", 900)
	got := TruncateError(long)
	assert.Len(t, got, 300)
}

package automation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRuleMatches(t *testing.T) {
	tests := []struct {
		name        string
		config      TriggerConfig
		change      StatusChange
		communityID string
		want        bool
	}{
		{
			name:   "to status matches case-insensitively",
			config: TriggerConfig{ToStatus: "Hot"},
			change: StatusChange{PreviousStatus: "Warm", NextStatus: "hot"},
			want:   true,
		},
		{
			name:   "to status mismatch",
			config: TriggerConfig{ToStatus: "Hot"},
			change: StatusChange{PreviousStatus: "Warm", NextStatus: "Cold"},
			want:   false,
		},
		{
			name:   "from status narrows the transition",
			config: TriggerConfig{FromStatus: "Warm", ToStatus: "Hot"},
			change: StatusChange{PreviousStatus: "New", NextStatus: "Hot"},
			want:   false,
		},
		{
			name:   "from and to both match with whitespace",
			config: TriggerConfig{FromStatus: "warm", ToStatus: "hot"},
			change: StatusChange{PreviousStatus: " Warm ", NextStatus: "Hot"},
			want:   true,
		},
		{
			name:   "empty config matches any change",
			config: TriggerConfig{},
			change: StatusChange{PreviousStatus: "A", NextStatus: "B"},
			want:   true,
		},
		{
			name:        "community restriction matches",
			config:      TriggerConfig{ToStatus: "Hot", CommunityID: "comm-1"},
			change:      StatusChange{NextStatus: "Hot"},
			communityID: "comm-1",
			want:        true,
		},
		{
			name:        "community restriction rejects other community",
			config:      TriggerConfig{ToStatus: "Hot", CommunityID: "comm-1"},
			change:      StatusChange{NextStatus: "Hot"},
			communityID: "comm-2",
			want:        false,
		},
		{
			name:   "community restriction rejects contact without community",
			config: TriggerConfig{CommunityID: "comm-1"},
			change: StatusChange{NextStatus: "Hot"},
			want:   false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := &Rule{TriggerConfig: tt.config}
			assert.Equal(t, tt.want, rule.Matches(tt.change, tt.communityID))
		})
	}
}

func TestRuleMatchesStatus(t *testing.T) {
	rule := &Rule{TriggerConfig: TriggerConfig{ToStatus: "Hot"}}
	assert.True(t, rule.MatchesStatus("hot"))
	assert.True(t, rule.MatchesStatus(" HOT "))
	assert.False(t, rule.MatchesStatus("Warm"))

	open := &Rule{}
	assert.True(t, open.MatchesStatus("anything"))
}

func TestFindPreset(t *testing.T) {
	p := FindPreset("hot_lead_followup")
	assert.NotNil(t, p)
	assert.Equal(t, "Hot", p.Rule.TriggerConfig.ToStatus)
	assert.True(t, p.Rule.Action.MustStillMatchAtSend)

	assert.Nil(t, FindPreset("nope"))
}

package service

import (
	"testing"

	"github.com/ask-dwight/coach-platform/internal/model"
)

func transcript(users, assistants, systems int) []model.Message {
	var out []model.Message
	for i := 0; i < users; i++ {
		out = append(out, model.Message{Role: model.RoleUser})
	}
	for i := 0; i < assistants; i++ {
		out = append(out, model.Message{Role: model.RoleAssistant})
	}
	for i := 0; i < systems; i++ {
		out = append(out, model.Message{Role: model.RoleSystem})
	}
	return out
}

func TestShouldThrottle(t *testing.T) {
	tests := []struct {
		name       string
		users      int
		assistants int
		systems    int
		want       bool
	}{
		{name: "empty conversation", want: false},
		{name: "below both thresholds", users: 5, assistants: 5, want: false},
		{name: "one short on each side", users: 9, assistants: 9, want: false},
		{name: "users at threshold only", users: 10, assistants: 9, want: false},
		{name: "assistants at threshold only", users: 9, assistants: 10, want: false},
		{name: "both at threshold", users: 10, assistants: 10, want: true},
		{name: "both past threshold", users: 14, assistants: 13, want: true},
		{name: "system messages do not count", users: 9, assistants: 9, systems: 5, want: false},
	}

	policy := NewThrottlePolicy(0, 0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := policy.ShouldThrottle(transcript(tt.users, tt.assistants, tt.systems))
			if got != tt.want {
				t.Errorf("ShouldThrottle(%d users, %d assistants) = %v, want %v",
					tt.users, tt.assistants, got, tt.want)
			}
		})
	}
}

func TestShouldThrottleIsIdempotent(t *testing.T) {
	policy := NewThrottlePolicy(10, 10)
	msgs := transcript(12, 12, 0)
	if !policy.ShouldThrottle(msgs) {
		t.Fatal("expected throttling at 12/12")
	}
	if !policy.ShouldThrottle(msgs) {
		t.Error("second evaluation of the same transcript changed outcome")
	}
}

func TestNewThrottlePolicyDefaults(t *testing.T) {
	tests := []struct {
		name            string
		user, assistant int
		wantUser        int
		wantAssistant   int
	}{
		{name: "zero falls back", user: 0, assistant: 0, wantUser: 10, wantAssistant: 10},
		{name: "negative falls back", user: -1, assistant: -5, wantUser: 10, wantAssistant: 10},
		{name: "custom kept", user: 4, assistant: 6, wantUser: 4, wantAssistant: 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewThrottlePolicy(tt.user, tt.assistant)
			if p.UserThreshold != tt.wantUser || p.AssistantThreshold != tt.wantAssistant {
				t.Errorf("thresholds = %d/%d, want %d/%d",
					p.UserThreshold, p.AssistantThreshold, tt.wantUser, tt.wantAssistant)
			}
		})
	}
}

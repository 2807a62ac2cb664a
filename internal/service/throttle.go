package service

import (
	"github.com/ask-dwight/coach-platform/internal/model"
)

// DefaultThrottleThreshold is the message count per role at which a
// conversation starts receiving throttle notices.
const DefaultThrottleThreshold = 10

// ThrottlePolicy decides when a conversation has used enough turns that the
// coach should start steering it to a close. Stateless and deterministic;
// the counting rule has changed before and lives here so it stays
// independently testable and swappable.
type ThrottlePolicy struct {
	// UserThreshold is the minimum count of user messages.
	UserThreshold int
	// AssistantThreshold is the minimum count of assistant messages.
	AssistantThreshold int
}

// NewThrottlePolicy creates a policy with the given thresholds, falling
// back to the default for non-positive values.
func NewThrottlePolicy(userThreshold, assistantThreshold int) ThrottlePolicy {
	if userThreshold <= 0 {
		userThreshold = DefaultThrottleThreshold
	}
	if assistantThreshold <= 0 {
		assistantThreshold = DefaultThrottleThreshold
	}
	return ThrottlePolicy{
		UserThreshold:      userThreshold,
		AssistantThreshold: assistantThreshold,
	}
}

// ShouldThrottle reports whether both role counts have reached their
// thresholds.
func (p ThrottlePolicy) ShouldThrottle(messages []model.Message) bool {
	var users, assistants int
	for i := range messages {
		switch messages[i].Role {
		case model.RoleUser:
			users++
		case model.RoleAssistant:
			assistants++
		}
	}
	return users >= p.UserThreshold && assistants >= p.AssistantThreshold
}

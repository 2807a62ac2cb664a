package model

import (
	"time"
)

// TurnEventType classifies turn lifecycle events published to the journal.
type TurnEventType string

const (
	TurnEventStarted   TurnEventType = "turn_started"
	TurnEventSettled   TurnEventType = "turn_settled"
	TurnEventFailed    TurnEventType = "turn_failed"
	TurnEventThrottled TurnEventType = "turn_throttled"
)

// TurnEvent records one lifecycle transition of a conversation turn. Every
// terminal failure path emits one so failures stay observable outside the
// process.
type TurnEvent struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	Type           TurnEventType `json:"type"`
	Reason         string        `json:"reason,omitempty"`
	CorrelationID  string        `json:"correlation_id,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

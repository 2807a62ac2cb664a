// Package repository provides the relational persistence layer behind the
// conversation, message, suggestion and feedback stores.
package repository

import (
	"time"
)

type conversationRow struct {
	ID            string  `gorm:"primaryKey;type:uuid"`
	Title         string  `gorm:"not null"`
	UserID        *string `gorm:"type:uuid;index"`
	SessionID     *string `gorm:"type:uuid;index"`
	VectorStoreID *string
	ResponseID    *string
	CreatedAt     time.Time
	UpdatedAt     time.Time

	Prompts   []userPromptRow    `gorm:"foreignKey:ConversationID"`
	Responses []coachResponseRow `gorm:"foreignKey:ConversationID"`
}

func (conversationRow) TableName() string { return "conversations" }

type userPromptRow struct {
	ID             string `gorm:"primaryKey;type:uuid"`
	ConversationID string `gorm:"type:uuid;index;not null"`
	Message        string `gorm:"not null"`
	CreatedAt      time.Time
}

func (userPromptRow) TableName() string { return "user_prompts" }

type coachResponseRow struct {
	ID             string  `gorm:"primaryKey;type:uuid"`
	ConversationID string  `gorm:"type:uuid;index;not null"`
	Message        string  `gorm:"not null"`
	PromptID       string  `gorm:"type:uuid;index;not null"`
	ResponseID     *string `gorm:"index"`
	Throttle       bool    `gorm:"not null;default:false"`
	CreatedAt      time.Time

	Suggestions []suggestionRow `gorm:"foreignKey:CoachResponseID"`
	Feedback    []feedbackRow   `gorm:"foreignKey:CoachResponseID"`
}

func (coachResponseRow) TableName() string { return "dwight_responses" }

type suggestionRow struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	CoachResponseID string `gorm:"column:dwight_response_id;type:uuid;index;not null"`
	SuggestionText  string `gorm:"not null"`
	CreatedAt       time.Time
}

func (suggestionRow) TableName() string { return "user_prompt_suggestions" }

type feedbackRow struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	CoachResponseID string `gorm:"column:dwight_response_id;type:uuid;uniqueIndex;not null"`
	Reaction        string `gorm:"not null"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (feedbackRow) TableName() string { return "ai_response_feedback" }

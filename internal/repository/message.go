package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ask-dwight/coach-platform/internal/model"
)

// MessageRepository persists user prompts and assistant responses. Writes
// are at-least-once with caller-stable ids, so retries stay idempotent.
type MessageRepository struct {
	db *gorm.DB
}

// NewMessageRepository creates a message repository.
func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// SaveUserMessage persists a user prompt and returns its durable id.
func (r *MessageRepository) SaveUserMessage(ctx context.Context, conversationID, text string) (string, error) {
	row := userPromptRow{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conversationID,
		Message:        text,
		CreatedAt:      time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", fmt.Errorf("failed to save user message: %w", err)
	}
	return row.ID, nil
}

// SaveAssistantMessage persists a finalized assistant reply under the given
// id and returns the durable id. Re-saving the same id is a no-op.
func (r *MessageRepository) SaveAssistantMessage(ctx context.Context, id string, msg model.AssistantMessage) (string, error) {
	row := coachResponseRow{
		ID:             id,
		ConversationID: msg.ConversationID,
		Message:        msg.Text,
		PromptID:       msg.PromptID,
		Throttle:       msg.Throttle,
		CreatedAt:      time.Now(),
	}
	if msg.ResponseID != "" {
		row.ResponseID = &msg.ResponseID
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
	if err != nil {
		return "", fmt.Errorf("failed to save assistant message: %w", err)
	}
	return row.ID, nil
}

package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ask-dwight/coach-platform/internal/model"
)

// ConversationRepository persists conversations and hydrates them with
// their transcripts.
type ConversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository creates a conversation repository.
func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// Create inserts a new conversation for the owner and returns its id.
// Exactly one owner reference is stored.
func (r *ConversationRepository) Create(ctx context.Context, title string, owner model.Owner, vectorStoreID string) (string, error) {
	row := conversationRow{
		ID:    uuid.Must(uuid.NewV7()).String(),
		Title: title,
	}
	if owner.UserID != "" {
		row.UserID = &owner.UserID
	} else if owner.SessionID != "" {
		row.SessionID = &owner.SessionID
	}
	if vectorStoreID != "" {
		row.VectorStoreID = &vectorStoreID
	}

	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", fmt.Errorf("failed to create conversation: %w", err)
	}
	return row.ID, nil
}

// Update applies the non-nil fields of the update to a conversation.
func (r *ConversationRepository) Update(ctx context.Context, id string, update model.ConversationUpdate) error {
	fields := map[string]any{"updated_at": time.Now()}
	if update.Title != nil {
		fields["title"] = *update.Title
	}
	if update.ResponseID != nil {
		fields["response_id"] = *update.ResponseID
	}

	result := r.db.WithContext(ctx).
		Model(&conversationRow{}).
		Where("id = ?", id).
		Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("failed to update conversation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// AssociateWithUser migrates session-owned conversations to an account.
// One-way and idempotent: only rows still without a user are touched.
func (r *ConversationRepository) AssociateWithUser(ctx context.Context, sessionID, userID string) error {
	err := r.db.WithContext(ctx).
		Model(&conversationRow{}).
		Where("session_id = ? AND user_id IS NULL", sessionID).
		Update("user_id", userID).Error
	if err != nil {
		return fmt.Errorf("failed to associate conversations: %w", err)
	}
	return nil
}

// FetchOne loads a single hydrated conversation, checking ownership.
func (r *ConversationRepository) FetchOne(ctx context.Context, owner model.Owner, id string) (*model.Conversation, error) {
	var row conversationRow
	err := r.ownerScope(r.db.WithContext(ctx), owner).
		Preload("Prompts").
		Preload("Responses").
		Preload("Responses.Suggestions").
		Preload("Responses.Feedback").
		Where("id = ?", id).
		First(&row).Error
	if err != nil {
		return nil, err
	}

	conv := hydrate(row)
	return &conv, nil
}

// FetchAll loads the owner's conversations with messages, suggestions and
// reactions, messages ordered by timestamp ascending.
func (r *ConversationRepository) FetchAll(ctx context.Context, owner model.Owner) ([]model.Conversation, error) {
	var rows []conversationRow
	err := r.ownerScope(r.db.WithContext(ctx), owner).
		Preload("Prompts").
		Preload("Responses").
		Preload("Responses.Suggestions").
		Preload("Responses.Feedback").
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch conversations: %w", err)
	}

	conversations := make([]model.Conversation, 0, len(rows))
	for _, row := range rows {
		conversations = append(conversations, hydrate(row))
	}
	return conversations, nil
}

func (r *ConversationRepository) ownerScope(db *gorm.DB, owner model.Owner) *gorm.DB {
	if owner.UserID != "" {
		return db.Where("user_id = ?", owner.UserID)
	}
	return db.Where("session_id = ? AND user_id IS NULL", owner.SessionID)
}

// hydrate interleaves prompts and responses into one transcript ordered by
// creation time.
func hydrate(row conversationRow) model.Conversation {
	conv := model.Conversation{
		ID:        row.ID,
		Title:     row.Title,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if row.UserID != nil {
		conv.UserID = *row.UserID
	}
	if row.SessionID != nil {
		conv.SessionID = *row.SessionID
	}
	if row.VectorStoreID != nil {
		conv.VectorStoreID = *row.VectorStoreID
	}
	if row.ResponseID != nil {
		conv.ResponseID = *row.ResponseID
	}

	messages := make([]model.Message, 0, len(row.Prompts)+len(row.Responses))
	for _, p := range row.Prompts {
		messages = append(messages, model.Message{
			ID:             p.ID,
			ConversationID: row.ID,
			Role:           model.RoleUser,
			Content:        p.Message,
			Status:         model.StatusSent,
			Timestamp:      p.CreatedAt,
		})
	}
	for _, resp := range row.Responses {
		msg := model.Message{
			ID:             resp.ID,
			ConversationID: row.ID,
			Role:           model.RoleAssistant,
			Content:        resp.Message,
			Status:         model.StatusSent,
			Timestamp:      resp.CreatedAt,
			Throttle:       resp.Throttle,
		}
		if resp.ResponseID != nil {
			msg.ResponseID = *resp.ResponseID
		}
		for _, s := range resp.Suggestions {
			msg.Suggestions = append(msg.Suggestions, s.SuggestionText)
		}
		if len(resp.Feedback) > 0 {
			reaction := model.Reaction(resp.Feedback[0].Reaction)
			msg.Reaction = &reaction
		}
		messages = append(messages, msg)
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp.Before(messages[j].Timestamp)
	})
	conv.Messages = messages
	return conv
}

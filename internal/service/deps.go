// Package service provides business logic for the coach platform: the turn
// controller, conversation lifecycle, throttling policy and suggestion
// generation.
package service

import (
	"context"

	"github.com/ask-dwight/coach-platform/internal/model"
)

// ConversationRepository is the persistence collaborator for conversations.
type ConversationRepository interface {
	Create(ctx context.Context, title string, owner model.Owner, vectorStoreID string) (string, error)
	Update(ctx context.Context, id string, update model.ConversationUpdate) error
	AssociateWithUser(ctx context.Context, sessionID, userID string) error
	FetchOne(ctx context.Context, owner model.Owner, id string) (*model.Conversation, error)
	FetchAll(ctx context.Context, owner model.Owner) ([]model.Conversation, error)
}

// MessageRepository is the persistence collaborator for transcript entries.
type MessageRepository interface {
	SaveUserMessage(ctx context.Context, conversationID, text string) (string, error)
	SaveAssistantMessage(ctx context.Context, id string, msg model.AssistantMessage) (string, error)
}

// SuggestionRepository persists follow-up suggestions per assistant reply.
type SuggestionRepository interface {
	Save(ctx context.Context, responseID string, suggestions []string) error
}

// FeedbackRepository persists reactions per assistant reply.
type FeedbackRepository interface {
	SaveReaction(ctx context.Context, responseID string, reaction model.Reaction) error
}

// ConversationManager is the slice of conversation lifecycle the turn
// controller needs.
type ConversationManager interface {
	Create(ctx context.Context, owner model.Owner, req *model.CreateConversationRequest) (*model.Conversation, error)
	Get(ctx context.Context, owner model.Owner, id string) (*model.Conversation, error)
	Update(ctx context.Context, owner model.Owner, id string, update model.ConversationUpdate) error
}

// SuggestionGenerator is the suggestion collaborator the turn controller
// invokes after a settled, unthrottled turn.
type SuggestionGenerator interface {
	Generate(ctx context.Context, conversationID string) error
	Clear(ctx context.Context, conversationID string)
}

// Renderer converts markdown to sanitized HTML for display caching.
type Renderer interface {
	Render(text string) string
}

// TurnEventPublisher journals turn lifecycle events. Implementations must
// tolerate being called on every terminal path.
type TurnEventPublisher interface {
	PublishTurnEvent(ctx context.Context, event *model.TurnEvent) error
}

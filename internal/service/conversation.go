package service

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/ask-dwight/coach-platform/internal/model"
	"github.com/ask-dwight/coach-platform/internal/store"
	"github.com/ask-dwight/coach-platform/pkg/logger"
	"github.com/ask-dwight/coach-platform/pkg/metrics"
)

// ConversationService handles conversation lifecycle: creation, hydration,
// updates and session-to-account migration.
type ConversationService struct {
	repo     ConversationRepository
	store    *store.MessageStore
	renderer Renderer
	cache    *gocache.Cache
	logger   *logger.Logger
}

// NewConversationService creates a conversation service. cacheTTL bounds
// how stale a hydrated conversation list may be served.
func NewConversationService(
	repo ConversationRepository,
	msgStore *store.MessageStore,
	renderer Renderer,
	cacheTTL time.Duration,
	log *logger.Logger,
) *ConversationService {
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &ConversationService{
		repo:     repo,
		store:    msgStore,
		renderer: renderer,
		cache:    gocache.New(cacheTTL, 2*cacheTTL),
		logger:   log,
	}
}

// Create creates a new conversation owned by the caller.
func (s *ConversationService) Create(ctx context.Context, owner model.Owner, req *model.CreateConversationRequest) (*model.Conversation, error) {
	title := req.Title
	if title == "" {
		title = "New conversation"
	}

	id, err := s.repo.Create(ctx, title, owner, req.VectorStoreID)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	s.invalidate(owner)
	metrics.ConversationsTotal.WithLabelValues(ownerLabel(owner)).Inc()
	s.logger.Info("conversation created",
		zap.String("conversation_id", id),
		zap.Bool("anonymous", owner.Anonymous()),
	)

	now := time.Now()
	return &model.Conversation{
		ID:            id,
		Title:         title,
		UserID:        owner.UserID,
		SessionID:     owner.SessionID,
		VectorStoreID: req.VectorStoreID,
		Messages:      []model.Message{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Get loads one conversation, verifying ownership, and seeds the live
// message store with its transcript if the store has not seen it yet.
func (s *ConversationService) Get(ctx context.Context, owner model.Owner, id string) (*model.Conversation, error) {
	conv, err := s.repo.FetchOne(ctx, owner, id)
	if err != nil {
		return nil, fmt.Errorf("conversation not found: %w", err)
	}

	s.renderTranscript(conv)
	if s.store.List(id).Len() == 0 && len(conv.Messages) > 0 {
		s.store.Seed(id, conv.Messages)
	}
	return conv, nil
}

// Messages returns the conversation's live transcript, including any
// in-flight streaming state, hydrating from the repository first if needed.
func (s *ConversationService) Messages(ctx context.Context, owner model.Owner, id string) ([]model.Message, error) {
	if _, err := s.Get(ctx, owner, id); err != nil {
		return nil, err
	}
	return s.store.List(id).Messages(), nil
}

// List returns all of the owner's conversations, hydrated and cached.
func (s *ConversationService) List(ctx context.Context, owner model.Owner) (*model.ListConversationsResponse, error) {
	key := ownerKey(owner)
	if cached, ok := s.cache.Get(key); ok {
		if resp, ok := cached.(*model.ListConversationsResponse); ok {
			return resp, nil
		}
	}

	conversations, err := s.repo.FetchAll(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	for i := range conversations {
		s.renderTranscript(&conversations[i])
	}

	resp := &model.ListConversationsResponse{
		Conversations: conversations,
		Total:         len(conversations),
	}
	s.cache.SetDefault(key, resp)
	return resp, nil
}

// Update applies a partial update to a conversation the owner controls.
func (s *ConversationService) Update(ctx context.Context, owner model.Owner, id string, update model.ConversationUpdate) error {
	if _, err := s.repo.FetchOne(ctx, owner, id); err != nil {
		return fmt.Errorf("conversation not found: %w", err)
	}
	if err := s.repo.Update(ctx, id, update); err != nil {
		return err
	}
	s.invalidate(owner)
	return nil
}

// AssociateWithUser migrates the session's conversations to the account.
// Idempotent; safe to call on every login.
func (s *ConversationService) AssociateWithUser(ctx context.Context, sessionID, userID string) error {
	if sessionID == "" || userID == "" {
		return nil
	}
	if err := s.repo.AssociateWithUser(ctx, sessionID, userID); err != nil {
		return err
	}
	s.cache.Flush()
	s.logger.Info("conversations associated with account",
		zap.String("user_id", userID),
	)
	return nil
}

func (s *ConversationService) renderTranscript(conv *model.Conversation) {
	for i := range conv.Messages {
		if conv.Messages[i].Role == model.RoleAssistant {
			conv.Messages[i].HTMLContent = s.renderer.Render(conv.Messages[i].Content)
		}
	}
}

func (s *ConversationService) invalidate(owner model.Owner) {
	s.cache.Delete(ownerKey(owner))
}

func ownerKey(owner model.Owner) string {
	if owner.UserID != "" {
		return "user:" + owner.UserID
	}
	return "session:" + owner.SessionID
}

func ownerLabel(owner model.Owner) string {
	if owner.Anonymous() {
		return "session"
	}
	return "account"
}

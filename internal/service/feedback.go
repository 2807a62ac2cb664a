package service

import (
	"context"

	"github.com/ask-dwight/coach-platform/internal/model"
	"github.com/ask-dwight/coach-platform/internal/store"
	"github.com/ask-dwight/coach-platform/pkg/logger"
)

// FeedbackService records thumbs-up/down reactions on assistant messages.
type FeedbackService struct {
	repo   FeedbackRepository
	store  *store.MessageStore
	logger *logger.Logger
}

func NewFeedbackService(repo FeedbackRepository, msgStore *store.MessageStore, log *logger.Logger) *FeedbackService {
	return &FeedbackService{repo: repo, store: msgStore, logger: log}
}

// React persists a reaction and mirrors it into the live transcript.
// Reacting again replaces the previous reaction.
func (s *FeedbackService) React(ctx context.Context, conversationID, messageID string, reaction model.Reaction) error {
	if err := s.repo.SaveReaction(ctx, messageID, reaction); err != nil {
		return err
	}
	s.store.List(conversationID).Update(messageID, func(m *model.Message) {
		r := reaction
		m.Reaction = &r
	})
	return nil
}

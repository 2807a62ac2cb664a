package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ask-dwight/coach-platform/internal/llm"
	"github.com/ask-dwight/coach-platform/internal/model"
	"github.com/ask-dwight/coach-platform/internal/store"
	"github.com/ask-dwight/coach-platform/pkg/logger"
	"github.com/ask-dwight/coach-platform/pkg/metrics"
)

// SuggestionService generates follow-up suggestions for the latest
// assistant reply via the non-streaming completion backend.
type SuggestionService struct {
	client       llm.Client
	repo         SuggestionRepository
	store        *store.MessageStore
	instructions string
	logger       *logger.Logger
}

// NewSuggestionService creates a suggestion service. instructions is the
// persona prompt including the suggestion trigger behavior.
func NewSuggestionService(
	client llm.Client,
	repo SuggestionRepository,
	msgStore *store.MessageStore,
	instructions string,
	log *logger.Logger,
) *SuggestionService {
	return &SuggestionService{
		client:       client,
		repo:         repo,
		store:        msgStore,
		instructions: instructions,
		logger:       log,
	}
}

// Generate asks the completion backend for three follow-up lines and
// attaches them to the conversation's last assistant message, persisting
// them as a side effect. A reply that does not split into exactly three
// lines is retried once.
func (s *SuggestionService) Generate(ctx context.Context, conversationID string) error {
	if s.client == nil {
		return nil
	}

	list := s.store.List(conversationID)
	last, ok := list.LastOfRole(model.RoleAssistant)
	if !ok {
		return nil
	}
	messages := list.Messages()
	if len(messages) == 0 || messages[len(messages)-1].Role != model.RoleAssistant {
		return nil
	}

	chat := make([]llm.ChatMessage, 0, len(messages)+1)
	for i := range messages {
		if !messages[i].Persistable() {
			continue
		}
		chat = append(chat, llm.ChatMessage{
			Role:    string(messages[i].Role),
			Content: messages[i].Content,
		})
	}
	chat = append(chat, llm.ChatMessage{
		Role:    string(model.RoleUser),
		Content: SuggestionTrigger,
	})

	suggestions, err := s.request(ctx, chat)
	if err != nil || len(suggestions) != suggestionCount {
		// One retry; the model occasionally ignores the line format.
		suggestions, err = s.request(ctx, chat)
	}
	if err != nil {
		metrics.SuggestionRequestsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to generate suggestions: %w", err)
	}

	list.Update(last.ID, func(m *model.Message) {
		m.Suggestions = suggestions
	})

	if err := s.repo.Save(ctx, last.ID, suggestions); err != nil {
		metrics.SuggestionRequestsTotal.WithLabelValues("error").Inc()
		s.logger.Warn("failed to persist suggestions",
			zap.String("message_id", last.ID),
			zap.Error(err),
		)
		return err
	}

	metrics.SuggestionRequestsTotal.WithLabelValues("success").Inc()
	return nil
}

// Clear drops the stale suggestion list on the conversation's last
// assistant message. Called when a new turn starts.
func (s *SuggestionService) Clear(ctx context.Context, conversationID string) {
	list := s.store.List(conversationID)
	if last, ok := list.LastOfRole(model.RoleAssistant); ok {
		list.Update(last.ID, func(m *model.Message) {
			m.Suggestions = nil
		})
	}
}

func (s *SuggestionService) request(ctx context.Context, chat []llm.ChatMessage) ([]string, error) {
	resp, err := s.client.Complete(ctx, &llm.CompletionRequest{
		Instructions: s.instructions,
		Messages:     chat,
		Temperature:  0.7,
	})
	if err != nil {
		return nil, err
	}
	return SplitSuggestions(resp.Content), nil
}

// SplitSuggestions splits a completion reply into trimmed, non-empty lines.
func SplitSuggestions(content string) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

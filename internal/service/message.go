package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ask-dwight/coach-platform/internal/middleware"
	"github.com/ask-dwight/coach-platform/internal/model"
	"github.com/ask-dwight/coach-platform/internal/store"
	"github.com/ask-dwight/coach-platform/internal/stream"
	"github.com/ask-dwight/coach-platform/pkg/logger"
	"github.com/ask-dwight/coach-platform/pkg/metrics"
)

// errExchangeFailed marks an expected stream failure inside a turn. It
// never escapes SendMessage; the caller sees a system error message in the
// transcript instead.
var errExchangeFailed = errors.New("exchange failed")

// TurnResult is the settled outcome of one user turn.
type TurnResult struct {
	ConversationID   string
	UserMessage      model.Message
	AssistantMessage *model.Message
	ThrottleMessage  *model.Message
	// Failed is set when the turn ended in a system error message. The
	// conversation stays usable; resubmitting retries.
	Failed bool
}

// MessageService orchestrates one full user-initiated turn end to end:
// persistence, streaming, throttling policy and suggestion generation.
type MessageService struct {
	conversations ConversationManager
	messages      MessageRepository
	suggestions   SuggestionGenerator
	transport     stream.Transport
	renderer      Renderer
	store         *store.MessageStore
	throttle      ThrottlePolicy
	events        TurnEventPublisher
	timeouts      stream.Timeouts
	logger        *logger.Logger
}

// NewMessageService creates the turn controller. events may be nil when no
// journal is configured.
func NewMessageService(
	conversations ConversationManager,
	messages MessageRepository,
	suggestions SuggestionGenerator,
	transport stream.Transport,
	renderer Renderer,
	msgStore *store.MessageStore,
	throttle ThrottlePolicy,
	events TurnEventPublisher,
	timeouts stream.Timeouts,
	log *logger.Logger,
) *MessageService {
	return &MessageService{
		conversations: conversations,
		messages:      messages,
		suggestions:   suggestions,
		transport:     transport,
		renderer:      renderer,
		store:         msgStore,
		throttle:      throttle,
		events:        events,
		timeouts:      timeouts,
		logger:        log,
	}
}

// SendMessage runs one turn: persist the user message, stream the reply
// into the live transcript, finalize it, then either issue the throttle
// side-turn or generate suggestions.
//
// Error contract: a user message that cannot be persisted rejects the call,
// since showing a reply to an unsaved prompt would corrupt history. A
// missing or uncreatable conversation rejects with
// model.ErrNoActiveConversation. Every other failure settles into a system
// error message in the transcript and a Failed result, leaving the
// conversation usable for a retry.
func (s *MessageService) SendMessage(ctx context.Context, owner model.Owner, conversationID, text string, onDelta stream.DeltaFunc) (*TurnResult, error) {
	start := time.Now()

	conv, err := s.ensureConversation(ctx, owner, conversationID)
	if err != nil {
		metrics.RecordTurn("no_conversation", time.Since(start).Seconds())
		return nil, err
	}

	log := s.logger.WithConversation(conv.ID)
	list := s.store.List(conv.ID)
	s.publishEvent(ctx, conv.ID, model.TurnEventStarted, "")

	promptID, err := s.messages.SaveUserMessage(ctx, conv.ID, text)
	if err != nil {
		s.publishEvent(ctx, conv.ID, model.TurnEventFailed, "user message persistence failed")
		metrics.RecordTurn("user_persist_failed", time.Since(start).Seconds())
		return nil, fmt.Errorf("failed to save user message: %w", err)
	}

	userMsg := model.Message{
		ID:             promptID,
		ConversationID: conv.ID,
		Role:           model.RoleUser,
		Content:        text,
		Status:         model.StatusSent,
		Timestamp:      time.Now(),
	}
	if err := list.Append(userMsg); err != nil {
		// Only streaming appends can be rejected; a sent user message
		// cannot trip the invariant.
		log.Error("failed to append user message", zap.Error(err))
	}
	metrics.MessagesTotal.WithLabelValues(string(model.RoleUser)).Inc()

	s.suggestions.Clear(ctx, conv.ID)

	// Transient affordance while the reply is in flight. Removed as soon
	// as the turn settles, success or failure, and never persisted.
	s.appendLoading(list, conv.ID)
	defer list.RemoveLoading()

	prior := s.priorResponseID(conv, list)
	var payload stream.PromptPayload
	if prior != "" {
		// Incremental mode: the backend resumes the prior exchange, so
		// only the new text goes up.
		payload = stream.TextPrompt(text)
	} else {
		// Legacy bootstrap: no correlation id yet, replay eligible
		// history once.
		payload = stream.TurnsPrompt(historyTurns(list.Messages()))
	}

	result := &TurnResult{ConversationID: conv.ID, UserMessage: userMsg}

	assistant, err := s.runExchange(ctx, conv, list, payload, prior, promptID, false, onDelta)
	if err != nil {
		s.failTurn(ctx, conv.ID, list, err)
		metrics.RecordTurn("error", time.Since(start).Seconds())
		result.Failed = true
		return result, nil
	}
	result.AssistantMessage = assistant

	// First correlation id on this conversation: mirror it so incremental
	// mode survives a reload.
	if conv.ResponseID == "" && assistant.ResponseID != "" {
		rid := assistant.ResponseID
		if err := s.conversations.Update(ctx, owner, conv.ID, model.ConversationUpdate{ResponseID: &rid}); err != nil {
			log.Warn("failed to record conversation correlation id", zap.Error(err))
		}
	}

	if s.throttle.ShouldThrottle(list.Messages()) {
		metrics.ThrottleTurnsTotal.Inc()
		s.publishEvent(ctx, conv.ID, model.TurnEventThrottled, "")

		throttleMsg, terr := s.runExchange(ctx, conv, list, stream.TextPrompt(ThrottleDirective), assistant.ResponseID, promptID, true, onDelta)
		if terr != nil {
			// The main reply already settled; a failed throttle notice is
			// not worth a user-facing error.
			log.Warn("throttle turn failed", zap.Error(terr))
		} else {
			result.ThrottleMessage = throttleMsg
		}
	} else {
		if err := s.suggestions.Generate(ctx, conv.ID); err != nil {
			log.Warn("suggestion generation failed", zap.Error(err))
		}
	}

	s.publishEvent(ctx, conv.ID, model.TurnEventSettled, "")
	metrics.RecordTurn("success", time.Since(start).Seconds())
	return result, nil
}

func (s *MessageService) ensureConversation(ctx context.Context, owner model.Owner, conversationID string) (*model.Conversation, error) {
	if conversationID == "" {
		conv, err := s.conversations.Create(ctx, owner, &model.CreateConversationRequest{})
		if err != nil {
			s.logger.Error("failed to create conversation for turn", zap.Error(err))
			return nil, model.ErrNoActiveConversation
		}
		return conv, nil
	}

	conv, err := s.conversations.Get(ctx, owner, conversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrNoActiveConversation, err)
	}
	return conv, nil
}

// priorResponseID decides between incremental and full-context mode: the
// latest assistant message's correlation id wins, with the conversation's
// mirror as fallback after a cold reload.
func (s *MessageService) priorResponseID(conv *model.Conversation, list *store.MessageList) string {
	if last, ok := list.LastOfRole(model.RoleAssistant); ok && last.ResponseID != "" {
		return last.ResponseID
	}
	return conv.ResponseID
}

// runExchange drives one streamed exchange: placeholder insertion, delta
// application, finalization and persistence. It returns errExchangeFailed
// for expected stream failures after restoring the transcript per the
// partial-content rules.
func (s *MessageService) runExchange(
	ctx context.Context,
	conv *model.Conversation,
	list *store.MessageList,
	payload stream.PromptPayload,
	prior string,
	promptID string,
	throttle bool,
	onDelta stream.DeltaFunc,
) (*model.Message, error) {
	// Placeholder goes in before the session opens so a fast first delta
	// always has somewhere to attach.
	placeholderID := uuid.Must(uuid.NewV7()).String()
	placeholder := model.Message{
		ID:             placeholderID,
		ConversationID: conv.ID,
		Role:           model.RoleAssistant,
		Status:         model.StatusStreaming,
		Timestamp:      time.Now(),
		Throttle:       throttle,
	}
	if err := list.Append(placeholder); err != nil {
		return nil, err
	}

	session := stream.NewSession(s.transport, s.logger, s.timeouts)
	completed, err := session.Open(ctx, stream.Request{
		Prompt:             payload,
		PreviousResponseID: prior,
		VectorStoreID:      conv.VectorStoreID,
	}, func(fragment string) {
		list.AppendToStreaming(fragment, s.renderer.Render)
		if onDelta != nil {
			onDelta(fragment)
		}
	})
	if err != nil {
		// Session misuse; treated like a failed stream for the caller.
		list.Remove(placeholderID)
		return nil, err
	}

	if completed == nil {
		// Partial content already shown stays put; an untouched
		// placeholder is removed.
		partial := false
		list.Update(placeholderID, func(m *model.Message) {
			partial = m.Content != ""
			m.Status = model.StatusError
		})
		if !partial {
			list.Remove(placeholderID)
		}
		return nil, errExchangeFailed
	}

	// The completed frame's text is authoritative over accumulated
	// deltas.
	list.Update(placeholderID, func(m *model.Message) {
		if completed.FinalText != "" {
			m.Content = completed.FinalText
		}
		m.HTMLContent = s.renderer.Render(m.Content)
		m.ResponseID = completed.ResponseID
		m.Sources = completed.Sources
	})

	final, _ := list.Find(func(m model.Message) bool { return m.ID == placeholderID })

	if _, err := s.messages.SaveAssistantMessage(ctx, placeholderID, model.AssistantMessage{
		ConversationID: conv.ID,
		Text:           final.Content,
		PromptID:       promptID,
		ResponseID:     completed.ResponseID,
		Throttle:       throttle,
	}); err != nil {
		// The user already saw this content; keep it visible and mark the
		// persistence gap instead of rolling back.
		s.logger.WithConversation(conv.ID).Error("failed to persist assistant message",
			zap.String("message_id", placeholderID),
			zap.Error(err),
		)
		list.Update(placeholderID, func(m *model.Message) {
			m.Status = model.StatusError
		})
	} else {
		list.Update(placeholderID, func(m *model.Message) {
			m.Status = model.StatusSent
		})
	}
	metrics.MessagesTotal.WithLabelValues(string(model.RoleAssistant)).Inc()

	settled, _ := list.Find(func(m model.Message) bool { return m.ID == placeholderID })
	return &settled, nil
}

// failTurn settles a failed exchange: the transient placeholder is gone,
// the transcript gets a static system error message, and the failure is
// journaled. The conversation stays usable.
func (s *MessageService) failTurn(ctx context.Context, conversationID string, list *store.MessageList, cause error) {
	list.RemoveLoading()
	if err := list.Append(model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conversationID,
		Role:           model.RoleSystem,
		Content:        DefaultErrorMessage,
		Status:         model.StatusSent,
		Timestamp:      time.Now(),
	}); err != nil {
		s.logger.WithConversation(conversationID).Error("failed to append error message", zap.Error(err))
	}
	s.publishEvent(ctx, conversationID, model.TurnEventFailed, cause.Error())
}

func (s *MessageService) appendLoading(list *store.MessageList, conversationID string) {
	_ = list.Append(model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conversationID,
		Role:           model.RoleSystem,
		Status:         model.StatusLoading,
		Timestamp:      time.Now(),
	})
}

func (s *MessageService) publishEvent(ctx context.Context, conversationID string, eventType model.TurnEventType, reason string) {
	if s.events == nil {
		return
	}
	event := &model.TurnEvent{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conversationID,
		Type:           eventType,
		Reason:         reason,
		CorrelationID:  middleware.GetCorrelationID(ctx),
		CreatedAt:      time.Now(),
	}
	if err := s.events.PublishTurnEvent(ctx, event); err != nil {
		s.logger.Warn("failed to publish turn event",
			zap.String("conversation_id", conversationID),
			zap.String("type", string(eventType)),
			zap.Error(err),
		)
	}
}

// historyTurns converts the eligible transcript into role-tagged turns for
// a full-context replay. Loading placeholders and system notices stay out.
func historyTurns(messages []model.Message) []stream.Turn {
	turns := make([]stream.Turn, 0, len(messages))
	for i := range messages {
		if !messages[i].Persistable() {
			continue
		}
		turns = append(turns, stream.Turn{
			Role:    string(messages[i].Role),
			Content: messages[i].Content,
		})
	}
	return turns
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ask-dwight/coach-platform/internal/middleware"
	"github.com/ask-dwight/coach-platform/internal/model"
	"github.com/ask-dwight/coach-platform/internal/service"
	"github.com/ask-dwight/coach-platform/internal/store"
	"github.com/ask-dwight/coach-platform/pkg/logger"
	"github.com/ask-dwight/coach-platform/pkg/metrics"
)

// ConversationReader scopes journal reads to conversations the caller owns.
type ConversationReader interface {
	Get(ctx context.Context, owner model.Owner, id string) (*model.Conversation, error)
}

// TurnJournal reads back journaled turn lifecycle events.
type TurnJournal interface {
	GetTurnEvents(ctx context.Context, conversationID string, limit int) ([]model.TurnEvent, error)
}

// TurnHandler streams coaching turns over SSE and serves the turn journal.
type TurnHandler struct {
	messages      *service.MessageService
	conversations ConversationReader
	journal       TurnJournal
	store         *store.MessageStore
	logger        *logger.Logger
}

// NewTurnHandler creates a new turn handler. journal may be nil when the
// platform runs without NATS.
func NewTurnHandler(msgSvc *service.MessageService, convs ConversationReader, journal TurnJournal, msgStore *store.MessageStore, log *logger.Logger) *TurnHandler {
	return &TurnHandler{
		messages:      msgSvc,
		conversations: convs,
		journal:       journal,
		store:         msgStore,
		logger:        log,
	}
}

// errorEvent is the payload of an SSE error frame. Message carries the
// user-facing copy, never internal detail.
type errorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Send handles POST /api/v1/messages. The user message goes up in the
// request body; the reply streams back as SSE events: user_message, a
// delta per fragment, message_complete, an optional throttle notice, then
// done.
func (h *TurnHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := middleware.GetOwner(ctx)

	var req model.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ConversationID != "" {
		if err := middleware.ValidateConversationID(req.ConversationID); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	result, err := h.messages.SendMessage(ctx, owner, req.ConversationID, req.Content, func(fragment string) {
		sendSSEEvent(w, flusher, "delta", map[string]string{"text": fragment})
	})
	if err != nil {
		if errors.Is(err, model.ErrNoActiveConversation) {
			sendSSEEvent(w, flusher, "error", &errorEvent{
				Code:    "no_conversation",
				Message: service.DefaultErrorMessage,
			})
			return
		}
		h.logger.Error("failed to process turn", zap.Error(err))
		sendSSEEvent(w, flusher, "error", &errorEvent{
			Code:    "send_failed",
			Message: service.DefaultErrorMessage,
		})
		return
	}

	sendSSEEvent(w, flusher, "user_message", result.UserMessage)

	if result.Failed {
		sendSSEEvent(w, flusher, "error", &errorEvent{
			Code:    "stream_error",
			Message: service.DefaultErrorMessage,
		})
		return
	}

	if result.AssistantMessage != nil {
		// Re-read from the live transcript so suggestions generated
		// after the exchange settled are included.
		msg := *result.AssistantMessage
		if settled, ok := h.store.List(result.ConversationID).Find(func(m model.Message) bool {
			return m.ID == msg.ID
		}); ok {
			msg = settled
		}
		sendSSEEvent(w, flusher, "message_complete", msg)
	}

	if result.ThrottleMessage != nil {
		sendSSEEvent(w, flusher, "throttle_message", *result.ThrottleMessage)
	}

	sendSSEEvent(w, flusher, "done", map[string]interface{}{
		"conversation_id": result.ConversationID,
		"success":         true,
	})
}

const (
	defaultJournalLimit = 50
	maxJournalLimit     = 200
)

// Journal handles GET /api/v1/conversations/{id}/turns. It returns the
// journaled lifecycle events for a conversation, oldest first.
func (h *TurnHandler) Journal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := middleware.GetOwner(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.conversations.Get(ctx, owner, conversationID); err != nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	if h.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "turn journal unavailable")
		return
	}

	limit := defaultJournalLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		if n > maxJournalLimit {
			n = maxJournalLimit
		}
		limit = n
	}

	events, err := h.journal.GetTurnEvents(ctx, conversationID, limit)
	if err != nil {
		h.logger.Error("failed to fetch turn events", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch turn events")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversation_id": conversationID,
		"events":          events,
	})
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()

	return nil
}

package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ask-dwight/coach-platform/internal/middleware"
	"github.com/ask-dwight/coach-platform/internal/model"
	"github.com/ask-dwight/coach-platform/internal/service"
	"github.com/ask-dwight/coach-platform/pkg/logger"
)

// MessageHandler handles per-message endpoints: reactions and suggestion
// refresh.
type MessageHandler struct {
	feedback    *service.FeedbackService
	suggestions *service.SuggestionService
	logger      *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(feedback *service.FeedbackService, suggestions *service.SuggestionService, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		feedback:    feedback,
		suggestions: suggestions,
		logger:      log,
	}
}

// React handles PUT /api/v1/conversations/{id}/messages/{messageID}/reaction
func (h *MessageHandler) React(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")
	messageID := chi.URLParam(r, "messageID")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateMessageID(messageID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.ReactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch req.Reaction {
	case model.ReactionThumbsUp, model.ReactionThumbsDown:
	default:
		writeError(w, http.StatusBadRequest, "invalid reaction")
		return
	}

	if err := h.feedback.React(ctx, conversationID, messageID, req.Reaction); err != nil {
		h.logger.Error("failed to save reaction", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save reaction")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RefreshSuggestions handles POST /api/v1/conversations/{id}/suggestions
func (h *MessageHandler) RefreshSuggestions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.suggestions.Generate(ctx, conversationID); err != nil {
		h.logger.Warn("failed to generate suggestions", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to generate suggestions")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

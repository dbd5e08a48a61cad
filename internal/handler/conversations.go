// Package handler provides HTTP handlers for the API.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/smartflow/crm-chat/internal/middleware"
	"github.com/smartflow/crm-chat/internal/model"
	"github.com/smartflow/crm-chat/internal/service"
	"github.com/smartflow/crm-chat/pkg/logger"
	"github.com/smartflow/crm-chat/pkg/metrics"
)

// ConversationHandler serves conversation history over REST.
type ConversationHandler struct {
	history *service.HistoryService
	logger  *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(history *service.HistoryService, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		history: history,
		logger:  log,
	}
}

// Messages handles GET /api/v1/conversations/{otherUserId}/messages
// Supports ?before=<cursor>&limit=N, newest page first.
func (h *ConversationHandler) Messages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	otherUserID := chi.URLParam(r, "otherUserId")

	if err := model.ValidateIdentity(otherUserID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit, err := middleware.ParseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	metrics.HistoryRequests.WithLabelValues("rest").Inc()
	page, err := h.history.GetHistory(ctx, userID, otherUserID, r.URL.Query().Get("before"), limit)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			requestLogger(h.logger, r).Error("failed to read history",
				zap.String("other_user_id", otherUserID),
				zap.Error(err),
			)
			writeError(w, status, "failed to read history")
			return
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, page)
}

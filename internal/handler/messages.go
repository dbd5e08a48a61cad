package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/smartflow/crm-chat/internal/middleware"
	"github.com/smartflow/crm-chat/internal/store"
	"github.com/smartflow/crm-chat/pkg/logger"
)

// MessageHandler serves single messages over REST.
type MessageHandler struct {
	store  store.Store
	logger *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(s store.Store, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		store:  s,
		logger: log,
	}
}

// Get handles GET /api/v1/messages/{messageId}
// Only the sender and the receiver can see a message; anyone else gets 404.
func (h *MessageHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	messageID := chi.URLParam(r, "messageId")

	if err := middleware.ValidateMessageID(messageID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := h.store.Get(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !msg.Involves(userID)) {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	if err != nil {
		requestLogger(h.logger, r).Error("failed to load message", zap.String("message_id", messageID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load message")
		return
	}

	writeJSON(w, http.StatusOK, msg)
}

package handler

import (
	"net/http"
)

// Counter reports a live count.
type Counter interface {
	Len() int
}

// SessionCounter reports open connections.
type SessionCounter interface {
	Sessions() int
}

// PresenceHandler exposes presence counters to operators.
type PresenceHandler struct {
	registry Counter
	sessions SessionCounter
}

// NewPresenceHandler creates a new presence handler.
func NewPresenceHandler(registry Counter, sessions SessionCounter) *PresenceHandler {
	return &PresenceHandler{registry: registry, sessions: sessions}
}

// Stats handles GET /api/v1/admin/presence
func (h *PresenceHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{
		"online":      h.registry.Len(),
		"connections": h.sessions.Sessions(),
	})
}

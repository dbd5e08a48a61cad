package handler

import (
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/smartflow/crm-chat/internal/delivery"
	"github.com/smartflow/crm-chat/internal/middleware"
	natsclient "github.com/smartflow/crm-chat/internal/nats"
	"github.com/smartflow/crm-chat/internal/notify"
	"github.com/smartflow/crm-chat/internal/presence"
	"github.com/smartflow/crm-chat/internal/realtime"
	"github.com/smartflow/crm-chat/internal/service"
	"github.com/smartflow/crm-chat/internal/store"
	"github.com/smartflow/crm-chat/pkg/logger"
)

const testSecret = "test-secret"

type testApp struct {
	store    *store.BadgerStore
	registry *presence.Registry
	manager  *realtime.Manager
	router   http.Handler
}

func newTestApp(t *testing.T, opts realtime.Options) *testApp {
	t.Helper()
	db, err := store.Open(store.Options{Path: t.TempDir()}, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := logger.NewNop()
	s := store.NewBadgerStore(db)
	registry := presence.NewRegistry()
	journal := natsclient.Nop{}
	machine := delivery.NewMachine(s, registry, journal, log)
	chat := service.NewChatService(s, registry, machine, notify.NewDispatcher(80, log), journal, 4096, log)
	history := service.NewHistoryService(s, 50, 200)
	manager := realtime.NewManager(registry, chat, history, machine, opts, log)
	t.Cleanup(manager.Shutdown)

	health := NewHealthHandler(db, nil)
	conversations := NewConversationHandler(history, log)
	messages := NewMessageHandler(s, log)
	presenceStats := NewPresenceHandler(registry, manager)
	socket := NewSocketHandler(manager, SocketOptions{
		PingInterval:   time.Second,
		WriteTimeout:   time.Second,
		AllowedOrigins: []string{"http://*"},
	}, log)

	r := chi.NewRouter()
	r.Use(middleware.Logging(log))
	r.Get("/health", health.Health)
	r.Get("/ready", health.Ready)
	r.With(middleware.Auth(testSecret)).Get("/ws", socket.Serve)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(testSecret))
		r.Get("/conversations/{otherUserId}/messages", conversations.Messages)
		r.Get("/messages/{messageId}", messages.Get)
		r.With(middleware.RequireRole("admin")).Get("/admin/presence", presenceStats.Stats)
	})

	return &testApp{store: s, registry: registry, manager: manager, router: r}
}

func tokenFor(t *testing.T, userID string) string {
	t.Helper()
	return tokenWithRole(t, userID, "sales")
}

func tokenWithRole(t *testing.T, userID, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: role,
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

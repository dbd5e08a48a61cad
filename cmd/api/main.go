// Package main is the entry point for the chat server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/smartflow/crm-chat/internal/config"
	"github.com/smartflow/crm-chat/internal/delivery"
	"github.com/smartflow/crm-chat/internal/handler"
	"github.com/smartflow/crm-chat/internal/middleware"
	natsclient "github.com/smartflow/crm-chat/internal/nats"
	"github.com/smartflow/crm-chat/internal/notify"
	"github.com/smartflow/crm-chat/internal/presence"
	"github.com/smartflow/crm-chat/internal/realtime"
	"github.com/smartflow/crm-chat/internal/service"
	"github.com/smartflow/crm-chat/internal/store"
	"github.com/smartflow/crm-chat/pkg/logger"
	"github.com/smartflow/crm-chat/pkg/tracing"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "crm-chat: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting chat server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "crm-chat", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Open the message store
	db, err := store.Open(store.Options{Path: cfg.BadgerPath, InMemory: cfg.BadgerInMemory}, log)
	if err != nil {
		return err
	}
	defer db.Close()
	messages := store.NewBadgerStore(db)

	// Connect the event journal when configured
	var (
		journal natsclient.Journal = natsclient.Nop{}
		pinger  handler.Pinger
	)
	if cfg.JournalEnabled() {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		natsClient, err := natsclient.Connect(connectCtx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			cancel()
			return err
		}
		defer natsClient.Close()

		streamManager := natsclient.NewStreamManager(natsClient)
		err = streamManager.EnsureStream(connectCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to ensure stream: %w", err)
		}
		journal = streamManager
		pinger = natsClient
		log.Info("event journal enabled", zap.String("stream", natsclient.StreamName))
	}

	// Initialize the messaging core
	registry := presence.NewRegistry()
	machine := delivery.NewMachine(messages, registry, journal, log)
	dispatcher := notify.NewDispatcher(cfg.NotificationPreviewLength, log)
	chatSvc := service.NewChatService(messages, registry, machine, dispatcher, journal, cfg.MaxMessageLength, log)
	historySvc := service.NewHistoryService(messages, cfg.HistoryDefaultPage, cfg.HistoryMaxPage)
	manager := realtime.NewManager(registry, chatSvc, historySvc, machine, realtime.Options{
		BufferSize:           cfg.ConnectionBufferSize,
		SendRatePerSecond:    cfg.SendRatePerSecond,
		SendBurst:            cfg.SendBurst,
		ErrorAcks:            cfg.ErrorAcks,
		DeliverPendingOnJoin: cfg.DeliverPendingOnJoin,
	}, log)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(db, pinger)
	conversationHandler := handler.NewConversationHandler(historySvc, log)
	messageHandler := handler.NewMessageHandler(messages, log)
	presenceHandler := handler.NewPresenceHandler(registry, manager)
	socketHandler := handler.NewSocketHandler(manager, handler.SocketOptions{
		PingInterval:   cfg.WSPingInterval,
		WriteTimeout:   cfg.WSWriteTimeout,
		MaxFrameBytes:  cfg.WSMaxFrameBytes,
		AllowedOrigins: cfg.CORSAllowedOrigins,
	}, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// WebSocket transport
	r.With(
		middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow),
		middleware.Auth(cfg.JWTSecret),
	).Get("/ws", socketHandler.Serve)

	// REST routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.SecurityHeaders)
		r.Use(middleware.CORS(cfg.CORSAllowedOrigins))
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.UserRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Get("/conversations/{otherUserId}/messages", conversationHandler.Messages)
		r.Get("/messages/{messageId}", messageHandler.Get)

		r.With(middleware.RequireRole(cfg.AdminRoles...)).Get("/admin/presence", presenceHandler.Stats)
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	// Hijacked WebSocket connections are not tracked by Shutdown.
	manager.Shutdown()
	if err := socketHandler.Drain(shutdownCtx); err != nil {
		log.Warn("websocket connections still open at shutdown", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}

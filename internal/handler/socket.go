package handler

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/smartflow/crm-chat/internal/middleware"
	"github.com/smartflow/crm-chat/internal/realtime"
	"github.com/smartflow/crm-chat/pkg/logger"
	"github.com/smartflow/crm-chat/pkg/metrics"
)

// SocketOptions tunes the WebSocket transport.
type SocketOptions struct {
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	MaxFrameBytes  int64
	AllowedOrigins []string
}

// SocketHandler carries client events over WebSocket connections.
type SocketHandler struct {
	manager  *realtime.Manager
	upgrader websocket.Upgrader
	opts     SocketOptions
	logger   *logger.Logger
	active   sync.WaitGroup
}

// NewSocketHandler creates a new socket handler.
func NewSocketHandler(manager *realtime.Manager, opts SocketOptions, log *logger.Logger) *SocketHandler {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 25 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.MaxFrameBytes <= 0 {
		opts.MaxFrameBytes = 64 * 1024
	}
	h := &SocketHandler{
		manager: manager,
		opts:    opts,
		logger:  log,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Serve handles GET /ws
func (h *SocketHandler) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	h.active.Add(1)
	defer h.active.Done()
	metrics.IncrementWSConnections()
	defer metrics.DecrementWSConnections()

	session := h.manager.Connect(middleware.GetUserID(r.Context()))
	log := h.logger.WithConnection(session.ID())
	log.Info("websocket connected", zap.String("user_id", session.AuthUser()))

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(conn, session, log)
	}()

	// In-flight work must finish even after the client goes away.
	h.readPump(context.WithoutCancel(r.Context()), conn, session, log)

	h.manager.Disconnect(session)
	<-done
	log.Info("websocket disconnected", zap.String("user_id", session.UserID()))
}

// Drain waits until every connection handler has returned or ctx is done.
func (h *SocketHandler) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *SocketHandler) readPump(ctx context.Context, conn *websocket.Conn, session *realtime.Session, log *logger.Logger) {
	pongWait := 2 * h.opts.PingInterval

	conn.SetReadLimit(h.opts.MaxFrameBytes)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		h.manager.HandleFrame(ctx, session, data)
	}
}

func (h *SocketHandler) writePump(conn *websocket.Conn, session *realtime.Session, log *logger.Logger) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case frame := <-session.Outbound():
			conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := conn.WriteJSON(frame); err != nil {
				log.Debug("websocket write failed", zap.Error(err))
				session.Close()
				return
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.opts.WriteTimeout)); err != nil {
				session.Close()
				return
			}

		case <-session.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(h.opts.WriteTimeout))
			return
		}
	}
}

func (h *SocketHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if originMatches(allowed, origin) {
			return true
		}
	}
	return false
}

// originMatches supports a single "*" wildcard, as in "https://*.example.com".
func originMatches(pattern, origin string) bool {
	if pattern == "*" {
		return true
	}
	prefix, suffix, wildcard := strings.Cut(pattern, "*")
	if !wildcard {
		return strings.EqualFold(pattern, origin)
	}
	return len(origin) >= len(prefix)+len(suffix) &&
		strings.HasPrefix(strings.ToLower(origin), strings.ToLower(prefix)) &&
		strings.HasSuffix(strings.ToLower(origin), strings.ToLower(suffix))
}

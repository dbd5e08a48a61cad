package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/smartflow/crm-chat/internal/delivery"
	"github.com/smartflow/crm-chat/internal/model"
	"github.com/smartflow/crm-chat/internal/presence"
	"github.com/smartflow/crm-chat/internal/service"
	"github.com/smartflow/crm-chat/pkg/logger"
	"github.com/smartflow/crm-chat/pkg/metrics"
)

// Options tunes per-connection behaviour.
type Options struct {
	BufferSize           int
	SendRatePerSecond    float64
	SendBurst            int
	ErrorAcks            bool
	DeliverPendingOnJoin bool
}

// Manager handles the events of every connection. Events of one session must
// be passed in arrival order from a single goroutine; different sessions may
// be handled concurrently.
type Manager struct {
	registry *presence.Registry
	chat     *service.ChatService
	history  *service.HistoryService
	machine  *delivery.Machine
	opts     Options
	logger   *logger.Logger
	validate *validator.Validate

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a connection manager.
func NewManager(
	registry *presence.Registry,
	chat *service.ChatService,
	history *service.HistoryService,
	machine *delivery.Machine,
	opts Options,
	log *logger.Logger,
) *Manager {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 64
	}
	if opts.SendRatePerSecond <= 0 {
		opts.SendRatePerSecond = 5
	}
	if opts.SendBurst <= 0 {
		opts.SendBurst = 20
	}
	return &Manager{
		registry: registry,
		chat:     chat,
		history:  history,
		machine:  machine,
		opts:     opts,
		logger:   log,
		validate: validator.New(),
		sessions: make(map[string]*Session),
	}
}

// Connect opens a session for a new connection. authUser is the identity
// from the connection's token, or "" when the transport is unauthenticated.
func (m *Manager) Connect(authUser string) *Session {
	s := newSession(authUser, m.opts.BufferSize, rate.NewLimiter(rate.Limit(m.opts.SendRatePerSecond), m.opts.SendBurst))

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	m.logger.Debug("session opened", zap.String("connection_id", s.ID()), zap.String("auth_user", authUser))
	return s
}

// HandleFrame decodes one raw client frame and handles it. Failures are
// logged and, when error acknowledgements are enabled, reported to s alone.
func (m *Manager) HandleFrame(ctx context.Context, s *Session, raw []byte) {
	var frame model.Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		m.reject(s, "", fmt.Errorf("%w: malformed frame", model.ErrInvalidMessage))
		return
	}
	m.Handle(ctx, s, frame)
}

// Handle dispatches a decoded client event.
func (m *Manager) Handle(ctx context.Context, s *Session, frame model.Frame) {
	var err error
	switch frame.Event {
	case model.EventJoin:
		var userID string
		if userID, err = decodeJoin(frame.Data); err == nil {
			err = m.Join(ctx, s, userID)
		}
	case model.EventChatMessage:
		var req model.SendMessageRequest
		if err = decode(frame.Data, &req); err == nil {
			err = m.Send(ctx, s, req)
		}
	case model.EventGetChatHistory:
		var req model.HistoryRequest
		if err = decode(frame.Data, &req); err == nil {
			err = m.GetHistory(ctx, s, req)
		}
	case model.EventMessageRead:
		var req model.ReadRequest
		if err = decode(frame.Data, &req); err == nil {
			err = m.AcknowledgeRead(ctx, s, req)
		}
	case model.EventViewingConversation:
		var req model.ViewRequest
		if err = decode(frame.Data, &req); err == nil {
			err = m.View(s, req)
		}
	default:
		err = fmt.Errorf("%w: %q", model.ErrUnknownEvent, frame.Event)
	}

	if err != nil {
		m.reject(s, frame.Event, err)
	}
}

// Join registers s as the live connection of userID, replacing any other.
func (m *Manager) Join(ctx context.Context, s *Session, userID string) error {
	if err := model.ValidateIdentity(userID); err != nil {
		return err
	}
	if s.AuthUser() != "" && s.AuthUser() != userID {
		return model.ErrIdentityMismatch
	}
	if s.closed() {
		return presence.ErrClosed
	}

	if previous := s.setUserID(userID); previous != "" && previous != userID {
		m.registry.RemoveIf(previous, s)
	}

	log := m.logger.With(zap.String("connection_id", s.ID()), zap.String("user_id", userID))
	if displaced := m.registry.Register(userID, s); displaced != nil && displaced != presence.Handle(s) {
		log.Info("session displaced previous connection", zap.String("displaced_connection_id", displaced.ID()))
	}
	// Disconnect closes before it reads the identity, so whichever of the two
	// sees the other's write removes the entry.
	if s.closed() {
		m.registry.RemoveIf(userID, s)
		return presence.ErrClosed
	}
	log.Debug("joined")

	if m.opts.DeliverPendingOnJoin {
		n, err := m.chat.DeliverPending(ctx, userID, s)
		if err != nil {
			return fmt.Errorf("failed to deliver pending messages: %w", err)
		}
		if n > 0 {
			log.Debug("pending messages delivered", zap.Int("count", n))
		}
	}
	return nil
}

// Send stores a message from the session's identity and echoes the stored record back.
func (m *Manager) Send(ctx context.Context, s *Session, req model.SendMessageRequest) error {
	userID := s.UserID()
	if userID == "" {
		return model.ErrNotJoined
	}
	if err := m.chat.Validate(&req); err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return err
	}
	if req.Sender != userID {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return model.ErrIdentityMismatch
	}
	if !s.limiter.Allow() {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return model.ErrRateLimited
	}

	msg, err := m.chat.Send(ctx, req.Sender, req.Receiver, req.Content)
	if err != nil {
		return err
	}
	return m.reply(s, model.EventChatMessage, msg)
}

// GetHistory answers a history request to the requesting session only.
func (m *Manager) GetHistory(ctx context.Context, s *Session, req model.HistoryRequest) error {
	userID := s.UserID()
	if userID == "" {
		return model.ErrNotJoined
	}
	if err := m.validateStruct(&req); err != nil {
		return err
	}
	if req.UserID != userID && req.OtherUserID != userID {
		return model.ErrForbidden
	}

	metrics.HistoryRequests.WithLabelValues("ws").Inc()
	page, err := m.history.GetHistory(ctx, req.UserID, req.OtherUserID, req.Before, req.Limit)
	if err != nil {
		return err
	}
	return m.reply(s, model.EventChatHistory, page)
}

// AcknowledgeRead marks a message read on behalf of the session's identity.
func (m *Manager) AcknowledgeRead(ctx context.Context, s *Session, req model.ReadRequest) error {
	userID := s.UserID()
	if userID == "" {
		return model.ErrNotJoined
	}
	if err := m.validateStruct(&req); err != nil {
		return err
	}
	_, _, err := m.machine.MarkRead(ctx, userID, req.MessageID)
	return err
}

// View records which conversation the client reports it has open.
func (m *Manager) View(s *Session, req model.ViewRequest) error {
	if req.OtherUserID != "" {
		if err := model.ValidateIdentity(req.OtherUserID); err != nil {
			return err
		}
	}
	s.setViewing(req.OtherUserID)
	return nil
}

// Disconnect forgets s. Its presence entry is removed only if no newer
// connection has taken it over. Nothing in flight is cancelled.
func (m *Manager) Disconnect(s *Session) {
	s.Close()
	if userID := s.UserID(); userID != "" {
		m.registry.RemoveIf(userID, s)
	}

	m.mu.Lock()
	delete(m.sessions, s.ID())
	m.mu.Unlock()

	m.logger.Debug("session closed", zap.String("connection_id", s.ID()), zap.String("user_id", s.UserID()))
}

// Shutdown closes every open session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := lo.Values(m.sessions)
	m.mu.Unlock()

	for _, s := range sessions {
		m.Disconnect(s)
	}
}

// Sessions returns the number of open sessions.
func (m *Manager) Sessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) reply(s *Session, event model.EventType, data any) error {
	frame, err := model.NewFrame(event, data)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", event, err)
	}
	if err := s.Push(frame); err != nil {
		metrics.PushesDropped.WithLabelValues(string(event)).Inc()
		m.logger.Debug("reply not pushed",
			zap.String("connection_id", s.ID()),
			zap.String("event", string(event)),
			zap.Error(err),
		)
	}
	return nil
}

func (m *Manager) reject(s *Session, event model.EventType, err error) {
	if errors.Is(err, presence.ErrClosed) {
		m.logger.Debug("event after close ignored", zap.String("connection_id", s.ID()), zap.String("event", string(event)))
		return
	}
	code := model.ErrorCode(err)
	log := m.logger.With(
		zap.String("connection_id", s.ID()),
		zap.String("user_id", s.UserID()),
		zap.String("event", string(event)),
		zap.String("code", code),
		zap.Error(err),
	)
	if code == "internal_error" {
		log.Error("event failed")
	} else {
		log.Info("event rejected")
	}

	if !m.opts.ErrorAcks {
		return
	}
	message := err.Error()
	if code == "internal_error" {
		message = "internal error"
	}
	frame, ferr := model.NewFrame(model.EventError, model.ErrorEvent{Event: event, Code: code, Message: message})
	if ferr == nil {
		ferr = s.Push(frame)
	}
	if ferr != nil {
		metrics.PushesDropped.WithLabelValues(string(model.EventError)).Inc()
	}
}

func (m *Manager) validateStruct(v any) error {
	if err := m.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s is %s", model.ErrInvalidMessage, verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", model.ErrInvalidMessage, err)
	}
	return nil
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing payload", model.ErrInvalidMessage)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", model.ErrInvalidMessage, err)
	}
	return nil
}

// decodeJoin accepts the identity either as a bare string or as {"userId": "..."}.
func decodeJoin(data json.RawMessage) (string, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, `"`) {
		var userID string
		if err := json.Unmarshal(data, &userID); err != nil {
			return "", fmt.Errorf("%w: %v", model.ErrInvalidMessage, err)
		}
		return userID, nil
	}

	var payload struct {
		UserID string `json:"userId"`
	}
	if err := decode(data, &payload); err != nil {
		return "", err
	}
	return payload.UserID, nil
}

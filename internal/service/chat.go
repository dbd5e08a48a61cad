// Package service orchestrates sending messages and reading conversations.
package service

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/smartflow/crm-chat/internal/delivery"
	"github.com/smartflow/crm-chat/internal/model"
	natsclient "github.com/smartflow/crm-chat/internal/nats"
	"github.com/smartflow/crm-chat/internal/notify"
	"github.com/smartflow/crm-chat/internal/presence"
	"github.com/smartflow/crm-chat/internal/store"
	"github.com/smartflow/crm-chat/pkg/logger"
	"github.com/smartflow/crm-chat/pkg/metrics"
	"github.com/smartflow/crm-chat/pkg/tracing"
)

// DefaultMaxMessageLength bounds content when no limit is configured.
const DefaultMaxMessageLength = 4096

// ChatService persists new messages and fans them out to the receiver.
type ChatService struct {
	store      store.Store
	presence   delivery.Locator
	machine    *delivery.Machine
	dispatcher *notify.Dispatcher
	journal    natsclient.Journal
	logger     *logger.Logger
	validate   *validator.Validate
	tracer     trace.Tracer
	maxLength  int

	// deliveries serializes pushes to one receiver, so a message is pushed by
	// Send or by DeliverPending but never by both.
	deliveries *keyedMutex
}

// NewChatService creates a chat service.
func NewChatService(
	s store.Store,
	presence delivery.Locator,
	machine *delivery.Machine,
	dispatcher *notify.Dispatcher,
	journal natsclient.Journal,
	maxLength int,
	log *logger.Logger,
) *ChatService {
	if journal == nil {
		journal = natsclient.Nop{}
	}
	if maxLength <= 0 {
		maxLength = DefaultMaxMessageLength
	}
	return &ChatService{
		store:      s,
		presence:   presence,
		machine:    machine,
		dispatcher: dispatcher,
		journal:    journal,
		logger:     log,
		validate:   validator.New(),
		tracer:     tracing.Tracer("service"),
		maxLength:  maxLength,
		deliveries: newKeyedMutex(),
	}
}

// Send validates and stores a message, then pushes it to the receiver when
// the receiver is online. The returned message carries the status reached
// after fan-out.
func (s *ChatService) Send(ctx context.Context, sender, receiver, content string) (*model.Message, error) {
	ctx, span := s.tracer.Start(ctx, "chat.Send", trace.WithAttributes(
		attribute.String("chat.sender", sender),
		attribute.String("chat.receiver", receiver),
	))
	defer span.End()

	if err := s.Validate(&model.SendMessageRequest{Sender: sender, Receiver: receiver, Content: content}); err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	msg, err := s.store.Create(ctx, sender, receiver, content)
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to persist message: %w", err)
	}
	metrics.MessagesTotal.WithLabelValues("accepted").Inc()
	span.SetAttributes(attribute.String("message.id", msg.ID))

	if err := s.journal.PublishMessage(ctx, msg); err != nil {
		metrics.JournalPublishFailures.WithLabelValues("message").Inc()
		s.logger.Warn("failed to journal message", zap.String("message_id", msg.ID), zap.Error(err))
	}

	unlock := s.deliveries.Lock(receiver)
	defer unlock()

	handle, online := s.presence.Lookup(receiver)
	if !online {
		return msg, nil
	}

	// A join between Create and Lookup may have delivered msg from the pending set.
	current, err := s.store.Get(ctx, msg.ID)
	if err != nil {
		s.logger.Error("failed to reload message", zap.String("message_id", msg.ID), zap.Error(err))
		return msg, nil
	}
	if current.Status != model.StatusSent {
		return current, nil
	}

	if !s.push(handle, msg) {
		return msg, nil
	}

	delivered, err := s.machine.MarkDelivered(ctx, msg)
	if err != nil {
		s.logger.Error("failed to mark message delivered", zap.String("message_id", msg.ID), zap.Error(err))
	} else {
		msg = delivered
	}

	decision := s.dispatcher.Dispatch(msg, handle)
	span.SetAttributes(attribute.String("notification.decision", string(decision)))

	return msg, nil
}

// DeliverPending pushes every message still waiting for receiver to handle and
// marks each pushed message delivered. It returns how many were delivered.
func (s *ChatService) DeliverPending(ctx context.Context, receiver string, handle presence.Handle) (int, error) {
	ctx, span := s.tracer.Start(ctx, "chat.DeliverPending", trace.WithAttributes(
		attribute.String("chat.receiver", receiver),
	))
	defer span.End()

	unlock := s.deliveries.Lock(receiver)
	defer unlock()

	pending, err := s.store.Pending(ctx, receiver)
	if err != nil {
		return 0, fmt.Errorf("failed to load pending messages: %w", err)
	}

	delivered := 0
	for i := range pending {
		msg := &pending[i]
		if !s.push(handle, msg) {
			break
		}
		if _, err := s.machine.MarkDelivered(ctx, msg); err != nil {
			return delivered, err
		}
		delivered++
	}
	span.SetAttributes(attribute.Int("chat.delivered", delivered))
	return delivered, nil
}

// Validate checks a send request before anything is stored.
func (s *ChatService) Validate(req *model.SendMessageRequest) error {
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				if fe.Field() == "Receiver" && fe.Tag() == "nefield" {
					return model.ErrSameParticipant
				}
			}
			return fmt.Errorf("%w: %s is %s", model.ErrInvalidMessage, verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", model.ErrInvalidMessage, err)
	}
	if err := model.ValidateIdentity(req.Sender); err != nil {
		return err
	}
	if err := model.ValidateIdentity(req.Receiver); err != nil {
		return err
	}
	if !utf8.ValidString(req.Content) {
		return fmt.Errorf("%w: content must be valid UTF-8", model.ErrInvalidMessage)
	}
	if len(req.Content) > s.maxLength {
		return model.ErrContentTooLong
	}
	return nil
}

// push queues msg on handle as a chatMessage event and reports success.
func (s *ChatService) push(handle presence.Handle, msg *model.Message) bool {
	frame, err := model.NewFrame(model.EventChatMessage, msg)
	if err == nil {
		err = handle.Push(frame)
	}
	if err != nil {
		metrics.PushesDropped.WithLabelValues(string(model.EventChatMessage)).Inc()
		s.logger.Debug("message not pushed to receiver",
			zap.String("message_id", msg.ID),
			zap.String("connection_id", handle.ID()),
			zap.Error(err),
		)
		return false
	}
	return true
}

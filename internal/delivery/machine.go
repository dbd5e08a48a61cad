// Package delivery owns the message status lifecycle: sent, then delivered, then read.
//
// Machine is the only writer of Message.Status. Every transition it applies
// is pushed to the sender's live connection, when there is one, and recorded
// in the event journal.
package delivery

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/smartflow/crm-chat/internal/model"
	"github.com/smartflow/crm-chat/internal/nats"
	"github.com/smartflow/crm-chat/internal/presence"
	"github.com/smartflow/crm-chat/internal/store"
	"github.com/smartflow/crm-chat/pkg/logger"
	"github.com/smartflow/crm-chat/pkg/metrics"
)

// Locator finds the live connection of an identity.
type Locator interface {
	Lookup(identity string) (presence.Handle, bool)
}

// CanTransition reports whether a message may move from one status to another.
// Only strictly forward moves are allowed; skipping delivered is permitted.
func CanTransition(from, to model.Status) bool {
	return from.Valid() && to.Valid() && to.Rank() > from.Rank()
}

// Machine applies status transitions and tells senders about them.
type Machine struct {
	store    store.Store
	presence Locator
	journal  nats.Journal
	logger   *logger.Logger
}

// NewMachine creates a delivery state machine.
func NewMachine(s store.Store, presence Locator, journal nats.Journal, log *logger.Logger) *Machine {
	if journal == nil {
		journal = nats.Nop{}
	}
	return &Machine{
		store:    s,
		presence: presence,
		journal:  journal,
		logger:   log,
	}
}

// MarkDelivered moves msg to delivered. Call it only after the message was
// successfully handed to the receiver's connection.
func (m *Machine) MarkDelivered(ctx context.Context, msg *model.Message) (*model.Message, error) {
	if !CanTransition(msg.Status, model.StatusDelivered) {
		return msg, nil
	}
	updated, _, err := m.apply(ctx, msg.ID, model.StatusDelivered)
	if err != nil {
		return msg, err
	}
	return updated, nil
}

// MarkRead records that reader has read messageID. Unknown ids and messages
// that are already read are ignored. Only the receiver may acknowledge.
func (m *Machine) MarkRead(ctx context.Context, reader, messageID string) (*model.Message, bool, error) {
	log := m.logger.With(zap.String("user_id", reader), zap.String("message_id", messageID))

	msg, err := m.store.Get(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) {
		log.Debug("read acknowledgement for unknown message ignored")
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load message: %w", err)
	}

	if msg.Receiver != reader {
		log.Warn("read acknowledgement from non-receiver rejected", zap.String("receiver", msg.Receiver))
		return nil, false, model.ErrForbidden
	}

	if !CanTransition(msg.Status, model.StatusRead) {
		log.Debug("read acknowledgement for read message ignored")
		return msg, false, nil
	}

	return m.apply(ctx, messageID, model.StatusRead)
}

func (m *Machine) apply(ctx context.Context, id string, status model.Status) (*model.Message, bool, error) {
	updated, changed, err := m.store.SetStatus(ctx, id, status)
	if err != nil {
		return nil, false, fmt.Errorf("failed to set status %s: %w", status, err)
	}
	if !changed {
		return updated, false, nil
	}

	metrics.StatusTransitions.WithLabelValues(string(status)).Inc()
	m.announce(ctx, model.StatusUpdate{
		MessageID: updated.ID,
		Status:    status,
		Sender:    updated.Sender,
		Receiver:  updated.Receiver,
	})
	return updated, true, nil
}

// announce pushes the update to the sender and journals it. Both are best effort.
func (m *Machine) announce(ctx context.Context, update model.StatusUpdate) {
	if handle, ok := m.presence.Lookup(update.Sender); ok {
		frame, err := model.NewFrame(model.EventMessageStatusUpdate, update)
		if err == nil {
			err = handle.Push(frame)
		}
		if err != nil {
			metrics.PushesDropped.WithLabelValues(string(model.EventMessageStatusUpdate)).Inc()
			m.logger.Debug("status update not pushed",
				zap.String("message_id", update.MessageID),
				zap.String("user_id", update.Sender),
				zap.Error(err),
			)
		}
	}

	if err := m.journal.PublishStatus(ctx, update); err != nil {
		metrics.JournalPublishFailures.WithLabelValues("status").Inc()
		m.logger.Warn("failed to journal status update",
			zap.String("message_id", update.MessageID),
			zap.Error(err),
		)
	}
}

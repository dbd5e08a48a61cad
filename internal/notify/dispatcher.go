// Package notify decides whether an arriving message also raises an in-app alert.
package notify

import (
	"go.uber.org/zap"

	"github.com/smartflow/crm-chat/internal/model"
	"github.com/smartflow/crm-chat/internal/presence"
	"github.com/smartflow/crm-chat/pkg/logger"
	"github.com/smartflow/crm-chat/pkg/metrics"
)

// Decision is the outcome of a dispatch.
type Decision string

const (
	// Fired means a notification was queued for the receiver.
	Fired Decision = "fired"
	// Suppressed means the receiver already has the conversation open.
	Suppressed Decision = "suppressed"
	// Dropped means the notification could not be queued.
	Dropped Decision = "dropped"
)

// DefaultPreviewLength is used when no preview length is configured.
const DefaultPreviewLength = 80

// Dispatcher raises alerts for receivers who are online but looking elsewhere.
// The viewing state is reported by the client and is only advisory.
type Dispatcher struct {
	previewLength int
	logger        *logger.Logger
}

// NewDispatcher creates a dispatcher that truncates previews to previewLength runes.
func NewDispatcher(previewLength int, log *logger.Logger) *Dispatcher {
	if previewLength <= 0 {
		previewLength = DefaultPreviewLength
	}
	return &Dispatcher{previewLength: previewLength, logger: log}
}

// Dispatch alerts receiver about msg unless it is viewing the sender's conversation.
func (d *Dispatcher) Dispatch(msg *model.Message, receiver presence.Handle) Decision {
	decision := d.dispatch(msg, receiver)
	metrics.Notifications.WithLabelValues(string(decision)).Inc()
	return decision
}

func (d *Dispatcher) dispatch(msg *model.Message, receiver presence.Handle) Decision {
	if receiver.Viewing() == msg.Sender {
		return Suppressed
	}

	frame, err := model.NewFrame(model.EventNotification, model.Notification{
		MessageID: msg.ID,
		Sender:    msg.Sender,
		Preview:   Preview(msg.Content, d.previewLength),
		CreatedAt: msg.CreatedAt,
	})
	if err == nil {
		err = receiver.Push(frame)
	}
	if err != nil {
		metrics.PushesDropped.WithLabelValues(string(model.EventNotification)).Inc()
		d.logger.Debug("notification not pushed",
			zap.String("message_id", msg.ID),
			zap.String("connection_id", receiver.ID()),
			zap.Error(err),
		)
		return Dropped
	}
	return Fired
}

// Preview truncates content to at most n runes, marking the cut with an ellipsis.
func Preview(content string, n int) string {
	runes := []rune(content)
	if len(runes) <= n {
		return content
	}
	if n <= 1 {
		return string(runes[:n])
	}
	return string(runes[:n-1]) + "…"
}

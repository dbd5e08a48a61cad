package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/smartflow/crm-chat/internal/model"
)

const (
	// StreamName is the name of the chat event stream.
	StreamName = "CHAT"

	// SubjectPrefix is the prefix for all chat subjects.
	SubjectPrefix = "chat"
)

// Journal records chat events for downstream consumers.
type Journal interface {
	PublishMessage(ctx context.Context, msg *model.Message) error
	PublishStatus(ctx context.Context, update model.StatusUpdate) error
}

// Nop is the journal used when NATS is not configured.
type Nop struct{}

// PublishMessage discards msg.
func (Nop) PublishMessage(context.Context, *model.Message) error { return nil }

// PublishStatus discards update.
func (Nop) PublishStatus(context.Context, model.StatusUpdate) error { return nil }

// StatusEvent is the journal payload of an applied status transition.
type StatusEvent struct {
	MessageID string       `json:"messageId"`
	Sender    string       `json:"sender"`
	Receiver  string       `json:"receiver"`
	Status    model.Status `json:"status"`
	At        time.Time    `json:"at"`
}

// StreamManager handles JetStream stream operations.
type StreamManager struct {
	client *Client
	now    func() time.Time
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client, now: time.Now}
}

// EnsureStream ensures the chat stream exists with proper configuration.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      90 * 24 * time.Hour,
		MaxBytes:    10 * 1024 * 1024 * 1024, // 10GB
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Chat message and delivery status events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// MessageSubject returns the subject a created message is published on.
func MessageSubject(receiver string) string {
	return fmt.Sprintf("%s.msg.created.%s", SubjectPrefix, subjectToken(receiver))
}

// StatusSubject returns the subject a status transition is published on.
func StatusSubject(sender string) string {
	return fmt.Sprintf("%s.msg.status.%s", SubjectPrefix, subjectToken(sender))
}

// subjectToken makes an opaque identity safe to use as one subject token.
func subjectToken(id string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, id)
}

// PublishMessage publishes a created message to JetStream.
func (m *StreamManager) PublishMessage(ctx context.Context, msg *model.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if _, err := m.client.JetStream().Publish(ctx, MessageSubject(msg.Receiver), data,
		jetstream.WithMsgID("created-"+msg.ID)); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// PublishStatus publishes an applied status transition to JetStream.
func (m *StreamManager) PublishStatus(ctx context.Context, update model.StatusUpdate) error {
	data, err := json.Marshal(StatusEvent{
		MessageID: update.MessageID,
		Sender:    update.Sender,
		Receiver:  update.Receiver,
		Status:    update.Status,
		At:        m.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal status event: %w", err)
	}

	if _, err := m.client.JetStream().Publish(ctx, StatusSubject(update.Sender), data,
		jetstream.WithMsgID(string(update.Status)+"-"+update.MessageID)); err != nil {
		return fmt.Errorf("failed to publish status event: %w", err)
	}
	return nil
}

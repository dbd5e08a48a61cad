package model

import (
	"time"
)

// Status is the delivery status of a message.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

// Rank orders statuses: sent < delivered < read. Unknown statuses rank 0.
func (s Status) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}

// Valid reports whether s is one of the three known statuses.
func (s Status) Valid() bool {
	return s.Rank() > 0
}

// Message is the durable unit of communication between two identities.
type Message struct {
	ID        string    `json:"_id"`
	Sender    string    `json:"sender"`
	Receiver  string    `json:"receiver"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"timestamp"`
	Status    Status    `json:"status"`
}

// Involves reports whether userID is the sender or the receiver of m.
func (m *Message) Involves(userID string) bool {
	return m.Sender == userID || m.Receiver == userID
}

// StatusUpdate describes a status transition that was applied to a message.
type StatusUpdate struct {
	MessageID string `json:"messageId"`
	Status    Status `json:"status"`

	// Routing only, never sent to clients.
	Sender   string `json:"-"`
	Receiver string `json:"-"`
}

// SendMessageRequest is the chatMessage payload sent by a client.
type SendMessageRequest struct {
	Sender   string `json:"sender" validate:"required"`
	Receiver string `json:"receiver" validate:"required,nefield=Sender"`
	Content  string `json:"content" validate:"required"`
}

// HistoryRequest is the getChatHistory payload sent by a client.
type HistoryRequest struct {
	UserID      string `json:"userId" validate:"required"`
	OtherUserID string `json:"otherUserId" validate:"required,nefield=UserID"`
	Before      string `json:"before,omitempty"`
	Limit       int    `json:"limit,omitempty" validate:"gte=0"`
}

// ReadRequest is the messageRead payload sent by a client.
type ReadRequest struct {
	MessageID string `json:"messageId" validate:"required"`
}

// ViewRequest is the viewingConversation payload. An empty OtherUserID clears the state.
type ViewRequest struct {
	OtherUserID string `json:"otherUserId"`
}

// Notification is the transient UI alert pushed to a receiver who is not viewing the conversation.
type Notification struct {
	MessageID string    `json:"messageId"`
	Sender    string    `json:"sender"`
	Preview   string    `json:"preview"`
	CreatedAt time.Time `json:"timestamp"`
}

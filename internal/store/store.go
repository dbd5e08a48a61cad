// Package store persists chat messages and their delivery status.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smartflow/crm-chat/internal/model"
)

var (
	// ErrNotFound is returned when no message has the requested id.
	ErrNotFound = errors.New("message not found")
	// ErrInvalidStatus is returned when a status outside sent/delivered/read is requested.
	ErrInvalidStatus = errors.New("invalid message status")
	// ErrInvalidCursor is returned when a history cursor cannot be parsed.
	ErrInvalidCursor = errors.New("invalid history cursor")
)

// Page selects a window of a conversation. Before is an exclusive cursor
// returned by a previous page; an empty Before starts at the newest message.
// Limit <= 0 returns the whole conversation.
type Page struct {
	Before string
	Limit  int
}

// Store is the durable record of messages.
type Store interface {
	// Create persists a new message with status sent.
	Create(ctx context.Context, sender, receiver, content string) (*model.Message, error)

	// Get returns the message with the given id.
	Get(ctx context.Context, id string) (*model.Message, error)

	// SetStatus moves a message forward to status. A request that would not
	// move the status forward is ignored: the current record is returned with
	// changed == false.
	SetStatus(ctx context.Context, id string, status model.Status) (msg *model.Message, changed bool, err error)

	// FindConversation returns messages exchanged between a and b in either
	// direction, oldest first.
	FindConversation(ctx context.Context, a, b string, page Page) (*model.HistoryPage, error)

	// Pending returns messages addressed to receiver that are still sent, oldest first.
	Pending(ctx context.Context, receiver string) ([]model.Message, error)
}

// cursorFor renders the position of a message inside a conversation index.
// Fixed-width nanoseconds keep lexicographic order equal to creation order;
// the id breaks ties between messages created in the same nanosecond.
func cursorFor(createdAt time.Time, id string) string {
	return fmt.Sprintf("%019d-%s", createdAt.UnixNano(), id)
}

func parseCursor(cursor string) error {
	if len(cursor) < 21 || cursor[19] != '-' {
		return ErrInvalidCursor
	}
	for _, c := range cursor[:19] {
		if c < '0' || c > '9' {
			return ErrInvalidCursor
		}
	}
	return nil
}

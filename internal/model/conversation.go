// Package model defines data structures for the messaging core.
package model

import (
	"strings"
)

// HistoryPage is one page of a conversation, oldest message first.
type HistoryPage struct {
	Messages   []Message `json:"messages"`
	HasMore    bool      `json:"hasMore"`
	NextCursor string    `json:"nextCursor,omitempty"`
}

// PairKey returns the order-independent key of the conversation between a and b.
func PairKey(a, b string) string {
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return a + "\x00" + b
}

// Counterpart returns the other participant of m from userID's point of view.
func Counterpart(m *Message, userID string) string {
	if m.Sender == userID {
		return m.Receiver
	}
	return m.Sender
}

package model

import (
	"encoding/json"
)

// EventType names an event carried over a client connection.
type EventType string

// Client to server.
const (
	EventJoin                EventType = "join"
	EventGetChatHistory      EventType = "getChatHistory"
	EventMessageRead         EventType = "messageRead"
	EventViewingConversation EventType = "viewingConversation"
)

// Both directions.
const (
	EventChatMessage EventType = "chatMessage"
)

// Server to client.
const (
	EventChatHistory         EventType = "chatHistory"
	EventMessageStatusUpdate EventType = "messageStatusUpdate"
	EventNotification        EventType = "notification"
	EventError               EventType = "error"
)

// Frame is one event on the wire: {"event": "...", "data": ...}.
type Frame struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame encodes data into a frame for event.
func NewFrame(event EventType, data any) (Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Event: event, Data: raw}, nil
}

// ErrorEvent is the optional acknowledgement sent back when a client event is rejected.
type ErrorEvent struct {
	Event   EventType `json:"event"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
}

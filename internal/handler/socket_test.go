package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/smartflow/crm-chat/internal/model"
	"github.com/smartflow/crm-chat/internal/realtime"
)

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, server *httptest.Server, userID string) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?token=" + tokenFor(t, userID)
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) emit(event model.EventType, data any) {
	c.t.Helper()
	frame, err := model.NewFrame(event, data)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteJSON(frame))
}

// await reads frames until one with event arrives.
func (c *wsClient) await(event model.EventType) model.Frame {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var frame model.Frame
		require.NoError(c.t, c.conn.ReadJSON(&frame))
		if frame.Event == event {
			return frame
		}
	}
}

// joinAndSync joins and waits for a history reply, so the join is known to be applied.
func (c *wsClient) joinAndSync(userID, other string) {
	c.t.Helper()
	c.emit(model.EventJoin, userID)
	c.emit(model.EventGetChatHistory, model.HistoryRequest{UserID: userID, OtherUserID: other})
	c.await(model.EventChatHistory)
}

func TestSocketHandler_MessageRoundTrip(t *testing.T) {
	req := require.New(t)
	app := newTestApp(t, realtime.Options{})
	server := httptest.NewServer(app.router)
	defer server.Close()

	a := dial(t, server, "u1")
	b := dial(t, server, "u2")
	a.joinAndSync("u1", "u2")
	b.joinAndSync("u2", "u1")

	// When A sends
	a.emit(model.EventChatMessage, model.SendMessageRequest{Sender: "u1", Receiver: "u2", Content: "hello"})

	// Then B receives it
	var received model.Message
	req.NoError(json.Unmarshal(b.await(model.EventChatMessage).Data, &received))
	req.Equal("hello", received.Content)
	req.Equal("u1", received.Sender)

	// And B is alerted because it is not viewing A
	var alert model.Notification
	req.NoError(json.Unmarshal(b.await(model.EventNotification).Data, &alert))
	req.Equal(received.ID, alert.MessageID)

	// And A gets the canonical echo, already delivered
	var echo model.Message
	req.NoError(json.Unmarshal(a.await(model.EventChatMessage).Data, &echo))
	req.Equal(received.ID, echo.ID)
	req.Equal(model.StatusDelivered, echo.Status)

	// When B reads it, A is told
	b.emit(model.EventMessageRead, model.ReadRequest{MessageID: received.ID})
	var update model.StatusUpdate
	req.NoError(json.Unmarshal(a.await(model.EventMessageStatusUpdate).Data, &update))
	for update.Status != model.StatusRead {
		req.NoError(json.Unmarshal(a.await(model.EventMessageStatusUpdate).Data, &update))
	}
	req.Equal(received.ID, update.MessageID)
}

func TestSocketHandler_DisconnectClearsPresence(t *testing.T) {
	req := require.New(t)
	app := newTestApp(t, realtime.Options{})
	server := httptest.NewServer(app.router)
	defer server.Close()

	a := dial(t, server, "u1")
	a.joinAndSync("u1", "u2")
	_, ok := app.registry.Lookup("u1")
	req.True(ok)

	req.NoError(a.conn.Close())

	req.Eventually(func() bool {
		_, ok := app.registry.Lookup("u1")
		return !ok
	}, 3*time.Second, 10*time.Millisecond)
}

func TestSocketHandler_ErrorAcks(t *testing.T) {
	req := require.New(t)
	app := newTestApp(t, realtime.Options{ErrorAcks: true})
	server := httptest.NewServer(app.router)
	defer server.Close()

	a := dial(t, server, "u1")

	// Joining as someone other than the token subject is refused
	a.emit(model.EventJoin, "u9")

	var ack model.ErrorEvent
	req.NoError(json.Unmarshal(a.await(model.EventError).Data, &ack))
	req.Equal(model.EventJoin, ack.Event)
	req.Equal("identity_mismatch", ack.Code)
	_, ok := app.registry.Lookup("u9")
	req.False(ok)
}

func TestSocketHandler_RequiresToken(t *testing.T) {
	req := require.New(t)
	app := newTestApp(t, realtime.Options{})
	server := httptest.NewServer(app.router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)

	req.ErrorIs(err, websocket.ErrBadHandshake)
	req.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func TestOriginMatches(t *testing.T) {
	tests := []struct {
		pattern, origin string
		want            bool
	}{
		{"*", "https://crm.example.com", true},
		{"https://*", "https://crm.example.com", true},
		{"https://*", "http://crm.example.com", false},
		{"https://*.example.com", "https://crm.example.com", true},
		{"https://*.example.com", "https://example.org", false},
		{"https://crm.example.com", "https://CRM.example.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+" "+tt.origin, func(t *testing.T) {
			require.Equal(t, tt.want, originMatches(tt.pattern, tt.origin))
		})
	}
}

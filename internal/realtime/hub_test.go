package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rick1290/estuary-messaging/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newHubServer upgrades each request into a hub subscriber, identified by the
// userId and conversationId query params.
func newHubServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		conn := NewConnection(r.URL.Query().Get("userId"), r.URL.Query().Get("conversationId"), ws)
		hub.Attach(conn)
	}))
}

func dialSubscriber(t *testing.T, srv *httptest.Server, userID, conversationID string) *websocket.Conn {
	t.Helper()
	wsURL := strings.Replace(srv.URL, "http", "ws", 1) +
		"?userId=" + userID + "&conversationId=" + conversationID
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return ws
}

func readEvent(t *testing.T, ws *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := ws.ReadMessage()
	require.NoError(t, err)
	var ev Event
	require.NoError(t, json.Unmarshal(raw, &ev))
	return ev
}

func waitForSubscribers(t *testing.T, hub *Hub, conversationID string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.Subscribers(conversationID) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, want, hub.Subscribers(conversationID))
}

func TestHubDeliversLocallyWithoutRedis(t *testing.T) {
	hub := NewHub(nil)
	srv := newHubServer(t, hub)
	defer srv.Close()

	ws := dialSubscriber(t, srv, "alice", "conv-1")
	defer ws.Close()
	waitForSubscribers(t, hub, "conv-1", 1)

	hub.Publish(&Event{
		Type:           EventMessage,
		ConversationID: "conv-1",
		Message:        &models.Message{ID: "m1", ConversationID: "conv-1", SenderID: "bob", Body: "hi"},
	})

	ev := readEvent(t, ws)
	assert.Equal(t, EventMessage, ev.Type)
	assert.Equal(t, "conv-1", ev.ConversationID)
	if assert.NotNil(t, ev.Message) {
		assert.Equal(t, "hi", ev.Message.Body)
	}
}

func TestHubSkipsOtherConversations(t *testing.T) {
	hub := NewHub(nil)
	srv := newHubServer(t, hub)
	defer srv.Close()

	ws := dialSubscriber(t, srv, "alice", "conv-1")
	defer ws.Close()
	waitForSubscribers(t, hub, "conv-1", 1)

	hub.Publish(&Event{Type: EventMessage, ConversationID: "conv-other", Message: &models.Message{ID: "m1"}})
	hub.Publish(&Event{Type: EventMessage, ConversationID: "conv-1", Message: &models.Message{ID: "m2"}})

	ev := readEvent(t, ws)
	assert.Equal(t, "m2", ev.Message.ID)
}

func TestHubReplacesSeatOnSecondAttach(t *testing.T) {
	hub := NewHub(nil)
	srv := newHubServer(t, hub)
	defer srv.Close()

	first := dialSubscriber(t, srv, "alice", "conv-1")
	defer first.Close()
	waitForSubscribers(t, hub, "conv-1", 1)

	second := dialSubscriber(t, srv, "alice", "conv-1")
	defer second.Close()

	// The first socket is closed by the server with the replacement code.
	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := first.ReadMessage()
	require.Error(t, err)
	closeErr, ok := err.(*websocket.CloseError)
	if assert.True(t, ok) {
		assert.Equal(t, 4001, closeErr.Code)
	}

	waitForSubscribers(t, hub, "conv-1", 1)

	// The surviving socket still receives events.
	hub.Publish(&Event{Type: EventMessage, ConversationID: "conv-1", Message: &models.Message{ID: "m1"}})
	ev := readEvent(t, second)
	assert.Equal(t, "m1", ev.Message.ID)
}

func TestHubDetachOnDisconnect(t *testing.T) {
	hub := NewHub(nil)
	srv := newHubServer(t, hub)
	defer srv.Close()

	ws := dialSubscriber(t, srv, "alice", "conv-1")
	waitForSubscribers(t, hub, "conv-1", 1)

	ws.Close()
	waitForSubscribers(t, hub, "conv-1", 0)
}

func TestHubTypingThrottle(t *testing.T) {
	hub := NewHub(nil)
	srv := newHubServer(t, hub)
	defer srv.Close()

	typer := dialSubscriber(t, srv, "alice", "conv-1")
	defer typer.Close()
	watcher := dialSubscriber(t, srv, "bob", "conv-1")
	defer watcher.Close()
	waitForSubscribers(t, hub, "conv-1", 2)

	// Three rapid starts collapse into one broadcast.
	for i := 0; i < 3; i++ {
		require.NoError(t, typer.WriteJSON(ClientFrame{Type: EventTyping, IsTyping: true}))
	}
	// The explicit stop is never throttled.
	require.NoError(t, typer.WriteJSON(ClientFrame{Type: EventTyping, IsTyping: false}))

	ev := readEvent(t, watcher)
	assert.Equal(t, EventTyping, ev.Type)
	if assert.NotNil(t, ev.Typing) {
		assert.Equal(t, "alice", ev.Typing.UserID)
		assert.True(t, ev.Typing.IsTyping)
	}

	ev = readEvent(t, watcher)
	if assert.NotNil(t, ev.Typing) {
		assert.False(t, ev.Typing.IsTyping)
	}
}

func TestHubReadPingInvokesCallback(t *testing.T) {
	hub := NewHub(nil)
	got := make(chan [2]string, 1)
	hub.OnClientRead = func(conversationID, userID string) {
		got <- [2]string{conversationID, userID}
	}

	srv := newHubServer(t, hub)
	defer srv.Close()

	ws := dialSubscriber(t, srv, "alice", "conv-1")
	defer ws.Close()
	waitForSubscribers(t, hub, "conv-1", 1)

	require.NoError(t, ws.WriteJSON(ClientFrame{Type: EventRead}))

	select {
	case pair := <-got:
		assert.Equal(t, "conv-1", pair[0])
		assert.Equal(t, "alice", pair[1])
	case <-time.After(2 * time.Second):
		t.Fatal("read ping never reached the callback")
	}
}

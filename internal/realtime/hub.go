package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rick1290/estuary-messaging/pkg/logger"
)

const fanoutChannel = "messaging:events"

// Minimum interval between typing broadcasts per subscriber, to keep
// keystroke-driven clients from flooding the room.
const typingThrottle = 3 * time.Second

// Hub routes conversation events to local subscribers and bridges them across
// instances via Redis pub/sub. One subscriber per (user, conversation) is
// enforced: attaching a second socket swaps out and closes the first.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*Connection // conversationID -> connectionID -> conn
	seats map[string]string                 // userID + "/" + conversationID -> connectionID

	lastTyping   map[string]time.Time // connectionID -> last typing broadcast
	lastTypingMu sync.Mutex

	redis *redis.Client

	// OnClientRead is invoked when a subscriber sends a read-marker ping.
	// Wired to the message store at startup; nil is tolerated.
	OnClientRead func(conversationID, userID string)
}

func NewHub(redisClient *redis.Client) *Hub {
	return &Hub{
		rooms:      make(map[string]map[string]*Connection),
		seats:      make(map[string]string),
		lastTyping: make(map[string]time.Time),
		redis:      redisClient,
	}
}

// Run subscribes to the Redis fan-out channel and delivers remote events to
// local rooms. Blocks until ctx is cancelled. When Redis is unavailable the
// hub still works within a single instance.
func (h *Hub) Run(ctx context.Context) {
	if h.redis == nil {
		<-ctx.Done()
		return
	}

	pubsub := h.redis.Subscribe(ctx, fanoutChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				logger.Warn().Err(err).Msg("Dropping malformed fan-out event")
				continue
			}
			h.deliver(&ev)
		}
	}
}

func seatKey(userID, conversationID string) string {
	return userID + "/" + conversationID
}

// Attach registers a connection and starts its pumps. A previous socket held
// by the same user on the same conversation is closed after the swap.
func (h *Hub) Attach(conn *Connection) {
	var previous *Connection

	h.mu.Lock()
	key := seatKey(conn.UserID, conn.ConversationID)
	if existingID, ok := h.seats[key]; ok {
		if room := h.rooms[conn.ConversationID]; room != nil {
			previous = room[existingID]
			delete(room, existingID)
		}
	}

	room := h.rooms[conn.ConversationID]
	if room == nil {
		room = make(map[string]*Connection)
		h.rooms[conn.ConversationID] = room
	}
	room[conn.ID] = conn
	h.seats[key] = conn.ID
	h.mu.Unlock()

	conn.Start()
	go h.readLoop(conn)

	if previous != nil {
		previous.Close(4001, "session replaced")
	}
}

// Detach removes a connection from its room. Safe to call more than once.
func (h *Hub) Detach(conn *Connection) {
	h.mu.Lock()
	if room := h.rooms[conn.ConversationID]; room != nil {
		delete(room, conn.ID)
		if len(room) == 0 {
			delete(h.rooms, conn.ConversationID)
		}
	}
	key := seatKey(conn.UserID, conn.ConversationID)
	if h.seats[key] == conn.ID {
		delete(h.seats, key)
	}
	h.mu.Unlock()

	h.lastTypingMu.Lock()
	delete(h.lastTyping, conn.ID)
	h.lastTypingMu.Unlock()
}

// Subscribers reports how many connections are attached to a conversation.
func (h *Hub) Subscribers(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[conversationID])
}

// Publish fans an event out to every instance's subscribers for its
// conversation. Falls back to local-only delivery without Redis.
func (h *Hub) Publish(ev *Event) {
	if h.redis != nil {
		payload, err := json.Marshal(ev)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to encode event for fan-out")
			return
		}
		if err := h.redis.Publish(context.Background(), fanoutChannel, payload).Err(); err != nil {
			logger.Warn().Err(err).Msg("Redis publish failed, delivering locally only")
			h.deliver(ev)
		}
		return
	}
	h.deliver(ev)
}

// deliver writes an event to every local subscriber of its conversation.
// Typing self-echo is filtered by clients, not here: the sender's other
// devices legitimately receive their own message events.
func (h *Hub) deliver(ev *Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to encode event")
		return
	}

	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.rooms[ev.ConversationID]))
	for _, conn := range h.rooms[ev.ConversationID] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.Send(payload); err != nil {
			h.Detach(conn)
		}
	}
}

// readLoop consumes upstream frames (typing intent, read pings) from one
// subscriber until the socket dies, then detaches it.
func (h *Hub) readLoop(conn *Connection) {
	defer func() {
		h.Detach(conn)
		conn.Close(websocket.CloseNormalClosure, "")
	}()

	conn.ws.SetReadLimit(maxFrameSize)
	_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Debug().Err(err).Str("user_id", conn.UserID).Msg("Socket read error")
			}
			return
		}

		var frame ClientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}

		switch frame.Type {
		case EventTyping:
			h.handleTyping(conn, frame.IsTyping)
		case EventRead:
			if h.OnClientRead != nil {
				h.OnClientRead(conn.ConversationID, conn.UserID)
			}
		}
	}
}

func (h *Hub) handleTyping(conn *Connection, isTyping bool) {
	// Throttle only the "still typing" signal; explicit stop always goes out
	// so recipients can clear their indicator immediately.
	if isTyping {
		h.lastTypingMu.Lock()
		last, seen := h.lastTyping[conn.ID]
		if seen && time.Since(last) < typingThrottle {
			h.lastTypingMu.Unlock()
			return
		}
		h.lastTyping[conn.ID] = time.Now()
		h.lastTypingMu.Unlock()
	}

	h.Publish(&Event{
		Type:           EventTyping,
		ConversationID: conn.ConversationID,
		Typing:         &TypingEvent{UserID: conn.UserID, IsTyping: isTyping},
	})
}

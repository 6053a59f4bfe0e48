package panel

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rick1290/estuary-messaging/internal/models"
	"github.com/rick1290/estuary-messaging/internal/realtime"
	"github.com/rick1290/estuary-messaging/pkg/logger"
)

// ConnectionState tracks the channel lifecycle; it drives UI affordances only.
type ConnectionState string

const (
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
)

const (
	channelWriteWait = 10 * time.Second
	channelPongWait  = 60 * time.Second
)

var errChannelClosed = errors.New("channel closed")

// Channel maintains one live subscription to one conversation. Delivery is
// at-most-once: anything pushed while the socket was down is simply gone, so
// reconnects are reported through OnResync and the owner refetches history.
type Channel struct {
	opts           Options
	conversationID string

	mu      sync.Mutex
	ws      *websocket.Conn
	state   ConnectionState
	closed  bool
	writeMu sync.Mutex

	onMessage func(models.Message)
	onTyping  func(userID string, isTyping bool)
	onRead    func(userID string, readAt time.Time)
	onState   func(ConnectionState)
	onResync  func()
}

// NewChannel prepares a channel for one conversation. Handlers must be
// registered before Connect so no early event is dropped.
func NewChannel(opts Options, conversationID string) *Channel {
	return &Channel{
		opts:           opts.withDefaults(),
		conversationID: conversationID,
		state:          StateDisconnected,
	}
}

func (ch *Channel) OnMessage(h func(models.Message)) { ch.onMessage = h }
func (ch *Channel) OnTyping(h func(userID string, isTyping bool)) {
	ch.onTyping = h
}
func (ch *Channel) OnRead(h func(userID string, readAt time.Time)) { ch.onRead = h }
func (ch *Channel) OnStateChange(h func(ConnectionState))          { ch.onState = h }

// OnResync fires after any reconnect: events may have been missed and the
// owner must refetch history to reconcile.
func (ch *Channel) OnResync(h func()) { ch.onResync = h }

func (ch *Channel) State() ConnectionState {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

func (ch *Channel) setState(s ConnectionState) {
	ch.mu.Lock()
	changed := ch.state != s
	ch.state = s
	ch.mu.Unlock()
	if changed && ch.onState != nil {
		ch.onState(s)
	}
}

// Connect dials the conversation socket, retrying with bounded exponential
// backoff. After the attempts are exhausted the channel stays disconnected
// until Connect is called again.
func (ch *Channel) Connect(ctx context.Context) error {
	if ch.conversationID == "" {
		return errors.New("conversation id required")
	}
	if err := ch.dial(ctx); err != nil {
		return err
	}
	go ch.readPump(ctx, false)
	return nil
}

func (ch *Channel) dial(ctx context.Context) error {
	ch.setState(StateConnecting)

	endpoint, err := url.Parse(ch.opts.WSURL)
	if err != nil {
		ch.setState(StateDisconnected)
		return err
	}
	q := endpoint.Query()
	q.Set("conversationId", ch.conversationID)
	q.Set("token", ch.opts.Token)
	endpoint.RawQuery = q.Encode()

	var lastErr error
	for attempt := 1; attempt <= ch.opts.ReconnectAttempts; attempt++ {
		ws, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint.String(), nil)
		if err == nil {
			ch.mu.Lock()
			if ch.closed {
				ch.mu.Unlock()
				ws.Close()
				return errChannelClosed
			}
			ch.ws = ws
			ch.mu.Unlock()
			ch.setState(StateConnected)
			return nil
		}
		lastErr = err

		// exponential backoff with cap
		sleep := ch.opts.ReconnectBaseDelay << (attempt - 1)
		if sleep > ch.opts.ReconnectMaxDelay {
			sleep = ch.opts.ReconnectMaxDelay
		}
		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("sleep", sleep).
			Str("conversation_id", ch.conversationID).
			Msg("Channel dial failed")

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			ch.setState(StateDisconnected)
			return ctx.Err()
		case <-timer.C:
		}
	}

	ch.setState(StateDisconnected)
	return lastErr
}

// readPump consumes inbound events until the socket dies, then runs one
// bounded reconnect cycle per drop. resumed marks iterations that follow a
// reconnect, which must trigger a resync.
func (ch *Channel) readPump(ctx context.Context, resumed bool) {
	for {
		ch.mu.Lock()
		ws := ch.ws
		ch.mu.Unlock()
		if ws == nil {
			return
		}

		if resumed && ch.onResync != nil {
			ch.onResync()
		}

		// The server drives keepalive: it pings, we answer with a pong. Both
		// its pings and any pongs push the read deadline out.
		_ = ws.SetReadDeadline(time.Now().Add(channelPongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(channelPongWait))
		})
		ws.SetPingHandler(func(appData string) error {
			_ = ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(channelWriteWait))
			return ws.SetReadDeadline(time.Now().Add(channelPongWait))
		})

		for {
			_, raw, err := ws.ReadMessage()
			if err != nil {
				break
			}
			var ev realtime.Event
			if err := json.Unmarshal(raw, &ev); err != nil {
				continue
			}
			ch.dispatch(&ev)
		}

		ch.mu.Lock()
		closed := ch.closed
		ch.mu.Unlock()

		ch.setState(StateDisconnected)
		if closed || ctx.Err() != nil {
			return
		}

		// Connection dropped underneath us: retry within the same bounded
		// policy, then give up until an explicit reconnect.
		if err := ch.dial(ctx); err != nil {
			logger.Warn().Err(err).Str("conversation_id", ch.conversationID).Msg("Channel reconnect failed")
			return
		}
		resumed = true
	}
}

func (ch *Channel) dispatch(ev *realtime.Event) {
	switch ev.Type {
	case realtime.EventMessage:
		if ev.Message != nil && ch.onMessage != nil {
			ch.onMessage(*ev.Message)
		}
	case realtime.EventTyping:
		if ev.Typing == nil || ch.onTyping == nil {
			return
		}
		// no self-echo
		if ev.Typing.UserID == ch.opts.ViewerID {
			return
		}
		ch.onTyping(ev.Typing.UserID, ev.Typing.IsTyping)
	case realtime.EventRead:
		if ev.Read != nil && ch.onRead != nil {
			ch.onRead(ev.Read.UserID, ev.Read.ReadAt)
		}
	}
}

func (ch *Channel) writeFrame(frame realtime.ClientFrame) error {
	ch.mu.Lock()
	ws := ch.ws
	ch.mu.Unlock()
	if ws == nil {
		return errChannelClosed
	}

	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	ch.writeMu.Lock()
	defer ch.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(channelWriteWait))
	return ws.WriteMessage(websocket.TextMessage, payload)
}

// SendTyping is fire-and-forget; a lost typing signal is not worth surfacing.
func (ch *Channel) SendTyping(isTyping bool) {
	if err := ch.writeFrame(realtime.ClientFrame{Type: realtime.EventTyping, IsTyping: isTyping}); err != nil {
		logger.Debug().Err(err).Msg("Typing signal dropped")
	}
}

// MarkRead pings the server that the viewer has seen the latest fetched
// messages. Best-effort and idempotent.
func (ch *Channel) MarkRead() {
	if err := ch.writeFrame(realtime.ClientFrame{Type: realtime.EventRead}); err != nil {
		logger.Debug().Err(err).Msg("Read marker dropped")
	}
}

// Close tears the channel down. Safe to call more than once.
func (ch *Channel) Close() {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return
	}
	ch.closed = true
	ws := ch.ws
	ch.ws = nil
	ch.mu.Unlock()

	if ws != nil {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(channelWriteWait))
		_ = ws.Close()
	}
	ch.setState(StateDisconnected)
}

// Package panel is the headless engine behind the conversation messaging
// panel: the conversation list, one live realtime channel, the message cache,
// the reconciling timeline view and the composer. It owns state and
// coordination only; rendering belongs to the host UI.
package panel

import (
	"context"
	"errors"
	"sync"

	"github.com/rick1290/estuary-messaging/internal/models"
	"github.com/rick1290/estuary-messaging/pkg/logger"
)

// Panel composes the messaging panel's moving parts and enforces the
// one-live-channel invariant across conversation switches.
type Panel struct {
	opts  Options
	api   *Client
	store *Store
	list  *List

	mu       sync.Mutex
	channel  *Channel
	view     *View
	composer *Composer
	cancel   context.CancelFunc
}

func NewPanel(opts Options) *Panel {
	opts = opts.withDefaults()
	api := NewClient(opts)
	return &Panel{
		opts:  opts,
		api:   api,
		store: NewStore(api.GetMessages),
		list:  NewList(api),
	}
}

// Open activates a conversation: the previous channel is torn down first,
// in-flight work scoped to it is cancelled, then a fresh channel and view are
// wired and started. At most one channel is live at any moment.
func (p *Panel) Open(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return errors.New("conversation id required")
	}

	p.mu.Lock()
	prevChannel := p.channel
	prevView := p.view
	prevCancel := p.cancel

	convCtx, cancel := context.WithCancel(ctx)
	channel := NewChannel(p.opts, conversationID)
	view := NewView(p.opts, p.store, channel, conversationID)
	composer := NewComposer(p.opts, p.api, view, channel)

	channel.OnMessage(func(m models.Message) { view.HandleRealtimeMessage(convCtx, m) })
	channel.OnTyping(view.HandleTyping)
	channel.OnRead(view.HandleRead)
	channel.OnResync(func() { view.HandleResync(convCtx) })

	p.channel = channel
	p.view = view
	p.composer = composer
	p.cancel = cancel
	p.mu.Unlock()

	// A late response for the old conversation must not touch the new view.
	if prevCancel != nil {
		prevCancel()
	}
	if prevView != nil {
		prevView.Deactivate()
	}
	if prevChannel != nil {
		prevChannel.Close()
	}

	// Channel failures are non-fatal: the view still activates on REST
	// history with the connection state indicator showing disconnected.
	if err := channel.Connect(convCtx); err != nil {
		logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("Channel unavailable, continuing on fetch only")
	}

	p.list.setActive(conversationID)
	return view.Activate(convCtx)
}

// Close tears the active conversation down, leaving no channel open.
func (p *Panel) Close() {
	p.mu.Lock()
	channel := p.channel
	view := p.view
	cancel := p.cancel
	p.channel = nil
	p.view = nil
	p.composer = nil
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if view != nil {
		view.Deactivate()
	}
	if channel != nil {
		channel.Close()
	}
	p.list.setActive("")
}

func (p *Panel) List() *List { return p.list }

func (p *Panel) Store() *Store { return p.store }

func (p *Panel) View() *View {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.view
}

func (p *Panel) Composer() *Composer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.composer
}

func (p *Panel) Channel() *Channel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel
}

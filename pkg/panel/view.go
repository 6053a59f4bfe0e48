package panel

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rick1290/estuary-messaging/internal/models"
	"github.com/rick1290/estuary-messaging/pkg/logger"
)

// ItemKind discriminates timeline entries.
type ItemKind int

const (
	ItemDateSeparator ItemKind = iota
	ItemMessage
)

// TimelineItem is one render-ready row: either a date separator or a message
// (possibly still pending server confirmation).
type TimelineItem struct {
	Kind    ItemKind
	Day     time.Time // separator rows: midnight of the calendar day
	Message models.Message
	Pending bool
}

type pendingSend struct {
	clientMessageID string
	message         models.Message
}

// View reconciles the authoritative fetched history with realtime pushes and
// the viewer's own optimistic sends into a single duplicate-free,
// chronologically ordered timeline. All state mutations are serialized by one
// mutex; handlers may be invoked from the channel's read pump.
// ReadMarker is the slice of the channel the view needs: the best-effort
// "seen up to latest" ping.
type ReadMarker interface {
	MarkRead()
}

type View struct {
	opts           Options
	store          *Store
	channel        ReadMarker
	conversationID string

	mu        sync.Mutex
	confirmed []models.Message
	pending   []pendingSend
	typing    map[string]*time.Timer
	pinned    bool
	badge     bool
	active    bool
	fetchErr  error

	// onScroll tells the host UI to move to the newest message. animated is
	// false only for the initial load.
	onScroll func(animated bool)
}

func NewView(opts Options, store *Store, channel ReadMarker, conversationID string) *View {
	return &View{
		opts:           opts.withDefaults(),
		store:          store,
		channel:        channel,
		conversationID: conversationID,
		typing:         make(map[string]*time.Timer),
		pinned:         true,
	}
}

func (v *View) OnScrollToLatest(h func(animated bool)) { v.onScroll = h }

// ConversationID identifies the thread this view renders.
func (v *View) ConversationID() string { return v.conversationID }

func (v *View) scrollToLatest(animated bool) {
	if v.onScroll != nil {
		v.onScroll(animated)
	}
}

// Activate fetches history, renders it, and marks the conversation read.
func (v *View) Activate(ctx context.Context) error {
	v.mu.Lock()
	v.active = true
	v.fetchErr = nil
	v.mu.Unlock()

	page, err := v.store.Refresh(ctx, v.conversationID)
	if err == ErrSupersededFetch {
		return nil
	}
	if err != nil {
		v.mu.Lock()
		v.fetchErr = err
		v.mu.Unlock()
		return err
	}

	v.applyFetched(page)

	v.mu.Lock()
	v.pinned = true
	v.badge = false
	v.mu.Unlock()

	v.scrollToLatest(false)
	v.markRead()
	return nil
}

// Deactivate stops the view from reacting to further events and drops its
// ephemeral typing state.
func (v *View) Deactivate() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.active = false
	for id, timer := range v.typing {
		timer.Stop()
		delete(v.typing, id)
	}
}

// FetchError exposes the last history-fetch failure for an inline retry
// affordance; nil once a retry succeeds.
func (v *View) FetchError() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.fetchErr
}

// RetryFetch re-runs the failed history fetch.
func (v *View) RetryFetch(ctx context.Context) error {
	return v.Activate(ctx)
}

func (v *View) markRead() {
	if v.channel != nil {
		v.channel.MarkRead()
	}
}

// HandleRealtimeMessage reacts to a pushed message event. The push payload is
// not appended directly: the view refetches the authoritative list instead,
// which sidesteps push/fetch races and partially populated push payloads.
func (v *View) HandleRealtimeMessage(ctx context.Context, msg models.Message) {
	if msg.ConversationID != v.conversationID {
		// Not ours: flag the other conversation's cache and leave this
		// view untouched.
		v.store.MarkStale(msg.ConversationID)
		return
	}

	page, err := v.store.Refresh(ctx, v.conversationID)
	if err == ErrSupersededFetch {
		return
	}
	if err != nil {
		logger.Warn().Err(err).Str("conversation_id", v.conversationID).Msg("Refetch after push failed")
		v.store.MarkStale(v.conversationID)
		return
	}

	v.applyFetched(page)

	v.mu.Lock()
	pinned := v.pinned
	active := v.active
	own := msg.SenderID == v.opts.ViewerID
	if !pinned && !own {
		v.badge = true
	}
	v.mu.Unlock()

	if pinned {
		v.scrollToLatest(true)
	}
	if active && !own {
		v.markRead()
	}
}

// HandleResync runs after a channel reconnect: events may have been missed,
// so the history is refetched wholesale.
func (v *View) HandleResync(ctx context.Context) {
	page, err := v.store.Refresh(ctx, v.conversationID)
	if err != nil {
		if err != ErrSupersededFetch {
			v.store.MarkStale(v.conversationID)
		}
		return
	}
	v.applyFetched(page)
}

// applyFetched replaces confirmed history and reconciles pending sends
// against it.
func (v *View) applyFetched(page []models.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()

	// At most one entry per server id.
	seen := make(map[string]bool, len(page))
	confirmed := make([]models.Message, 0, len(page))
	for _, m := range page {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		confirmed = append(confirmed, m)
	}
	sortMessages(confirmed)
	v.confirmed = confirmed

	// An optimistic entry whose send has been confirmed is replaced, never
	// duplicated. The idempotency key is authoritative; the heuristic covers
	// echoes that lost it.
	remaining := v.pending[:0]
	for _, p := range v.pending {
		if v.confirmedMatchLocked(p) {
			continue
		}
		remaining = append(remaining, p)
	}
	v.pending = remaining
}

func (v *View) confirmedMatchLocked(p pendingSend) bool {
	for _, m := range v.confirmed {
		if m.ClientMessageID != nil && *m.ClientMessageID == p.clientMessageID {
			return true
		}
		if m.SenderID == p.message.SenderID &&
			m.Body == p.message.Body &&
			len(m.Attachments) == len(p.message.Attachments) &&
			!m.CreatedAt.Before(p.message.CreatedAt.Add(-time.Minute)) {
			return true
		}
	}
	return false
}

// HandleTyping maintains the per-participant indicator with an inactivity
// expiry; an explicit stop clears it immediately.
func (v *View) HandleTyping(userID string, isTyping bool) {
	if userID == v.opts.ViewerID {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if timer, ok := v.typing[userID]; ok {
		timer.Stop()
		delete(v.typing, userID)
	}
	if !isTyping {
		return
	}

	v.typing[userID] = time.AfterFunc(v.opts.TypingTimeout, func() {
		v.mu.Lock()
		delete(v.typing, userID)
		v.mu.Unlock()
	})
}

// TypingUsers lists remote participants currently composing.
func (v *View) TypingUsers() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	users := make([]string, 0, len(v.typing))
	for id := range v.typing {
		users = append(users, id)
	}
	sort.Strings(users)
	return users
}

// HandleRead applies a remote read receipt to the viewer's own messages.
func (v *View) HandleRead(userID string, readAt time.Time) {
	if userID == v.opts.ViewerID {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	at := readAt
	for i := range v.confirmed {
		if v.confirmed[i].SenderID == v.opts.ViewerID && !v.confirmed[i].IsRead {
			v.confirmed[i].IsRead = true
			v.confirmed[i].ReadAt = &at
		}
	}
}

// AddPending inserts an optimistic entry for the viewer's own send and
// force-scrolls to it.
func (v *View) AddPending(clientMessageID string, msg models.Message) {
	v.mu.Lock()
	v.pending = append(v.pending, pendingSend{clientMessageID: clientMessageID, message: msg})
	v.pinned = true
	v.badge = false
	v.mu.Unlock()

	v.scrollToLatest(true)
}

// ConfirmPending swaps the optimistic entry for the server-confirmed row.
func (v *View) ConfirmPending(clientMessageID string, confirmed models.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for i, p := range v.pending {
		if p.clientMessageID == clientMessageID {
			v.pending = append(v.pending[:i], v.pending[i+1:]...)
			break
		}
	}

	for _, m := range v.confirmed {
		if m.ID == confirmed.ID {
			return
		}
	}
	v.confirmed = append(v.confirmed, confirmed)
	sortMessages(v.confirmed)
}

// RemovePending rolls an optimistic entry back after a failed send.
func (v *View) RemovePending(clientMessageID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i, p := range v.pending {
		if p.clientMessageID == clientMessageID {
			v.pending = append(v.pending[:i], v.pending[i+1:]...)
			return
		}
	}
}

// SetScrollOffset reports how far from the bottom the host UI currently sits.
// Past the threshold the viewer counts as reading history: incoming messages
// must not steal the position.
func (v *View) SetScrollOffset(offsetFromBottom float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pinned = offsetFromBottom <= v.opts.ScrollThreshold
	if v.pinned {
		v.badge = false
	}
}

// JumpToLatest is the "new message" affordance action.
func (v *View) JumpToLatest() {
	v.mu.Lock()
	v.pinned = true
	v.badge = false
	v.mu.Unlock()
	v.scrollToLatest(true)
}

func (v *View) PinnedToBottom() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pinned
}

func (v *View) NewMessageBadge() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.badge
}

// Render produces the timeline: messages ascending by creation time with a
// separator wherever the calendar day changes, and one before the first row.
func (v *View) Render() []TimelineItem {
	v.mu.Lock()
	defer v.mu.Unlock()

	type row struct {
		msg     models.Message
		pending bool
	}
	rows := make([]row, 0, len(v.confirmed)+len(v.pending))
	for _, m := range v.confirmed {
		rows = append(rows, row{msg: m})
	}
	for _, p := range v.pending {
		rows = append(rows, row{msg: p.message, pending: true})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].msg.CreatedAt.Before(rows[j].msg.CreatedAt)
	})

	items := make([]TimelineItem, 0, len(rows)+4)
	var prevDay time.Time
	for i, r := range rows {
		day := calendarDay(r.msg.CreatedAt)
		if i == 0 || !day.Equal(prevDay) {
			items = append(items, TimelineItem{Kind: ItemDateSeparator, Day: day})
			prevDay = day
		}
		items = append(items, TimelineItem{Kind: ItemMessage, Message: r.msg, Pending: r.pending})
	}
	return items
}

func sortMessages(msgs []models.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}

// calendarDay truncates to local midnight, which is what the separator rule
// compares.
func calendarDay(t time.Time) time.Time {
	local := t.Local()
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
}

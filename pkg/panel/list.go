package panel

import (
	"context"
	"strings"
	"sync"

	"github.com/rick1290/estuary-messaging/internal/models"
)

// List holds the viewer's conversations with search and active highlighting.
type List struct {
	api *Client

	mu        sync.Mutex
	summaries []models.ConversationSummary
	filter    string
	activeID  string
}

func NewList(api *Client) *List {
	return &List{api: api}
}

// Load fetches the viewer's conversation summaries.
func (l *List) Load(ctx context.Context) error {
	summaries, err := l.api.ListConversations(ctx)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.summaries = summaries
	l.mu.Unlock()
	return nil
}

// SetFilter sets the search query. Matching is a case-insensitive substring
// test against the other participant's display name and email only.
func (l *List) SetFilter(q string) {
	l.mu.Lock()
	l.filter = strings.ToLower(strings.TrimSpace(q))
	l.mu.Unlock()
}

// Visible returns the filtered conversation summaries.
func (l *List) Visible() []models.ConversationSummary {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.filter == "" {
		out := make([]models.ConversationSummary, len(l.summaries))
		copy(out, l.summaries)
		return out
	}

	out := make([]models.ConversationSummary, 0, len(l.summaries))
	for _, s := range l.summaries {
		name := strings.ToLower(s.Other.DisplayName())
		email := strings.ToLower(s.Other.Email)
		if strings.Contains(name, l.filter) || strings.Contains(email, l.filter) {
			out = append(out, s)
		}
	}
	return out
}

// ActiveID is the currently open conversation, empty when none.
func (l *List) ActiveID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.activeID
}

func (l *List) setActive(id string) {
	l.mu.Lock()
	l.activeID = id
	l.mu.Unlock()
}

// TotalUnread sums unread counts across all conversations.
func (l *List) TotalUnread() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var total int64
	for _, s := range l.summaries {
		total += s.UnreadCount
	}
	return total
}

package panel

import (
	"context"
	"errors"
	"sync"

	"github.com/rick1290/estuary-messaging/internal/models"
)

// ErrSupersededFetch reports that a newer refresh was issued while this one
// was in flight; the caller's response was discarded, not applied.
var ErrSupersededFetch = errors.New("fetch superseded by a newer request")

// FetchFunc loads the full message history of one conversation.
type FetchFunc func(ctx context.Context, conversationID string) ([]models.Message, error)

// Store is the single shared cache of fetched message pages. Every mutation
// goes through the same invalidate-then-refetch path (Refresh), and each
// fetch is tagged with a generation so a stale response arriving after a
// newer request can never clobber current state.
type Store struct {
	mu    sync.Mutex
	fetch FetchFunc
	pages map[string][]models.Message
	stale map[string]bool
	gen   map[string]uint64
}

func NewStore(fetch FetchFunc) *Store {
	return &Store{
		fetch: fetch,
		pages: make(map[string][]models.Message),
		stale: make(map[string]bool),
		gen:   make(map[string]uint64),
	}
}

// Messages returns the cached page for a conversation, if any.
func (s *Store) Messages(conversationID string) ([]models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, ok := s.pages[conversationID]
	if !ok {
		return nil, false
	}
	out := make([]models.Message, len(page))
	copy(out, page)
	return out, true
}

// Refresh refetches a conversation's history and replaces the cached page.
// If another Refresh for the same conversation starts while this one is in
// flight, the slower response is dropped and ErrSupersededFetch returned.
func (s *Store) Refresh(ctx context.Context, conversationID string) ([]models.Message, error) {
	s.mu.Lock()
	s.gen[conversationID]++
	myGen := s.gen[conversationID]
	s.mu.Unlock()

	page, err := s.fetch(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen[conversationID] != myGen {
		return nil, ErrSupersededFetch
	}
	s.pages[conversationID] = page
	s.stale[conversationID] = false

	out := make([]models.Message, len(page))
	copy(out, page)
	return out, nil
}

// MarkStale flags a conversation whose cache no longer reflects the server,
// e.g. after an event for a conversation that is not currently open.
func (s *Store) MarkStale(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stale[conversationID] = true
}

func (s *Store) IsStale(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stale[conversationID]
}

// Invalidate drops a cached page entirely.
func (s *Store) Invalidate(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pages, conversationID)
	s.stale[conversationID] = true
}

package panel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rick1290/estuary-messaging/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRefreshCachesPage(t *testing.T) {
	page := []models.Message{
		{ID: "m1", ConversationID: "c1", Body: "one"},
		{ID: "m2", ConversationID: "c1", Body: "two"},
	}
	store := NewStore(func(ctx context.Context, conversationID string) ([]models.Message, error) {
		return page, nil
	})

	got, err := store.Refresh(context.Background(), "c1")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	cached, ok := store.Messages("c1")
	assert.True(t, ok)
	assert.Len(t, cached, 2)

	// The returned slice is a copy; mutating it must not touch the cache.
	cached[0].Body = "mutated"
	again, _ := store.Messages("c1")
	assert.Equal(t, "one", again[0].Body)

	_, ok = store.Messages("c2")
	assert.False(t, ok)
}

func TestStoreRefreshPropagatesFetchError(t *testing.T) {
	boom := errors.New("boom")
	store := NewStore(func(ctx context.Context, conversationID string) ([]models.Message, error) {
		return nil, boom
	})

	_, err := store.Refresh(context.Background(), "c1")
	assert.ErrorIs(t, err, boom)
	_, ok := store.Messages("c1")
	assert.False(t, ok)
}

func TestStoreSupersededFetchDiscarded(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	store := NewStore(func(ctx context.Context, conversationID string) ([]models.Message, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			<-release
			return []models.Message{{ID: "stale"}}, nil
		}
		return []models.Message{{ID: "fresh"}}, nil
	})

	firstErr := make(chan error, 1)
	go func() {
		_, err := store.Refresh(context.Background(), "c1")
		firstErr <- err
	}()

	// Wait until the first fetch is in flight, then win the race with a
	// second refresh.
	for atomic.LoadInt32(&calls) == 0 {
		time.Sleep(time.Millisecond)
	}
	fresh, err := store.Refresh(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "fresh", fresh[0].ID)

	close(release)
	assert.ErrorIs(t, <-firstErr, ErrSupersededFetch)

	cached, ok := store.Messages("c1")
	require.True(t, ok)
	assert.Equal(t, "fresh", cached[0].ID)
}

func TestStoreStaleAndInvalidate(t *testing.T) {
	store := NewStore(func(ctx context.Context, conversationID string) ([]models.Message, error) {
		return []models.Message{{ID: "m1"}}, nil
	})

	_, err := store.Refresh(context.Background(), "c1")
	require.NoError(t, err)
	assert.False(t, store.IsStale("c1"))

	store.MarkStale("c1")
	assert.True(t, store.IsStale("c1"))
	_, ok := store.Messages("c1")
	assert.True(t, ok)

	// A refresh clears the flag.
	_, err = store.Refresh(context.Background(), "c1")
	require.NoError(t, err)
	assert.False(t, store.IsStale("c1"))

	store.Invalidate("c1")
	assert.True(t, store.IsStale("c1"))
	_, ok = store.Messages("c1")
	assert.False(t, ok)
}

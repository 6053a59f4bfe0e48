package panel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rick1290/estuary-messaging/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listFixture() []models.ConversationSummary {
	return []models.ConversationSummary{
		{
			ID:          "c1",
			Other:       models.User{ID: "u1", Name: "Sarah Chen", Email: "sarah@example.com"},
			UnreadCount: 2,
		},
		{
			ID:          "c2",
			Other:       models.User{ID: "u2", Name: "Marcus Webb", Email: "marcus@example.com"},
			UnreadCount: 0,
		},
		{
			ID:          "c3",
			Other:       models.User{ID: "u3", Email: "noname@example.com"},
			UnreadCount: 1,
		},
	}
}

func newTestList(t *testing.T) (*List, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/conversations", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{"conversations": listFixture()})
	}))

	opts := Options{BaseURL: srv.URL}
	list := NewList(NewClient(opts))
	require.NoError(t, list.Load(context.Background()))
	return list, srv
}

func visibleIDs(list *List) []string {
	var out []string
	for _, s := range list.Visible() {
		out = append(out, s.ID)
	}
	return out
}

func TestListLoadAndVisible(t *testing.T) {
	list, srv := newTestList(t)
	defer srv.Close()

	assert.Equal(t, []string{"c1", "c2", "c3"}, visibleIDs(list))
	assert.EqualValues(t, 3, list.TotalUnread())
}

func TestListFilterByNameAndEmail(t *testing.T) {
	list, srv := newTestList(t)
	defer srv.Close()

	// Case-insensitive name substring.
	list.SetFilter("  SARAH ")
	assert.Equal(t, []string{"c1"}, visibleIDs(list))

	// Email matches too.
	list.SetFilter("marcus@")
	assert.Equal(t, []string{"c2"}, visibleIDs(list))

	// Display name falls back to email when the name is empty.
	list.SetFilter("noname")
	assert.Equal(t, []string{"c3"}, visibleIDs(list))

	list.SetFilter("nobody-here")
	assert.Empty(t, visibleIDs(list))

	list.SetFilter("")
	assert.Equal(t, []string{"c1", "c2", "c3"}, visibleIDs(list))
}

func TestListActiveTracking(t *testing.T) {
	list, srv := newTestList(t)
	defer srv.Close()

	assert.Equal(t, "", list.ActiveID())
	list.setActive("c2")
	assert.Equal(t, "c2", list.ActiveID())
	list.setActive("")
	assert.Equal(t, "", list.ActiveID())
}

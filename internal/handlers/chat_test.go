package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rick1290/estuary-messaging/internal/database"
	"github.com/rick1290/estuary-messaging/internal/middleware"
	"github.com/rick1290/estuary-messaging/internal/models"
	"github.com/stretchr/testify/assert"
)

func seedUsers(ids ...string) {
	for _, id := range ids {
		database.DB.Create(&models.User{ID: id, Name: "User " + id, Email: id + "@example.com"})
	}
}

func seedConversation(a, b string) string {
	conv := models.Conversation{}
	database.DB.Create(&conv)
	now := time.Now()
	database.DB.Create(&[]models.ConversationParticipant{
		{ConversationID: conv.ID, UserID: a, JoinedAt: now},
		{ConversationID: conv.ID, UserID: b, JoinedAt: now},
	})
	return conv.ID
}

// performRequest routes one request through the error middleware and a stub
// auth layer, the way the real router wires handlers.
func performRequest(userID, method, route, path string, body interface{}, handler gin.HandlerFunc) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()

	r := gin.New()
	r.Use(middleware.ErrorHandlerMiddleware())
	r.Use(func(c *gin.Context) { c.Set("userId", userID) })
	r.Handle(method, route, handler)

	var reader io.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestSendMessageCreatesConversation(t *testing.T) {
	SetupTestDB()
	seedUsers("alice", "bob")

	w := performRequest("alice", "POST", "/api/chat/messages", "/api/chat/messages", map[string]interface{}{
		"recipientId":     "bob",
		"body":            "hello bob",
		"clientMessageId": "11111111-1111-1111-1111-111111111111",
	}, SendMessage)
	assert.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Message models.Message `json:"message"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "alice", response.Message.SenderID)
	assert.Equal(t, "hello bob", response.Message.Body)
	assert.NotEmpty(t, response.Message.ConversationID)

	var participants int64
	database.DB.Model(&models.ConversationParticipant{}).
		Where("conversation_id = ?", response.Message.ConversationID).
		Count(&participants)
	assert.EqualValues(t, 2, participants)
}

func TestSendMessageIdempotentResend(t *testing.T) {
	SetupTestDB()
	seedUsers("alice", "bob")
	convID := seedConversation("alice", "bob")

	body := map[string]interface{}{
		"conversationId":  convID,
		"body":            "only once",
		"clientMessageId": "22222222-2222-2222-2222-222222222222",
	}

	w1 := performRequest("alice", "POST", "/api/chat/messages", "/api/chat/messages", body, SendMessage)
	assert.Equal(t, http.StatusOK, w1.Code)
	w2 := performRequest("alice", "POST", "/api/chat/messages", "/api/chat/messages", body, SendMessage)
	assert.Equal(t, http.StatusOK, w2.Code)

	var first, second struct {
		Message models.Message `json:"message"`
	}
	json.Unmarshal(w1.Body.Bytes(), &first)
	json.Unmarshal(w2.Body.Bytes(), &second)
	assert.Equal(t, first.Message.ID, second.Message.ID)

	var count int64
	database.DB.Model(&models.Message{}).Where("conversation_id = ?", convID).Count(&count)
	assert.EqualValues(t, 1, count)
}

func TestSendMessageRejectsEmpty(t *testing.T) {
	SetupTestDB()
	seedUsers("alice", "bob")
	convID := seedConversation("alice", "bob")

	w := performRequest("alice", "POST", "/api/chat/messages", "/api/chat/messages", map[string]interface{}{
		"conversationId": convID,
	}, SendMessage)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendMessageRejectsNonParticipant(t *testing.T) {
	SetupTestDB()
	seedUsers("alice", "bob", "mallory")
	convID := seedConversation("alice", "bob")

	w := performRequest("mallory", "POST", "/api/chat/messages", "/api/chat/messages", map[string]interface{}{
		"conversationId": convID,
		"body":           "let me in",
	}, SendMessage)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSendMessageRejectsForeignAttachmentURL(t *testing.T) {
	SetupTestDB()
	seedUsers("alice", "bob")
	convID := seedConversation("alice", "bob")

	w := performRequest("alice", "POST", "/api/chat/messages", "/api/chat/messages", map[string]interface{}{
		"conversationId": convID,
		"attachments": []map[string]interface{}{
			{"kind": "image", "url": "https://evil.example.com/tracker.png"},
		},
	}, SendMessage)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var count int64
	database.DB.Model(&models.Message{}).Count(&count)
	assert.EqualValues(t, 0, count)
}

func TestSendMessageAcceptsStorageAttachment(t *testing.T) {
	SetupTestDB()
	seedUsers("alice", "bob")
	convID := seedConversation("alice", "bob")

	w := performRequest("alice", "POST", "/api/chat/messages", "/api/chat/messages", map[string]interface{}{
		"conversationId": convID,
		"attachments": []map[string]interface{}{
			{
				"kind":         "image",
				"url":          "https://media.estuary-test.example.com/chat/abc.png",
				"thumbnailUrl": "https://media.estuary-test.example.com/cdn-cgi/image/width=320,fit=scale-down/chat/abc.png",
				"name":         "abc.png",
				"byteSize":     1234,
				"mimeType":     "image/png",
			},
		},
	}, SendMessage)
	assert.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Message models.Message `json:"message"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	if assert.Len(t, response.Message.Attachments, 1) {
		assert.Equal(t, models.AttachmentImage, response.Message.Attachments[0].Kind)
	}
}

func TestListConversationsSummaries(t *testing.T) {
	SetupTestDB()
	seedUsers("me", "practitioner1", "practitioner2")

	c1 := seedConversation("me", "practitioner1")
	c2 := seedConversation("me", "practitioner2")

	old := time.Now().Add(-2 * time.Hour)
	recent := time.Now().Add(-1 * time.Minute)
	database.DB.Create(&models.Message{ConversationID: c1, SenderID: "practitioner1", Body: "Old", CreatedAt: old})
	database.DB.Create(&models.Message{ConversationID: c2, SenderID: "practitioner2", Body: "Recent", CreatedAt: recent})
	database.DB.Create(&models.Message{ConversationID: c2, SenderID: "me", Body: "Mine", CreatedAt: recent.Add(time.Second)})
	database.DB.Model(&models.Conversation{}).Where("id = ?", c1).Update("updated_at", old)
	database.DB.Model(&models.Conversation{}).Where("id = ?", c2).Update("updated_at", recent)

	w := performRequest("me", "GET", "/api/chat/conversations", "/api/chat/conversations", nil, ListConversations)
	assert.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Conversations []models.ConversationSummary `json:"conversations"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Len(t, response.Conversations, 2)

	// Most recent first
	assert.Equal(t, c2, response.Conversations[0].ID)
	assert.Equal(t, "practitioner2", response.Conversations[0].Other.ID)
	assert.EqualValues(t, 1, response.Conversations[0].UnreadCount)
	if assert.NotNil(t, response.Conversations[0].LastMessage) {
		assert.Equal(t, "Mine", response.Conversations[0].LastMessage.Body)
	}

	assert.Equal(t, c1, response.Conversations[1].ID)
	assert.EqualValues(t, 1, response.Conversations[1].UnreadCount)
}

func TestGetMessagesAscending(t *testing.T) {
	SetupTestDB()
	seedUsers("alice", "bob")
	convID := seedConversation("alice", "bob")

	base := time.Now().Add(-time.Hour)
	// Inserted out of order on purpose
	database.DB.Create(&models.Message{ConversationID: convID, SenderID: "bob", Body: "third", CreatedAt: base.Add(3 * time.Minute)})
	database.DB.Create(&models.Message{ConversationID: convID, SenderID: "alice", Body: "first", CreatedAt: base.Add(1 * time.Minute)})
	database.DB.Create(&models.Message{ConversationID: convID, SenderID: "bob", Body: "second", CreatedAt: base.Add(2 * time.Minute)})

	w := performRequest("alice", "GET", "/api/chat/conversations/:id/messages",
		"/api/chat/conversations/"+convID+"/messages", nil, GetMessages)
	assert.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Messages []models.Message `json:"messages"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Len(t, response.Messages, 3)
	for i := 1; i < len(response.Messages); i++ {
		assert.False(t, response.Messages[i].CreatedAt.Before(response.Messages[i-1].CreatedAt))
	}
	assert.Equal(t, "first", response.Messages[0].Body)
}

func TestMarkReadIdempotent(t *testing.T) {
	SetupTestDB()
	seedUsers("alice", "bob")
	convID := seedConversation("alice", "bob")

	database.DB.Create(&models.Message{ConversationID: convID, SenderID: "bob", Body: "unread", CreatedAt: time.Now()})

	markRead := func() int64 {
		w := performRequest("alice", "POST", "/api/chat/conversations/:id/read",
			"/api/chat/conversations/"+convID+"/read", nil, MarkRead)
		assert.Equal(t, http.StatusOK, w.Code)
		var response struct {
			MarkedRead int64 `json:"markedRead"`
		}
		json.Unmarshal(w.Body.Bytes(), &response)
		return response.MarkedRead
	}

	assert.EqualValues(t, 1, markRead())
	assert.EqualValues(t, 0, markRead())

	var msg models.Message
	database.DB.First(&msg, "conversation_id = ?", convID)
	assert.True(t, msg.IsRead)
	assert.NotNil(t, msg.ReadAt)
}

func TestSanitizeMessageBody(t *testing.T) {
	_, err := SanitizeMessageBody("   ")
	assert.Error(t, err)

	out, err := SanitizeMessageBody("hi <script>alert(1)</script>there")
	assert.NoError(t, err)
	assert.NotContains(t, out, "<script>")

	long := make([]byte, MaxMessageLength+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err = SanitizeMessageBody(string(long))
	assert.Error(t, err)
}

func TestValidateAttachmentURL(t *testing.T) {
	SetupTestDB()

	cases := []struct {
		name string
		url  string
		ok   bool
	}{
		{"configured public host", "https://media.estuary-test.example.com/chat/a.png", true},
		{"default bucket domain", "https://estuary-media.r2.dev/chat/a.pdf", true},
		{"foreign host", "https://evil.example.com/a.png", false},
		{"plain http", "http://media.estuary-test.example.com/chat/a.png", false},
		{"javascript scheme", "javascript:alert(1)", false},
		{"script injection", "https://media.estuary-test.example.com/<script>.png", false},
		{"empty", "", false},
		{"over length", "https://media.estuary-test.example.com/" + string(make([]byte, maxAttachmentURLLength)), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateAttachmentURL(tc.url)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

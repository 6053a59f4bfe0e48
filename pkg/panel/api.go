package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/rick1290/estuary-messaging/internal/models"
)

// APIError carries the status and message the service returned.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

// Client is the typed REST client the panel components share.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(opts Options) *Client {
	opts = opts.withDefaults()
	return &Client{
		baseURL: opts.BaseURL,
		token:   opts.Token,
		http:    opts.HTTPClient,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		if payload.Error == "" {
			payload.Error = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Message: payload.Error}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) ListConversations(ctx context.Context) ([]models.ConversationSummary, error) {
	var payload struct {
		Conversations []models.ConversationSummary `json:"conversations"`
	}
	if err := c.do(ctx, http.MethodGet, "/chat/conversations", nil, "", &payload); err != nil {
		return nil, err
	}
	return payload.Conversations, nil
}

func (c *Client) GetMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	var payload struct {
		Messages []models.Message `json:"messages"`
	}
	path := "/chat/conversations/" + conversationID + "/messages"
	if err := c.do(ctx, http.MethodGet, path, nil, "", &payload); err != nil {
		return nil, err
	}
	return payload.Messages, nil
}

// SendMessageInput mirrors the send endpoint's contract. Either
// ConversationID (existing thread) or RecipientID (first contact) is set.
type SendMessageInput struct {
	ConversationID  string              `json:"conversationId,omitempty"`
	RecipientID     string              `json:"recipientId,omitempty"`
	Body            string              `json:"body,omitempty"`
	ClientMessageID string              `json:"clientMessageId,omitempty"`
	Attachments     []models.Attachment `json:"attachments,omitempty"`
}

func (c *Client) SendMessage(ctx context.Context, input SendMessageInput) (*models.Message, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Message models.Message `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/chat/messages", bytes.NewReader(body), "application/json", &payload); err != nil {
		return nil, err
	}
	return &payload.Message, nil
}

func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	path := "/chat/conversations/" + conversationID + "/read"
	return c.do(ctx, http.MethodPost, path, nil, "", nil)
}

// UploadAttachment streams a file to the upload endpoint and returns the
// stored descriptor (url, thumbnail for images, size, mime).
func (c *Client) UploadAttachment(ctx context.Context, name, mimeType string, data io.Reader) (*models.Attachment, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, data); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	var attachment models.Attachment
	if err := c.do(ctx, http.MethodPost, "/upload/chat-attachment", &buf, writer.FormDataContentType(), &attachment); err != nil {
		return nil, err
	}
	return &attachment, nil
}

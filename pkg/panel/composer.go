package panel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rick1290/estuary-messaging/internal/models"
)

// DraftAttachment is a not-yet-uploaded file the viewer picked. The bytes are
// held so a failed send can be resubmitted without re-picking the file.
type DraftAttachment struct {
	Name     string
	MimeType string
	Size     int64
	Kind     models.AttachmentKind
	Data     []byte
}

var (
	ErrEmptyMessage        = errors.New("nothing to send")
	ErrAttachmentTooLarge  = errors.New("attachment exceeds the size limit")
	ErrUnknownAttachment   = errors.New("unrecognized attachment type")
	ErrAttachmentEmptyFile = errors.New("attachment is empty")
)

// TypingSignaler is the slice of the channel the composer needs.
type TypingSignaler interface {
	SendTyping(isTyping bool)
}

// Composer captures outgoing content for one conversation: draft text, at
// most one attachment, the typing signal, and the optimistic send flow.
type Composer struct {
	opts    Options
	api     *Client
	view    *View
	channel TypingSignaler

	mu           sync.Mutex
	draft        string
	attachment   *DraftAttachment
	typingActive bool
	debounce     *time.Timer
}

func NewComposer(opts Options, api *Client, view *View, channel TypingSignaler) *Composer {
	return &Composer{
		opts:    opts.withDefaults(),
		api:     api,
		view:    view,
		channel: channel,
	}
}

// SetText applies a keystroke's new input value. The empty→non-empty
// transition emits typing=true; each keystroke re-arms the debounce that
// emits typing=false after the inactivity window; clearing the input stops
// the signal immediately.
func (c *Composer) SetText(text string) {
	c.mu.Lock()
	wasEmpty := c.draft == ""
	c.draft = text

	if text == "" {
		c.stopTypingLocked()
		c.mu.Unlock()
		return
	}

	start := wasEmpty && !c.typingActive
	if start {
		c.typingActive = true
	}
	if c.debounce != nil {
		c.debounce.Stop()
	}
	c.debounce = time.AfterFunc(c.opts.TypingDebounce, c.typingExpired)
	c.mu.Unlock()

	if start && c.channel != nil {
		c.channel.SendTyping(true)
	}
}

func (c *Composer) typingExpired() {
	c.mu.Lock()
	active := c.typingActive
	c.typingActive = false
	c.debounce = nil
	c.mu.Unlock()

	if active && c.channel != nil {
		c.channel.SendTyping(false)
	}
}

// stopTypingLocked cancels the debounce and emits typing=false if a signal
// was live. Caller holds c.mu; the network write happens out of band.
func (c *Composer) stopTypingLocked() {
	if c.debounce != nil {
		c.debounce.Stop()
		c.debounce = nil
	}
	if c.typingActive {
		c.typingActive = false
		if c.channel != nil {
			go c.channel.SendTyping(false)
		}
	}
}

// Attach stages a single attachment, replacing any previous one. Validation
// here is presentation-layer only; the backend enforces the real policy.
func (c *Composer) Attach(name, mimeType string, data []byte) error {
	if len(data) == 0 {
		return ErrAttachmentEmptyFile
	}
	if c.opts.MaxAttachmentBytes > 0 && int64(len(data)) > c.opts.MaxAttachmentBytes {
		return ErrAttachmentTooLarge
	}

	var kind models.AttachmentKind
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		kind = models.AttachmentImage
	case mimeType != "":
		kind = models.AttachmentFile
	default:
		return ErrUnknownAttachment
	}

	c.mu.Lock()
	c.attachment = &DraftAttachment{
		Name:     name,
		MimeType: mimeType,
		Size:     int64(len(data)),
		Kind:     kind,
		Data:     data,
	}
	c.mu.Unlock()
	return nil
}

func (c *Composer) ClearAttachment() {
	c.mu.Lock()
	c.attachment = nil
	c.mu.Unlock()
}

func (c *Composer) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

func (c *Composer) Attachment() *DraftAttachment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attachment
}

// Send submits the current draft. The composer clears immediately and the
// view shows a pending entry; if the upload or the send fails, the pending
// entry is rolled back and the draft restored so nothing typed is lost.
// An attachment is uploaded first; if the upload fails no message is created.
func (c *Composer) Send(ctx context.Context) error {
	c.mu.Lock()
	body := c.draft
	attachment := c.attachment
	if body == "" && attachment == nil {
		c.mu.Unlock()
		return ErrEmptyMessage
	}
	c.draft = ""
	c.attachment = nil
	c.stopTypingLocked()
	c.mu.Unlock()

	clientID := uuid.NewString()
	optimistic := models.Message{
		ID:              "pending-" + clientID,
		ConversationID:  c.view.ConversationID(),
		SenderID:        c.opts.ViewerID,
		Body:            body,
		CreatedAt:       time.Now(),
		ClientMessageID: &clientID,
	}
	if attachment != nil {
		optimistic.Attachments = []models.Attachment{{
			Kind:     attachment.Kind,
			Name:     attachment.Name,
			ByteSize: attachment.Size,
			MimeType: attachment.MimeType,
		}}
	}
	c.view.AddPending(clientID, optimistic)

	var descriptors []models.Attachment
	if attachment != nil {
		uploaded, err := c.api.UploadAttachment(ctx, attachment.Name, attachment.MimeType, bytes.NewReader(attachment.Data))
		if err != nil {
			c.view.RemovePending(clientID)
			c.restore(body, attachment)
			return fmt.Errorf("upload failed: %w", err)
		}
		descriptors = append(descriptors, *uploaded)
	}

	msg, err := c.api.SendMessage(ctx, SendMessageInput{
		ConversationID:  c.view.ConversationID(),
		Body:            body,
		ClientMessageID: clientID,
		Attachments:     descriptors,
	})
	if err != nil {
		c.view.RemovePending(clientID)
		c.restore(body, attachment)
		return fmt.Errorf("send failed: %w", err)
	}

	c.view.ConfirmPending(clientID, *msg)
	return nil
}

// restore puts the failed draft back unless the viewer already typed
// something new.
func (c *Composer) restore(body string, attachment *DraftAttachment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.draft == "" {
		c.draft = body
	}
	if c.attachment == nil {
		c.attachment = attachment
	}
}

package panel

import (
	"net/http"
	"time"
)

// Options configures a messaging panel. Ambient state (viewer identity,
// endpoints, policy knobs) is passed explicitly here rather than read from
// globals, so a process can host several independent panels.
type Options struct {
	// BaseURL is the REST root, e.g. https://api.example.com/api
	BaseURL string
	// WSURL is the websocket endpoint, e.g. wss://api.example.com/api/chat/ws
	WSURL string
	// Token is the viewer's bearer token
	Token string
	// ViewerID is the authenticated user's id, used to filter typing
	// self-echo and to lay out own vs. remote messages
	ViewerID string

	// TypingTimeout is how long a remote typing indicator stays lit without
	// a refresh. TypingDebounce is how long after the last keystroke the
	// composer emits typing=false. Both default to 3s.
	TypingTimeout  time.Duration
	TypingDebounce time.Duration

	// ScrollThreshold is the offset from the bottom (in the host UI's scroll
	// units) beyond which the viewer counts as reading history and must not
	// be force-scrolled.
	ScrollThreshold float64

	// Reconnect policy for the realtime channel: bounded attempts with
	// exponential backoff, capped per attempt.
	ReconnectAttempts  int
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration

	// MaxAttachmentBytes caps composer attachments. Deployment policy, not a
	// product constant; 0 means no client-side cap.
	MaxAttachmentBytes int64

	HTTPClient *http.Client
}

const (
	defaultTypingWindow       = 3 * time.Second
	defaultScrollThreshold    = 80
	defaultReconnectAttempts  = 4
	defaultReconnectBaseDelay = 500 * time.Millisecond
	defaultReconnectMaxDelay  = 8 * time.Second
	defaultMaxAttachmentBytes = 25 << 20
)

func (o Options) withDefaults() Options {
	if o.TypingTimeout <= 0 {
		o.TypingTimeout = defaultTypingWindow
	}
	if o.TypingDebounce <= 0 {
		o.TypingDebounce = defaultTypingWindow
	}
	if o.ScrollThreshold <= 0 {
		o.ScrollThreshold = defaultScrollThreshold
	}
	if o.ReconnectAttempts <= 0 {
		o.ReconnectAttempts = defaultReconnectAttempts
	}
	if o.ReconnectBaseDelay <= 0 {
		o.ReconnectBaseDelay = defaultReconnectBaseDelay
	}
	if o.ReconnectMaxDelay <= 0 {
		o.ReconnectMaxDelay = defaultReconnectMaxDelay
	}
	if o.MaxAttachmentBytes == 0 {
		o.MaxAttachmentBytes = defaultMaxAttachmentBytes
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	return o
}

// API types for the send-message and stream endpoints
package models

import (
	"time"

	"github.com/lumabook/lumabook/pkg/db"
)

// ========== Type aliases for database types ==========
// These allow other packages to use models.Message instead of db.Message

type Conversation = db.Conversation
type Message = db.Message
type TokenUsage = db.TokenUsage
type IdempotencyRecord = db.IdempotencyRecord

// ========== Constant aliases from db package ==========

const (
	RoleUser      = db.RoleUser
	RoleAssistant = db.RoleAssistant
	RoleSystem    = db.RoleSystem
)

const (
	MessageStatusPending  = db.MessageStatusPending
	MessageStatusComplete = db.MessageStatusComplete
	MessageStatusError    = db.MessageStatusError
)

// ========== Request/response types ==========

// SendMessageRequest is the body of POST /conversations/:id/messages.
// The idempotency key travels in the Idempotency-Key header, not the body.
type SendMessageRequest struct {
	Content     string   `json:"content" binding:"required"`
	ContextRefs []string `json:"context_refs,omitempty"` // highlight/passage ids injected into the prompt
	Model       string   `json:"model,omitempty"`        // configured provider name or model id; empty = default
	Stream      bool     `json:"stream,omitempty"`
}

// SendMessageResponse returns the persisted message pair. For streaming sends
// the assistant message is still pending and StreamPath points at the SSE
// endpoint to attach to.
type SendMessageResponse struct {
	ConversationID   string   `json:"conversation_id"`
	UserMessage      *Message `json:"user_message"`
	AssistantMessage *Message `json:"assistant_message"`
	StreamPath       string   `json:"stream_path,omitempty"`
	Replayed         bool     `json:"replayed,omitempty"` // true on idempotent replay
}

// CreateConversationRequest is used by the (external) library layer and tests.
type CreateConversationRequest struct {
	OwnerID string `json:"-"` // set from the authenticated identity
	Title   string `json:"title,omitempty"`
}

// StreamTokenResponse is the body returned by POST /internal/stream-tokens.
type StreamTokenResponse struct {
	Token         string    `json:"token"`
	StreamBaseURL string    `json:"stream_base_url"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// ========== Stream event frames ==========

// Stream event names, in emission order: one meta, zero or more deltas,
// exactly one terminal done or error.
const (
	StreamEventMeta  = "meta"
	StreamEventDelta = "delta"
	StreamEventDone  = "done"
	StreamEventError = "error"
)

// StreamMeta is the first frame of a message stream.
type StreamMeta struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	Model          string `json:"model,omitempty"`
	Seq            int64  `json:"seq"`
}

// StreamDelta carries one increment of assistant text.
type StreamDelta struct {
	Text string `json:"text"`
}

// StreamDone is the terminal success frame.
type StreamDone struct {
	MessageID         string      `json:"message_id"`
	Content           string      `json:"content"`
	Usage             *TokenUsage `json:"usage,omitempty"`
	ProviderRequestID string      `json:"provider_request_id,omitempty"`
}

// StreamError is the terminal failure frame.
type StreamError struct {
	MessageID string `json:"message_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

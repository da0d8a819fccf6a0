// Database models for chat messages
package db

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message status constants
const (
	MessageStatusPending  = "pending"
	MessageStatusComplete = "complete"
	MessageStatusError    = "error"
)

// Message error codes for terminal error status
const (
	ErrorCodeInvalidCredential   = "invalid_credential"
	ErrorCodeRateLimited         = "rate_limited"
	ErrorCodeContextTooLarge     = "context_too_large"
	ErrorCodeProviderUnavailable = "provider_unavailable"
	ErrorCodeTimeout             = "timeout"
	ErrorCodeStreamCanceled      = "stream_canceled"
	ErrorCodeUnknown             = "unknown"
)

// Message represents a single turn persisted in a conversation.
//
// Two physical constraints back the pipeline's invariants:
//   - (conversation_id, seq) is unique: sequence numbers never collide.
//   - ux_messages_pending_assistant is a partial unique index over
//     conversation_id restricted to role='assistant' AND status='pending',
//     so at most one assistant reply can be in flight per conversation.
//     A violating insert fails atomically and surfaces as conversation-busy.
type Message struct {
	ID             string `json:"id" gorm:"primaryKey;size:36"`
	ConversationID string `json:"conversation_id" gorm:"size:36;not null;index;uniqueIndex:ux_messages_conv_seq,priority:1;uniqueIndex:ux_messages_pending_assistant,where:role = 'assistant' AND status = 'pending'"`

	Role   string `json:"role" gorm:"size:20;not null"`
	Status string `json:"status" gorm:"size:20;not null;default:'complete'"`
	Seq    int64  `json:"seq" gorm:"not null;uniqueIndex:ux_messages_conv_seq,priority:2"`

	Content string `json:"content" gorm:"type:text"`

	ErrorCode    string `json:"error_code,omitempty" gorm:"size:40"`
	ErrorMessage string `json:"error_message,omitempty" gorm:"size:500"`

	ProviderRequestID string      `json:"provider_request_id,omitempty" gorm:"size:100"`
	Usage             *TokenUsage `json:"usage,omitempty" gorm:"type:text"`

	// Set only on the user message that initiated a send.
	IdempotencyKey *string `json:"idempotency_key,omitempty" gorm:"size:100"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (*Message) TableName() string {
	return "messages"
}

// Terminal reports whether the message reached a terminal status.
func (m *Message) Terminal() bool {
	return m.Status == MessageStatusComplete || m.Status == MessageStatusError
}

// TokenUsage mirrors provider-reported token counts. Stored as JSON text.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u *TokenUsage) Value() (driver.Value, error) {
	if u == nil {
		return nil, nil
	}
	return json.Marshal(u)
}

func (u *TokenUsage) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, u)
	case string:
		return json.Unmarshal([]byte(v), u)
	default:
		return errors.New("unsupported token usage column type")
	}
}

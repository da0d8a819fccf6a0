package db

import "time"

// IdempotencyRecord stores the outcome of a previously processed send request,
// keyed by (user, conversation, client key). It lets a retried request return
// the originally produced message pair without re-invoking the provider.
//
// A record is written only once the send reached a terminal state, so a crash
// mid-send never falsely "remembers" a success.
type IdempotencyRecord struct {
	ID             string `json:"id" gorm:"primaryKey;size:36"`
	UserID         string `json:"user_id" gorm:"size:36;not null;uniqueIndex:ux_idem_user_conv_key,priority:1"`
	ConversationID string `json:"conversation_id" gorm:"size:36;not null;uniqueIndex:ux_idem_user_conv_key,priority:2"`
	Key            string `json:"key" gorm:"size:100;not null;uniqueIndex:ux_idem_user_conv_key,priority:3"`

	// Fingerprint is a SHA-256 over the logical request (conversation id,
	// user text, context refs). Same key + different fingerprint is a
	// conflict, never a replay.
	Fingerprint string `json:"fingerprint" gorm:"size:64;not null"`

	UserMessageID      string `json:"user_message_id" gorm:"size:36;not null"`
	AssistantMessageID string `json:"assistant_message_id" gorm:"size:36;not null"`
	Status             string `json:"status" gorm:"size:20;not null"` // terminal assistant status

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at" gorm:"index"`
}

func (IdempotencyRecord) TableName() string {
	return "idempotency_records"
}

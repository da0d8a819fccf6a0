// Database models for chat conversations
package db

import "time"

// Conversation represents a chat conversation owned by a single user.
// NextSeq is the per-conversation message sequence counter; it starts at 1,
// only ever increases, and is mutated exclusively under a row lock (see
// service.AssignNextSeq) or by the external sharing layer.
type Conversation struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	OwnerID   string    `json:"owner_id" gorm:"index;size:36;not null"`
	Title     string    `json:"title" gorm:"size:200;default:'New Chat'"`
	ShareMode string    `json:"share_mode" gorm:"size:20;default:'private'"` // private, shared
	NextSeq   int64     `json:"next_seq" gorm:"not null;default:1"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// Conversation share modes
const (
	ShareModePrivate = "private"
	ShareModeShared  = "shared"
)

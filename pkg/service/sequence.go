package service

import (
	"errors"
	"fmt"

	"github.com/lumabook/lumabook/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AssignNextSeq allocates the next message sequence number for a
// conversation. It must be called inside an already-open write transaction:
// the conversation row is locked FOR UPDATE, so concurrent senders on the
// same conversation serialize here and sequence numbers come out strictly
// increasing and gapless per committed writer.
//
// There is no retry; the caller's transaction abort is the recovery path.
func AssignNextSeq(tx *gorm.DB, conversationID string) (int64, error) {
	var conv db.Conversation
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&conv, "id = ?", conversationID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrConversationNotFound
		}
		return 0, fmt.Errorf("lock conversation %s: %w", conversationID, err)
	}

	seq := conv.NextSeq
	err = tx.Model(&db.Conversation{}).
		Where("id = ?", conversationID).
		Update("next_seq", gorm.Expr("next_seq + 1")).Error
	if err != nil {
		return 0, fmt.Errorf("advance next_seq for %s: %w", conversationID, err)
	}
	return seq, nil
}

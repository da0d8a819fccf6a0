package service

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lumabook/lumabook/pkg/db"
	"gorm.io/gorm"
)

// ErrIdempotencyConflict is returned when a client reuses a key for a
// different logical request.
var ErrIdempotencyConflict = errors.New("idempotency key reused with different request")

// idempotencyWindow is how long a recorded outcome stays replayable.
const idempotencyWindow = 24 * time.Hour

// IdempotencyGuard deduplicates retried send requests by a client-supplied
// key scoped to (user, conversation). Outcomes are recorded only once the
// send reached a terminal state.
type IdempotencyGuard struct {
	db *gorm.DB
}

func NewIdempotencyGuard(conn *gorm.DB) *IdempotencyGuard {
	return &IdempotencyGuard{db: conn}
}

// Fingerprint hashes the logical request. Context refs participate so that
// resending the same text with different highlights is a different request.
func Fingerprint(conversationID, content string, contextRefs []string) string {
	h := sha256.New()
	h.Write([]byte(conversationID))
	h.Write([]byte{0})
	h.Write([]byte(content))
	for _, ref := range contextRefs {
		h.Write([]byte{0})
		h.Write([]byte(strings.TrimSpace(ref)))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Check looks up a prior record for the key. Three outcomes:
//   - no record (or expired): (nil, nil) — proceed with the send
//   - record with matching fingerprint: (record, nil) — replay it
//   - record with different fingerprint: (nil, ErrIdempotencyConflict)
func (g *IdempotencyGuard) Check(userID, conversationID, key, fingerprint string) (*db.IdempotencyRecord, error) {
	var rec db.IdempotencyRecord
	err := g.db.First(&rec, "user_id = ? AND conversation_id = ? AND key = ?",
		userID, conversationID, key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	}
	if time.Now().After(rec.ExpiresAt) {
		return nil, nil
	}
	if rec.Fingerprint != fingerprint {
		return nil, ErrIdempotencyConflict
	}
	return &rec, nil
}

// Record stores the terminal outcome for the key. Losing a race with another
// writer of the same key is harmless: the first record wins.
func (g *IdempotencyGuard) Record(userID, conversationID, key, fingerprint, userMessageID, assistantMessageID, status string) error {
	if key == "" {
		return nil
	}
	rec := &db.IdempotencyRecord{
		ID:                 uuid.New().String(),
		UserID:             userID,
		ConversationID:     conversationID,
		Key:                key,
		Fingerprint:        fingerprint,
		UserMessageID:      userMessageID,
		AssistantMessageID: assistantMessageID,
		Status:             status,
		ExpiresAt:          time.Now().Add(idempotencyWindow),
	}
	if err := g.db.Create(rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil
		}
		return fmt.Errorf("record idempotency outcome: %w", err)
	}
	return nil
}

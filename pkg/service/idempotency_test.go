package service

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lumabook/lumabook/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintSensitivity(t *testing.T) {
	base := Fingerprint("conv-1", "hello", []string{"ref-a"})

	assert.Equal(t, base, Fingerprint("conv-1", "hello", []string{"ref-a"}))
	assert.Equal(t, base, Fingerprint("conv-1", "hello", []string{" ref-a "}), "ref whitespace is not significant")

	assert.NotEqual(t, base, Fingerprint("conv-2", "hello", []string{"ref-a"}))
	assert.NotEqual(t, base, Fingerprint("conv-1", "hello!", []string{"ref-a"}))
	assert.NotEqual(t, base, Fingerprint("conv-1", "hello", []string{"ref-b"}))
	assert.NotEqual(t, base, Fingerprint("conv-1", "hello", nil))
}

func TestIdempotencyCheckAbsent(t *testing.T) {
	g := NewIdempotencyGuard(testDB(t))

	rec, err := g.Check("alice", "conv-1", "key-1", "fp")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestIdempotencyRecordAndReplay(t *testing.T) {
	g := NewIdempotencyGuard(testDB(t))
	fp := Fingerprint("conv-1", "hello", nil)

	require.NoError(t, g.Record("alice", "conv-1", "key-1", fp, "um-1", "am-1", db.MessageStatusComplete))

	rec, err := g.Check("alice", "conv-1", "key-1", fp)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "um-1", rec.UserMessageID)
	assert.Equal(t, "am-1", rec.AssistantMessageID)
	assert.Equal(t, db.MessageStatusComplete, rec.Status)
}

func TestIdempotencyConflictOnDifferentRequest(t *testing.T) {
	g := NewIdempotencyGuard(testDB(t))
	fp := Fingerprint("conv-1", "hello", nil)

	require.NoError(t, g.Record("alice", "conv-1", "key-1", fp, "um-1", "am-1", db.MessageStatusComplete))

	_, err := g.Check("alice", "conv-1", "key-1", Fingerprint("conv-1", "different text", nil))
	assert.ErrorIs(t, err, ErrIdempotencyConflict)
}

func TestIdempotencyKeyScoping(t *testing.T) {
	g := NewIdempotencyGuard(testDB(t))
	fp := Fingerprint("conv-1", "hello", nil)

	require.NoError(t, g.Record("alice", "conv-1", "key-1", fp, "um-1", "am-1", db.MessageStatusComplete))

	// Same key from another user or conversation is a fresh request.
	rec, err := g.Check("bob", "conv-1", "key-1", "other-fp")
	require.NoError(t, err)
	assert.Nil(t, rec)

	rec, err = g.Check("alice", "conv-2", "key-1", "other-fp")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestIdempotencyExpiredRecordIgnored(t *testing.T) {
	conn := testDB(t)
	g := NewIdempotencyGuard(conn)
	fp := Fingerprint("conv-1", "hello", nil)

	expired := &db.IdempotencyRecord{
		ID:                 uuid.New().String(),
		UserID:             "alice",
		ConversationID:     "conv-1",
		Key:                "key-1",
		Fingerprint:        fp,
		UserMessageID:      "um-1",
		AssistantMessageID: "am-1",
		Status:             db.MessageStatusComplete,
		ExpiresAt:          time.Now().Add(-time.Hour),
	}
	require.NoError(t, conn.Create(expired).Error)

	rec, err := g.Check("alice", "conv-1", "key-1", fp)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestIdempotencyRecordRaceTolerated(t *testing.T) {
	g := NewIdempotencyGuard(testDB(t))
	fp := Fingerprint("conv-1", "hello", nil)

	require.NoError(t, g.Record("alice", "conv-1", "key-1", fp, "um-1", "am-1", db.MessageStatusComplete))
	// Second write of the same key loses quietly; the first record wins.
	require.NoError(t, g.Record("alice", "conv-1", "key-1", fp, "um-2", "am-2", db.MessageStatusError))

	rec, err := g.Check("alice", "conv-1", "key-1", fp)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "am-1", rec.AssistantMessageID)
}

package service

import (
	"context"
	"testing"
	"time"

	"github.com/lumabook/lumabook/pkg/db"
	"github.com/lumabook/lumabook/pkg/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestSweeper(conn *gorm.DB, liveness LivenessStore, emitter *event.Emitter) *Sweeper {
	return NewSweeper(conn, liveness, NewFinalizer(conn, emitter, testLogger()), emitter, time.Minute, time.Minute, testLogger())
}

func backdate(t *testing.T, conn *gorm.DB, messageID string, age time.Duration) {
	t.Helper()
	require.NoError(t, conn.Model(&db.Message{}).
		Where("id = ?", messageID).
		Update("created_at", time.Now().Add(-age)).Error)
}

func TestSweepOrphanedPending(t *testing.T) {
	conn := testDB(t)
	conv := testConversation(t, conn, "user-1")
	msg := pendingAssistant(t, conn, conv.ID, 2)
	backdate(t, conn, msg.ID, time.Hour)

	// Pre-existing partial content must survive the sweep.
	require.NoError(t, conn.Model(&db.Message{}).Where("id = ?", msg.ID).
		Update("content", "half a reply").Error)

	emitter := event.NewEmitter()
	var swept []event.SweeperSweptEvent
	emitter.On(event.SweeperSwept, func(ev event.Event) {
		swept = append(swept, ev.(event.SweeperSweptEvent))
	})

	s := newTestSweeper(conn, newFakeLiveness(), emitter)
	n, err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var got db.Message
	require.NoError(t, conn.First(&got, "id = ?", msg.ID).Error)
	assert.Equal(t, db.MessageStatusError, got.Status)
	assert.Equal(t, db.ErrorCodeProviderUnavailable, got.ErrorCode)
	assert.Equal(t, "half a reply", got.Content)

	require.Len(t, swept, 1)
	assert.Equal(t, msg.ID, swept[0].MessageID)
}

func TestSweepSkipsLiveStreams(t *testing.T) {
	conn := testDB(t)
	conv := testConversation(t, conn, "user-1")
	msg := pendingAssistant(t, conn, conv.ID, 2)
	backdate(t, conn, msg.ID, time.Hour)

	liveness := newFakeLiveness()
	require.NoError(t, liveness.Arm(context.Background(), msg.ID))

	s := newTestSweeper(conn, liveness, event.NewEmitter())
	n, err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	var got db.Message
	require.NoError(t, conn.First(&got, "id = ?", msg.ID).Error)
	assert.Equal(t, db.MessageStatusPending, got.Status)
}

func TestSweepRespectsGrace(t *testing.T) {
	conn := testDB(t)
	conv := testConversation(t, conn, "user-1")
	pendingAssistant(t, conn, conv.ID, 2) // freshly created, inside grace

	s := newTestSweeper(conn, newFakeLiveness(), event.NewEmitter())
	n, err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSweepSkipsOnLivenessError(t *testing.T) {
	conn := testDB(t)
	conv := testConversation(t, conn, "user-1")
	msg := pendingAssistant(t, conn, conv.ID, 2)
	backdate(t, conn, msg.ID, time.Hour)

	liveness := newFakeLiveness()
	liveness.err = assert.AnError

	// When liveness cannot be read the sweeper must not guess.
	s := newTestSweeper(conn, liveness, event.NewEmitter())
	n, err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	var got db.Message
	require.NoError(t, conn.First(&got, "id = ?", msg.ID).Error)
	assert.Equal(t, db.MessageStatusPending, got.Status)
}

func TestSweepIgnoresCompleteAndUserMessages(t *testing.T) {
	conn := testDB(t)
	conv := testConversation(t, conn, "user-1")

	done := pendingAssistant(t, conn, conv.ID, 2)
	require.NoError(t, conn.Model(&db.Message{}).Where("id = ?", done.ID).
		Update("status", db.MessageStatusComplete).Error)
	backdate(t, conn, done.ID, time.Hour)

	s := newTestSweeper(conn, newFakeLiveness(), event.NewEmitter())
	n, err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

package service

import (
	"context"
	"testing"

	"github.com/lumabook/lumabook/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSessionForTest() *StreamSession {
	_, cancel := context.WithCancel(context.Background())
	return newStreamSession("conv-1", "msg-1", cancel)
}

func TestStreamSessionReplayThenLive(t *testing.T) {
	s := newSessionForTest()

	s.Publish(StreamEvent{Name: models.StreamEventMeta, Data: models.StreamMeta{MessageID: "msg-1"}})
	s.Publish(StreamEvent{Name: models.StreamEventDelta, Data: models.StreamDelta{Text: "a"}})

	// A late subscriber sees everything already emitted.
	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	s.Publish(StreamEvent{Name: models.StreamEventDelta, Data: models.StreamDelta{Text: "b"}})
	s.Publish(StreamEvent{Name: models.StreamEventDone, Data: models.StreamDone{MessageID: "msg-1"}})
	s.Finish()

	var names []string
	for ev := range events {
		names = append(names, ev.Name)
	}
	assert.Equal(t, []string{
		models.StreamEventMeta,
		models.StreamEventDelta,
		models.StreamEventDelta,
		models.StreamEventDone,
	}, names)
}

func TestStreamSessionSubscribeAfterFinish(t *testing.T) {
	s := newSessionForTest()
	s.Publish(StreamEvent{Name: models.StreamEventDone, Data: models.StreamDone{MessageID: "msg-1"}})
	s.Finish()

	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	// The channel replays history and is already closed.
	ev, ok := <-events
	require.True(t, ok)
	assert.Equal(t, models.StreamEventDone, ev.Name)
	_, ok = <-events
	assert.False(t, ok)
}

func TestStreamSessionUnsubscribe(t *testing.T) {
	s := newSessionForTest()

	events, unsubscribe := s.Subscribe()
	unsubscribe()

	_, ok := <-events
	assert.False(t, ok)

	// Publishing after an unsubscribe must not panic on the closed channel.
	s.Publish(StreamEvent{Name: models.StreamEventDelta, Data: models.StreamDelta{Text: "x"}})
	s.Finish()
}

func TestStreamSessionFinishIdempotent(t *testing.T) {
	s := newSessionForTest()
	s.Finish()
	s.Finish()

	select {
	case <-s.Done():
	default:
		t.Fatal("done channel should be closed")
	}
}

func TestStreamRegistry(t *testing.T) {
	r := NewStreamRegistry()
	s := newSessionForTest()

	r.Register(s)
	assert.Same(t, s, r.Get("msg-1"))
	assert.Nil(t, r.Get("other"))

	r.Remove("msg-1")
	assert.Nil(t, r.Get("msg-1"))
}

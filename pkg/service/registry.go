package service

import (
	"context"
	"sync"
	"time"
)

// StreamEvent is one frame of an active reply stream, in the order the
// transport must deliver them: one meta, zero or more deltas, one terminal
// done or error frame.
type StreamEvent struct {
	Name string // models.StreamEventMeta/Delta/Done/Error
	Data any
}

// StreamSession tracks one in-flight streamed reply. Frames are recorded so
// that a subscriber attaching late (or reconnecting) replays everything
// emitted so far before receiving live frames.
type StreamSession struct {
	ConversationID string
	MessageID      string
	Cancel         context.CancelFunc
	StartedAt      time.Time

	mu          sync.Mutex
	history     []StreamEvent
	subscribers map[chan StreamEvent]struct{}
	finished    bool
	done        chan struct{} // closed when streaming is complete
}

func newStreamSession(conversationID, messageID string, cancel context.CancelFunc) *StreamSession {
	return &StreamSession{
		ConversationID: conversationID,
		MessageID:      messageID,
		Cancel:         cancel,
		StartedAt:      time.Now(),
		subscribers:    make(map[chan StreamEvent]struct{}),
		done:           make(chan struct{}),
	}
}

// Publish records a frame and fans it out to current subscribers. Only the
// producer goroutine calls this.
func (s *StreamSession) Publish(ev StreamEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.history = append(s.history, ev)
	for ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			// Slow subscriber; it will catch up from history on reconnect.
		}
	}
}

// Subscribe returns a channel that first replays all recorded frames, then
// delivers live ones. The returned func unsubscribes.
func (s *StreamSession) Subscribe() (<-chan StreamEvent, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan StreamEvent, len(s.history)+256)
	for _, ev := range s.history {
		ch <- ev
	}
	if s.finished {
		close(ch)
		return ch, func() {}
	}

	s.subscribers[ch] = struct{}{}
	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
	}
	return ch, cancel
}

// Finish closes the session after the terminal frame was published.
func (s *StreamSession) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.finished = true
	for ch := range s.subscribers {
		close(ch)
	}
	s.subscribers = make(map[chan StreamEvent]struct{})
	close(s.done)
}

// Done is closed once the stream finished.
func (s *StreamSession) Done() <-chan struct{} {
	return s.done
}

// StreamRegistry indexes active stream sessions by assistant message id.
type StreamRegistry struct {
	sessions sync.Map // messageID -> *StreamSession
}

func NewStreamRegistry() *StreamRegistry {
	return &StreamRegistry{}
}

func (r *StreamRegistry) Register(s *StreamSession) {
	r.sessions.Store(s.MessageID, s)
}

func (r *StreamRegistry) Get(messageID string) *StreamSession {
	v, ok := r.sessions.Load(messageID)
	if !ok {
		return nil
	}
	return v.(*StreamSession)
}

func (r *StreamRegistry) Remove(messageID string) {
	r.sessions.Delete(messageID)
}

package event

// Event names
const (
	StreamStarted    = "chat.stream.started"
	MessageFinalized = "chat.message.finalized"
	SweeperSwept     = "chat.sweeper.swept"
)

// StreamStartedEvent is emitted when a producer begins streaming a reply.
type StreamStartedEvent struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

func (e StreamStartedEvent) EventName() string { return StreamStarted }

// MessageFinalizedEvent is emitted when an assistant message reaches a
// terminal status, whatever path got it there.
type MessageFinalizedEvent struct {
	ConversationID string `json:"conversation_id,omitempty"`
	MessageID      string `json:"message_id"`
	Status         string `json:"status"`
	ErrorCode      string `json:"error_code,omitempty"`
}

func (e MessageFinalizedEvent) EventName() string { return MessageFinalized }

// SweeperSweptEvent is emitted when the sweeper forces an orphaned pending
// message to a terminal error state.
type SweeperSweptEvent struct {
	MessageID string `json:"message_id"`
}

func (e SweeperSweptEvent) EventName() string { return SweeperSwept }

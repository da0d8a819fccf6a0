package service

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/lumabook/lumabook/pkg/db"
	"github.com/lumabook/lumabook/pkg/event"
	"gorm.io/gorm"
)

// Outcome describes the terminal state a pending message transitions into.
type Outcome struct {
	Status            string // MessageStatusComplete or MessageStatusError
	Content           string
	ErrorCode         string
	ErrorMessage      string
	Usage             *db.TokenUsage
	ProviderRequestID string
}

// CompleteOutcome builds a success outcome.
func CompleteOutcome(content string, usage *db.TokenUsage, requestID string) Outcome {
	return Outcome{
		Status:            db.MessageStatusComplete,
		Content:           content,
		Usage:             usage,
		ProviderRequestID: requestID,
	}
}

// ErrorOutcome builds a failure outcome. Partial content streamed before the
// failure is preserved.
func ErrorOutcome(code, message, partialContent string) Outcome {
	if len(message) > 500 {
		message = message[:500]
	}
	return Outcome{
		Status:       db.MessageStatusError,
		Content:      partialContent,
		ErrorCode:    code,
		ErrorMessage: message,
	}
}

// Finalizer performs the exactly-once transition of a message out of
// pending. The update is conditional on the current status, so when the
// success handler and the disconnect handler race, the loser's call is a
// no-op and never overwrites the winner's outcome.
type Finalizer struct {
	db      *gorm.DB
	emitter *event.Emitter
	logger  *slog.Logger
}

func NewFinalizer(conn *gorm.DB, emitter *event.Emitter, logger *slog.Logger) *Finalizer {
	return &Finalizer{db: conn, emitter: emitter, logger: logger}
}

// Finalize moves the message to a terminal status. Returns true when this
// call performed the transition, false when the message was already terminal.
func (f *Finalizer) Finalize(messageID string, out Outcome) (bool, error) {
	updates := map[string]any{
		"status":        out.Status,
		"content":       out.Content,
		"error_code":    out.ErrorCode,
		"error_message": out.ErrorMessage,
		"updated_at":    time.Now(),
	}
	if out.Usage != nil {
		updates["usage"] = out.Usage
	}
	if out.ProviderRequestID != "" {
		updates["provider_request_id"] = out.ProviderRequestID
	}

	res := f.db.Model(&db.Message{}).
		Where("id = ? AND status = ?", messageID, db.MessageStatusPending).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("finalize message %s: %w", messageID, res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	f.logger.Info("message finalized", "messageID", messageID, "status", out.Status, "errorCode", out.ErrorCode)
	f.emitter.Emit(event.MessageFinalizedEvent{
		MessageID: messageID,
		Status:    out.Status,
		ErrorCode: out.ErrorCode,
	})
	return true, nil
}

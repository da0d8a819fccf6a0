package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lumabook/lumabook/pkg/db"
	"github.com/lumabook/lumabook/pkg/event"
	"gorm.io/gorm"
)

// Sweeper is the backstop for process crashes: it periodically finds
// assistant messages stuck in pending past the grace threshold and, when no
// producer holds a liveness marker for them, forces them to a terminal error
// state. Messages with a live marker are left alone.
type Sweeper struct {
	db        *gorm.DB
	liveness  LivenessStore
	finalizer *Finalizer
	emitter   *event.Emitter
	grace     time.Duration
	interval  time.Duration
	logger    *slog.Logger
}

func NewSweeper(conn *gorm.DB, liveness LivenessStore, finalizer *Finalizer, emitter *event.Emitter, grace, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		db:        conn,
		liveness:  liveness,
		finalizer: finalizer,
		emitter:   emitter,
		grace:     grace,
		interval:  interval,
		logger:    logger,
	}
}

// Run loops until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started", "interval", s.interval, "grace", s.grace)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			if swept, err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("sweep pass failed", "error", err)
			} else if swept > 0 {
				s.logger.Info("sweep pass finished", "swept", swept)
			}
		}
	}
}

// SweepOnce performs a single reconciliation pass and returns how many
// orphaned messages it finalized.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.grace)

	var stale []db.Message
	err := s.db.WithContext(ctx).
		Where("role = ? AND status = ? AND created_at < ?",
			db.RoleAssistant, db.MessageStatusPending, cutoff).
		Limit(100).
		Find(&stale).Error
	if err != nil {
		return 0, fmt.Errorf("list stale pending messages: %w", err)
	}

	swept := 0
	for _, msg := range stale {
		alive, err := s.liveness.IsAlive(ctx, msg.ID)
		if err != nil {
			// Redis trouble: do not guess. Skip and let the next pass retry.
			s.logger.Warn("liveness check failed", "messageID", msg.ID, "error", err)
			continue
		}
		if alive {
			continue
		}

		applied, err := s.finalizer.Finalize(msg.ID, ErrorOutcome(
			db.ErrorCodeProviderUnavailable,
			"reply stream was orphaned and swept",
			msg.Content,
		))
		if err != nil {
			s.logger.Error("sweep finalize failed", "messageID", msg.ID, "error", err)
			continue
		}
		if applied {
			swept++
			s.emitter.Emit(event.SweeperSweptEvent{MessageID: msg.ID})
		}
	}
	return swept, nil
}

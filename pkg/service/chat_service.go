// Send-message orchestrator: ties admission, idempotency, sequencing, the
// LLM router and finalization into one state machine per send attempt.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/lumabook/lumabook/pkg/config"
	"github.com/lumabook/lumabook/pkg/db"
	"github.com/lumabook/lumabook/pkg/event"
	"github.com/lumabook/lumabook/pkg/llm"
	"github.com/lumabook/lumabook/pkg/models"
	"gorm.io/gorm"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrConversationBusy     = errors.New("conversation already has a reply in flight")
	ErrEmptyContent         = errors.New("message content is empty")
	ErrModelNotConfigured   = errors.New("model not configured")
	ErrNoActiveStream       = errors.New("no active stream for message")
)

// ContextResolver turns client-supplied context references (highlight or
// passage ids) into prompt text blocks. Implemented by the library layer.
type ContextResolver interface {
	Resolve(ctx context.Context, userID string, refs []string) ([]string, error)
}

// ChatService orchestrates the send-and-stream pipeline.
type ChatService struct {
	db        *gorm.DB
	cfg       *config.AppConfig
	router    *llm.Router
	rate      *RateLimiter
	budget    *BudgetReserver
	idem      *IdempotencyGuard
	liveness  LivenessStore
	finalizer *Finalizer
	registry  *StreamRegistry
	emitter   *event.Emitter
	resolver  ContextResolver
	logger    *slog.Logger
}

func NewChatService(
	conn *gorm.DB,
	cfg *config.AppConfig,
	router *llm.Router,
	rate *RateLimiter,
	budget *BudgetReserver,
	idem *IdempotencyGuard,
	liveness LivenessStore,
	finalizer *Finalizer,
	registry *StreamRegistry,
	emitter *event.Emitter,
	logger *slog.Logger,
) *ChatService {
	return &ChatService{
		db:        conn,
		cfg:       cfg,
		router:    router,
		rate:      rate,
		budget:    budget,
		idem:      idem,
		liveness:  liveness,
		finalizer: finalizer,
		registry:  registry,
		emitter:   emitter,
		logger:    logger,
	}
}

// SetContextResolver wires the external library layer.
func (s *ChatService) SetContextResolver(r ContextResolver) {
	s.resolver = r
}

// Registry exposes active stream sessions to the transport layer.
func (s *ChatService) Registry() *StreamRegistry {
	return s.registry
}

// RateLimiter exposes the shared admission bucket (the stream-token endpoint
// draws from the same bucket as message send).
func (s *ChatService) RateLimiter() *RateLimiter {
	return s.rate
}

// ========== Conversation management ==========

// CreateConversation creates a new conversation. Used by the library layer
// and tests; the pipeline itself only writes into existing conversations.
func (s *ChatService) CreateConversation(req *models.CreateConversationRequest) (*models.Conversation, error) {
	title := req.Title
	if title == "" {
		title = "New Chat"
	}
	conv := &models.Conversation{
		ID:        uuid.New().String(),
		OwnerID:   req.OwnerID,
		Title:     title,
		ShareMode: db.ShareModePrivate,
		NextSeq:   1,
	}
	if err := s.db.Create(conv).Error; err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// conversationForWrite loads the conversation and checks the caller may send
// into it. Non-owners get not-found, not forbidden, to avoid leaking ids.
func (s *ChatService) conversationForWrite(conversationID, userID string) (*models.Conversation, error) {
	var conv models.Conversation
	if err := s.db.First(&conv, "id = ?", conversationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if conv.OwnerID != userID {
		return nil, ErrConversationNotFound
	}
	return &conv, nil
}

// GetMessage loads a message and verifies the caller owns its conversation.
func (s *ChatService) GetMessage(messageID, userID string) (*models.Message, error) {
	var msg models.Message
	if err := s.db.First(&msg, "id = ?", messageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("load message: %w", err)
	}
	if _, err := s.conversationForWrite(msg.ConversationID, userID); err != nil {
		return nil, ErrMessageNotFound
	}
	return &msg, nil
}

// ========== Send ==========

// SendMessage runs one send attempt end to end: admission, idempotency,
// message-pair creation, provider invocation and finalization. idemKey may
// be empty. For streaming sends the returned assistant message is still
// pending and the caller attaches to the stream endpoint.
func (s *ChatService) SendMessage(ctx context.Context, userID, conversationID string, req *models.SendMessageRequest, idemKey string) (*models.SendMessageResponse, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, ErrEmptyContent
	}

	pcfg := s.cfg.ProviderByName(req.Model)
	if pcfg == nil {
		return nil, ErrModelNotConfigured
	}

	// Admission first: no side effect may precede these checks.
	if !s.rate.Allow(userID) {
		return nil, ErrRateLimited
	}

	var fingerprint string
	if idemKey != "" {
		fingerprint = Fingerprint(conversationID, content, req.ContextRefs)
		rec, err := s.idem.Check(userID, conversationID, idemKey, fingerprint)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			return s.replayResponse(rec)
		}
	}

	conv, err := s.conversationForWrite(conversationID, userID)
	if err != nil {
		return nil, err
	}

	contextBlocks := req.ContextRefs
	if s.resolver != nil && len(req.ContextRefs) > 0 {
		contextBlocks, err = s.resolver.Resolve(ctx, userID, req.ContextRefs)
		if err != nil {
			return nil, fmt.Errorf("resolve context refs: %w", err)
		}
	}

	history, err := s.historyTurns(conv.ID)
	if err != nil {
		return nil, err
	}
	turns, err := llm.RenderPrompt(s.cfg.SystemPrompt(), history, contextBlocks, content, s.cfg.MaxPromptChars())
	if err != nil {
		return nil, err
	}

	reservation, err := s.budget.Reserve(userID, EstimateCostCents(pcfg, promptChars(turns), s.cfg.MaxTokens()))
	if err != nil {
		return nil, err
	}

	userMsg, asstMsg, err := s.createMessagePair(conv.ID, content, idemKey)
	if err != nil {
		// Steps up to here roll back cleanly: no rows, no reservation.
		s.budget.Release(reservation)
		return nil, err
	}

	llmReq := &llm.Request{
		Model:       pcfg.Model,
		Turns:       turns,
		MaxTokens:   s.cfg.MaxTokens(),
		Temperature: s.cfg.Temperature(),
	}
	cred := llm.Credential{APIKey: pcfg.APIKey, BaseURL: pcfg.BaseURL}

	attempt := &sendAttempt{
		userID:      userID,
		pcfg:        pcfg,
		reservation: reservation,
		idemKey:     idemKey,
		fingerprint: fingerprint,
		userMsg:     userMsg,
		asstMsg:     asstMsg,
	}

	if req.Stream {
		s.startStream(conv, attempt, llmReq, cred)
		return &models.SendMessageResponse{
			ConversationID:   conv.ID,
			UserMessage:      userMsg,
			AssistantMessage: asstMsg,
			StreamPath:       "/stream/messages/" + asstMsg.ID,
		}, nil
	}

	s.invokeBlocking(ctx, conv, attempt, llmReq, cred)

	final, err := s.reloadMessage(asstMsg.ID)
	if err != nil {
		return nil, err
	}
	return &models.SendMessageResponse{
		ConversationID:   conv.ID,
		UserMessage:      userMsg,
		AssistantMessage: final,
	}, nil
}

// sendAttempt bundles everything one provider invocation needs to resolve.
type sendAttempt struct {
	userID      string
	pcfg        *config.ProviderConfig
	reservation *Reservation
	idemKey     string
	fingerprint string
	userMsg     *models.Message
	asstMsg     *models.Message
}

// createMessagePair inserts the user message and the pending assistant
// message in one transaction, both with sequence numbers from the allocator.
// The partial unique index over pending assistant rows makes a concurrent
// second send fail here atomically; that surfaces as ErrConversationBusy.
func (s *ChatService) createMessagePair(conversationID, content, idemKey string) (*db.Message, *db.Message, error) {
	var userMsg, asstMsg *db.Message

	err := s.db.Transaction(func(tx *gorm.DB) error {
		seq, err := AssignNextSeq(tx, conversationID)
		if err != nil {
			return err
		}
		userMsg = &db.Message{
			ID:             uuid.New().String(),
			ConversationID: conversationID,
			Role:           db.RoleUser,
			Status:         db.MessageStatusComplete,
			Seq:            seq,
			Content:        content,
		}
		if idemKey != "" {
			k := idemKey
			userMsg.IdempotencyKey = &k
		}
		if err := tx.Create(userMsg).Error; err != nil {
			return fmt.Errorf("insert user message: %w", err)
		}

		seq, err = AssignNextSeq(tx, conversationID)
		if err != nil {
			return err
		}
		asstMsg = &db.Message{
			ID:             uuid.New().String(),
			ConversationID: conversationID,
			Role:           db.RoleAssistant,
			Status:         db.MessageStatusPending,
			Seq:            seq,
		}
		if err := tx.Create(asstMsg).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrConversationBusy
			}
			return fmt.Errorf("insert assistant message: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return userMsg, asstMsg, nil
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// invokeBlocking runs the non-streaming provider call and resolves the
// attempt. Provider failures become a terminal error message, never an
// API-level failure.
func (s *ChatService) invokeBlocking(ctx context.Context, conv *models.Conversation, a *sendAttempt, req *llm.Request, cred llm.Credential) {
	resp, err := s.router.Generate(ctx, a.pcfg.Provider, req, cred, s.cfg.ProviderTimeout())
	if err != nil {
		s.resolveError(conv, a, string(llm.KindOf(err)), err.Error(), "")
		return
	}
	s.resolveComplete(conv, a, resp.Text, resp.Usage, resp.RequestID)
}

// resolveComplete finalizes success and settles budget and idempotency.
// When finalization lost a race (sweeper or cancel got there first) the
// reservation is released instead of committed.
func (s *ChatService) resolveComplete(conv *models.Conversation, a *sendAttempt, text string, usage *llm.Usage, requestID string) {
	applied, err := s.finalizer.Finalize(a.asstMsg.ID, CompleteOutcome(text, usageToDB(usage), requestID))
	if err != nil {
		s.logger.Error("finalize success failed", "messageID", a.asstMsg.ID, "error", err)
	}
	if applied {
		s.budget.Commit(a.reservation, ActualCostCents(a.pcfg, usage))
	} else {
		s.budget.Release(a.reservation)
	}
	if a.idemKey != "" {
		if err := s.idem.Record(a.userID, conv.ID, a.idemKey, a.fingerprint, a.userMsg.ID, a.asstMsg.ID, db.MessageStatusComplete); err != nil {
			s.logger.Error("record idempotency failed", "error", err)
		}
	}
}

// resolveError finalizes failure and settles budget and idempotency.
func (s *ChatService) resolveError(conv *models.Conversation, a *sendAttempt, code, message, partialContent string) {
	if _, err := s.finalizer.Finalize(a.asstMsg.ID, ErrorOutcome(code, message, partialContent)); err != nil {
		s.logger.Error("finalize error failed", "messageID", a.asstMsg.ID, "error", err)
	}
	s.budget.Release(a.reservation)
	if a.idemKey != "" {
		if err := s.idem.Record(a.userID, conv.ID, a.idemKey, a.fingerprint, a.userMsg.ID, a.asstMsg.ID, db.MessageStatusError); err != nil {
			s.logger.Error("record idempotency failed", "error", err)
		}
	}
}

// ========== Streaming ==========

// startStream registers a stream session and launches the producer. The
// producer runs detached from the originating request: the POST returns
// immediately and clients attach via the stream endpoint.
func (s *ChatService) startStream(conv *models.Conversation, a *sendAttempt, req *llm.Request, cred llm.Credential) {
	prodCtx, cancel := context.WithCancel(context.Background())
	session := newStreamSession(conv.ID, a.asstMsg.ID, cancel)
	s.registry.Register(session)

	s.emitter.Emit(event.StreamStartedEvent{ConversationID: conv.ID, MessageID: a.asstMsg.ID})

	go s.runStream(prodCtx, session, conv, a, req, cred)
}

func (s *ChatService) runStream(ctx context.Context, session *StreamSession, conv *models.Conversation, a *sendAttempt, req *llm.Request, cred llm.Credential) {
	defer func() {
		// Cleanup runs on every exit path, cancellation included. The
		// background context matters: ctx may already be dead here.
		if err := s.liveness.Clear(context.Background(), a.asstMsg.ID); err != nil {
			s.logger.Warn("clear liveness failed", "messageID", a.asstMsg.ID, "error", err)
		}
		session.Finish()
		s.registry.Remove(a.asstMsg.ID)
		session.Cancel()
	}()

	// Armed before the first byte. Redis being down is not fatal to the
	// stream itself; the sweeper just cannot distinguish us from a corpse.
	if err := s.liveness.Arm(ctx, a.asstMsg.ID); err != nil {
		s.logger.Warn("arm liveness failed", "messageID", a.asstMsg.ID, "error", err)
	}

	session.Publish(StreamEvent{Name: models.StreamEventMeta, Data: models.StreamMeta{
		MessageID:      a.asstMsg.ID,
		ConversationID: conv.ID,
		Model:          a.pcfg.Model,
		Seq:            a.asstMsg.Seq,
	}})

	chunks, cancelStream, err := s.router.GenerateStream(ctx, a.pcfg.Provider, req, cred, s.cfg.ProviderTimeout())
	if err != nil {
		s.failStream(session, conv, a, err, "")
		return
	}
	defer cancelStream()

	var sb strings.Builder
	for chunk := range chunks {
		switch {
		case chunk.Err != nil:
			if errors.Is(ctx.Err(), context.Canceled) {
				s.cancelStreamOutcome(session, conv, a, sb.String())
			} else {
				s.failStream(session, conv, a, chunk.Err, sb.String())
			}
			return

		case chunk.Done:
			s.resolveComplete(conv, a, sb.String(), chunk.Usage, chunk.RequestID)
			session.Publish(StreamEvent{Name: models.StreamEventDone, Data: models.StreamDone{
				MessageID:         a.asstMsg.ID,
				Content:           sb.String(),
				Usage:             usageToDB(chunk.Usage),
				ProviderRequestID: chunk.RequestID,
			}})
			return

		default:
			sb.WriteString(chunk.Delta)
			session.Publish(StreamEvent{Name: models.StreamEventDelta, Data: models.StreamDelta{Text: chunk.Delta}})
			if err := s.liveness.Refresh(ctx, a.asstMsg.ID); err != nil {
				s.logger.Warn("refresh liveness failed", "messageID", a.asstMsg.ID, "error", err)
			}
		}
	}

	// Channel closed without a terminal chunk: only happens when ctx died
	// while the router was emitting. Treat as cancellation.
	s.cancelStreamOutcome(session, conv, a, sb.String())
}

func (s *ChatService) failStream(session *StreamSession, conv *models.Conversation, a *sendAttempt, cause error, partial string) {
	code := string(llm.KindOf(cause))
	s.resolveError(conv, a, code, cause.Error(), partial)
	session.Publish(StreamEvent{Name: models.StreamEventError, Data: models.StreamError{
		MessageID: a.asstMsg.ID,
		Code:      code,
		Message:   cause.Error(),
	}})
}

func (s *ChatService) cancelStreamOutcome(session *StreamSession, conv *models.Conversation, a *sendAttempt, partial string) {
	s.resolveError(conv, a, db.ErrorCodeStreamCanceled, "stream canceled before completion", partial)
	session.Publish(StreamEvent{Name: models.StreamEventError, Data: models.StreamError{
		MessageID: a.asstMsg.ID,
		Code:      db.ErrorCodeStreamCanceled,
		Message:   "stream canceled before completion",
	}})
}

// CancelStream cancels the active producer for an assistant message. The
// producer's cleanup path finalizes the message; a finished stream is not an
// error from the caller's point of view only when it already reached a
// terminal state.
func (s *ChatService) CancelStream(messageID, userID string) error {
	if _, err := s.GetMessage(messageID, userID); err != nil {
		return err
	}
	session := s.registry.Get(messageID)
	if session == nil {
		return ErrNoActiveStream
	}
	session.Cancel()
	return nil
}

// ========== Helpers ==========

func (s *ChatService) historyTurns(conversationID string) ([]llm.Turn, error) {
	var msgs []db.Message
	err := s.db.
		Where("conversation_id = ? AND status = ? AND role IN ?",
			conversationID, db.MessageStatusComplete, []string{db.RoleUser, db.RoleAssistant}).
		Order("seq ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	turns := make([]llm.Turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, llm.Turn{Role: m.Role, Text: m.Content})
	}
	return turns, nil
}

func (s *ChatService) reloadMessage(id string) (*models.Message, error) {
	var msg models.Message
	if err := s.db.First(&msg, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("reload message %s: %w", id, err)
	}
	return &msg, nil
}

func (s *ChatService) replayResponse(rec *db.IdempotencyRecord) (*models.SendMessageResponse, error) {
	userMsg, err := s.reloadMessage(rec.UserMessageID)
	if err != nil {
		return nil, err
	}
	asstMsg, err := s.reloadMessage(rec.AssistantMessageID)
	if err != nil {
		return nil, err
	}
	return &models.SendMessageResponse{
		ConversationID:   rec.ConversationID,
		UserMessage:      userMsg,
		AssistantMessage: asstMsg,
		Replayed:         true,
	}, nil
}

func promptChars(turns []llm.Turn) int {
	total := 0
	for _, t := range turns {
		total += len(t.Text)
	}
	return total
}

func usageToDB(u *llm.Usage) *db.TokenUsage {
	if u == nil {
		return nil
	}
	return &db.TokenUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

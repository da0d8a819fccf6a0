package service

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/lumabook/lumabook/pkg/config"
	"github.com/lumabook/lumabook/pkg/db"
	"github.com/lumabook/lumabook/pkg/event"
	"github.com/lumabook/lumabook/pkg/llm"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(conn))
	return conn
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConversation(t *testing.T, conn *gorm.DB, ownerID string) *db.Conversation {
	t.Helper()
	conv := &db.Conversation{
		ID:      uuid.New().String(),
		OwnerID: ownerID,
		Title:   "test conversation",
		NextSeq: 1,
	}
	require.NoError(t, conn.Create(conv).Error)
	return conv
}

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		Providers: []config.ProviderConfig{{
			Name:                 "default",
			Provider:             "fake",
			Model:                "fake-model",
			APIKey:               "k",
			PromptCentsPer1K:     1,
			CompletionCentsPer1K: 2,
		}},
	}
}

// fakeLiveness is an in-memory LivenessStore.
type fakeLiveness struct {
	mu    sync.Mutex
	alive map[string]bool
	err   error
}

func newFakeLiveness() *fakeLiveness {
	return &fakeLiveness{alive: make(map[string]bool)}
}

func (f *fakeLiveness) Arm(_ context.Context, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.alive[messageID] = true
	return nil
}

func (f *fakeLiveness) Refresh(ctx context.Context, messageID string) error {
	return f.Arm(ctx, messageID)
}

func (f *fakeLiveness) Clear(_ context.Context, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	delete(f.alive, messageID)
	return nil
}

func (f *fakeLiveness) IsAlive(_ context.Context, messageID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	return f.alive[messageID], nil
}

// scriptedProvider drives ChatService tests without a real backend. It
// records the last request it saw.
type scriptedProvider struct {
	resp   *llm.Response
	err    error
	chunks []llm.Chunk

	mu      sync.Mutex
	lastReq *llm.Request
}

func (p *scriptedProvider) Name() string { return "fake" }

func (p *scriptedProvider) record(req *llm.Request) {
	p.mu.Lock()
	p.lastReq = req
	p.mu.Unlock()
}

func (p *scriptedProvider) lastRequest() *llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastReq
}

func (p *scriptedProvider) Generate(ctx context.Context, req *llm.Request, cred llm.Credential) (*llm.Response, error) {
	p.record(req)
	if p.err != nil {
		return nil, p.err
	}
	return p.resp, nil
}

func (p *scriptedProvider) GenerateStream(ctx context.Context, req *llm.Request, cred llm.Credential) (<-chan llm.Chunk, error) {
	p.record(req)
	if p.err != nil {
		return nil, p.err
	}
	out := make(chan llm.Chunk, len(p.chunks))
	go func() {
		defer close(out)
		for _, c := range p.chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func newTestChatService(t *testing.T, conn *gorm.DB, provider llm.Provider) (*ChatService, *BudgetReserver, *fakeLiveness) {
	t.Helper()
	cfg := testConfig()
	emitter := event.NewEmitter()
	liveness := newFakeLiveness()
	budget := NewBudgetReserver(cfg.MonthlyBudgetCents())

	router := llm.NewRouter()
	router.Register(provider)

	svc := NewChatService(
		conn,
		cfg,
		router,
		NewRateLimiter(cfg.RequestsPerMinute()),
		budget,
		NewIdempotencyGuard(conn),
		liveness,
		NewFinalizer(conn, emitter, testLogger()),
		NewStreamRegistry(),
		emitter,
		testLogger(),
	)
	return svc, budget, liveness
}

package service

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lumabook/lumabook/pkg/config"
	"github.com/lumabook/lumabook/pkg/llm"
)

var (
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrBudgetExceeded = errors.New("budget exceeded")
)

// ========== Rate limiter ==========

// RateLimiter is a per-user token bucket. A rejected request is rejected,
// never queued; backpressure goes to the caller.
type rateBucket struct {
	tokens     float64
	lastRefill time.Time
}

type RateLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*rateBucket
	capacity float64
	perSec   float64 // refill rate, tokens per second
	now      func() time.Time
}

func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	return &RateLimiter{
		buckets:  make(map[string]*rateBucket),
		capacity: float64(requestsPerMinute),
		perSec:   float64(requestsPerMinute) / 60.0,
		now:      time.Now,
	}
}

// Allow consumes one token from the user's bucket if available.
func (l *RateLimiter) Allow(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[userID]
	if !ok {
		b = &rateBucket{tokens: l.capacity, lastRefill: now}
		l.buckets[userID] = b
	}

	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * l.perSec
		if b.tokens > l.capacity {
			b.tokens = l.capacity
		}
		b.lastRefill = now
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// ========== Budget reserver ==========

// Reservation is a provisional hold against a user's spend ceiling. It must
// be resolved (committed or released) exactly once per send attempt.
type Reservation struct {
	ID       string
	UserID   string
	Cents    int64
	resolved bool
}

// BudgetReserver tracks committed spend and outstanding holds per user
// against a fixed ceiling. Three phases: Reserve (provisional hold), Commit
// (convert to final charge with actual usage), Release (undo the hold).
type BudgetReserver struct {
	mu           sync.Mutex
	ceilingCents int64
	committed    map[string]int64
	held         map[string]int64
	reservations map[string]*Reservation
}

func NewBudgetReserver(ceilingCents int64) *BudgetReserver {
	return &BudgetReserver{
		ceilingCents: ceilingCents,
		committed:    make(map[string]int64),
		held:         make(map[string]int64),
		reservations: make(map[string]*Reservation),
	}
}

// Reserve places a hold. Fails when committed spend plus outstanding holds
// plus the new hold would exceed the ceiling.
func (b *BudgetReserver) Reserve(userID string, cents int64) (*Reservation, error) {
	if cents < 1 {
		cents = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.committed[userID]+b.held[userID]+cents > b.ceilingCents {
		return nil, ErrBudgetExceeded
	}

	res := &Reservation{ID: uuid.New().String(), UserID: userID, Cents: cents}
	b.held[userID] += cents
	b.reservations[res.ID] = res
	return res, nil
}

// Commit converts the hold into a final charge priced from actual usage.
// A second resolution of the same reservation is a no-op.
func (b *BudgetReserver) Commit(res *Reservation, actualCents int64) {
	if res == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if res.resolved {
		return
	}
	res.resolved = true
	delete(b.reservations, res.ID)
	b.held[res.UserID] -= res.Cents
	if actualCents < 0 {
		actualCents = res.Cents
	}
	b.committed[res.UserID] += actualCents
}

// Release undoes the hold without charging.
func (b *BudgetReserver) Release(res *Reservation) {
	if res == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if res.resolved {
		return
	}
	res.resolved = true
	delete(b.reservations, res.ID)
	b.held[res.UserID] -= res.Cents
}

// CommittedCents reports the user's committed spend.
func (b *BudgetReserver) CommittedCents(userID string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.committed[userID]
}

// ========== Cost model ==========

// EstimateCostCents prices a send attempt before invocation: the prompt at
// roughly four characters per token plus the full completion budget.
func EstimateCostCents(p *config.ProviderConfig, promptChars, maxTokens int) int64 {
	promptTokens := float64(promptChars) / 4.0
	cents := promptTokens/1000.0*p.PromptCentsPer1K +
		float64(maxTokens)/1000.0*p.CompletionCentsPer1K
	if cents < 1 {
		return 1
	}
	return int64(cents + 0.5)
}

// ActualCostCents prices confirmed usage. Falls back to -1 (charge the
// reserved amount) when the provider reported nothing.
func ActualCostCents(p *config.ProviderConfig, usage *llm.Usage) int64 {
	if usage == nil {
		return -1
	}
	cents := float64(usage.PromptTokens)/1000.0*p.PromptCentsPer1K +
		float64(usage.CompletionTokens)/1000.0*p.CompletionCentsPer1K
	if cents < 1 {
		return 1
	}
	return int64(cents + 0.5)
}

// Package ratebudget implements the per-provider token-bucket rate limiter
// the Scheduler consults before dispatching a collection task. It is plain
// stdlib (sync.Mutex) — see DESIGN.md for why no third-party limiter from the
// pack was a better fit than a dozen lines of mutex-guarded arithmetic.
package ratebudget

import (
	"context"
	"sync"
	"time"

	"github.com/sqryxz/mts-pipeline/internal/clock"
)

// pollInterval is how often a blocking Acquire re-checks the bucket while
// waiting for a refill; small enough not to blow past a tight deadline, and
// fixed rather than derived from refill rate to keep behavior predictable.
const pollInterval = 10 * time.Millisecond

// Budget is a single provider's token bucket: capacity tokens, refilled
// continuously at refillPerMs, never exceeding capacity.
type Budget struct {
	mu           sync.Mutex
	capacity     float64
	refillPerMs  float64
	tokens       float64
	lastRefillMs int64
	clk          clock.Clock
}

// NewBudget creates a Budget starting full, refilling at
// capacity/windowMs per millisecond.
func NewBudget(clk clock.Clock, capacity float64, windowMs int64) *Budget {
	if windowMs <= 0 {
		windowMs = 1
	}
	return &Budget{
		capacity:     capacity,
		refillPerMs:  capacity / float64(windowMs),
		tokens:       capacity,
		lastRefillMs: clk.NowMs(),
		clk:          clk,
	}
}

func (b *Budget) refillLocked(nowMs int64) {
	if nowMs <= b.lastRefillMs {
		return
	}
	elapsed := float64(nowMs - b.lastRefillMs)
	b.tokens += elapsed * b.refillPerMs
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefillMs = nowMs
}

// TryAcquire attempts to spend n tokens immediately, returning false without
// side effects if insufficient tokens are currently available.
func (b *Budget) TryAcquire(n float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(b.clk.NowMs())
	if b.tokens < n {
		return false
	}
	b.tokens -= n
	return true
}

// Acquire blocks until n tokens are available, the context is cancelled, or
// deadlineMs (epoch milliseconds, per this system's timestamp convention) is
// reached — whichever comes first. Returns false on cancellation/deadline.
func (b *Budget) Acquire(ctx context.Context, n float64, deadlineMs int64) bool {
	if b.TryAcquire(n) {
		return true
	}
	for {
		if b.clk.NowMs() >= deadlineMs {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-b.clk.After(pollInterval):
		}
		if b.TryAcquire(n) {
			return true
		}
	}
}

// Available reports the current token count, for health/metrics reporting.
func (b *Budget) Available() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(b.clk.NowMs())
	return b.tokens
}

// Manager owns one Budget per provider_id, created lazily on first use.
type Manager struct {
	mu      sync.Mutex
	clk     clock.Clock
	budgets map[string]*Budget
	// defaults applied when a provider has no explicit configuration
	defaultCapacity float64
	defaultWindowMs int64
	perProvider     map[string]providerLimit
}

type providerLimit struct {
	capacity float64
	windowMs int64
}

// NewManager creates a Manager with a fallback default limit applied to any
// provider_id not explicitly configured via Configure.
func NewManager(clk clock.Clock, defaultCapacity float64, defaultWindowMs int64) *Manager {
	return &Manager{
		clk:             clk,
		budgets:         make(map[string]*Budget),
		defaultCapacity: defaultCapacity,
		defaultWindowMs: defaultWindowMs,
		perProvider:     make(map[string]providerLimit),
	}
}

// Configure sets an explicit capacity/window for a provider before it is
// first used; calling it after the budget has been created has no effect on
// the already-created bucket.
func (m *Manager) Configure(providerID string, capacity float64, windowMs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.perProvider[providerID] = providerLimit{capacity: capacity, windowMs: windowMs}
}

// TryAcquire attempts to spend 1 token from the named provider's budget
// without blocking, creating the budget on first reference.
func (m *Manager) TryAcquire(providerID string) bool {
	return m.budgetFor(providerID).TryAcquire(1)
}

// Acquire blocks until a token is available from the named provider's
// budget, the context is cancelled, or deadlineMs passes.
func (m *Manager) Acquire(ctx context.Context, providerID string, deadlineMs int64) bool {
	return m.budgetFor(providerID).Acquire(ctx, 1, deadlineMs)
}

// Available reports the current token count for a provider's budget.
func (m *Manager) Available(providerID string) float64 {
	return m.budgetFor(providerID).Available()
}

func (m *Manager) budgetFor(providerID string) *Budget {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.budgets[providerID]; ok {
		return b
	}
	capacity, windowMs := m.defaultCapacity, m.defaultWindowMs
	if lim, ok := m.perProvider[providerID]; ok {
		capacity, windowMs = lim.capacity, lim.windowMs
	}
	b := NewBudget(m.clk, capacity, windowMs)
	m.budgets[providerID] = b
	return b
}

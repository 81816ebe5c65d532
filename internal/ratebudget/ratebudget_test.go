package ratebudget

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqryxz/mts-pipeline/internal/clock"
)

func TestBudget_TryAcquire_SpendsAndRefills(t *testing.T) {
	fake := clock.NewFake(0)
	b := NewBudget(fake, 2, 1000) // 2 tokens per 1000ms => refill 0.002/ms

	assert.True(t, b.TryAcquire(1))
	assert.True(t, b.TryAcquire(1))
	assert.False(t, b.TryAcquire(1), "bucket should be empty after spending full capacity")

	fake.Set(1000)
	assert.True(t, b.TryAcquire(1), "a full window's elapse should refill at least one token")
}

func TestBudget_TryAcquire_NeverExceedsCapacity(t *testing.T) {
	fake := clock.NewFake(0)
	b := NewBudget(fake, 1, 100)

	fake.Set(1_000_000)
	assert.InDelta(t, 1.0, b.Available(), 1e-9, "refill must cap at capacity however long the elapsed idle period")
}

func TestBudget_Acquire_ReturnsFalseOnContextCancellation(t *testing.T) {
	fake := clock.NewFake(0)
	b := NewBudget(fake, 1, 1000)
	require.True(t, b.TryAcquire(1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, b.Acquire(ctx, 1, fake.NowMs()+10_000))
}

func TestBudget_Acquire_ReturnsFalseAtDeadline(t *testing.T) {
	fake := clock.NewFake(0)
	b := NewBudget(fake, 1, 1000)
	require.True(t, b.TryAcquire(1))

	assert.False(t, b.Acquire(context.Background(), 1, fake.NowMs()))
}

func TestManager_ConfigurePerProviderLimit(t *testing.T) {
	fake := clock.NewFake(0)
	m := NewManager(fake, 100, 1000)
	m.Configure("market_data", 1, 1000)

	assert.True(t, m.TryAcquire("market_data"))
	assert.False(t, m.TryAcquire("market_data"), "the configured 1-token capacity should be exhausted after one spend")

	assert.True(t, m.TryAcquire("unconfigured_provider"), "a provider with no explicit Configure call should use the default budget")
}

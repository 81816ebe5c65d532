package notify

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqryxz/mts-pipeline/internal/domain"
)

func TestNewLogChannel_NeverFails(t *testing.T) {
	ch := NewLogChannel(zerolog.Nop(), 60_000)
	assert.Equal(t, "log", ch.ID)

	err := ch.Deliver(context.Background(), domain.AggregatedSignal{AssetID: "BTC", Direction: domain.DirectionLong})
	require.NoError(t, err)
}

func TestNewWebSocketChannel_DeliversThroughHub(t *testing.T) {
	hub := NewHub()
	ch := NewWebSocketChannel(hub, 60_000, 3, 5_000)
	assert.Equal(t, "websocket", ch.ID)
	assert.Equal(t, 3, ch.MaxRetries)

	err := ch.Deliver(context.Background(), domain.AggregatedSignal{AssetID: "BTC"})
	require.NoError(t, err)
}

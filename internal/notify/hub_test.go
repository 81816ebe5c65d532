package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqryxz/mts-pipeline/internal/domain"
)

func TestHub_Broadcast_NoSubscribersIsNotAnError(t *testing.T) {
	h := NewHub()
	err := h.Broadcast(context.Background(), domain.AggregatedSignal{AssetID: "BTC"})
	require.NoError(t, err)
	assert.Equal(t, 0, h.ConnectionCount())
}

func TestHub_RegisterAndUnregister_TracksConnectionCount(t *testing.T) {
	h := NewHub()
	unregister := h.Register(nil)
	assert.Equal(t, 1, h.ConnectionCount())

	unregister()
	assert.Equal(t, 0, h.ConnectionCount())
}

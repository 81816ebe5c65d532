package notify

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/sqryxz/mts-pipeline/internal/domain"
)

// NewLogChannel builds the always-on log notification channel: it emits a
// structured zerolog line per signal and never fails, the way the teacher
// treats its own structured logging as a zero-dependency sink of last
// resort.
func NewLogChannel(log zerolog.Logger, minIntervalMs int64) Channel {
	l := log.With().Str("component", "notify.log").Logger()
	return Channel{
		ID:            "log",
		MinIntervalMs: minIntervalMs,
		MaxRetries:    0,
		TimeoutMs:     1000,
		Deliver: func(ctx context.Context, signal domain.AggregatedSignal) error {
			l.Info().
				Str("asset", signal.AssetID).
				Str("direction", string(signal.Direction)).
				Float64("confidence", signal.Confidence).
				Str("strength", string(signal.Strength)).
				Float64("price", signal.PriceAtGeneration).
				Float64("position_size", signal.PositionSize).
				Strs("contributors", signal.Contributors).
				Str("cycle_id", signal.CycleID).
				Msg("aggregated signal")
			return nil
		},
	}
}

// NewWebSocketChannel builds the streaming notification channel backed by
// Hub.Broadcast.
func NewWebSocketChannel(hub *Hub, minIntervalMs int64, maxRetries int, timeoutMs int64) Channel {
	return Channel{
		ID:            "websocket",
		MinIntervalMs: minIntervalMs,
		MaxRetries:    maxRetries,
		TimeoutMs:     timeoutMs,
		Deliver: func(ctx context.Context, signal domain.AggregatedSignal) error {
			return hub.Broadcast(ctx, signal)
		},
	}
}

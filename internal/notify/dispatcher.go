// Package notify implements the NotificationDispatcher: a bounded queue
// feeding per-channel delivery with cooldown, dedup, and retry-with-backoff,
// grounded on the teacher's reconnect/backoff shape in
// clients/tradernet/websocket_client.go (calculateBackoff) and its
// context-driven worker-pool pattern from evaluation/worker_pool.go.
package notify

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sqryxz/mts-pipeline/internal/domain"
)

// Channel is a registered notification sink.
type Channel struct {
	ID            string
	Filter        domain.ChannelFilter
	MinIntervalMs int64
	MaxRetries    int
	TimeoutMs     int64
	Deliver       domain.DeliverFunc
}

// Dispatcher consumes AggregatedSignals from a bounded in-memory queue and
// fans each one out to every registered channel (§4.9).
type Dispatcher struct {
	queue    chan domain.AggregatedSignal
	channels []Channel
	log      zerolog.Logger

	mu            sync.Mutex
	lastDelivered map[string]int64           // key: channelID+"|"+assetID
	lastDelivery  map[string]deliveryFingerprint
}

// deliveryFingerprint is the dedup tuple from §4.9 step 3: (channel, asset,
// direction, round(price, precision)).
type deliveryFingerprint struct {
	direction     domain.Direction
	roundedPrice  float64
}

const pricePrecision = 2

// Config wires a Dispatcher.
type Config struct {
	QueueCapacity int
	Channels      []Channel
	Logger        zerolog.Logger
}

// New builds a Dispatcher. QueueCapacity bounds the producer's backpressure
// (the Aggregator blocks on Enqueue once the queue is full).
func New(cfg Config) *Dispatcher {
	cap := cfg.QueueCapacity
	if cap <= 0 {
		cap = 256
	}
	return &Dispatcher{
		queue:         make(chan domain.AggregatedSignal, cap),
		channels:      cfg.Channels,
		log:           cfg.Logger.With().Str("component", "notify").Logger(),
		lastDelivered: make(map[string]int64),
		lastDelivery:  make(map[string]deliveryFingerprint),
	}
}

// Enqueue hands a signal to the dispatcher, blocking if the queue is full
// (applies backpressure up to the Aggregator per §4.9) or returning false
// if ctx is cancelled first.
func (d *Dispatcher) Enqueue(ctx context.Context, signal domain.AggregatedSignal) bool {
	select {
	case d.queue <- signal:
		return true
	case <-ctx.Done():
		return false
	}
}

// Run drains the queue until ctx is cancelled, dispatching each signal to
// every channel concurrently (one goroutine per channel per signal, bounded
// by the channel count — delivery itself is I/O-bound and short-lived).
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case signal := <-d.queue:
			d.fanOut(ctx, signal)
		}
	}
}

func (d *Dispatcher) fanOut(ctx context.Context, signal domain.AggregatedSignal) {
	var wg sync.WaitGroup
	for _, ch := range d.channels {
		ch := ch
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.deliverToChannel(ctx, ch, signal)
		}()
	}
	wg.Wait()
}

func (d *Dispatcher) deliverToChannel(ctx context.Context, ch Channel, signal domain.AggregatedSignal) {
	if ch.Filter != nil && !ch.Filter(signal) {
		return
	}

	if d.withinCooldown(ch.ID, signal) {
		return
	}
	if d.isDuplicate(ch.ID, signal) {
		return
	}

	timeout := time.Duration(ch.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	maxRetries := ch.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		deliverCtx, cancel := context.WithTimeout(ctx, timeout)
		lastErr = ch.Deliver(deliverCtx, signal)
		cancel()
		if lastErr == nil {
			d.recordDelivery(ch.ID, signal)
			return
		}

		d.log.Warn().
			Str("channel", ch.ID).
			Str("asset", signal.AssetID).
			Int("attempt", attempt+1).
			Err(lastErr).
			Msg("delivery attempt failed")

		if attempt < maxRetries {
			select {
			case <-time.After(backoff(attempt)):
			case <-ctx.Done():
				return
			}
		}
	}

	d.log.Error().
		Str("channel", ch.ID).
		Str("asset", signal.AssetID).
		Err(lastErr).
		Msg("delivery permanently failed, giving up for this signal")
}

func backoff(attempt int) time.Duration {
	base := 500 * time.Millisecond
	delay := float64(base) * math.Pow(2, float64(attempt))
	capped := 30 * time.Second
	if time.Duration(delay) > capped {
		return capped
	}
	return time.Duration(delay)
}

func cooldownKey(channelID, assetID string) string {
	return channelID + "|" + assetID
}

func (d *Dispatcher) withinCooldown(channelID string, signal domain.AggregatedSignal) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	last, ok := d.lastDelivered[cooldownKey(channelID, signal.AssetID)]
	if !ok {
		return false
	}
	minInterval := d.minIntervalFor(channelID)
	return signal.TimestampMs-last < minInterval
}

func (d *Dispatcher) minIntervalFor(channelID string) int64 {
	for _, ch := range d.channels {
		if ch.ID == channelID {
			return ch.MinIntervalMs
		}
	}
	return 0
}

func (d *Dispatcher) isDuplicate(channelID string, signal domain.AggregatedSignal) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := cooldownKey(channelID, signal.AssetID)
	fp := deliveryFingerprint{direction: signal.Direction, roundedPrice: roundTo(signal.PriceAtGeneration, pricePrecision)}
	prev, ok := d.lastDelivery[key]
	return ok && prev == fp
}

func (d *Dispatcher) recordDelivery(channelID string, signal domain.AggregatedSignal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := cooldownKey(channelID, signal.AssetID)
	d.lastDelivered[key] = signal.TimestampMs
	d.lastDelivery[key] = deliveryFingerprint{direction: signal.Direction, roundedPrice: roundTo(signal.PriceAtGeneration, pricePrecision)}
}

func roundTo(v float64, places int) float64 {
	mult := math.Pow(10, float64(places))
	return math.Round(v*mult) / mult
}

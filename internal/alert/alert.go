// Package alert implements the AlertEmitter: one self-contained JSON record
// per emitted AggregatedSignal, written file-per-record the way the teacher
// writes one backup file per database rather than a single shared blob
// (reliability/backup_service.go).
package alert

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sqryxz/mts-pipeline/internal/domain"
)

// Emitter writes AggregatedSignals meeting the emit threshold to the alert
// store as individual JSON files.
type Emitter struct {
	dir           string
	emitThreshold float64
	log           zerolog.Logger

	mu       sync.Mutex
	seqBySec map[string]int // disambiguates same-second writes per (category,asset,second)
}

// Config wires an Emitter.
type Config struct {
	Dir           string
	EmitThreshold float64
	Logger        zerolog.Logger
}

// New creates the alert directory if needed and returns an Emitter.
func New(cfg Config) (*Emitter, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("alert: create dir: %w", err)
	}
	return &Emitter{
		dir:           cfg.Dir,
		emitThreshold: cfg.EmitThreshold,
		log:           cfg.Logger.With().Str("component", "alert").Logger(),
		seqBySec:      make(map[string]int),
	}, nil
}

// record is the on-disk JSON shape, matching spec.md §6's minimum fields.
type record struct {
	TimestampMs  int64                  `json:"timestamp_ms"`
	CycleID      string                 `json:"cycle_id"`
	Asset        string                 `json:"asset"`
	Direction    domain.Direction       `json:"direction"`
	Confidence   float64                `json:"confidence"`
	Strength     domain.Strength        `json:"strength"`
	Price        float64                `json:"price"`
	PositionSize float64                `json:"position_size"`
	StopLoss     float64                `json:"stop_loss"`
	TakeProfit   float64                `json:"take_profit"`
	Contributors []string               `json:"contributors"`
	Method       domain.AggregationMethod `json:"method"`
	Context      map[string]any         `json:"context,omitempty"`
}

const category = "signal"

// EmitAll writes one record per signal whose confidence meets the emit
// threshold (applied uniformly across LONG/SHORT/NEUTRAL per spec.md §9's
// resolved Open Question), logging and continuing past any single write
// failure so one bad path never blocks the rest of the batch.
func (e *Emitter) EmitAll(signals []domain.AggregatedSignal) {
	for _, s := range signals {
		if s.Confidence < e.emitThreshold {
			continue
		}
		if err := e.emit(s); err != nil {
			e.log.Error().Err(err).Str("asset", s.AssetID).Msg("failed to write alert record")
		}
	}
}

func (e *Emitter) emit(s domain.AggregatedSignal) error {
	rec := record{
		TimestampMs:  s.TimestampMs,
		CycleID:      s.CycleID,
		Asset:        s.AssetID,
		Direction:    s.Direction,
		Confidence:   s.Confidence,
		Strength:     s.Strength,
		Price:        s.PriceAtGeneration,
		PositionSize: s.PositionSize,
		StopLoss:     s.StopLoss,
		TakeProfit:   s.TakeProfit,
		Contributors: s.Contributors,
		Method:       s.Method,
		Context:      s.Context,
	}

	body, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	path := e.nextPath(category, s.AssetID, time.UnixMilli(s.TimestampMs).UTC())
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// nextPath names the file {category}_{asset}_{yyyymmdd_hhmmss}.{seq}.json,
// incrementing seq for repeat calls within the same wall-clock second.
func (e *Emitter) nextPath(category, asset string, t time.Time) string {
	stamp := t.Format("20060102_150405")
	key := category + "_" + asset + "_" + stamp

	e.mu.Lock()
	e.seqBySec[key]++
	seq := e.seqBySec[key]
	e.mu.Unlock()

	name := fmt.Sprintf("%s_%s_%s.%d.json", category, asset, stamp, seq)
	return filepath.Join(e.dir, name)
}

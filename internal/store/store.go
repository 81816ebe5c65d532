package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sqryxz/mts-pipeline/internal/domain"
)

// Store is the append-only, deduplicated observation store: §4.1's put /
// latest_timestamp / range / health contract over three tables — dedicated
// ohlcv and macro tables matching SPEC_FULL.md §6's conceptual schema, and a
// generic observations table for any other payload kind (order books today).
type Store struct {
	db *DB
}

// New wraps an opened DB and ensures the schema exists.
func New(db *DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ohlcv (
			series_id TEXT NOT NULL,
			timestamp_ms INTEGER NOT NULL,
			open REAL NOT NULL,
			high REAL NOT NULL,
			low REAL NOT NULL,
			close REAL NOT NULL,
			volume REAL NOT NULL,
			inserted_at INTEGER NOT NULL,
			PRIMARY KEY (series_id, timestamp_ms)
		)`,
		`CREATE TABLE IF NOT EXISTS macro (
			series_id TEXT NOT NULL,
			indicator TEXT NOT NULL,
			timestamp_ms INTEGER NOT NULL,
			date_yyyymmdd TEXT NOT NULL,
			value REAL NOT NULL,
			inserted_at INTEGER NOT NULL,
			PRIMARY KEY (series_id, timestamp_ms)
		)`,
		`CREATE TABLE IF NOT EXISTS observations (
			series_id TEXT NOT NULL,
			timestamp_ms INTEGER NOT NULL,
			kind TEXT NOT NULL,
			payload_json TEXT NOT NULL,
			inserted_at INTEGER NOT NULL,
			PRIMARY KEY (series_id, timestamp_ms)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_macro_indicator_date ON macro(indicator, date_yyyymmdd)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Conn().Exec(stmt); err != nil {
			return &FatalError{Op: "migrate", Err: err}
		}
	}
	return nil
}

// Put inserts observations, skipping any whose (series_id, timestamp_ms)
// already exists. The whole batch is one transaction: all-or-nothing on
// failure. Returns the number of rows actually newly inserted.
func (s *Store) Put(observations []domain.Observation) (int, error) {
	if len(observations) == 0 {
		return 0, nil
	}
	inserted := 0
	now := time.Now().UnixMilli()

	err := WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
		for _, obs := range observations {
			n, err := putOne(tx, obs, now)
			if err != nil {
				return err
			}
			inserted += n
		}
		return nil
	})
	if err != nil {
		return 0, &TransientError{Op: "put", Err: err}
	}
	return inserted, nil
}

func putOne(tx *sql.Tx, obs domain.Observation, now int64) (int, error) {
	switch obs.Kind {
	case domain.PayloadOHLCV:
		if obs.OHLCV == nil {
			return 0, fmt.Errorf("observation %s@%d: kind ohlcv but no OHLCV payload", obs.SeriesID, obs.TimestampMs)
		}
		res, err := tx.Exec(
			`INSERT OR IGNORE INTO ohlcv (series_id, timestamp_ms, open, high, low, close, volume, inserted_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			obs.SeriesID, obs.TimestampMs, obs.OHLCV.Open, obs.OHLCV.High, obs.OHLCV.Low, obs.OHLCV.Close, obs.OHLCV.Volume, now,
		)
		if err != nil {
			return 0, err
		}
		return rowsAffected(res), nil

	case domain.PayloadMacro:
		if obs.Macro == nil {
			return 0, fmt.Errorf("observation %s@%d: kind macro but no MacroValue payload", obs.SeriesID, obs.TimestampMs)
		}
		indicator, dateYYYYMMDD := macroKeyParts(obs.SeriesID, obs.TimestampMs)
		res, err := tx.Exec(
			`INSERT OR IGNORE INTO macro (series_id, indicator, timestamp_ms, date_yyyymmdd, value, inserted_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			obs.SeriesID, indicator, obs.TimestampMs, dateYYYYMMDD, obs.Macro.Value, now,
		)
		if err != nil {
			return 0, err
		}
		return rowsAffected(res), nil

	default:
		payload, err := json.Marshal(obs)
		if err != nil {
			return 0, fmt.Errorf("marshal observation %s@%d: %w", obs.SeriesID, obs.TimestampMs, err)
		}
		res, err := tx.Exec(
			`INSERT OR IGNORE INTO observations (series_id, timestamp_ms, kind, payload_json, inserted_at)
			 VALUES (?, ?, ?, ?, ?)`,
			obs.SeriesID, obs.TimestampMs, string(obs.Kind), string(payload), now,
		)
		if err != nil {
			return 0, err
		}
		return rowsAffected(res), nil
	}
}

func rowsAffected(res sql.Result) int {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return int(n)
}

func macroKeyParts(seriesID string, timestampMs int64) (indicator, dateYYYYMMDD string) {
	indicator = seriesID
	for i := 0; i < len(seriesID); i++ {
		if seriesID[i] == ':' {
			indicator = seriesID[i+1:]
			break
		}
	}
	t := time.UnixMilli(timestampMs).UTC()
	dateYYYYMMDD = t.Format("20060102")
	return indicator, dateYYYYMMDD
}

// LatestTimestamp returns the newest timestamp_ms for a series, or nil if
// the series has no rows in any table.
func (s *Store) LatestTimestamp(seriesID string) (*int64, error) {
	query := `
		SELECT MAX(ts) FROM (
			SELECT MAX(timestamp_ms) AS ts FROM ohlcv WHERE series_id = ?
			UNION ALL
			SELECT MAX(timestamp_ms) FROM macro WHERE series_id = ?
			UNION ALL
			SELECT MAX(timestamp_ms) FROM observations WHERE series_id = ?
		)`
	var ts sql.NullInt64
	err := s.db.Conn().QueryRow(query, seriesID, seriesID, seriesID).Scan(&ts)
	if err != nil {
		return nil, &TransientError{Op: "latest_timestamp", Err: err}
	}
	if !ts.Valid {
		return nil, nil
	}
	v := ts.Int64
	return &v, nil
}

// Range returns all observations for seriesID with t_lo <= timestamp_ms <=
// t_hi, strictly increasing by timestamp.
func (s *Store) Range(seriesID string, tLoMs, tHiMs int64) ([]domain.Observation, error) {
	var out []domain.Observation

	rows, err := s.db.Conn().Query(
		`SELECT timestamp_ms, open, high, low, close, volume FROM ohlcv
		 WHERE series_id = ? AND timestamp_ms BETWEEN ? AND ? ORDER BY timestamp_ms ASC`,
		seriesID, tLoMs, tHiMs,
	)
	if err != nil {
		return nil, &TransientError{Op: "range:ohlcv", Err: err}
	}
	for rows.Next() {
		var o domain.OHLCV
		var ts int64
		if err := rows.Scan(&ts, &o.Open, &o.High, &o.Low, &o.Close, &o.Volume); err != nil {
			rows.Close()
			return nil, &TransientError{Op: "range:ohlcv:scan", Err: err}
		}
		out = append(out, domain.Observation{SeriesID: seriesID, TimestampMs: ts, Kind: domain.PayloadOHLCV, OHLCV: &o})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, &TransientError{Op: "range:ohlcv:rows", Err: err}
	}

	rows, err = s.db.Conn().Query(
		`SELECT timestamp_ms, value FROM macro
		 WHERE series_id = ? AND timestamp_ms BETWEEN ? AND ? ORDER BY timestamp_ms ASC`,
		seriesID, tLoMs, tHiMs,
	)
	if err != nil {
		return nil, &TransientError{Op: "range:macro", Err: err}
	}
	for rows.Next() {
		var v float64
		var ts int64
		if err := rows.Scan(&ts, &v); err != nil {
			rows.Close()
			return nil, &TransientError{Op: "range:macro:scan", Err: err}
		}
		out = append(out, domain.Observation{SeriesID: seriesID, TimestampMs: ts, Kind: domain.PayloadMacro, Macro: &domain.MacroValue{Value: v}})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, &TransientError{Op: "range:macro:rows", Err: err}
	}

	rows, err = s.db.Conn().Query(
		`SELECT timestamp_ms, kind, payload_json FROM observations
		 WHERE series_id = ? AND timestamp_ms BETWEEN ? AND ? ORDER BY timestamp_ms ASC`,
		seriesID, tLoMs, tHiMs,
	)
	if err != nil {
		return nil, &TransientError{Op: "range:observations", Err: err}
	}
	for rows.Next() {
		var ts int64
		var kind, payload string
		if err := rows.Scan(&ts, &kind, &payload); err != nil {
			rows.Close()
			return nil, &TransientError{Op: "range:observations:scan", Err: err}
		}
		var obs domain.Observation
		if err := json.Unmarshal([]byte(payload), &obs); err != nil {
			rows.Close()
			return nil, &TransientError{Op: "range:observations:unmarshal", Err: err}
		}
		out = append(out, obs)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, &TransientError{Op: "range:observations:rows", Err: err}
	}

	sortObservationsByTimestamp(out)
	return out, nil
}

func sortObservationsByTimestamp(obs []domain.Observation) {
	for i := 1; i < len(obs); i++ {
		for j := i; j > 0 && obs[j-1].TimestampMs > obs[j].TimestampMs; j-- {
			obs[j-1], obs[j] = obs[j], obs[j-1]
		}
	}
}

// SeriesHealth is one series' row in the Store.Health snapshot.
type SeriesHealth struct {
	Count     int64
	LatestTs  *int64
}

// Health returns count and latest_ts per series across all three tables.
func (s *Store) Health() (map[string]SeriesHealth, error) {
	out := make(map[string]SeriesHealth)
	queries := []string{
		`SELECT series_id, COUNT(*), MAX(timestamp_ms) FROM ohlcv GROUP BY series_id`,
		`SELECT series_id, COUNT(*), MAX(timestamp_ms) FROM macro GROUP BY series_id`,
		`SELECT series_id, COUNT(*), MAX(timestamp_ms) FROM observations GROUP BY series_id`,
	}
	for _, q := range queries {
		rows, err := s.db.Conn().Query(q)
		if err != nil {
			return nil, &TransientError{Op: "health", Err: err}
		}
		for rows.Next() {
			var seriesID string
			var count int64
			var latest sql.NullInt64
			if err := rows.Scan(&seriesID, &count, &latest); err != nil {
				rows.Close()
				return nil, &TransientError{Op: "health:scan", Err: err}
			}
			entry := out[seriesID]
			entry.Count += count
			if latest.Valid {
				v := latest.Int64
				if entry.LatestTs == nil || v > *entry.LatestTs {
					entry.LatestTs = &v
				}
			}
			out[seriesID] = entry
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, &TransientError{Op: "health:rows", Err: err}
		}
	}
	return out, nil
}

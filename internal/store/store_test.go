package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqryxz/mts-pipeline/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(Config{Path: filepath.Join(dir, "observations.db"), Profile: ProfileStandard})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s, err := New(db)
	require.NoError(t, err)
	return s
}

func ohlcv(seriesID string, ts int64, close float64) domain.Observation {
	return domain.Observation{
		SeriesID: seriesID, TimestampMs: ts, Kind: domain.PayloadOHLCV,
		OHLCV: &domain.OHLCV{Open: close, High: close, Low: close, Close: close, Volume: 1},
	}
}

// Invariant 1: store idempotence. Overlapping (series_id, timestamp) puts
// dedupe to the union of inputs; the returned count is only newly inserted
// rows.
func TestStore_Put_Idempotent(t *testing.T) {
	s := openTestStore(t)

	first := []domain.Observation{ohlcv("btc_ohlcv", 0, 100), ohlcv("btc_ohlcv", 900000, 101)}
	n, err := s.Put(first)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	overlapping := []domain.Observation{ohlcv("btc_ohlcv", 900000, 999), ohlcv("btc_ohlcv", 1800000, 102)}
	n, err = s.Put(overlapping)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "the row at ts=900000 already existed and must not be recounted")

	rows, err := s.Range("btc_ohlcv", 0, 1800000)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, float64(101), rows[1].OHLCV.Close, "first write for a timestamp wins, later duplicate puts are ignored")
}

func TestStore_Put_Empty(t *testing.T) {
	s := openTestStore(t)
	n, err := s.Put(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestStore_LatestTimestamp(t *testing.T) {
	s := openTestStore(t)

	ts, err := s.LatestTimestamp("btc_ohlcv")
	require.NoError(t, err)
	assert.Nil(t, ts, "unknown series has no latest timestamp")

	_, err = s.Put([]domain.Observation{ohlcv("btc_ohlcv", 0, 100), ohlcv("btc_ohlcv", 900000, 101)})
	require.NoError(t, err)

	ts, err = s.LatestTimestamp("btc_ohlcv")
	require.NoError(t, err)
	require.NotNil(t, ts)
	assert.Equal(t, int64(900000), *ts)
}

func TestStore_Range_OrderedAndBounded(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Put([]domain.Observation{
		ohlcv("btc_ohlcv", 1800000, 103),
		ohlcv("btc_ohlcv", 0, 100),
		ohlcv("btc_ohlcv", 900000, 101),
		ohlcv("btc_ohlcv", 2700000, 104),
	})
	require.NoError(t, err)

	rows, err := s.Range("btc_ohlcv", 0, 1800000)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []int64{0, 900000, 1800000}, []int64{rows[0].TimestampMs, rows[1].TimestampMs, rows[2].TimestampMs})
}

package health

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqryxz/mts-pipeline/internal/domain"
	"github.com/sqryxz/mts-pipeline/internal/store"
)

type fakeStoreHealth struct {
	series map[string]store.SeriesHealth
	err    error
}

func (f fakeStoreHealth) Health() (map[string]store.SeriesHealth, error) {
	return f.series, f.err
}

type fakeSnapshotter struct {
	tasks []domain.TaskState
}

func (f fakeSnapshotter) Snapshot() []domain.TaskState { return f.tasks }

func TestReporter_RecordOperationalAlert_CapsHistory(t *testing.T) {
	r := New(Config{Logger: zerolog.Nop()})

	for i := 0; i < maxAlertHistory+10; i++ {
		r.RecordOperationalAlert("collector", "fetch failed", nil)
	}

	assert.Len(t, r.RecentAlerts(), maxAlertHistory, "the alert ring buffer must cap at maxAlertHistory")
}

func TestReporter_Snapshot_DegradesGracefullyOnStoreError(t *testing.T) {
	r := New(Config{
		Store:     fakeStoreHealth{err: errors.New("db locked")},
		Scheduler: fakeSnapshotter{tasks: []domain.TaskState{{TaskID: "btc_ohlcv"}}},
		Logger:    zerolog.Nop(),
	})

	status := r.Snapshot()
	assert.Nil(t, status.Series, "a store health error should degrade to no series data, not fail the snapshot")
	require.Len(t, status.Tasks, 1)
	assert.Equal(t, "btc_ohlcv", status.Tasks[0].TaskID)
}

func TestReporter_Snapshot_NilDependencies(t *testing.T) {
	r := New(Config{Logger: zerolog.Nop()})
	status := r.Snapshot()
	assert.Nil(t, status.Series)
	assert.Nil(t, status.Tasks)
}

func TestReporter_Ready_NilStoreAlwaysReady(t *testing.T) {
	r := New(Config{Logger: zerolog.Nop()})
	assert.True(t, r.Ready())
}

func TestReporter_Ready_FalseOnStoreError(t *testing.T) {
	r := New(Config{Store: fakeStoreHealth{err: errors.New("db locked")}, Logger: zerolog.Nop()})
	assert.False(t, r.Ready())
}

func TestReporter_Ready_TrueOnceSeriesObserved(t *testing.T) {
	r := New(Config{
		Store:  fakeStoreHealth{series: map[string]store.SeriesHealth{"btc_ohlcv": {}}},
		Logger: zerolog.Nop(),
	})
	assert.True(t, r.Ready())
}

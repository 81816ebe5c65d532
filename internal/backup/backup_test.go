package backup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSnapshotTimestamp_ValidKey(t *testing.T) {
	ts, ok := parseSnapshotTimestamp("observations-20260730-120000.db")
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC), ts)
}

func TestParseSnapshotTimestamp_RejectsWrongPrefixOrSuffix(t *testing.T) {
	_, ok := parseSnapshotTimestamp("observations-20260730-120000.db.metadata.json")
	assert.False(t, ok)

	_, ok = parseSnapshotTimestamp("other-20260730-120000.db")
	assert.False(t, ok)

	_, ok = parseSnapshotTimestamp("observations-not-a-timestamp.db")
	assert.False(t, ok)
}

func TestChecksumFile_DeterministicAndPrefixed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.db")
	require.NoError(t, os.WriteFile(path, []byte("snapshot contents"), 0o644))

	sum1, err := checksumFile(path)
	require.NoError(t, err)
	sum2, err := checksumFile(path)
	require.NoError(t, err)

	assert.Equal(t, sum1, sum2)
	assert.Contains(t, sum1, "sha256:")
}

func TestNew_CreatesStagingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "staging")
	a, err := New(Config{StagingDir: dir})
	require.NoError(t, err)
	require.NotNil(t, a)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

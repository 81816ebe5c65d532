package store

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/sqryxz/mts-pipeline/internal/domain"
)

// TaskStateRepo persists domain.TaskState, one row per task_id. Mutable
// scheduling fields are native columns so the Scheduler and HTTP surface can
// query them directly (e.g. "all disabled tasks"); the full struct is also
// archived as a msgpack blob so fields not promoted to columns round-trip
// across a schema_version bump without a migration.
type TaskStateRepo struct {
	db *DB
}

// NewTaskStateRepo wraps an opened DB and ensures its table exists.
func NewTaskStateRepo(db *DB) (*TaskStateRepo, error) {
	r := &TaskStateRepo{db: db}
	stmt := `CREATE TABLE IF NOT EXISTS task_state (
		task_id TEXT PRIMARY KEY,
		tier TEXT NOT NULL,
		interval_ms INTEGER NOT NULL,
		last_run_ms INTEGER NOT NULL DEFAULT 0,
		last_success_ms INTEGER NOT NULL DEFAULT 0,
		consecutive_failures INTEGER NOT NULL DEFAULT 0,
		disabled_until_ms INTEGER NOT NULL DEFAULT 0,
		schema_version INTEGER NOT NULL DEFAULT 1,
		state_blob BLOB NOT NULL
	)`
	if _, err := r.db.Conn().Exec(stmt); err != nil {
		return nil, &FatalError{Op: "migrate:task_state", Err: err}
	}
	return r, nil
}

// Save upserts a TaskState row, refreshing both the native columns and the
// msgpack blob in one statement.
func (r *TaskStateRepo) Save(state domain.TaskState) error {
	blob, err := msgpack.Marshal(state)
	if err != nil {
		return &FatalError{Op: "task_state:marshal", Err: err}
	}
	_, err = r.db.Conn().Exec(
		`INSERT INTO task_state (task_id, tier, interval_ms, last_run_ms, last_success_ms, consecutive_failures, disabled_until_ms, schema_version, state_blob)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(task_id) DO UPDATE SET
			tier=excluded.tier,
			interval_ms=excluded.interval_ms,
			last_run_ms=excluded.last_run_ms,
			last_success_ms=excluded.last_success_ms,
			consecutive_failures=excluded.consecutive_failures,
			disabled_until_ms=excluded.disabled_until_ms,
			schema_version=excluded.schema_version,
			state_blob=excluded.state_blob`,
		state.TaskID, state.Tier, state.IntervalMs, state.LastRunMs, state.LastSuccessMs,
		state.ConsecutiveFailures, state.DisabledUntilMs, state.SchemaVersion, blob,
	)
	if err != nil {
		return &TransientError{Op: "task_state:save", Err: err}
	}
	return nil
}

// Load reads every persisted TaskState, keyed by task_id, for the
// Scheduler's startup eligibility recomputation.
func (r *TaskStateRepo) Load() (map[string]domain.TaskState, error) {
	rows, err := r.db.Conn().Query(`SELECT state_blob FROM task_state`)
	if err != nil {
		return nil, &TransientError{Op: "task_state:load", Err: err}
	}
	defer rows.Close()

	out := make(map[string]domain.TaskState)
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, &TransientError{Op: "task_state:load:scan", Err: err}
		}
		var state domain.TaskState
		if err := msgpack.Unmarshal(blob, &state); err != nil {
			return nil, &FatalError{Op: "task_state:load:unmarshal", Err: err}
		}
		out[state.TaskID] = state
	}
	if err := rows.Err(); err != nil {
		return nil, &TransientError{Op: "task_state:load:rows", Err: err}
	}
	return out, nil
}

// Disabled returns every task whose disabled_until_ms is nonzero — either
// in backoff or disabled forever.
func (r *TaskStateRepo) Disabled() ([]domain.TaskState, error) {
	rows, err := r.db.Conn().Query(`SELECT state_blob FROM task_state WHERE disabled_until_ms <> 0`)
	if err != nil {
		return nil, &TransientError{Op: "task_state:disabled", Err: err}
	}
	defer rows.Close()

	var out []domain.TaskState
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, &TransientError{Op: "task_state:disabled:scan", Err: err}
		}
		var state domain.TaskState
		if err := msgpack.Unmarshal(blob, &state); err != nil {
			return nil, &FatalError{Op: "task_state:disabled:unmarshal", Err: err}
		}
		out = append(out, state)
	}
	return out, rows.Err()
}

// DeleteForever removes rows disabled forever (domain.DisabledForever)
// whose last transition is older than olderThanMs — the maintenance
// retention sweep described in §4.13.
func (r *TaskStateRepo) DeleteForever(olderThanMs int64) (int64, error) {
	res, err := r.db.Conn().Exec(
		`DELETE FROM task_state WHERE disabled_until_ms = ? AND last_run_ms < ?`,
		domain.DisabledForever, olderThanMs,
	)
	if err != nil {
		return 0, &TransientError{Op: "task_state:delete_forever", Err: err}
	}
	n, _ := res.RowsAffected()
	return n, nil
}

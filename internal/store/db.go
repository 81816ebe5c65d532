// Package store is the append-only, deduplicated time-series persistence
// layer. It wraps modernc.org/sqlite the way the teacher's
// internal/database package wraps it: profile-tuned connection string,
// bounded pool, transaction helper with panic-safe rollback.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure-Go driver, no cgo
)

// Profile selects the PRAGMA set applied to a connection.
type Profile string

const (
	// ProfileLedger favors durability: fsync every commit, never shrink.
	// Used for the observations database, since collected history is the
	// asset the rest of the pipeline is built to protect.
	ProfileLedger Profile = "ledger"
	// ProfileCache favors throughput for ephemeral/rebuildable data.
	ProfileCache Profile = "cache"
	// ProfileStandard balances the two. TaskState shares the observations
	// database, so in the application it runs under ProfileLedger.
	ProfileStandard Profile = "standard"
)

// DB wraps one SQLite connection pool with the pragmas and pooling the
// pipeline's durability requirements call for.
type DB struct {
	conn    *sql.DB
	path    string
	profile Profile
}

// Config selects the file and profile for a DB.
type Config struct {
	Path    string
	Profile Profile
}

// Open creates the data directory if needed, opens a profile-tuned
// connection, and verifies it with a ping.
func Open(cfg Config) (*DB, error) {
	absPath, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("resolving database path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	profile := cfg.Profile
	if profile == "" {
		profile = ProfileStandard
	}

	conn, err := sql.Open("sqlite", connectionString(absPath, profile))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(1 * time.Hour)
	conn.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &DB{conn: conn, path: absPath, profile: profile}, nil
}

func connectionString(path string, profile Profile) string {
	cs := path + "?_pragma=journal_mode(WAL)"
	switch profile {
	case ProfileLedger:
		cs += "&_pragma=synchronous(FULL)"
		cs += "&_pragma=auto_vacuum(NONE)"
	case ProfileCache:
		cs += "&_pragma=synchronous(OFF)"
		cs += "&_pragma=temp_store(MEMORY)"
	default:
		cs += "&_pragma=synchronous(NORMAL)"
		cs += "&_pragma=temp_store(MEMORY)"
	}
	cs += "&_pragma=foreign_keys(1)"
	cs += "&_pragma=wal_autocheckpoint(1000)"
	cs += "&_pragma=cache_size(-64000)"
	return cs
}

// Close closes the underlying pool.
func (db *DB) Close() error { return db.conn.Close() }

// Conn exposes the raw *sql.DB for package-internal repository code.
func (db *DB) Conn() *sql.DB { return db.conn }

// Path returns the absolute database file path, used by ArchiveBackup to
// locate the file to snapshot.
func (db *DB) Path() string { return db.path }

// WALCheckpoint forces a WAL checkpoint; used by MaintenanceScheduler's
// daily housekeeping pass.
func (db *DB) WALCheckpoint(mode string) error {
	if mode == "" {
		mode = "TRUNCATE"
	}
	_, err := db.conn.Exec(fmt.Sprintf("PRAGMA wal_checkpoint(%s)", mode))
	if err != nil {
		return fmt.Errorf("WAL checkpoint: %w", err)
	}
	return nil
}

// WithTransaction runs fn inside a transaction, committing on success and
// rolling back on error or panic (the panic is converted to an error, not
// re-raised, so one bad batch cannot take down a scheduler worker).
func WithTransaction(db *sql.DB, fn func(*sql.Tx) error) (err error) {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			err = fmt.Errorf("panic in transaction: %v", p)
			return
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
			}
			return
		}
		err = tx.Commit()
	}()
	return fn(tx)
}

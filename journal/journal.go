// Package journal records the requests a host has served in a SQLite
// database so they can be listed later from the UI.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/yllada/hostbridge/common"
)

const schema = `
CREATE TABLE IF NOT EXISTS requests (
	seq            INTEGER PRIMARY KEY AUTOINCREMENT,
	correlation_id TEXT NOT NULL,
	channel        TEXT NOT NULL,
	started_at     INTEGER NOT NULL,
	duration_ms    INTEGER NOT NULL,
	outcome        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS requests_started_at ON requests (started_at);
`

// DefaultRetention is how many records Prune keeps by default.
const DefaultRetention = 10000

// Journal is an append-only log of served requests.
type Journal struct {
	db *sql.DB
}

// Open opens or creates the journal at path. ":memory:" opens a private
// in-memory journal.
func Open(path string) (*Journal, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// One connection keeps :memory: databases shared and serializes writes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// DefaultPath returns the journal location in the user data directory.
func DefaultPath() (string, error) {
	dir, err := common.GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, common.JournalFileName), nil
}

// Record appends rec.
func (j *Journal) Record(ctx context.Context, rec common.RequestRecord) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO requests (correlation_id, channel, started_at, duration_ms, outcome)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.CorrelationID, rec.Channel, rec.StartedAt, rec.DurationMS, rec.Outcome)
	if err != nil {
		return fmt.Errorf("record request %s: %w", rec.CorrelationID, err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]common.RequestRecord, error) {
	if limit <= 0 {
		return []common.RequestRecord{}, nil
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT correlation_id, channel, started_at, duration_ms, outcome
		 FROM requests ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	records := make([]common.RequestRecord, 0, min(limit, 256))
	for rows.Next() {
		var rec common.RequestRecord
		if err := rows.Scan(&rec.CorrelationID, &rec.Channel, &rec.StartedAt, &rec.DurationMS, &rec.Outcome); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Prune deletes all but the newest keep records and returns how many were removed.
func (j *Journal) Prune(ctx context.Context, keep int) (int64, error) {
	res, err := j.db.ExecContext(ctx,
		`DELETE FROM requests WHERE seq NOT IN (SELECT seq FROM requests ORDER BY seq DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune journal: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

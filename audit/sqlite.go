package audit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteLog is a single-file, WAL-mode audit log. Designed for a single
// manager process: development, tests, and small deployments that don't
// need a shared log across managers.
type SQLiteLog struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenSQLiteLog opens (creating and migrating if necessary) a SQLite file
// at path. Pass ":memory:" for a non-persistent log.
func OpenSQLiteLog(path string) (*SQLiteLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open sqlite: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: enable WAL: %w", err)
	}
	if err := migrateSQLite(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteLog{db: db}, nil
}

func migrateSQLite(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_log (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			txid      TEXT NOT NULL,
			address   TEXT NOT NULL,
			outcome   TEXT NOT NULL,
			detail    TEXT NOT NULL DEFAULT '',
			timestamp DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("audit: migrate sqlite schema: %w", err)
	}
	return nil
}

func (l *SQLiteLog) Append(ctx context.Context, e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO audit_log (txid, address, outcome, detail, timestamp) VALUES (?, ?, ?, ?, ?)`,
		e.TxId, e.Address, e.Outcome, e.Detail, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("audit: append: %w", err)
	}
	return nil
}

func (l *SQLiteLog) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT txid, address, outcome, detail, timestamp FROM audit_log ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("audit: recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.TxId, &e.Address, &e.Outcome, &e.Detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (l *SQLiteLog) Close() error {
	return l.db.Close()
}

package audit

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLLog is a shared audit log for deployments running more than one
// manager against a common database, so an operator can see every
// manager's transaction history from one place.
type MySQLLog struct {
	db *sql.DB
}

// OpenMySQLLog connects to dsn (a go-sql-driver/mysql data source name) and
// migrates the audit table if needed.
func OpenMySQLLog(dsn string) (*MySQLLog, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open mysql: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: ping mysql: %w", err)
	}
	if err := migrateMySQL(db); err != nil {
		db.Close()
		return nil, err
	}
	return &MySQLLog{db: db}, nil
}

func migrateMySQL(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_log (
			id        BIGINT AUTO_INCREMENT PRIMARY KEY,
			txid      VARCHAR(255) NOT NULL,
			address   VARCHAR(255) NOT NULL,
			outcome   VARCHAR(32) NOT NULL,
			detail    TEXT NOT NULL,
			timestamp DATETIME NOT NULL,
			INDEX idx_audit_log_txid (txid)
		) ENGINE=InnoDB
	`)
	if err != nil {
		return fmt.Errorf("audit: migrate mysql schema: %w", err)
	}
	return nil
}

func (l *MySQLLog) Append(ctx context.Context, e Entry) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO audit_log (txid, address, outcome, detail, timestamp) VALUES (?, ?, ?, ?, ?)`,
		e.TxId, e.Address, e.Outcome, e.Detail, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("audit: append: %w", err)
	}
	return nil
}

func (l *MySQLLog) Recent(ctx context.Context, limit int) ([]Entry, error) {
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

func (l *MySQLLog) Close() error {
	return l.db.Close()
}

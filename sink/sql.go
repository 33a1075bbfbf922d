package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

var reTableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQL stores records as JSON rows in one table.
type SQL struct {
	db     *sql.DB
	driver string
	insert string
}

// OpenSQL connects with driver ("sqlite3" or "postgres"), creates table if
// needed and returns the sink.
func OpenSQL(driver, dsn, table string) (*SQL, error) {
	if !reTableName.MatchString(table) {
		return nil, fmt.Errorf("sink: invalid table name %q", table)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sink: open %s: %w", driver, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sink: ping %s: %w", driver, err)
	}
	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}
	return NewSQL(db, driver, table)
}

// NewSQL wraps an open database.
func NewSQL(db *sql.DB, driver, table string) (*SQL, error) {
	if !reTableName.MatchString(table) {
		return nil, fmt.Errorf("sink: invalid table name %q", table)
	}
	ddl := `CREATE TABLE IF NOT EXISTS ` + table + ` (
		id TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		data_type TEXT NOT NULL,
		status TEXT NOT NULL,
		metadata TEXT NOT NULL,
		data TEXT,
		created_at TIMESTAMP NOT NULL
	)`
	if _, err := db.Exec(ddl); err != nil {
		return nil, fmt.Errorf("sink: create table %s: %w", table, err)
	}

	insert := `INSERT INTO ` + table + ` (id, url, data_type, status, metadata, data, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	if driver == "postgres" {
		insert = `INSERT INTO ` + table + ` (id, url, data_type, status, metadata, data, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	}
	return &SQL{db: db, driver: driver, insert: insert}, nil
}

// Store implements Sink.
func (s *SQL) Store(ctx context.Context, rec map[string]any, status string, meta Metadata) (string, error) {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("sink: marshal metadata: %w", err)
	}
	var data any
	if rec != nil {
		b, err := json.Marshal(rec)
		if err != nil {
			return "", fmt.Errorf("sink: marshal record: %w", err)
		}
		data = string(b)
	}
	id := newID()
	if _, err := s.db.ExecContext(ctx, s.insert,
		id, meta.URL, meta.DataType, status, string(metaJSON), data, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("sink: insert: %w", err)
	}
	return id, nil
}

// Close closes the database.
func (s *SQL) Close() error { return s.db.Close() }

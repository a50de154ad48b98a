package state

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/TheMichaelB/dvcsync/internal/events"
	"github.com/TheMichaelB/dvcsync/internal/models"
)

// CurrentSchemaVersion for migrations.
const CurrentSchemaVersion = 1

// SQLitePersister keeps fingerprints in a SQLite table.
type SQLitePersister struct {
	db     *sql.DB
	logger *events.Logger
}

// NewSQLitePersister opens (creating if needed) the database at dbPath.
func NewSQLitePersister(dbPath string, logger *events.Logger) (*SQLitePersister, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	p := &SQLitePersister{
		db:     db,
		logger: logger.WithField("component", "sqlite_state_store"),
	}

	if err := p.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	return p, nil
}

// initialize creates tables. The schema_info row is only written by Save,
// so a database that was never saved loads as not found.
func (p *SQLitePersister) initialize() error {
	schema := `
    CREATE TABLE IF NOT EXISTS fingerprints (
        key TEXT PRIMARY KEY,
        mtime INTEGER NOT NULL,
        md5 TEXT NOT NULL
    );

    CREATE TABLE IF NOT EXISTS schema_info (
        version INTEGER PRIMARY KEY
    );
    `

	if _, err := p.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	return nil
}

// Load reads every fingerprint row.
func (p *SQLitePersister) Load() (map[string]Entry, error) {
	p.logger.Debug("Loading state from SQLite")

	var versions int
	if err := p.db.QueryRow("SELECT COUNT(*) FROM schema_info").Scan(&versions); err != nil {
		return nil, fmt.Errorf("query schema: %w", err)
	}
	if versions == 0 {
		return nil, models.ErrStateNotFound
	}

	rows, err := p.db.Query("SELECT key, mtime, md5 FROM fingerprints")
	if err != nil {
		return nil, fmt.Errorf("query fingerprints: %w", err)
	}
	defer rows.Close()

	entries := make(map[string]Entry)
	for rows.Next() {
		var key string
		var e Entry
		if err := rows.Scan(&key, &e.MTime, &e.MD5); err != nil {
			return nil, fmt.Errorf("scan fingerprint row: %w", err)
		}
		if _, dup := entries[key]; dup {
			return nil, &models.DuplicateStateError{Key: key}
		}
		entries[key] = e
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fingerprints: %w", err)
	}

	return entries, nil
}

// Save replaces every row in one transaction.
func (p *SQLitePersister) Save(entries map[string]Entry) error {
	p.logger.WithField("entries", len(entries)).Debug("Saving state to SQLite")

	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM fingerprints"); err != nil {
		return fmt.Errorf("delete old fingerprints: %w", err)
	}

	stmt, err := tx.Prepare("INSERT INTO fingerprints (key, mtime, md5) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for key, e := range entries {
		if _, err := stmt.Exec(key, e.MTime, e.MD5); err != nil {
			return fmt.Errorf("insert fingerprint %s: %w", key, err)
		}
	}

	if _, err := tx.Exec("INSERT OR IGNORE INTO schema_info (version) VALUES (?)", CurrentSchemaVersion); err != nil {
		return fmt.Errorf("record schema: %w", err)
	}

	return tx.Commit()
}

// Close closes the database.
func (p *SQLitePersister) Close() error {
	return p.db.Close()
}

package session

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // CGO SQLite driver, registered as "sqlite3"
	_ "modernc.org/sqlite"          // Pure Go SQLite driver, registered as "sqlite"
)

// SQLite driver names accepted by NewSQLiteAdapter
const (
	DriverModernc = "sqlite"
	DriverCGO     = "sqlite3"
)

// SQLiteFile is the database file name used inside the storage directory
const SQLiteFile = "sessions.db"

// SQLiteAdapter stores sessions in a SQLite table, keeping list order in a position column
type SQLiteAdapter struct {
	db     *sql.DB
	driver string
	path   string
}

// NewSQLiteAdapter opens dir/sessions.db with the given driver and migrates the schema
func NewSQLiteAdapter(dir, driver string) (*SQLiteAdapter, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dir, SQLiteFile)

	var dsn string
	switch driver {
	case DriverModernc:
		dsn = dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	case DriverCGO:
		dsn = dbPath + "?_journal_mode=WAL&_busy_timeout=5000"
	default:
		return nil, fmt.Errorf("unsupported sqlite driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	adapter := &SQLiteAdapter{db: db, driver: driver, path: dbPath}
	if err := adapter.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return adapter, nil
}

func (a *SQLiteAdapter) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			access_code TEXT NOT NULL,
			access_token TEXT NOT NULL,
			refresh_token TEXT NOT NULL,
			scope TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			position INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_position ON sessions(position)`,
	}

	for _, m := range migrations {
		if _, err := a.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Load reads every row in list order
func (a *SQLiteAdapter) Load(ctx context.Context) ([]Session, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT session_id, access_code, access_token, refresh_token, scope, created_at
		FROM sessions ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.SessionID, &s.AccessCode, &s.AccessToken, &s.RefreshToken, &s.Scope, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Save replaces the table contents in one transaction
func (a *SQLiteAdapter) Save(ctx context.Context, sessions []Session) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions`); err != nil {
		return fmt.Errorf("failed to clear sessions: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO sessions (session_id, access_code, access_token, refresh_token, scope, created_at, position)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, s := range sessions {
		if _, err := stmt.ExecContext(ctx, s.SessionID, s.AccessCode, s.AccessToken, s.RefreshToken, s.Scope, s.CreatedAt, i); err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
	}

	return tx.Commit()
}

// Close closes the database
func (a *SQLiteAdapter) Close() error {
	return a.db.Close()
}

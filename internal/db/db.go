package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps the event database connection.
type DB struct {
	*sql.DB
}

// NewDB opens (creating if necessary) the sqlite database at path and
// applies the connection pragmas. Callers normally follow up with
// MigrateUp to bring the schema current.
func NewDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// WAL keeps the single writer from blocking report tooling reads; the
	// busy timeout covers the brief overlap when both touch the file.
	if _, err := sqlDB.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
		PRAGMA foreign_keys = ON;
	`); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	return &DB{sqlDB}, nil
}

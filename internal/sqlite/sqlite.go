// Package sqlite opens the SQLite files used by the device store and the
// sync journal.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	// Registers the "sqlite3" driver.
	_ "github.com/mattn/go-sqlite3"
)

// Open returns a handle to the SQLite file at path, creating the file and
// its directory if needed. Foreign keys are enforced and writers wait up to
// five seconds for a lock.
func Open(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL", path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open failed: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping failed after open: %w", err)
	}
	return db, nil
}

package migrations

import (
	"context"
	"database/sql"
)

// StoreScope names the device store migrations.
const StoreScope = "store"

// InitStoreMigrations adds the device task store schema. Status columns hold
// 0 synced, 1 new, 2 modified, 3 deleted.
func InitStoreMigrations(runner *Runner) {
	runner.AddMigration(
		1,
		"Create metadata table",
		`CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	)

	runner.AddMigration(
		2,
		"Create categories table",
		`CREATE TABLE categories (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			remote_id TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL,
			parent_id INTEGER REFERENCES categories(id) ON DELETE SET NULL,
			status INTEGER NOT NULL DEFAULT 1
		)`,
	)

	runner.AddMigration(
		3,
		"Create tasks table",
		`CREATE TABLE tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			remote_id TEXT NOT NULL DEFAULT '',
			subject TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			start_date TIMESTAMP,
			due_date TIMESTAMP,
			completion_date TIMESTAMP,
			reminder TIMESTAMP,
			priority INTEGER NOT NULL DEFAULT 0,
			recurrence_unit INTEGER NOT NULL DEFAULT 0,
			recurrence_amount INTEGER NOT NULL DEFAULT 0,
			recurrence_max INTEGER NOT NULL DEFAULT 0,
			parent_id INTEGER REFERENCES tasks(id) ON DELETE SET NULL,
			status INTEGER NOT NULL DEFAULT 1
		)`,
	)

	runner.AddMigration(
		4,
		"Create task categories table",
		`CREATE TABLE task_categories (
			task_id INTEGER NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			category_id INTEGER NOT NULL REFERENCES categories(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			PRIMARY KEY (task_id, category_id)
		)`,
	)

	runner.AddMigration(
		5,
		"Create efforts table",
		`CREATE TABLE efforts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			remote_id TEXT NOT NULL DEFAULT '',
			task_id INTEGER NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			started TIMESTAMP NOT NULL,
			ended TIMESTAMP,
			description TEXT NOT NULL DEFAULT '',
			status INTEGER NOT NULL DEFAULT 1
		)`,
	)

	runner.AddMigration(
		6,
		"Index remote ids",
		`CREATE INDEX idx_categories_remote ON categories(remote_id);
		CREATE INDEX idx_tasks_remote ON tasks(remote_id);
		CREATE INDEX idx_efforts_remote ON efforts(remote_id)`,
	)
}

// BootstrapStore brings the device store schema up to date.
func BootstrapStore(ctx context.Context, db *sql.DB) error {
	runner := NewRunner(db, StoreScope)
	InitStoreMigrations(runner)
	return runner.Run(ctx)
}

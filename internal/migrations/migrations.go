// Package migrations applies versioned schema changes to a SQLite database.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/vkucera/task-coach/internal/log"
)

// Migration represents a single database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Runner applies the migrations of one scope. Several scopes may share a
// database file; each keeps its own version sequence.
type Runner struct {
	db         *sql.DB
	scope      string
	migrations []Migration
}

// NewRunner creates a runner for the migrations of scope.
func NewRunner(db *sql.DB, scope string) *Runner {
	return &Runner{db: db, scope: scope}
}

// AddMigration adds a migration to the runner
func (r *Runner) AddMigration(version int, description, sql string) {
	r.migrations = append(r.migrations, Migration{
		Version:     version,
		Description: description,
		SQL:         sql,
	})
}

func (r *Runner) ensureMigrationsTable(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS _migrations (
			scope TEXT NOT NULL,
			version INTEGER NOT NULL,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL,
			PRIMARY KEY (scope, version)
		)
	`)
	return err
}

func (r *Runner) appliedMigrations(ctx context.Context) (map[int]bool, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT version FROM _migrations WHERE scope = ?", r.scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

// Version returns the highest applied version of the runner's scope, zero
// when nothing was applied yet.
func (r *Runner) Version(ctx context.Context) (int, error) {
	if err := r.ensureMigrationsTable(ctx); err != nil {
		return 0, fmt.Errorf("failed to create migrations table: %w", err)
	}
	var v sql.NullInt64
	err := r.db.QueryRowContext(ctx, "SELECT MAX(version) FROM _migrations WHERE scope = ?", r.scope).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s schema version: %w", r.scope, err)
	}
	return int(v.Int64), nil
}

// Run executes all pending migrations in version order, each in its own
// transaction.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.ensureMigrationsTable(ctx); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	applied, err := r.appliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	pending := make([]Migration, 0, len(r.migrations))
	for _, m := range r.migrations {
		if !applied[m.Version] {
			pending = append(pending, m)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Version < pending[j].Version })

	for _, migration := range pending {
		if err := r.apply(ctx, migration); err != nil {
			return err
		}
		log.Debug().
			Str("scope", r.scope).
			Int("version", migration.Version).
			Str("description", migration.Description).
			Msg("Applied migration")
	}
	return nil
}

func (r *Runner) apply(ctx context.Context, migration Migration) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for %s migration %d: %w", r.scope, migration.Version, err)
	}
	if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to execute %s migration %d: %w", r.scope, migration.Version, err)
	}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO _migrations (scope, version, description, applied_at) VALUES (?, ?, ?, ?)",
		r.scope,
		migration.Version,
		migration.Description,
		time.Now().UTC(),
	)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to record %s migration %d: %w", r.scope, migration.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s migration %d: %w", r.scope, migration.Version, err)
	}
	return nil
}

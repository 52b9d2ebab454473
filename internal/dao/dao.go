// Package dao provides table-level access to the device task store.
//
// Every DAO works against a Querier so the same code runs on the database
// handle and inside a transaction.
package dao

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vkucera/task-coach/internal/model"
)

var (
	// ErrNotFound is returned when a record is not found
	ErrNotFound = errors.New("record not found")
)

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// statusFilter returns the WHERE clause selecting records with status st.
// StatusAll selects every record not marked deleted.
func statusFilter(column string, st model.Status) (string, []any) {
	if st == model.StatusAll {
		return column + " <> ?", []any{model.StatusDeleted}
	}
	return column + " = ?", []any{st}
}

// nullTime stores the zero time as NULL.
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func fromNullTime(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time.UTC()
}

// nullID stores the zero id as NULL.
func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func affected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

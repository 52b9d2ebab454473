package dao

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vkucera/task-coach/internal/model"
)

// EffortDAO provides access to the efforts table
type EffortDAO struct {
	q Querier
}

// NewEffortDAO creates a new EffortDAO
func NewEffortDAO(q Querier) *EffortDAO {
	return &EffortDAO{q: q}
}

const effortColumns = `e.id, e.remote_id, e.status, e.task_id, t.remote_id, e.started, e.ended, e.description`

const effortFrom = ` FROM efforts e JOIN tasks t ON t.id = e.task_id`

func scanEffort(row interface{ Scan(...any) error }) (*model.Effort, error) {
	var (
		e     model.Effort
		ended sql.NullTime
	)
	if err := row.Scan(&e.LocalID, &e.RemoteID, &e.Status, &e.TaskLocal, &e.TaskRemote, &e.Started, &ended, &e.Description); err != nil {
		return nil, err
	}
	e.Started = e.Started.UTC()
	e.Ended = fromNullTime(ended)
	return &e, nil
}

// Insert stores e with its current status and remote id and sets its local id.
func (d *EffortDAO) Insert(ctx context.Context, e *model.Effort) (int64, error) {
	res, err := d.q.ExecContext(ctx,
		"INSERT INTO efforts (remote_id, status, task_id, started, ended, description) VALUES (?, ?, ?, ?, ?, ?)",
		e.RemoteID, e.Status, e.TaskLocal, e.Started.UTC(), nullTime(e.Ended), e.Description,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert effort: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get effort id: %w", err)
	}
	e.LocalID = id
	return id, nil
}

// Update overwrites every column of the effort with e's local id.
func (d *EffortDAO) Update(ctx context.Context, e *model.Effort) error {
	err := affected(d.q.ExecContext(ctx,
		"UPDATE efforts SET remote_id = ?, status = ?, task_id = ?, started = ?, ended = ?, description = ? WHERE id = ?",
		e.RemoteID, e.Status, e.TaskLocal, e.Started.UTC(), nullTime(e.Ended), e.Description, e.LocalID,
	))
	if err != nil {
		return fmt.Errorf("failed to update effort %d: %w", e.LocalID, err)
	}
	return nil
}

func (d *EffortDAO) getWhere(ctx context.Context, where string, arg any) (*model.Effort, error) {
	e, err := scanEffort(d.q.QueryRowContext(ctx, "SELECT "+effortColumns+effortFrom+" WHERE "+where, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get effort: %w", err)
	}
	return e, nil
}

// Get retrieves an effort by local id
func (d *EffortDAO) Get(ctx context.Context, id int64) (*model.Effort, error) {
	return d.getWhere(ctx, "e.id = ?", id)
}

// ByRemote retrieves an effort by remote id
func (d *EffortDAO) ByRemote(ctx context.Context, remote string) (*model.Effort, error) {
	return d.getWhere(ctx, "e.remote_id = ?", remote)
}

// List returns the efforts with status st in id order.
func (d *EffortDAO) List(ctx context.Context, st model.Status) ([]*model.Effort, error) {
	where, args := statusFilter("e.status", st)
	rows, err := d.q.QueryContext(ctx, "SELECT "+effortColumns+effortFrom+" WHERE "+where+" ORDER BY e.id", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query efforts: %w", err)
	}
	defer rows.Close()

	var out []*model.Effort
	for rows.Next() {
		e, err := scanEffort(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan effort: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating efforts: %w", err)
	}
	return out, nil
}

// Count returns the number of efforts with status st.
func (d *EffortDAO) Count(ctx context.Context, st model.Status) (int, error) {
	where, args := statusFilter("status", st)
	var n int
	if err := d.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM efforts WHERE "+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count efforts: %w", err)
	}
	return n, nil
}

// SetSynced records the remote id of an effort and marks it synced.
func (d *EffortDAO) SetSynced(ctx context.Context, id int64, remote string) error {
	err := affected(d.q.ExecContext(ctx,
		"UPDATE efforts SET remote_id = ?, status = ? WHERE id = ?", remote, model.StatusSynced, id))
	if err != nil {
		return fmt.Errorf("failed to mark effort %d synced: %w", id, err)
	}
	return nil
}

// SetStatus changes the status of an effort.
func (d *EffortDAO) SetStatus(ctx context.Context, id int64, st model.Status) error {
	if err := affected(d.q.ExecContext(ctx, "UPDATE efforts SET status = ? WHERE id = ?", st, id)); err != nil {
		return fmt.Errorf("failed to set effort %d status: %w", id, err)
	}
	return nil
}

// Delete removes an effort.
func (d *EffortDAO) Delete(ctx context.Context, id int64) error {
	if err := affected(d.q.ExecContext(ctx, "DELETE FROM efforts WHERE id = ?", id)); err != nil {
		return fmt.Errorf("failed to delete effort %d: %w", id, err)
	}
	return nil
}

// DeleteAll removes every effort.
func (d *EffortDAO) DeleteAll(ctx context.Context) error {
	if _, err := d.q.ExecContext(ctx, "DELETE FROM efforts"); err != nil {
		return fmt.Errorf("failed to delete efforts: %w", err)
	}
	return nil
}

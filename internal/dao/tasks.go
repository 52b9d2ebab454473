package dao

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vkucera/task-coach/internal/model"
)

// TaskDAO provides access to the tasks and task_categories tables
type TaskDAO struct {
	q Querier
}

// NewTaskDAO creates a new TaskDAO
func NewTaskDAO(q Querier) *TaskDAO {
	return &TaskDAO{q: q}
}

const taskColumns = `t.id, t.remote_id, t.status, t.subject, t.description,
	t.start_date, t.due_date, t.completion_date, t.reminder, t.priority,
	t.recurrence_unit, t.recurrence_amount, t.recurrence_max,
	COALESCE(t.parent_id, 0), COALESCE(p.remote_id, '')`

const taskFrom = ` FROM tasks t LEFT JOIN tasks p ON p.id = t.parent_id`

func scanTask(row interface{ Scan(...any) error }) (*model.Task, error) {
	var (
		t                               model.Task
		start, due, completed, reminder sql.NullTime
	)
	err := row.Scan(
		&t.LocalID, &t.RemoteID, &t.Status, &t.Subject, &t.Description,
		&start, &due, &completed, &reminder, &t.Priority,
		&t.Recurrence.Unit, &t.Recurrence.Amount, &t.Recurrence.Max,
		&t.ParentLocal, &t.ParentRemote,
	)
	if err != nil {
		return nil, err
	}
	t.Start = fromNullTime(start)
	t.Due = fromNullTime(due)
	t.Completed = fromNullTime(completed)
	t.Reminder = fromNullTime(reminder)
	return &t, nil
}

// Insert stores t with its current status and remote id, links its
// categories and sets its local id.
func (d *TaskDAO) Insert(ctx context.Context, t *model.Task) (int64, error) {
	res, err := d.q.ExecContext(ctx, `INSERT INTO tasks (
			remote_id, status, subject, description, start_date, due_date,
			completion_date, reminder, priority, recurrence_unit,
			recurrence_amount, recurrence_max, parent_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.RemoteID, t.Status, t.Subject, t.Description,
		nullTime(t.Start), nullTime(t.Due), nullTime(t.Completed), nullTime(t.Reminder),
		t.Priority, t.Recurrence.Unit, t.Recurrence.Amount, t.Recurrence.Max,
		nullID(t.ParentLocal),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get task id: %w", err)
	}
	t.LocalID = id
	if err := d.SetCategories(ctx, id, t.CategoryLocals); err != nil {
		return 0, err
	}
	return id, nil
}

// Update overwrites every column of the task with t's local id and replaces
// its category links.
func (d *TaskDAO) Update(ctx context.Context, t *model.Task) error {
	err := affected(d.q.ExecContext(ctx, `UPDATE tasks SET
			remote_id = ?, status = ?, subject = ?, description = ?,
			start_date = ?, due_date = ?, completion_date = ?, reminder = ?,
			priority = ?, recurrence_unit = ?, recurrence_amount = ?,
			recurrence_max = ?, parent_id = ?
		WHERE id = ?`,
		t.RemoteID, t.Status, t.Subject, t.Description,
		nullTime(t.Start), nullTime(t.Due), nullTime(t.Completed), nullTime(t.Reminder),
		t.Priority, t.Recurrence.Unit, t.Recurrence.Amount, t.Recurrence.Max,
		nullID(t.ParentLocal), t.LocalID,
	))
	if err != nil {
		return fmt.Errorf("failed to update task %d: %w", t.LocalID, err)
	}
	return d.SetCategories(ctx, t.LocalID, t.CategoryLocals)
}

// SetCategories replaces the category links of a task, keeping their order.
func (d *TaskDAO) SetCategories(ctx context.Context, id int64, categories []int64) error {
	if _, err := d.q.ExecContext(ctx, "DELETE FROM task_categories WHERE task_id = ?", id); err != nil {
		return fmt.Errorf("failed to clear categories of task %d: %w", id, err)
	}
	for pos, c := range categories {
		_, err := d.q.ExecContext(ctx,
			"INSERT OR IGNORE INTO task_categories (task_id, category_id, position) VALUES (?, ?, ?)",
			id, c, pos,
		)
		if err != nil {
			return fmt.Errorf("failed to link task %d to category %d: %w", id, c, err)
		}
	}
	return nil
}

// loadCategories fills the positional category links of t.
func (d *TaskDAO) loadCategories(ctx context.Context, t *model.Task) error {
	rows, err := d.q.QueryContext(ctx, `SELECT c.id, c.remote_id
		FROM task_categories tc JOIN categories c ON c.id = tc.category_id
		WHERE tc.task_id = ? ORDER BY tc.position`, t.LocalID)
	if err != nil {
		return fmt.Errorf("failed to query categories of task %d: %w", t.LocalID, err)
	}
	defer rows.Close()

	t.CategoryLocals, t.CategoryRemotes = nil, nil
	for rows.Next() {
		var (
			local  int64
			remote string
		)
		if err := rows.Scan(&local, &remote); err != nil {
			return fmt.Errorf("failed to scan category of task %d: %w", t.LocalID, err)
		}
		t.CategoryLocals = append(t.CategoryLocals, local)
		t.CategoryRemotes = append(t.CategoryRemotes, remote)
	}
	return rows.Err()
}

func (d *TaskDAO) getWhere(ctx context.Context, where string, arg any) (*model.Task, error) {
	t, err := scanTask(d.q.QueryRowContext(ctx, "SELECT "+taskColumns+taskFrom+" WHERE "+where, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	if err := d.loadCategories(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Get retrieves a task by local id
func (d *TaskDAO) Get(ctx context.Context, id int64) (*model.Task, error) {
	return d.getWhere(ctx, "t.id = ?", id)
}

// ByRemote retrieves a task by remote id
func (d *TaskDAO) ByRemote(ctx context.Context, remote string) (*model.Task, error) {
	return d.getWhere(ctx, "t.remote_id = ?", remote)
}

// List returns the tasks with status st in id order.
func (d *TaskDAO) List(ctx context.Context, st model.Status) ([]*model.Task, error) {
	where, args := statusFilter("t.status", st)
	rows, err := d.q.QueryContext(ctx, "SELECT "+taskColumns+taskFrom+" WHERE "+where+" ORDER BY t.id", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	var out []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		out = append(out, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	for _, t := range out {
		if err := d.loadCategories(ctx, t); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Count returns the number of tasks with status st.
func (d *TaskDAO) Count(ctx context.Context, st model.Status) (int, error) {
	where, args := statusFilter("status", st)
	var n int
	if err := d.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM tasks WHERE "+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return n, nil
}

// SetSynced records the remote id of a task and marks it synced.
func (d *TaskDAO) SetSynced(ctx context.Context, id int64, remote string) error {
	err := affected(d.q.ExecContext(ctx,
		"UPDATE tasks SET remote_id = ?, status = ? WHERE id = ?", remote, model.StatusSynced, id))
	if err != nil {
		return fmt.Errorf("failed to mark task %d synced: %w", id, err)
	}
	return nil
}

// SetStatus changes the status of a task.
func (d *TaskDAO) SetStatus(ctx context.Context, id int64, st model.Status) error {
	if err := affected(d.q.ExecContext(ctx, "UPDATE tasks SET status = ? WHERE id = ?", st, id)); err != nil {
		return fmt.Errorf("failed to set task %d status: %w", id, err)
	}
	return nil
}

// Delete removes a task with its efforts and category links. Subtasks
// become roots.
func (d *TaskDAO) Delete(ctx context.Context, id int64) error {
	if err := affected(d.q.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id)); err != nil {
		return fmt.Errorf("failed to delete task %d: %w", id, err)
	}
	return nil
}

// DeleteAll removes every task.
func (d *TaskDAO) DeleteAll(ctx context.Context) error {
	if _, err := d.q.ExecContext(ctx, "DELETE FROM tasks"); err != nil {
		return fmt.Errorf("failed to delete tasks: %w", err)
	}
	return nil
}

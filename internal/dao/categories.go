package dao

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vkucera/task-coach/internal/model"
)

// CategoryDAO provides access to the categories table
type CategoryDAO struct {
	q Querier
}

// NewCategoryDAO creates a new CategoryDAO
func NewCategoryDAO(q Querier) *CategoryDAO {
	return &CategoryDAO{q: q}
}

const categoryColumns = `c.id, c.remote_id, c.name, c.status, COALESCE(c.parent_id, 0), COALESCE(p.remote_id, '')`

const categoryFrom = ` FROM categories c LEFT JOIN categories p ON p.id = c.parent_id`

func scanCategory(row interface{ Scan(...any) error }) (*model.Category, error) {
	var c model.Category
	if err := row.Scan(&c.LocalID, &c.RemoteID, &c.Name, &c.Status, &c.ParentLocal, &c.ParentRemote); err != nil {
		return nil, err
	}
	return &c, nil
}

// Insert stores c with its current status and remote id and sets its local id.
func (d *CategoryDAO) Insert(ctx context.Context, c *model.Category) (int64, error) {
	res, err := d.q.ExecContext(ctx,
		"INSERT INTO categories (remote_id, name, parent_id, status) VALUES (?, ?, ?, ?)",
		c.RemoteID, c.Name, nullID(c.ParentLocal), c.Status,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert category: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get category id: %w", err)
	}
	c.LocalID = id
	return id, nil
}

// Update overwrites every column of the category with c's local id.
func (d *CategoryDAO) Update(ctx context.Context, c *model.Category) error {
	err := affected(d.q.ExecContext(ctx,
		"UPDATE categories SET remote_id = ?, name = ?, parent_id = ?, status = ? WHERE id = ?",
		c.RemoteID, c.Name, nullID(c.ParentLocal), c.Status, c.LocalID,
	))
	if err != nil {
		return fmt.Errorf("failed to update category %d: %w", c.LocalID, err)
	}
	return nil
}

// Get retrieves a category by local id
func (d *CategoryDAO) Get(ctx context.Context, id int64) (*model.Category, error) {
	c, err := scanCategory(d.q.QueryRowContext(ctx, "SELECT "+categoryColumns+categoryFrom+" WHERE c.id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get category %d: %w", id, err)
	}
	return c, nil
}

// ByRemote retrieves a category by remote id
func (d *CategoryDAO) ByRemote(ctx context.Context, remote string) (*model.Category, error) {
	c, err := scanCategory(d.q.QueryRowContext(ctx, "SELECT "+categoryColumns+categoryFrom+" WHERE c.remote_id = ?", remote))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get category %q: %w", remote, err)
	}
	return c, nil
}

// List returns the categories with status st in id order.
func (d *CategoryDAO) List(ctx context.Context, st model.Status) ([]*model.Category, error) {
	where, args := statusFilter("c.status", st)
	rows, err := d.q.QueryContext(ctx, "SELECT "+categoryColumns+categoryFrom+" WHERE "+where+" ORDER BY c.id", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	var out []*model.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating categories: %w", err)
	}
	return out, nil
}

// Count returns the number of categories with status st.
func (d *CategoryDAO) Count(ctx context.Context, st model.Status) (int, error) {
	where, args := statusFilter("status", st)
	var n int
	if err := d.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM categories WHERE "+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count categories: %w", err)
	}
	return n, nil
}

// SetSynced records the remote id of a category and marks it synced.
func (d *CategoryDAO) SetSynced(ctx context.Context, id int64, remote string) error {
	err := affected(d.q.ExecContext(ctx,
		"UPDATE categories SET remote_id = ?, status = ? WHERE id = ?", remote, model.StatusSynced, id))
	if err != nil {
		return fmt.Errorf("failed to mark category %d synced: %w", id, err)
	}
	return nil
}

// SetStatus changes the status of a category.
func (d *CategoryDAO) SetStatus(ctx context.Context, id int64, st model.Status) error {
	if err := affected(d.q.ExecContext(ctx, "UPDATE categories SET status = ? WHERE id = ?", st, id)); err != nil {
		return fmt.Errorf("failed to set category %d status: %w", id, err)
	}
	return nil
}

// Delete removes a category. Child categories become roots and task links
// are dropped.
func (d *CategoryDAO) Delete(ctx context.Context, id int64) error {
	if err := affected(d.q.ExecContext(ctx, "DELETE FROM categories WHERE id = ?", id)); err != nil {
		return fmt.Errorf("failed to delete category %d: %w", id, err)
	}
	return nil
}

// DeleteAll removes every category.
func (d *CategoryDAO) DeleteAll(ctx context.Context) error {
	if _, err := d.q.ExecContext(ctx, "DELETE FROM categories"); err != nil {
		return fmt.Errorf("failed to delete categories: %w", err)
	}
	return nil
}

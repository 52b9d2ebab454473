package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vkucera/task-coach/internal/dao"
	"github.com/vkucera/task-coach/internal/model"
)

// ErrDeleted is returned when editing a record already marked deleted.
var ErrDeleted = errors.New("record is deleted")

// AddCategory stores a new category and returns its local id.
func (s *Store) AddCategory(ctx context.Context, c *model.Category) (int64, error) {
	c.RemoteID, c.Status = "", model.StatusNew
	return dao.NewCategoryDAO(s.db).Insert(ctx, c)
}

// AddTask stores a new task and its category links.
func (s *Store) AddTask(ctx context.Context, t *model.Task) (int64, error) {
	t.RemoteID, t.Status = "", model.StatusNew
	var id int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = dao.NewTaskDAO(tx).Insert(ctx, t)
		return err
	})
	return id, err
}

// AddEffort stores a new effort.
func (s *Store) AddEffort(ctx context.Context, e *model.Effort) (int64, error) {
	e.RemoteID, e.Status = "", model.StatusNew
	return dao.NewEffortDAO(s.db).Insert(ctx, e)
}

// edited returns the status of a record after a local edit. A record not
// sent yet stays new.
func edited(st model.Status) (model.Status, error) {
	switch st {
	case model.StatusNew:
		return model.StatusNew, nil
	case model.StatusDeleted:
		return st, ErrDeleted
	default:
		return model.StatusModified, nil
	}
}

// UpdateCategory saves a local change to a category.
func (s *Store) UpdateCategory(ctx context.Context, c *model.Category) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		d := dao.NewCategoryDAO(tx)
		cur, err := d.Get(ctx, c.LocalID)
		if err != nil {
			return err
		}
		if c.Status, err = edited(cur.Status); err != nil {
			return err
		}
		c.RemoteID = cur.RemoteID
		return d.Update(ctx, c)
	})
}

// UpdateTask saves a local change to a task.
func (s *Store) UpdateTask(ctx context.Context, t *model.Task) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		d := dao.NewTaskDAO(tx)
		cur, err := d.Get(ctx, t.LocalID)
		if err != nil {
			return err
		}
		if t.Status, err = edited(cur.Status); err != nil {
			return err
		}
		t.RemoteID = cur.RemoteID
		return d.Update(ctx, t)
	})
}

// UpdateEffort saves a local change to an effort.
func (s *Store) UpdateEffort(ctx context.Context, e *model.Effort) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		d := dao.NewEffortDAO(tx)
		cur, err := d.Get(ctx, e.LocalID)
		if err != nil {
			return err
		}
		if e.Status, err = edited(cur.Status); err != nil {
			return err
		}
		e.RemoteID = cur.RemoteID
		return d.Update(ctx, e)
	})
}

// Delete deletes a record locally. A record never synced is purged; any
// other is marked deleted until the deletion has been sent. Deleting a task
// purges its efforts: the desktop drops them along with the task.
func (s *Store) Delete(ctx context.Context, k model.Kind, id int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		switch k {
		case model.KindCategory:
			d := dao.NewCategoryDAO(tx)
			c, err := d.Get(ctx, id)
			if err != nil {
				return err
			}
			return softDelete(ctx, c.Meta, d.Delete, d.SetStatus)

		case model.KindTask:
			efforts := dao.NewEffortDAO(tx)
			all, err := efforts.List(ctx, model.StatusAll)
			if err != nil {
				return err
			}
			for _, e := range all {
				if e.TaskLocal != id {
					continue
				}
				if err := efforts.Delete(ctx, e.LocalID); err != nil {
					return err
				}
			}
			d := dao.NewTaskDAO(tx)
			t, err := d.Get(ctx, id)
			if err != nil {
				return err
			}
			return softDelete(ctx, t.Meta, d.Delete, d.SetStatus)

		case model.KindEffort:
			d := dao.NewEffortDAO(tx)
			e, err := d.Get(ctx, id)
			if err != nil {
				return err
			}
			return softDelete(ctx, e.Meta, d.Delete, d.SetStatus)
		}
		return fmt.Errorf("store: unknown kind %d", k)
	})
}

func softDelete(
	ctx context.Context,
	m model.Meta,
	purge func(context.Context, int64) error,
	mark func(context.Context, int64, model.Status) error,
) error {
	if m.RemoteID == "" {
		return purge(ctx, m.LocalID)
	}
	return mark(ctx, m.LocalID, model.StatusDeleted)
}

// Categories returns every live category, parents first.
func (s *Store) Categories(ctx context.Context) ([]*model.Category, error) {
	cats, err := dao.NewCategoryDAO(s.db).List(ctx, model.StatusAll)
	if err != nil {
		return nil, err
	}
	return parentFirst(cats, func(c *model.Category) int64 { return c.ParentLocal }), nil
}

// Tasks returns every live task, parents first.
func (s *Store) Tasks(ctx context.Context) ([]*model.Task, error) {
	tasks, err := dao.NewTaskDAO(s.db).List(ctx, model.StatusAll)
	if err != nil {
		return nil, err
	}
	return parentFirst(tasks, func(t *model.Task) int64 { return t.ParentLocal }), nil
}

// Efforts returns every live effort.
func (s *Store) Efforts(ctx context.Context) ([]*model.Effort, error) {
	return dao.NewEffortDAO(s.db).List(ctx, model.StatusAll)
}

// Task returns one task by local id.
func (s *Store) Task(ctx context.Context, id int64) (*model.Task, error) {
	return dao.NewTaskDAO(s.db).Get(ctx, id)
}

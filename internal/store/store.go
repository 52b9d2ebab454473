// Package store is the SQLite task store of the device. It implements
// protocol.LocalStore for the sync machine and offers the editing
// operations the device CLI uses.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vkucera/task-coach/internal/dao"
	"github.com/vkucera/task-coach/internal/deviceid"
	"github.com/vkucera/task-coach/internal/log"
	"github.com/vkucera/task-coach/internal/migrations"
	"github.com/vkucera/task-coach/internal/model"
	"github.com/vkucera/task-coach/internal/sqlite"
)

// Store is a device task store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the store at path and brings its schema
// up to date.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	s, err := New(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database, applying pending migrations.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	if err := migrations.BootstrapStore(ctx, db); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB { return s.db }

// inTx runs fn in a transaction, committing when it returns nil.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Warn().Err(rbErr).Msg("Rollback failed")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// CountDirty implements protocol.LocalStore.
func (s *Store) CountDirty(ctx context.Context, k model.Kind, st model.Status) (int, error) {
	switch k {
	case model.KindCategory:
		return dao.NewCategoryDAO(s.db).Count(ctx, st)
	case model.KindTask:
		return dao.NewTaskDAO(s.db).Count(ctx, st)
	case model.KindEffort:
		return dao.NewEffortDAO(s.db).Count(ctx, st)
	}
	return 0, fmt.Errorf("store: unknown kind %d", k)
}

// EnumerateDirty implements protocol.LocalStore. Records come parents
// first; with StatusAll, references to records that will not be sent are
// dropped.
func (s *Store) EnumerateDirty(ctx context.Context, k model.Kind, st model.Status) ([]model.Record, error) {
	switch k {
	case model.KindCategory:
		cats, err := dao.NewCategoryDAO(s.db).List(ctx, st)
		if err != nil {
			return nil, err
		}
		cats = parentFirst(cats, func(c *model.Category) int64 { return c.ParentLocal })
		if st == model.StatusAll {
			live := ids(cats)
			for _, c := range cats {
				if !live[c.ParentLocal] {
					c.ParentLocal, c.ParentRemote = 0, ""
				}
			}
		}
		return records(cats), nil

	case model.KindTask:
		tasks, err := dao.NewTaskDAO(s.db).List(ctx, st)
		if err != nil {
			return nil, err
		}
		tasks = parentFirst(tasks, func(t *model.Task) int64 { return t.ParentLocal })
		if st == model.StatusAll {
			live := ids(tasks)
			cats, err := dao.NewCategoryDAO(s.db).List(ctx, model.StatusAll)
			if err != nil {
				return nil, err
			}
			liveCats := ids(cats)
			for _, t := range tasks {
				if !live[t.ParentLocal] {
					t.ParentLocal, t.ParentRemote = 0, ""
				}
				t.CategoryLocals, t.CategoryRemotes = keepLinks(t.CategoryLocals, t.CategoryRemotes, liveCats)
			}
		}
		return records(tasks), nil

	case model.KindEffort:
		efforts, err := dao.NewEffortDAO(s.db).List(ctx, st)
		if err != nil {
			return nil, err
		}
		return records(efforts), nil
	}
	return nil, fmt.Errorf("store: unknown kind %d", k)
}

// ApplyIncoming implements protocol.LocalStore. Each record is applied in
// its own transaction. Incoming changes overwrite local ones.
func (s *Store) ApplyIncoming(ctx context.Context, rec model.Record, remoteID string) (int64, error) {
	var id int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = apply(ctx, tx, rec, remoteID)
		return err
	})
	return id, err
}

func apply(ctx context.Context, tx *sql.Tx, rec model.Record, remoteID string) (int64, error) {
	deleted := rec.Base().Status == model.StatusDeleted

	switch r := rec.(type) {
	case *model.Category:
		d := dao.NewCategoryDAO(tx)
		existing, err := d.ByRemote(ctx, remoteID)
		if err != nil && !errors.Is(err, dao.ErrNotFound) {
			return 0, err
		}
		if deleted {
			if existing == nil {
				return 0, nil
			}
			return existing.LocalID, d.Delete(ctx, existing.LocalID)
		}
		c := *r
		c.RemoteID, c.Status = remoteID, model.StatusSynced
		if existing == nil {
			return d.Insert(ctx, &c)
		}
		c.LocalID = existing.LocalID
		return c.LocalID, d.Update(ctx, &c)

	case *model.Task:
		d := dao.NewTaskDAO(tx)
		existing, err := d.ByRemote(ctx, remoteID)
		if err != nil && !errors.Is(err, dao.ErrNotFound) {
			return 0, err
		}
		if deleted {
			if existing == nil {
				return 0, nil
			}
			return existing.LocalID, d.Delete(ctx, existing.LocalID)
		}
		t := *r
		t.RemoteID, t.Status = remoteID, model.StatusSynced
		if existing == nil {
			return d.Insert(ctx, &t)
		}
		t.LocalID = existing.LocalID
		return t.LocalID, d.Update(ctx, &t)

	case *model.Effort:
		d := dao.NewEffortDAO(tx)
		existing, err := d.ByRemote(ctx, remoteID)
		if err != nil && !errors.Is(err, dao.ErrNotFound) {
			return 0, err
		}
		if deleted {
			if existing == nil {
				return 0, nil
			}
			return existing.LocalID, d.Delete(ctx, existing.LocalID)
		}
		e := *r
		e.RemoteID, e.Status = remoteID, model.StatusSynced
		if existing == nil {
			return d.Insert(ctx, &e)
		}
		e.LocalID = existing.LocalID
		return e.LocalID, d.Update(ctx, &e)
	}
	return 0, fmt.Errorf("store: cannot apply %T", rec)
}

// ResolveLocalID implements protocol.LocalStore.
func (s *Store) ResolveLocalID(ctx context.Context, k model.Kind, remoteID string) (int64, bool, error) {
	if remoteID == "" {
		return 0, false, nil
	}
	var (
		rec model.Record
		err error
	)
	switch k {
	case model.KindCategory:
		rec, err = nilIfMissing(dao.NewCategoryDAO(s.db).ByRemote(ctx, remoteID))
	case model.KindTask:
		rec, err = nilIfMissing(dao.NewTaskDAO(s.db).ByRemote(ctx, remoteID))
	case model.KindEffort:
		rec, err = nilIfMissing(dao.NewEffortDAO(s.db).ByRemote(ctx, remoteID))
	default:
		return 0, false, fmt.Errorf("store: unknown kind %d", k)
	}
	if err != nil || rec == nil {
		return 0, false, err
	}
	return rec.Base().LocalID, true, nil
}

// MarkSynced implements protocol.LocalStore.
func (s *Store) MarkSynced(ctx context.Context, k model.Kind, localID int64, remoteID string) error {
	switch k {
	case model.KindCategory:
		return dao.NewCategoryDAO(s.db).SetSynced(ctx, localID, remoteID)
	case model.KindTask:
		return dao.NewTaskDAO(s.db).SetSynced(ctx, localID, remoteID)
	case model.KindEffort:
		return dao.NewEffortDAO(s.db).SetSynced(ctx, localID, remoteID)
	}
	return fmt.Errorf("store: unknown kind %d", k)
}

// Remove implements protocol.LocalStore. Removing a missing record is not
// an error.
func (s *Store) Remove(ctx context.Context, k model.Kind, localID int64) error {
	var err error
	switch k {
	case model.KindCategory:
		err = dao.NewCategoryDAO(s.db).Delete(ctx, localID)
	case model.KindTask:
		err = dao.NewTaskDAO(s.db).Delete(ctx, localID)
	case model.KindEffort:
		err = dao.NewEffortDAO(s.db).Delete(ctx, localID)
	default:
		return fmt.Errorf("store: unknown kind %d", k)
	}
	if errors.Is(err, dao.ErrNotFound) {
		return nil
	}
	return err
}

// Reset implements protocol.LocalStore. Device identity and pairing survive.
func (s *Store) Reset(ctx context.Context) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := dao.NewEffortDAO(tx).DeleteAll(ctx); err != nil {
			return err
		}
		if err := dao.NewTaskDAO(tx).DeleteAll(ctx); err != nil {
			return err
		}
		return dao.NewCategoryDAO(tx).DeleteAll(ctx)
	})
}

// DeviceID implements protocol.LocalStore.
func (s *Store) DeviceID(ctx context.Context) (string, error) {
	return deviceid.Ensure(ctx, s.db)
}

// PairedGUID implements protocol.LocalStore.
func (s *Store) PairedGUID(ctx context.Context) (string, error) {
	return deviceid.PairedGUID(ctx, s.db)
}

// SetPairedGUID implements protocol.LocalStore.
func (s *Store) SetPairedGUID(ctx context.Context, guid string) error {
	return deviceid.SetPairedGUID(ctx, s.db, guid)
}

func nilIfMissing[T model.Record](rec T, err error) (model.Record, error) {
	if errors.Is(err, dao.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

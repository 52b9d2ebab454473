// Package journal records every sync session and the records it moved in a
// SQLite database next to the task store.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/vkucera/task-coach/internal/log"
	"github.com/vkucera/task-coach/internal/migrations"
	"github.com/vkucera/task-coach/internal/model"
	"github.com/vkucera/task-coach/internal/protocol"
	"github.com/vkucera/task-coach/internal/sqlite"
)

// ErrInvalidSession is returned for operations on an unknown session.
var ErrInvalidSession = errors.New("invalid session")

// Direction of a transferred record.
type Direction string

const (
	Sent     Direction = "sent"
	Received Direction = "received"
)

// Report is the summary stored with a finished session.
type Report struct {
	Status   string          `msgpack:"status"`
	Reason   string          `msgpack:"reason,omitempty"`
	Error    string          `msgpack:"error,omitempty"`
	Version  int             `msgpack:"version"`
	Mode     string          `msgpack:"mode"`
	PeerGUID string          `msgpack:"peer_guid,omitempty"`
	Sent     protocol.Counts `msgpack:"sent"`
	Received protocol.Counts `msgpack:"received"`
	Duration time.Duration   `msgpack:"duration"`
}

// Entry is one journaled session.
type Entry struct {
	ID        string
	Peer      string
	StartedAt time.Time
	// EndedAt is zero for a session that never finished.
	EndedAt time.Time
	Report  *Report
}

// Transfer is one journaled record movement.
type Transfer struct {
	Kind      model.Kind
	RemoteID  string
	Change    model.Status
	Direction Direction
	At        time.Time
}

// Journal is a SQLite sync journal.
type Journal struct {
	db *sql.DB
	mu sync.Mutex
}

const scope = "journal"

func initMigrations(r *migrations.Runner) {
	r.AddMigration(1, "Create sessions table", `CREATE TABLE sessions (
		id TEXT PRIMARY KEY,
		peer TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		ended_at TIMESTAMP,
		status TEXT NOT NULL DEFAULT '',
		report BLOB
	)`)
	r.AddMigration(2, "Create transfers table", `CREATE TABLE transfers (
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		kind INTEGER NOT NULL,
		remote_id TEXT NOT NULL,
		change INTEGER NOT NULL,
		direction TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX idx_transfers_session_id ON transfers(session_id)`)
}

// Open opens (creating if needed) the journal at path.
func Open(ctx context.Context, path string) (*Journal, error) {
	db, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	runner := migrations.NewRunner(db, scope)
	initMigrations(runner)
	if err := runner.Run(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Begin records the start of a session.
func (j *Journal) Begin(ctx context.Context, sessionID, peer string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.ExecContext(ctx,
		"INSERT INTO sessions (id, peer, started_at) VALUES (?, ?, ?)",
		sessionID, peer, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to begin session: %w", err)
	}
	return nil
}

// LogTransfer records one record movement of a session.
func (j *Journal) LogTransfer(ctx context.Context, sessionID string, k model.Kind, remoteID string, change model.Status, dir Direction) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.ExecContext(ctx,
		"INSERT INTO transfers (session_id, kind, remote_id, change, direction, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		sessionID, k, remoteID, change, dir, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to log %s transfer: %w", dir, err)
	}
	return nil
}

// Finish stores the outcome of a session.
func (j *Journal) Finish(ctx context.Context, sessionID string, o protocol.Outcome) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var started time.Time
	err := j.db.QueryRowContext(ctx, "SELECT started_at FROM sessions WHERE id = ?", sessionID).Scan(&started)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrInvalidSession
		}
		return fmt.Errorf("failed to get session: %w", err)
	}

	now := time.Now().UTC()
	report := Report{
		Status:   o.Status.String(),
		Reason:   string(o.Reason),
		Version:  o.Version,
		Mode:     o.Mode.String(),
		PeerGUID: o.PeerGUID,
		Sent:     o.Sent,
		Received: o.Received,
		Duration: now.Sub(started),
	}
	if o.Err != nil {
		report.Error = o.Err.Error()
	}
	blob, err := msgpack.Marshal(&report)
	if err != nil {
		return fmt.Errorf("failed to encode session report: %w", err)
	}

	_, err = j.db.ExecContext(ctx,
		"UPDATE sessions SET ended_at = ?, status = ?, report = ? WHERE id = ?",
		now, report.Status, blob, sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish session: %w", err)
	}
	return nil
}

// Sessions returns the most recent sessions, newest first.
func (j *Journal) Sessions(ctx context.Context, limit int) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx,
		"SELECT id, peer, started_at, ended_at, report FROM sessions ORDER BY started_at DESC, rowid DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e     Entry
			ended sql.NullTime
			blob  []byte
		)
		if err := rows.Scan(&e.ID, &e.Peer, &e.StartedAt, &ended, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if ended.Valid {
			e.EndedAt = ended.Time
		}
		if len(blob) > 0 {
			e.Report = &Report{}
			if err := msgpack.Unmarshal(blob, e.Report); err != nil {
				return nil, fmt.Errorf("failed to decode report of session %s: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Transfers returns the records moved by a session in order.
func (j *Journal) Transfers(ctx context.Context, sessionID string) ([]Transfer, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx,
		"SELECT kind, remote_id, change, direction, created_at FROM transfers WHERE session_id = ? ORDER BY rowid",
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfers: %w", err)
	}
	defer rows.Close()

	var out []Transfer
	for rows.Next() {
		var t Transfer
		if err := rows.Scan(&t.Kind, &t.RemoteID, &t.Change, &t.Direction, &t.At); err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CleanupExpired removes sessions started more than maxAge ago.
func (j *Journal) CleanupExpired(ctx context.Context, maxAge time.Duration) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	res, err := j.db.ExecContext(ctx, "DELETE FROM sessions WHERE started_at < ?", time.Now().UTC().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired sessions: %w", err)
	}
	if err := j.checkpoint(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to checkpoint journal after cleanup")
	}
	return res.RowsAffected()
}

// Close checkpoints and closes the journal.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.checkpoint(context.Background()); err != nil {
		log.Warn().Err(err).Msg("Failed to checkpoint journal before closing")
	}
	if err := j.db.Close(); err != nil {
		return fmt.Errorf("failed to close journal database: %w", err)
	}
	return nil
}

func (j *Journal) checkpoint(ctx context.Context) error {
	if _, err := j.db.ExecContext(ctx, "PRAGMA wal_checkpoint(FULL)"); err != nil {
		return fmt.Errorf("failed to checkpoint journal: %w", err)
	}
	return nil
}

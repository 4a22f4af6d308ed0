package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	logx "bodaccwatch/pkg/logx"
)

//go:embed migrations.sql
var migrationsSQL string

type sqliteStore struct {
	db    *sql.DB
	log   logx.Logger
	now   func() time.Time
	audit bool

	mu     sync.Mutex
	closed bool
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log, now: time.Now, audit: cfg.Audit}
	if _, err := db.ExecContext(context.Background(), migrationsSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *sqliteStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *sqliteStore) Load(ctx context.Context) *State {
	if s.isClosed() {
		s.log.Warn("state load on closed store; starting fresh")
		return NewState()
	}
	st, err := s.load(ctx)
	if err != nil {
		s.log.Warn("state unreadable; starting fresh", logx.Err(err))
		return NewState()
	}
	return st
}

func (s *sqliteStore) load(ctx context.Context) (*State, error) {
	st := NewState()

	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'updated_at'`).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, err
	default:
		if t, perr := time.Parse(time.RFC3339Nano, raw); perr == nil {
			st.UpdatedAt = &t
		}
	}

	rows, err := s.db.QueryContext(ctx, `SELECT entity, record_id FROM seen ORDER BY entity, pos`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var entity, id string
		if err := rows.Scan(&entity, &id); err != nil {
			return nil, err
		}
		st.SeenFor(entity).Add(id)
	}
	return st, rows.Err()
}

func (s *sqliteStore) Save(ctx context.Context, st *State) error {
	if st == nil {
		return errors.New("nil state")
	}
	if s.isClosed() {
		return ErrClosed
	}
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	ins, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO seen(entity, record_id, pos) VALUES(?,?,?)`)
	if err != nil {
		return err
	}
	defer ins.Close()

	for entity, set := range st.Seen {
		for i, id := range set.IDs() {
			if _, err := ins.ExecContext(ctx, entity, id, i); err != nil {
				return fmt.Errorf("insert seen %s: %w", entity, err)
			}
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta(key, value) VALUES('updated_at', ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		now.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	st.UpdatedAt = &now
	return nil
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if !s.audit {
		return nil
	}
	if s.isClosed() {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, cycle_id, entity, fetched, new_ids, sent, ok, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.CycleID, e.Entity, e.Fetched, e.New, e.Sent, e.OK, nullStr(e.Error), e.TookMS,
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "bodaccwatch/pkg/logx"
)

// fileStore keeps the whole state in one JSON document:
//
//	{"updatedAt": "2024-01-05T10:00:00.000Z", "seen": {"ACME": ["id1", "id2"]}}
//
// Saves go to a temp file in the same directory which is then renamed over the
// target, so a crash mid-write leaves the previous document readable.
//
// With audit enabled, <prefix>.audit.jsonl receives one JSON line per entity outcome.
type fileStore struct {
	log logx.Logger
	now func() time.Time

	path string

	mu        sync.Mutex
	auditFile *os.File
	closed    bool
}

type stateDoc struct {
	UpdatedAt *string             `json:"updatedAt"`
	Seen      map[string][]string `json:"seen"`
}

// isoMillis matches JavaScript's Date.toISOString().
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{log: log, now: time.Now, path: path}
	if cfg.Audit {
		base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		auditPath := filepath.Join(dir, base+".audit.jsonl")
		af, err := os.OpenFile(auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, err
		}
		s.auditFile = af
	}
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.auditFile != nil {
		err := s.auditFile.Close()
		s.auditFile = nil
		return err
	}
	return nil
}

func (s *fileStore) Load(ctx context.Context) *State {
	_ = ctx
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.log.Info("state file not found; starting fresh", logx.String("path", s.path))
		} else {
			s.log.Warn("state file unreadable; starting fresh", logx.String("path", s.path), logx.Err(err))
		}
		return NewState()
	}
	st, err := decodeState(b)
	if err != nil {
		s.log.Warn("state file corrupt; starting fresh", logx.String("path", s.path), logx.Err(err))
		return NewState()
	}
	return st
}

func decodeState(b []byte) (*State, error) {
	var doc stateDoc
	if err := json.Unmarshal(bytes.TrimSpace(b), &doc); err != nil {
		return nil, err
	}
	st := NewState()
	if doc.UpdatedAt != nil {
		if t, err := time.Parse(time.RFC3339, *doc.UpdatedAt); err == nil {
			st.UpdatedAt = &t
		}
	}
	for entity, ids := range doc.Seen {
		st.Seen[entity] = NewSeenSet(ids...)
	}
	return st, nil
}

func encodeState(st *State) ([]byte, error) {
	doc := stateDoc{Seen: make(map[string][]string, len(st.Seen))}
	if st.UpdatedAt != nil {
		ts := st.UpdatedAt.UTC().Format(isoMillis)
		doc.UpdatedAt = &ts
	}
	for entity, set := range st.Seen {
		ids := set.IDs()
		if ids == nil {
			ids = []string{}
		}
		doc.Seen[entity] = ids
	}
	return json.MarshalIndent(doc, "", "  ")
}

func (s *fileStore) Save(ctx context.Context, st *State) error {
	_ = ctx
	if st == nil {
		return errors.New("nil state")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	now := s.now()
	prev := st.UpdatedAt
	st.UpdatedAt = &now
	b, err := encodeState(st)
	if err != nil {
		st.UpdatedAt = prev
		return fmt.Errorf("encode state: %w", err)
	}
	if err := writeFileAtomic(s.path, b); err != nil {
		st.UpdatedAt = prev
		return err
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	fail := func(err error) error {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if _, err := f.Write(data); err != nil {
		return fail(err)
	}
	if err := f.Sync(); err != nil {
		return fail(err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		if s.closed {
			return ErrClosed
		}
		return nil
	}
	if e.At.IsZero() {
		e.At = s.now()
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

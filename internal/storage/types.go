package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "file": single JSON document replaced atomically (default)
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	Audit       bool
}

// SeenSet is an insertion-ordered set of record ids.
// It only grows.
type SeenSet struct {
	ids   []string
	index map[string]struct{}
}

func NewSeenSet(ids ...string) *SeenSet {
	s := &SeenSet{index: make(map[string]struct{}, len(ids))}
	s.Add(ids...)
	return s
}

// Has reports whether id was already recorded. A nil set has nothing.
func (s *SeenSet) Has(id string) bool {
	if s == nil {
		return false
	}
	_, ok := s.index[id]
	return ok
}

// Add appends ids not yet present and returns how many were new.
// Empty ids are ignored.
func (s *SeenSet) Add(ids ...string) int {
	if s.index == nil {
		s.index = make(map[string]struct{}, len(ids))
	}
	n := 0
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := s.index[id]; ok {
			continue
		}
		s.index[id] = struct{}{}
		s.ids = append(s.ids, id)
		n++
	}
	return n
}

// IDs returns a copy of the ids in insertion order.
func (s *SeenSet) IDs() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.ids...)
}

func (s *SeenSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.ids)
}

// State is the watcher state for one cycle.
//
// UpdatedAt is nil until the first successful Save.
type State struct {
	UpdatedAt *time.Time
	Seen      map[string]*SeenSet
}

func NewState() *State {
	return &State{Seen: map[string]*SeenSet{}}
}

// SeenFor returns the entity's set, creating an empty one if needed.
func (s *State) SeenFor(entity string) *SeenSet {
	if s.Seen == nil {
		s.Seen = map[string]*SeenSet{}
	}
	set := s.Seen[entity]
	if set == nil {
		set = NewSeenSet()
		s.Seen[entity] = set
	}
	return set
}

// Lookup returns the entity's set without creating it (nil if absent).
func (s *State) Lookup(entity string) *SeenSet {
	if s == nil || s.Seen == nil {
		return nil
	}
	return s.Seen[entity]
}

// AuditEntry records the outcome of one company within one cycle.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At      time.Time `json:"at"`
	CycleID string    `json:"cycle_id"`
	Entity  string    `json:"entity"`
	Fetched int       `json:"fetched"`
	New     int       `json:"new"`
	Sent    int       `json:"sent"`
	OK      bool      `json:"ok"`
	Error   string    `json:"error,omitempty"`
	TookMS  int64     `json:"took_ms"`
}

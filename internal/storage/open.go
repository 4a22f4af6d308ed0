package storage

import (
	"context"
	"errors"
	"strings"

	logx "bodaccwatch/pkg/logx"
)

// Store is the persistence API used by the watcher.
type Store interface {
	// Load returns the persisted state. A missing, unreadable or corrupt artifact
	// yields a fresh empty state; the cause is logged, never returned.
	Load(ctx context.Context) *State
	// Save stamps UpdatedAt and persists st without corrupting the previous
	// readable state if interrupted.
	Save(ctx context.Context, st *State) error
	// AppendAudit journals one entity outcome. No-op when audit is disabled.
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "bodaccwatch/pkg/logx"
)

var (
	ErrBusy            = errors.New("schedule is still running")
	ErrUnknownSchedule = errors.New("unknown schedule")
)

// Config controls the scheduler.
type Config struct {
	Timezone string // IANA TZ, e.g. "Europe/Paris"; empty means Local
}

// Job is one unit of scheduled work.
type Job func(ctx context.Context) error

// runState is shared by every trigger of one schedule.
type runState struct {
	busy    atomic.Bool
	skipped atomic.Uint64

	mu       sync.Mutex
	runs     uint64
	lastRun  time.Time
	lastTook time.Duration
	lastErr  error
}

type scheduleDef struct {
	name    string
	spec    string // cron spec or @every
	timeout time.Duration
	job     Job
	entryID cron.EntryID
	state   *runState
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	runCtx context.Context
	defs   []*scheduleDef

	// Skip warnings are throttled per schedule name.
	skipMu       sync.Mutex
	lastSkipWarn map[string]time.Time
}

type ScheduleInfo struct {
	Name     string
	Spec     string
	Timeout  time.Duration
	Next     time.Time
	Prev     time.Time
	Running  bool
	Runs     uint64
	Skipped  uint64
	LastRun  time.Time
	LastTook time.Duration
	LastErr  string
}

type Snapshot struct {
	Running   bool
	Timezone  string
	Schedules []ScheduleInfo
}

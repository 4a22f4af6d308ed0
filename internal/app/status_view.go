package app

import (
	"time"

	"bodaccwatch/internal/notifier"
	rtsup "bodaccwatch/internal/runtime/supervisor"
	"bodaccwatch/internal/task/scheduler"
	"bodaccwatch/internal/watcher"
)

const statusRecent = 20

type statusView struct {
	Now        time.Time              `json:"now"`
	Companies  int                    `json:"companies"`
	Sink       string                 `json:"sink"`
	LastCycle  *cycleView             `json:"last_cycle,omitempty"`
	Scheduler  scheduler.Snapshot     `json:"scheduler"`
	Supervisor rtsup.Counters         `json:"supervisor"`
	Recent     []notifier.HistoryItem `json:"recent,omitempty"`
}

type cycleView struct {
	ID       string            `json:"id"`
	Started  time.Time         `json:"started"`
	Took     string            `json:"took"`
	Entities int               `json:"entities"`
	Fetched  int               `json:"fetched"`
	New      int               `json:"new"`
	Sent     int               `json:"sent"`
	Skipped  int               `json:"skipped,omitempty"`
	Failed   map[string]string `json:"failed,omitempty"`
	SaveErr  string            `json:"save_error,omitempty"`
}

func newCycleView(r watcher.Report) *cycleView {
	v := &cycleView{
		ID:       r.CycleID,
		Started:  r.Started,
		Took:     r.Took.Round(time.Millisecond).String(),
		Entities: r.Entities,
		Fetched:  r.Fetched,
		New:      r.New,
		Sent:     r.Sent,
		Skipped:  r.Skipped,
	}
	if len(r.Failed) > 0 {
		v.Failed = make(map[string]string, len(r.Failed))
		for k, err := range r.Failed {
			v.Failed[k] = err.Error()
		}
	}
	if r.SaveErr != nil {
		v.SaveErr = r.SaveErr.Error()
	}
	return v
}

// statusSnapshot backs GET /status.
func (a *App) statusSnapshot() any {
	v := statusView{
		Now:       time.Now(),
		Companies: len(a.cfg.Watcher.Companies),
		Sink:      a.cfg.Sink.Kind,
		Scheduler: a.sched.Snapshot(),
	}
	if r := a.last.Load(); r != nil {
		v.LastCycle = newCycleView(*r)
	}
	if a.sup != nil {
		v.Supervisor = a.sup.Counters()
	}
	h := a.notif.Snapshot()
	if len(h) > statusRecent {
		h = h[len(h)-statusRecent:]
	}
	v.Recent = h
	return v
}

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "bodaccwatch/pkg/logx"
)

// AddSchedule parses schedule and registers job under name, replacing any
// previous schedule with the same name.
//
// Supported schedule formats:
//   - Cron: "*/5 * * * *", "55 * * * *", "@hourly", "@every 55m"
//   - Interval duration: "55m", "2h30m"
//   - Interval HH:MM: "00:50" (50 minutes), "02:30" (2 hours 30 minutes)
//
// A zero timeout leaves runs unbounded.
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job Job) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	spec := ps.Cron
	if ps.Kind == SpecInterval {
		spec = fmt.Sprintf("@every %s", ps.Every.String())
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("schedule %q: %w", schedule, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeScheduleLocked(name)
	d := &scheduleDef{name: name, spec: spec, timeout: timeout, job: job, state: &runState{}}
	s.defs = append(s.defs, d)
	if s.c == nil {
		// Registered when Start runs.
		return nil
	}
	if err := s.addCronLocked(d); err != nil {
		return err
	}
	args := []logx.Field{logx.String("name", name), logx.String("spec", spec)}
	if next := s.previewNextRunsLocked(spec, 3); next != "" {
		args = append(args, logx.String("next", next))
	}
	s.log.Debug("schedule registered", args...)
	return nil
}

// Remove unregisters a schedule. A run in flight is not interrupted.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeScheduleLocked(name)
}

// RunNow runs the named job immediately in the caller's goroutine, through the
// same overlap guard as scheduled triggers. It returns ErrBusy when a run is
// already in flight.
func (s *Service) RunNow(ctx context.Context, name string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	d := s.findLocked(name)
	s.mu.Unlock()
	if d == nil {
		return fmt.Errorf("%w: %s", ErrUnknownSchedule, name)
	}
	return s.runGuarded(ctx, d, "manual")
}

func (s *Service) findLocked(name string) *scheduleDef {
	for _, d := range s.defs {
		if d.name == name {
			return d
		}
	}
	return nil
}

func (s *Service) removeScheduleLocked(name string) bool {
	for i, d := range s.defs {
		if d.name != name {
			continue
		}
		if s.c != nil && d.entryID != 0 {
			s.c.Remove(d.entryID)
		}
		s.defs = append(s.defs[:i], s.defs[i+1:]...)
		return true
	}
	return false
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	base := s.runCtx
	job := cron.FuncJob(func() {
		_ = s.runGuarded(base, d, "cron")
	})
	eid, err := s.c.AddJob(d.spec, job)
	if err != nil {
		return err
	}
	d.entryID = eid
	return nil
}

func (s *Service) runGuarded(ctx context.Context, d *scheduleDef, trigger string) (err error) {
	if !d.state.busy.CompareAndSwap(false, true) {
		d.state.skipped.Add(1)
		s.reportSkip(d.name, trigger)
		return ErrBusy
	}
	defer d.state.busy.Store(false)

	if ctx == nil {
		ctx = context.Background()
	}
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("job panicked", logx.String("name", d.name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("job %s panicked: %v", d.name, r)
		}
		took := time.Since(start)
		d.state.mu.Lock()
		d.state.runs++
		d.state.lastRun = start
		d.state.lastTook = took
		d.state.lastErr = err
		d.state.mu.Unlock()
		if err != nil {
			s.log.Warn("job failed", logx.String("name", d.name), logx.String("trigger", trigger), logx.Duration("took", took), logx.Err(err))
		} else {
			s.log.Debug("job done", logx.String("name", d.name), logx.String("trigger", trigger), logx.Duration("took", took))
		}
	}()
	return d.job(ctx)
}

// reportSkip logs overlapping triggers, at most once a minute per schedule
// at warn level.
func (s *Service) reportSkip(name, trigger string) {
	now := time.Now()
	s.skipMu.Lock()
	last := s.lastSkipWarn[name]
	warn := last.IsZero() || now.Sub(last) >= time.Minute
	if warn {
		s.lastSkipWarn[name] = now
	}
	s.skipMu.Unlock()

	if warn {
		s.log.Warn("run skipped; previous run still in progress", logx.String("name", name), logx.String("trigger", trigger))
		return
	}
	s.log.Debug("run skipped; previous run still in progress", logx.String("name", name), logx.String("trigger", trigger))
}

func (s *Service) previewNextRunsLocked(spec string, n int) string {
	if !s.log.Enabled(logx.LevelDebug) || n <= 0 {
		return ""
	}
	loc := s.loc
	if loc == nil {
		loc = s.loadLocationLocked()
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return ""
	}
	t := time.Now().In(loc)
	var b strings.Builder
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}

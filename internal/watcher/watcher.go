// Package watcher runs poll cycles: fetch each company's latest announcements,
// deliver the unseen ones and remember them once delivered.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"bodaccwatch/internal/announce"
	"bodaccwatch/internal/bodacc"
	"bodaccwatch/internal/dedup"
	"bodaccwatch/internal/storage"
	kit "bodaccwatch/internal/transport"
	logx "bodaccwatch/pkg/logx"
)

// Source is satisfied by *bodacc.Client.
type Source interface {
	Fetch(ctx context.Context, entity string, maxResults int) ([]bodacc.Record, error)
}

// Deliverer is satisfied by *notifier.Service.
type Deliverer interface {
	Deliver(ctx context.Context, embeds []kit.Embed) error
}

type Config struct {
	Companies   []string
	MaxResults  int
	EntityDelay time.Duration
	// SaveTimeout bounds the final save when the cycle context is gone.
	SaveTimeout time.Duration
}

var ErrPanic = errors.New("entity panicked")

// Report summarizes one cycle.
type Report struct {
	CycleID  string
	Started  time.Time
	Took     time.Duration
	Entities int
	Fetched  int
	New      int
	Sent     int
	Failed   map[string]error
	Skipped  int // entities not processed because the context was canceled
	SaveErr  error
}

type Watcher struct {
	cfg   Config
	log   logx.Logger
	src   Source
	out   Deliverer
	store storage.Store
	now   func() time.Time

	// Cycles never overlap; RunCycle serializes callers.
	runMu sync.Mutex
}

func New(cfg Config, src Source, out Deliverer, store storage.Store, log logx.Logger) *Watcher {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 10
	}
	if cfg.EntityDelay < 0 {
		cfg.EntityDelay = 0
	}
	if cfg.SaveTimeout <= 0 {
		cfg.SaveTimeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Watcher{cfg: cfg, log: log, src: src, out: out, store: store, now: time.Now}
}

type entityResult struct {
	fetched int
	fresh   int
	sent    int
}

// RunCycle processes every company once and saves the state at the end,
// whatever happened to individual companies.
func (w *Watcher) RunCycle(ctx context.Context) Report {
	if ctx == nil {
		ctx = context.Background()
	}
	w.runMu.Lock()
	defer w.runMu.Unlock()

	rep := Report{
		CycleID: uuid.NewString(),
		Started: w.now(),
		Failed:  map[string]error{},
	}
	log := w.log.With(logx.String("cycle", rep.CycleID))
	log.Debug("cycle start", logx.Int("companies", len(w.cfg.Companies)))

	st := w.store.Load(ctx)

	var throttle *rate.Limiter
	if w.cfg.EntityDelay > 0 {
		throttle = rate.NewLimiter(rate.Every(w.cfg.EntityDelay), 1)
	}

	for i, entity := range w.cfg.Companies {
		if ctx.Err() != nil {
			rep.Skipped = len(w.cfg.Companies) - i
			log.Warn("cycle interrupted; skipping remaining companies", logx.Int("skipped", rep.Skipped))
			break
		}
		if throttle != nil {
			if err := throttle.Wait(ctx); err != nil {
				rep.Skipped = len(w.cfg.Companies) - i
				log.Warn("cycle interrupted; skipping remaining companies", logx.Int("skipped", rep.Skipped))
				break
			}
		}

		elog := log.With(logx.String("company", entity))
		started := w.now()
		res, err := w.processEntity(ctx, st, entity, elog)
		rep.Entities++
		rep.Fetched += res.fetched
		rep.New += res.fresh
		rep.Sent += res.sent
		if err != nil {
			rep.Failed[entity] = err
			elog.Error("company failed", logx.Err(err))
		}
		w.audit(ctx, storage.AuditEntry{
			CycleID: rep.CycleID,
			Entity:  entity,
			Fetched: res.fetched,
			New:     res.fresh,
			Sent:    res.sent,
			OK:      err == nil,
			Error:   errString(err),
			TookMS:  w.now().Sub(started).Milliseconds(),
		}, elog)
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.SaveTimeout)
	rep.SaveErr = w.store.Save(saveCtx, st)
	cancel()
	if rep.SaveErr != nil {
		log.Error("state save failed", logx.Err(rep.SaveErr))
	}

	rep.Took = w.now().Sub(rep.Started)
	log.Info("cycle done",
		logx.Int("companies", rep.Entities),
		logx.Int("fetched", rep.Fetched),
		logx.Int("new", rep.New),
		logx.Int("sent", rep.Sent),
		logx.Int("failed", len(rep.Failed)),
		logx.Duration("took", rep.Took),
	)
	return rep
}

func (w *Watcher) processEntity(ctx context.Context, st *storage.State, entity string, log logx.Logger) (res entityResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while processing company", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()

	records, err := w.src.Fetch(ctx, entity, w.cfg.MaxResults)
	if err != nil {
		return res, fmt.Errorf("fetch: %w", err)
	}
	res.fetched = len(records)

	seen := st.SeenFor(entity)
	fresh := dedup.SelectNew(dedup.SortRecords(records), seen)
	res.fresh = len(fresh)
	if len(fresh) == 0 {
		log.Info("nothing new")
		return res, nil
	}

	embeds := announce.FormatAll(fresh, w.now())
	if err := w.out.Deliver(ctx, embeds); err != nil {
		return res, fmt.Errorf("deliver %d announcements: %w", len(embeds), err)
	}
	res.sent = len(embeds)

	seen.Add(dedup.IDs(fresh)...)
	log.Info("announcements sent", logx.Int("count", len(fresh)))
	return res, nil
}

func (w *Watcher) audit(ctx context.Context, e storage.AuditEntry, log logx.Logger) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := w.store.AppendAudit(actx, e); err != nil {
		log.Warn("audit append failed", logx.Err(err))
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

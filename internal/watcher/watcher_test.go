package watcher

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"bodaccwatch/internal/bodacc"
	"bodaccwatch/internal/storage"
	kit "bodaccwatch/internal/transport"
	logx "bodaccwatch/pkg/logx"
)

type fakeSource struct {
	mu      sync.Mutex
	records map[string][]bodacc.Record
	errs    map[string]error
	panics  map[string]bool
	calls   []string
	onFetch func(entity string)
}

func (f *fakeSource) Fetch(ctx context.Context, entity string, maxResults int) ([]bodacc.Record, error) {
	f.mu.Lock()
	f.calls = append(f.calls, entity)
	hook := f.onFetch
	f.mu.Unlock()
	if hook != nil {
		hook(entity)
	}
	if f.panics[entity] {
		panic("upstream exploded")
	}
	if err := f.errs[entity]; err != nil {
		return nil, err
	}
	return f.records[entity], nil
}

type fakeDeliverer struct {
	mu     sync.Mutex
	titles []string
	fail   bool
}

func (f *fakeDeliverer) Deliver(ctx context.Context, embeds []kit.Embed) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return &kit.SinkUnavailableError{Sink: "fake", Status: 503}
	}
	for _, e := range embeds {
		f.titles = append(f.titles, e.Title)
	}
	return nil
}

func (f *fakeDeliverer) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.titles...)
}

func rec(id, name, date string, seq int64) bodacc.Record {
	return bodacc.Record{
		ID:              id,
		DatasetID:       "annonces-commerciales",
		PublicationDate: date,
		SequenceNumber:  seq,
		Fields:          map[string]any{"commercant": name, "dateparution": date},
	}
}

func newStore(t *testing.T) (storage.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.json")
	st, err := storage.Open(storage.Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st, path
}

func TestRunCycleIsIdempotent(t *testing.T) {
	t.Parallel()
	src := &fakeSource{records: map[string][]bodacc.Record{
		"ACME": {rec("a1", "ACME", "2024-01-04", 1), rec("a2", "ACME", "2024-01-05", 2)},
	}}
	out := &fakeDeliverer{}
	st, _ := newStore(t)
	w := New(Config{Companies: []string{"ACME"}}, src, out, st, logx.Nop())

	rep := w.RunCycle(context.Background())
	if rep.New != 2 || rep.Sent != 2 || len(rep.Failed) != 0 || rep.SaveErr != nil {
		t.Fatalf("first cycle = %+v", rep)
	}
	// Newest first.
	if want := []string{"ACME — Annonce", "ACME — Annonce"}; !reflect.DeepEqual(out.sent(), want) {
		t.Fatalf("sent = %v", out.sent())
	}
	if rep.CycleID == "" {
		t.Fatal("cycle id missing")
	}

	rep2 := w.RunCycle(context.Background())
	if rep2.New != 0 || rep2.Sent != 0 || rep2.Fetched != 2 {
		t.Fatalf("second cycle = %+v", rep2)
	}
	if len(out.sent()) != 2 {
		t.Fatalf("re-notified: %v", out.sent())
	}
	if rep2.CycleID == rep.CycleID {
		t.Fatal("cycle ids should differ")
	}

	got := st.Load(context.Background()).Lookup("ACME").IDs()
	if want := []string{"a2", "a1"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("seen = %v, want %v", got, want)
	}
}

func TestRunCycleIsolatesFailures(t *testing.T) {
	t.Parallel()
	src := &fakeSource{
		records: map[string][]bodacc.Record{"Globex": {rec("g1", "Globex", "2024-01-05", 1)}},
		errs:    map[string]error{"ACME": &bodacc.SourceUnavailableError{Status: 503}},
		panics:  map[string]bool{"Initech": true},
	}
	out := &fakeDeliverer{}
	st, _ := newStore(t)
	w := New(Config{Companies: []string{"ACME", "Initech", "Globex"}}, src, out, st, logx.Nop())

	rep := w.RunCycle(context.Background())
	if rep.Entities != 3 {
		t.Fatalf("entities = %d", rep.Entities)
	}
	if !errors.Is(rep.Failed["ACME"], bodacc.ErrSourceUnavailable) {
		t.Fatalf("ACME err = %v", rep.Failed["ACME"])
	}
	if !errors.Is(rep.Failed["Initech"], ErrPanic) {
		t.Fatalf("Initech err = %v", rep.Failed["Initech"])
	}
	if _, ok := rep.Failed["Globex"]; ok {
		t.Fatal("Globex should succeed")
	}

	state := st.Load(context.Background())
	if !state.Lookup("Globex").Has("g1") {
		t.Fatal("Globex id not persisted")
	}
	if state.UpdatedAt == nil {
		t.Fatal("state not saved")
	}
}

func TestRunCycleSinkFailureKeepsRecordsUnseen(t *testing.T) {
	t.Parallel()
	src := &fakeSource{records: map[string][]bodacc.Record{
		"ACME": {rec("a1", "ACME", "2024-01-05", 1)},
	}}
	out := &fakeDeliverer{fail: true}
	st, _ := newStore(t)
	w := New(Config{Companies: []string{"ACME"}}, src, out, st, logx.Nop())

	rep := w.RunCycle(context.Background())
	if !errors.Is(rep.Failed["ACME"], kit.ErrSinkUnavailable) {
		t.Fatalf("err = %v", rep.Failed["ACME"])
	}
	if st.Load(context.Background()).Lookup("ACME").Has("a1") {
		t.Fatal("undelivered id was marked seen")
	}

	// Sink recovers: the same record is delivered on the next cycle.
	out.mu.Lock()
	out.fail = false
	out.mu.Unlock()
	rep = w.RunCycle(context.Background())
	if rep.Sent != 1 || len(rep.Failed) != 0 {
		t.Fatalf("retry cycle = %+v", rep)
	}
	if !st.Load(context.Background()).Lookup("ACME").Has("a1") {
		t.Fatal("delivered id not persisted")
	}
}

func TestRunCycleCanceledStillSaves(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &fakeSource{records: map[string][]bodacc.Record{
		"ACME":   {rec("a1", "ACME", "2024-01-05", 1)},
		"Globex": {rec("g1", "Globex", "2024-01-05", 1)},
	}}
	src.onFetch = func(entity string) {
		if entity == "ACME" {
			cancel()
		}
	}
	out := &fakeDeliverer{}
	st, _ := newStore(t)
	w := New(Config{Companies: []string{"ACME", "Globex"}}, src, out, st, logx.Nop())

	rep := w.RunCycle(ctx)
	if rep.Skipped != 1 || rep.Entities != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if rep.SaveErr != nil {
		t.Fatalf("save: %v", rep.SaveErr)
	}
	state := st.Load(context.Background())
	if !state.Lookup("ACME").Has("a1") {
		t.Fatal("confirmed ACME id lost")
	}
	if state.Lookup("Globex").Has("g1") {
		t.Fatal("skipped company should not be recorded")
	}
}

func TestRunCycleThrottlesEntities(t *testing.T) {
	t.Parallel()
	src := &fakeSource{}
	st, _ := newStore(t)
	w := New(Config{Companies: []string{"A", "B", "C"}, EntityDelay: 40 * time.Millisecond}, src, &fakeDeliverer{}, st, logx.Nop())

	start := time.Now()
	rep := w.RunCycle(context.Background())
	if rep.Entities != 3 {
		t.Fatalf("entities = %d", rep.Entities)
	}
	if took := time.Since(start); took < 80*time.Millisecond {
		t.Fatalf("cycle took %v, want >= 80ms", took)
	}
}

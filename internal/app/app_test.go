package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"bodaccwatch/internal/config"
)

const bodaccBody = `{"records": [
	{"recordid": "r1", "datasetid": "annonces-commerciales", "fields": {"commercant": "ACME", "dateparution": "2024-01-04", "numeroannonce": 1}},
	{"recordid": "r2", "datasetid": "annonces-commerciales", "fields": {"commercant": "ACME", "dateparution": "2024-01-05", "numeroannonce": 2}}
]}`

type webhookRecorder struct {
	mu     sync.Mutex
	titles []string
}

func (w *webhookRecorder) handler(t *testing.T) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		var p struct {
			Username string `json:"username"`
			Embeds   []struct {
				Title string `json:"title"`
			} `json:"embeds"`
		}
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("webhook decode: %v", err)
		}
		w.mu.Lock()
		for _, e := range p.Embeds {
			w.titles = append(w.titles, e.Title)
		}
		w.mu.Unlock()
		rw.WriteHeader(http.StatusNoContent)
	}
}

func (w *webhookRecorder) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.titles)
}

func writeConfig(t *testing.T, dir, sourceURL, webhookURL string, extra ...string) string {
	t.Helper()
	body := strings.Join([]string{
		"watcher:",
		"  companies: [ACME]",
		"  poll_interval: 1h",
		"  entity_delay: 1ms",
		"source:",
		"  base_url: " + sourceURL,
		"sink:",
		"  webhook_url: " + webhookURL,
		"  rate_per_sec: 100",
		"storage:",
		"  driver: file",
		"  path: " + filepath.Join(dir, "state.json"),
		"logging:",
		"  level: error",
	}, "\n") + "\n" + strings.Join(extra, "\n") + "\n"
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func noEnv(string) (string, bool) { return "", false }

func newServers(t *testing.T) (*httptest.Server, *httptest.Server, *webhookRecorder) {
	t.Helper()
	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(bodaccBody))
	}))
	t.Cleanup(src.Close)
	rec := &webhookRecorder{}
	hook := httptest.NewServer(rec.handler(t))
	t.Cleanup(hook.Close)
	return src, hook, rec
}

func TestRunOnceEndToEnd(t *testing.T) {
	t.Parallel()
	src, hook, rec := newServers(t)
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, src.URL, hook.URL)

	a, err := NewApp(cfgPath, WithLookup(noEnv))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	defer a.Close()

	rep := a.RunOnce(context.Background())
	if rep.Sent != 2 || len(rep.Failed) != 0 || rep.SaveErr != nil {
		t.Fatalf("report = %+v", rep)
	}
	if rec.count() != 2 {
		t.Fatalf("webhook got %d embeds", rec.count())
	}
	if h := a.Notifier().Snapshot(); len(h) != 2 {
		t.Fatalf("history = %d", len(h))
	}

	// Restart-safe: a second cycle on the persisted state sends nothing.
	rep = a.RunOnce(context.Background())
	if rep.Sent != 0 || rec.count() != 2 {
		t.Fatalf("second cycle re-notified: %+v", rep)
	}

	st := a.State(context.Background())
	if got := st.Lookup("ACME").IDs(); len(got) != 2 || got[0] != "r2" {
		t.Fatalf("seen = %v", got)
	}
	raw, err := os.ReadFile(filepath.Join(dir, "state.json"))
	if err != nil || !strings.Contains(string(raw), `"updatedAt"`) {
		t.Fatalf("state artifact: %v %s", err, raw)
	}
}

func TestStartRunsInitialCycle(t *testing.T) {
	t.Parallel()
	src, hook, rec := newServers(t)
	cfgPath := writeConfig(t, t.TempDir(), src.URL, hook.URL)

	a, err := NewApp(cfgPath, WithLookup(noEnv))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for rec.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if rec.count() != 2 {
		t.Fatalf("initial cycle sent %d embeds", rec.count())
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestNewAppConfigError(t *testing.T) {
	t.Parallel()
	_, err := NewApp("", WithLookup(noEnv))
	var ce *config.ConfigError
	if !errors.As(err, &ce) || !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("err = %v, want ConfigError", err)
	}
}

func TestNewAppFromEnv(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	env := map[string]string{
		config.EnvWebhookURL:    "https://discord.example/api/webhooks/1/x",
		config.EnvCompanies:     "ACME, Globex",
		config.EnvPollInterval:  "60000",
		config.EnvStateFilePath: filepath.Join(dir, "seen.json"),
		config.EnvLogLevel:      "error",
	}
	a, err := NewApp("", WithLookup(func(k string) (string, bool) { v, ok := env[k]; return v, ok }))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	defer a.Close()
	cfg := a.Config()
	if len(cfg.Watcher.Companies) != 2 || cfg.Watcher.Companies[1] != "Globex" {
		t.Fatalf("companies = %v", cfg.Watcher.Companies)
	}
	spec, err := pollSchedule(cfg)
	if err != nil || spec != "@every 1m0s" {
		t.Fatalf("schedule = %q, %v", spec, err)
	}
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()
	src, hook, rec := newServers(t)
	cfgPath := writeConfig(t, t.TempDir(), src.URL, hook.URL,
		"status:",
		"  enabled: true",
		"  addr: 127.0.0.1:0",
	)

	a, err := NewApp(cfgPath, WithLookup(noEnv))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = a.Stop(stopCtx, StopAppStop)
	}()

	deadline := time.Now().Add(3 * time.Second)
	for (a.StatusAddr() == "" || rec.count() < 2) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if a.StatusAddr() == "" {
		t.Fatalf("status server never bound")
	}
	// The report is stored right after delivery; give the cycle a moment to finish.
	var body string
	for time.Now().Before(deadline) {
		resp, err := http.Get("http://" + a.StatusAddr() + "/status")
		if err != nil {
			t.Fatalf("get status: %v", err)
		}
		b, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		body = string(b)
		if strings.Contains(body, `"last_cycle"`) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !strings.Contains(body, `"sent": 2`) || !strings.Contains(body, `"bodacc.poll"`) {
		t.Fatalf("status body = %s", body)
	}
}

func TestStatusRejectsPublicBindWithoutToken(t *testing.T) {
	t.Parallel()
	cfgPath := writeConfig(t, t.TempDir(), "http://127.0.0.1:1", "http://127.0.0.1:2",
		"status:",
		"  enabled: true",
		"  addr: 0.0.0.0:6060",
	)
	_, err := NewApp(cfgPath, WithLookup(noEnv))
	if !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("err = %v, want config error", err)
	}
}

package status

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	logx "bodaccwatch/pkg/logx"
)

func TestHandlerAuth(t *testing.T) {
	t.Parallel()
	s := New(Config{Token: "s3cret"}, func() any { return map[string]int{"sent": 3} }, logx.Nop())
	h := s.Handler()

	cases := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{"no token", "/healthz", "", http.StatusUnauthorized},
		{"bad query token", "/healthz?token=nope", "", http.StatusUnauthorized},
		{"query token", "/healthz?token=s3cret", "", http.StatusOK},
		{"bearer", "/status", "Bearer s3cret", http.StatusOK},
		{"bad bearer", "/status", "Bearer other", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Fatalf("status = %d, want %d", rr.Code, tc.want)
			}
		})
	}
}

func TestStatusBody(t *testing.T) {
	t.Parallel()
	s := New(Config{}, func() any { return map[string]int{"sent": 3} }, logx.Nop())
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"sent": 3`) {
		t.Fatalf("got %d %q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q", ct)
	}
}

func TestPprofOptIn(t *testing.T) {
	t.Parallel()
	for _, on := range []bool{false, true} {
		s := New(Config{Pprof: on}, nil, logx.Nop())
		rr := httptest.NewRecorder()
		s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
		if got := rr.Code == http.StatusOK; got != on {
			t.Fatalf("pprof=%v: status %d", on, rr.Code)
		}
	}
}

func TestCheckBind(t *testing.T) {
	t.Parallel()
	cases := []struct {
		addr     string
		token    string
		insecure bool
		wantErr  bool
	}{
		{"", "", false, false},
		{"127.0.0.1:0", "", false, false},
		{"localhost:6060", "", false, false},
		{"[::1]:6060", "", false, false},
		{":6060", "", false, true},
		{"0.0.0.0:6060", "tok", false, false},
		{"0.0.0.0:6060", "", true, false},
		{"no-port", "", false, true},
	}
	for _, tc := range cases {
		err := CheckBind(tc.addr, tc.token, tc.insecure)
		if (err != nil) != tc.wantErr {
			t.Fatalf("CheckBind(%q, %q, %v) = %v", tc.addr, tc.token, tc.insecure, err)
		}
	}
	if !errors.Is(CheckBind(":1", "", false), ErrInsecureBind) {
		t.Fatalf("want ErrInsecureBind")
	}
}

func TestServeAndShutdown(t *testing.T) {
	t.Parallel()
	s := New(Config{Addr: "127.0.0.1:0"}, nil, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for s.Addr() == "" && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.Addr() == "" {
		t.Fatalf("server never bound")
	}
	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if string(b) != "ok" {
		t.Fatalf("body = %q", b)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Serve = %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Serve did not return")
	}
}

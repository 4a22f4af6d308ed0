package notifier

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	kit "bodaccwatch/internal/transport"
	logx "bodaccwatch/pkg/logx"
)

type fakeSink struct {
	mu     sync.Mutex
	max    int
	sizes  []int
	failAt int // 1-based batch index; 0 never fails
	err    error
}

func (f *fakeSink) Name() string  { return "fake" }
func (f *fakeSink) MaxBatch() int { return f.max }

func (f *fakeSink) Send(ctx context.Context, embeds []kit.Embed) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sizes = append(f.sizes, len(embeds))
	if f.failAt == len(f.sizes) {
		if f.err != nil {
			return f.err
		}
		return &kit.SinkUnavailableError{Sink: "fake", Status: 500, Body: "boom"}
	}
	return nil
}

func embeds(n int) []kit.Embed {
	out := make([]kit.Embed, n)
	for i := range out {
		out[i] = kit.Embed{Title: fmt.Sprintf("e%d", i)}
	}
	return out
}

func TestDeliverBatches(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{max: 10}
	s := New(Config{RatePerSec: 1000}, sink, logx.Nop())
	if err := s.Deliver(context.Background(), embeds(23)); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if want := []int{10, 10, 3}; !reflect.DeepEqual(sink.sizes, want) {
		t.Fatalf("batch sizes = %v, want %v", sink.sizes, want)
	}
	if h := s.Snapshot(); len(h) != 23 || h[0].Title != "e0" || h[22].Title != "e22" {
		t.Fatalf("history = %d items", len(h))
	}
}

func TestDeliverStopsAtFirstFailure(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{max: 10, failAt: 2}
	s := New(Config{RatePerSec: 1000}, sink, logx.Nop())
	err := s.Deliver(context.Background(), embeds(23))
	if !errors.Is(err, kit.ErrSinkUnavailable) {
		t.Fatalf("err = %v, want ErrSinkUnavailable", err)
	}
	var se *kit.SinkUnavailableError
	if !errors.As(err, &se) || se.Status != 500 {
		t.Fatalf("err = %#v", err)
	}
	if want := []int{10, 10}; !reflect.DeepEqual(sink.sizes, want) {
		t.Fatalf("batch sizes = %v, want %v", sink.sizes, want)
	}
	if h := s.Snapshot(); len(h) != 10 {
		t.Fatalf("history = %d items, want 10", len(h))
	}
}

func TestDeliverWrapsForeignErrors(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{max: 10, failAt: 1, err: errors.New("socket closed")}
	err := New(Config{}, sink, logx.Nop()).Deliver(context.Background(), embeds(1))
	if !errors.Is(err, kit.ErrSinkUnavailable) {
		t.Fatalf("err = %v", err)
	}
}

func TestDeliverEmptyAndNoSink(t *testing.T) {
	t.Parallel()
	if err := New(Config{}, nil, logx.Nop()).Deliver(context.Background(), nil); err != nil {
		t.Fatalf("empty delivery: %v", err)
	}
	if err := New(Config{}, nil, logx.Nop()).Deliver(context.Background(), embeds(1)); !errors.Is(err, ErrNoSink) {
		t.Fatalf("err = %v, want ErrNoSink", err)
	}
}

func TestDeliverCanceled(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{max: 1}
	s := New(Config{RatePerSec: 1}, sink, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Deliver(ctx, embeds(3)); err == nil {
		t.Fatal("expected error on canceled context")
	}
	if len(sink.sizes) != 0 {
		t.Fatalf("sent %v after cancel", sink.sizes)
	}
}

func TestBatches(t *testing.T) {
	t.Parallel()
	tests := []struct {
		n, size int
		want    []int
	}{
		{0, 10, []int{}},
		{10, 10, []int{10}},
		{11, 10, []int{10, 1}},
		{7, 5, []int{5, 2}},
	}
	for _, tt := range tests {
		got := []int{}
		for _, b := range Batches(embeds(tt.n), tt.size) {
			got = append(got, len(b))
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("Batches(%d,%d) = %v, want %v", tt.n, tt.size, got, tt.want)
		}
	}
}

package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	kit "bodaccwatch/internal/transport"
	logx "bodaccwatch/pkg/logx"
)

var ErrNoSink = errors.New("notifier has no sink")

// Service is safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	log     logx.Logger
	sink    kit.Sink
	cfg     Config
	limiter *rate.Limiter

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sink kit.Sink, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{sink: sink, log: log}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	s.cfg = cfg
	// Burst of one: batches are already the unit of work.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
}

// Batches splits embeds into consecutive chunks of at most size.
func Batches(embeds []kit.Embed, size int) [][]kit.Embed {
	if size <= 0 {
		size = 1
	}
	out := make([][]kit.Embed, 0, (len(embeds)+size-1)/size)
	for i := 0; i < len(embeds); i += size {
		end := i + size
		if end > len(embeds) {
			end = len(embeds)
		}
		out = append(out, embeds[i:end])
	}
	return out
}

// Deliver sends embeds in order. It returns nil only when every batch was
// accepted; otherwise the error is the first failure, typically a
// *transport.SinkUnavailableError.
func (s *Service) Deliver(ctx context.Context, embeds []kit.Embed) error {
	if len(embeds) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	sink := s.sink
	lim := s.limiter
	timeout := s.cfg.Timeout
	log := s.log
	s.mu.Unlock()

	if sink == nil {
		return ErrNoSink
	}

	batches := Batches(embeds, sink.MaxBatch())
	for i, batch := range batches {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return &kit.SinkUnavailableError{Sink: sink.Name(), Err: err}
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		err := sink.Send(callCtx, batch)
		cancel()
		if err != nil {
			log.Debug("batch rejected",
				logx.String("sink", sink.Name()),
				logx.Int("batch", i+1),
				logx.Int("batches", len(batches)),
				logx.Err(err),
			)
			if !errors.Is(err, kit.ErrSinkUnavailable) {
				err = &kit.SinkUnavailableError{Sink: sink.Name(), Err: err}
			}
			return fmt.Errorf("deliver batch %d/%d: %w", i+1, len(batches), err)
		}
		s.appendHistory(sink.Name(), batch)
	}
	return nil
}

func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(sink string, batch []kit.Embed) {
	now := time.Now()
	s.hmu.Lock()
	for _, e := range batch {
		s.history = append(s.history, HistoryItem{At: now, Sink: sink, Title: e.Title})
	}
	if len(s.history) > historyLimit {
		s.history = s.history[len(s.history)-historyLimit:]
	}
	s.hmu.Unlock()
}

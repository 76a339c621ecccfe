package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

var ErrNoAdapter = errors.New("notifier: no adapter")

// Service is safe for concurrent use.
type Service struct {
	mu      sync.RWMutex
	cfg     Config
	limiter *rate.Limiter

	adapter transport.Adapter
	log     logx.Logger

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, adapter transport.Adapter, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{adapter: adapter, log: log.With(logx.String("comp", "notifier"))}
	s.Apply(cfg)
	return s
}

// Apply swaps the delivery settings; in-flight sends keep the old limiter.
func (s *Service) Apply(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = max(1, int(cfg.RatePerSec))
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 50
	}
	s.mu.Lock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst)
	s.mu.Unlock()
}

func (s *Service) settings() (Config, *rate.Limiter) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg, s.limiter
}

// Send implements reminder.DeliveryChannel.
func (s *Service) Send(ctx context.Context, ownerID, body string) (ok bool) {
	err := s.SendErr(ctx, ownerID, body)
	s.record(ownerID, err)
	if err != nil {
		s.log.Warn("delivery failed", logx.String("owner", ownerID), logx.Err(err))
		return false
	}
	return true
}

// SendErr is Send with the final error.
func (s *Service) SendErr(ctx context.Context, ownerID, body string) error {
	if s == nil || s.adapter == nil {
		return ErrNoAdapter
	}
	cfg, lim := s.settings()

	var lastErr error
	for attempt := 0; attempt <= cfg.RetryMax; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, backoff(cfg.RetryBase, attempt)); err != nil {
				return err
			}
		}
		if err := lim.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
		lastErr = s.attempt(ctx, cfg.SendTimeout, ownerID, body)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
		s.log.Debug("send attempt failed", logx.String("owner", ownerID), logx.Int("attempt", attempt+1), logx.Err(lastErr))
	}
	return lastErr
}

func (s *Service) attempt(ctx context.Context, timeout time.Duration, ownerID, body string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("adapter panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("adapter panic: %v", r)
		}
	}()
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.adapter.SendText(actx, ownerID, body)
}

// backoff returns base*2^(attempt-1) with up to 20% jitter.
func backoff(base time.Duration, attempt int) time.Duration {
	d := base << (attempt - 1)
	if j := int64(d) / 5; j > 0 {
		d += time.Duration(rand.Int63n(j + 1))
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Service) record(ownerID string, err error) {
	cfg, _ := s.settings()
	it := HistoryItem{At: time.Now(), OwnerID: ownerID, OK: err == nil}
	if err != nil {
		it.Error = err.Error()
	}
	s.hmu.Lock()
	s.history = append(s.history, it)
	if over := len(s.history) - cfg.HistorySize; over > 0 {
		s.history = append([]HistoryItem(nil), s.history[over:]...)
	}
	s.hmu.Unlock()
}

// History returns recent deliveries, newest last.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

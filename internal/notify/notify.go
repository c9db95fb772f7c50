// Package notify delivers run outcome notifications through pluggable
// sinks: queue + worker pool + rate limit + retry + dedup.
package notify

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	rtsup "prestic/internal/runtime/supervisor"
	logx "prestic/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

// Message is one notification. Body may be multi-line (run output tail).
type Message struct {
	Profile string
	Subject string
	Body    string
	// Failure messages are always delivered; success messages only when
	// the pipeline is configured for them.
	Failure bool
}

// Sink delivers a message to one transport.
type Sink interface {
	Name() string
	Send(ctx context.Context, m Message) error
}

// Config controls the pipeline. Zero values get sensible defaults.
type Config struct {
	Enabled     bool
	Workers     int
	QueueSize   int
	RatePerSec  int
	RetryMax    int
	RetryBase   time.Duration
	DedupWindow time.Duration
	// OnSuccess also delivers success messages, not only failures.
	OnSuccess bool
}

// Service is the async notification pipeline. Safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log   logx.Logger
	sinks []Sink

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup
	queue     chan Message
	sup       *rtsup.Supervisor

	// In-memory dedup cache: key -> suppress until.
	dmu   sync.Mutex
	dedup map[string]time.Time
}

func New(cfg Config, log logx.Logger, sinks ...Sink) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{log: log, sinks: sinks, dedup: map[string]time.Time{}}
	s.applyLocked(cfg)
	return s
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled && len(s.sinks) > 0
}

// Start is idempotent; a disabled service stays inert.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil || !s.cfg.Enabled || len(s.sinks) == 0 {
		return
	}

	s.queue = make(chan Message, s.cfg.QueueSize)
	s.accepting = true
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "notify"))),
		// Delivery is best-effort; a sink failure must not take the app down.
		rtsup.WithCancelOnError(false),
	)
	q := s.queue
	for i := 0; i < s.cfg.Workers; i++ {
		s.sup.Go0(fmt.Sprintf("worker.%d", i), func(c context.Context) {
			s.workerLoop(c, q)
		})
	}
}

// Stop stops intake and drains the queue until ctx expires.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	q := s.queue
	sup := s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	s.queue = nil
	s.sup = nil
	s.mu.Unlock()

	s.sendWG.Wait()
	close(q)
	if sup != nil {
		if err := sup.Wait(ctx); err != nil {
			sup.Cancel()
		}
	}
}

// Notify enqueues a message. Success messages are filtered when OnSuccess
// is off; duplicates within the dedup window are suppressed silently.
func (s *Service) Notify(ctx context.Context, m Message) error {
	if ctx != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	s.mu.Lock()
	if !s.cfg.Enabled || len(s.sinks) == 0 {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	if !m.Failure && !s.cfg.OnSuccess {
		s.mu.Unlock()
		return nil
	}
	q := s.queue
	window := s.cfg.DedupWindow
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	if window > 0 && !s.dedupAllow(dedupKey(m), window) {
		s.log.Debug("notification deduped", logx.String("profile", m.Profile))
		return nil
	}

	select {
	case q <- m:
		return nil
	default:
		s.log.Warn("notification dropped (queue full)", logx.String("profile", m.Profile))
		return ErrQueueFull
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-q:
			if !ok {
				return
			}
			s.deliver(ctx, m)
		}
	}
}

func (s *Service) deliver(ctx context.Context, m Message) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	sinks := s.sinks
	s.mu.Unlock()

	for _, sink := range sinks {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return
			}
		}
		if err := s.sendWithRetry(ctx, sink, m, cfg); err != nil {
			s.log.Warn("notification delivery failed",
				logx.String("sink", sink.Name()),
				logx.String("profile", m.Profile),
				logx.Err(err))
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, sink Sink, m Message, cfg Config) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.RetryMax; attempt++ {
		if attempt > 0 {
			delay := cfg.RetryBase << (attempt - 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := sink.Send(callCtx, m)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return lastErr
}

func dedupKey(m Message) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(m.Profile))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(m.Subject))
	return fmt.Sprintf("%x", h.Sum64())
}

func (s *Service) dedupAllow(key string, window time.Duration) bool {
	now := time.Now()
	s.dmu.Lock()
	defer s.dmu.Unlock()

	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	s.dedup[key] = now.Add(window)
	return true
}

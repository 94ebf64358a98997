package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"relaybot/internal/eventbus"
	"relaybot/internal/relay"
	"relaybot/internal/storage"
	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

var (
	ErrDisabled = errors.New("notifier disabled")
	ErrNoTarget = errors.New("notifier: target chat is not configured")
	ErrStopped  = errors.New("notifier stopped")
)

// Bus event types.
const (
	EventSent   = "notifier.sent"
	EventFailed = "notifier.failed"
)

// Service is the relay's Sink. It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	sender kit.Sender
	bus    eventbus.Bus
	store  storage.Store

	cfg     Config
	limiter *rate.Limiter

	stopped  bool
	inflight sync.WaitGroup

	hmu     sync.Mutex
	history []HistoryItem

	sent   atomic.Uint64
	failed atomic.Uint64
}

func New(cfg Config, sender kit.Sender, log logx.Logger, bus eventbus.Bus, store storage.Store) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{sender: sender, log: log, bus: bus, store: store}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Apply swaps the configuration. Sends already waiting on the old limiter
// finish with it.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 300
	}
	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Send delivers n to the configured chat. It makes exactly one attempt.
func (s *Service) Send(ctx context.Context, n relay.Notification) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	cfg := s.cfg
	lim := s.limiter
	sender := s.sender
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	if !cfg.Enabled {
		return ErrDisabled
	}
	if cfg.Target.ChatID == 0 {
		return ErrNoTarget
	}
	if sender == nil {
		return errors.New("notifier: no transport")
	}

	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	text := n.Text()
	start := time.Now()
	_, err := sender.SendText(ctx, cfg.Target, text, &kit.SendOptions{DisablePreview: cfg.DisablePreview})
	took := time.Since(start)

	s.record(cfg, n, text, start, took, err)
	if err != nil {
		return fmt.Errorf("telegram send to %d: %w", cfg.Target.ChatID, err)
	}
	return nil
}

func (s *Service) record(cfg Config, n relay.Notification, text string, at time.Time, took time.Duration, sendErr error) {
	ok := sendErr == nil
	if ok {
		s.sent.Add(1)
	} else {
		s.failed.Add(1)
	}
	s.appendHistory(cfg.HistorySize, HistoryItem{At: at, EventID: n.EventID, Text: text, OK: ok})

	ev := NotificationEvent{
		EventID:  n.EventID,
		ChatID:   cfg.Target.ChatID,
		ThreadID: cfg.Target.ThreadID,
		At:       at,
		TookMS:   took.Milliseconds(),
	}
	typ := EventSent
	if !ok {
		typ = EventFailed
		ev.Error = sendErr.Error()
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Time: at, Data: ev})
	}

	if s.store == nil {
		return
	}
	// The journal write must not depend on the send context, which may
	// already be expired when the send timed out.
	actx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	if err := s.store.AppendDelivery(actx, storage.DeliveryRecord{
		At:       at,
		EventID:  n.EventID,
		Channel:  n.ChannelLabel,
		Actor:    n.ActorName,
		ChatID:   cfg.Target.ChatID,
		ThreadID: cfg.Target.ThreadID,
		OK:       ok,
		Error:    ev.Error,
		TookMS:   ev.TookMS,
	}); err != nil {
		s.log.Debug("delivery journal append failed", logx.Err(err))
	}
}

// Stop rejects new sends and waits for in-flight ones until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("notifier stop timed out with sends in flight")
	}
}

// Counters returns delivery counters since start.
func (s *Service) Counters() (sent, failed uint64) {
	return s.sent.Load(), s.failed.Load()
}

// Snapshot returns up to n recent deliveries, newest first. n <= 0 returns
// the whole history.
func (s *Service) Snapshot(n int) []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	if n <= 0 || n > len(s.history) {
		n = len(s.history)
	}
	out := make([]HistoryItem, 0, n)
	for i := len(s.history) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.history[i])
	}
	return out
}

func (s *Service) appendHistory(max int, it HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > max {
		s.history = s.history[len(s.history)-max:]
	}
	s.hmu.Unlock()
}

package relay

import (
	"context"
	"sync/atomic"
	"time"
)

// Directory resolves opaque ids into display names.
type Directory interface {
	ResolveActor(ctx context.Context, actorID string) (string, error)
	ResolveChannel(ctx context.Context, channelID string) (string, error)
}

// Sink delivers a notification to its fixed destination.
type Sink interface {
	Send(ctx context.Context, n Notification) error
}

// Labels is the read side of the category label table.
type Labels interface {
	Get(key string) string
}

// Intake results.
const (
	ResultAccepted  = "accepted"
	ResultDuplicate = "duplicate"
	ResultNoID      = "no_id"
	ResultOverflow  = "overflow"
	ResultClosed    = "closed"
)

// Drop reasons used by the dispatcher.
const (
	ReasonNotMessage   = "not_message"
	ReasonNoActor      = "no_actor"
	ReasonNoMention    = "no_mention"
	ReasonLookupFailed = "lookup_failed"
	ReasonSendFailed   = "send_failed"
	ReasonPanic        = "panic"
)

// Metrics receives pipeline signals. Implementations must be cheap and
// non-blocking; they run on the intake path.
type Metrics interface {
	EventReceived(result string)
	EventDropped(reason string)
	EventDispatched(latency time.Duration)
	QueueDepth(n int)
}

type nopMetrics struct{}

func (nopMetrics) EventReceived(string)          {}
func (nopMetrics) EventDropped(string)           {}
func (nopMetrics) EventDispatched(time.Duration) {}
func (nopMetrics) QueueDepth(int)                {}

// Stats are process-lifetime counters, shared by intake and dispatcher.
type Stats struct {
	accepted   atomic.Uint64
	duplicates atomic.Uint64
	noID       atomic.Uint64
	overflow   atomic.Uint64
	closed     atomic.Uint64
	dispatched atomic.Uint64
	dropped    atomic.Uint64
	panics     atomic.Uint64
}

type StatsSnapshot struct {
	Accepted   uint64 `json:"accepted"`
	Duplicates uint64 `json:"duplicates"`
	NoID       uint64 `json:"no_id"`
	Overflow   uint64 `json:"overflow"`
	Closed     uint64 `json:"closed"`
	Dispatched uint64 `json:"dispatched"`
	Dropped    uint64 `json:"dropped"`
	Panics     uint64 `json:"panics"`
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Accepted:   s.accepted.Load(),
		Duplicates: s.duplicates.Load(),
		NoID:       s.noID.Load(),
		Overflow:   s.overflow.Load(),
		Closed:     s.closed.Load(),
		Dispatched: s.dispatched.Load(),
		Dropped:    s.dropped.Load(),
		Panics:     s.panics.Load(),
	}
}

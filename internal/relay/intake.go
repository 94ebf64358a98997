package relay

import (
	"time"

	"github.com/google/uuid"

	"relaybot/internal/eventbus"
	logx "relaybot/pkg/logx"
)

// Bus event types published by the pipeline.
const (
	EventAccepted   = "relay.accepted"
	EventDuplicate  = "relay.duplicate"
	EventDispatched = "relay.dispatched"
	EventDropped    = "relay.dropped"
)

// EventInfo is the payload of pipeline bus events.
type EventInfo struct {
	ID     string `json:"id,omitempty"`
	Seq    uint64 `json:"seq,omitempty"`
	Trace  string `json:"trace,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type IntakeConfig struct {
	// AcceptWithoutID accepts events that carry no id. Such events bypass
	// deduplication entirely. When false they are dropped (still acked).
	AcceptWithoutID bool
}

// Intake is called by the source for every delivery. It must return fast:
// the source redelivers events that are not acknowledged in time.
type Intake struct {
	cfg     IntakeConfig
	dedup   DedupStore
	queue   *Queue
	log     logx.Logger
	bus     eventbus.Bus
	metrics Metrics
	stats   *Stats
	now     func() time.Time
}

func NewIntake(cfg IntakeConfig, dedup DedupStore, queue *Queue, log logx.Logger, bus eventbus.Bus, m Metrics, stats *Stats) *Intake {
	if log.IsZero() {
		log = logx.Nop()
	}
	if m == nil {
		m = nopMetrics{}
	}
	if stats == nil {
		stats = &Stats{}
	}
	return &Intake{cfg: cfg, dedup: dedup, queue: queue, log: log, bus: bus, metrics: m, stats: stats, now: time.Now}
}

// OnEvent deduplicates raw, enqueues it when new and always returns an Ack
// for its envelope.
func (in *Intake) OnEvent(raw RawEvent) Ack {
	ack := Ack{EnvelopeID: raw.EnvelopeID}

	if raw.ID == "" {
		if !in.cfg.AcceptWithoutID {
			in.stats.noID.Add(1)
			in.metrics.EventReceived(ResultNoID)
			in.log.Info("event without id dropped", logx.String("type", raw.Type))
			return ack
		}
	} else if !in.dedup.Claim(raw.ID) {
		in.stats.duplicates.Add(1)
		in.metrics.EventReceived(ResultDuplicate)
		in.log.Debug("duplicate event ignored", logx.String("id", raw.ID))
		in.publish(EventDuplicate, EventInfo{ID: raw.ID})
		return ack
	}

	qe, ok := in.queue.Push(QueuedEvent{RawEvent: raw, TraceID: uuid.NewString(), AcceptedAt: in.now()})
	if !ok {
		// Never processed: forget the id so a redelivery is not a duplicate.
		if raw.ID != "" {
			in.dedup.Release(raw.ID)
		}
		if in.queue.Closed() {
			in.stats.closed.Add(1)
			in.metrics.EventReceived(ResultClosed)
			in.log.Warn("event arrived after intake closed", logx.String("id", raw.ID))
			return ack
		}
		in.stats.overflow.Add(1)
		in.metrics.EventReceived(ResultOverflow)
		in.log.Warn("event queue rejected event", logx.String("id", raw.ID), logx.Int("queue_len", in.queue.Len()))
		return ack
	}

	in.stats.accepted.Add(1)
	in.metrics.EventReceived(ResultAccepted)
	in.metrics.QueueDepth(in.queue.Len())
	in.log.Debug("event accepted", logx.String("id", raw.ID), logx.Uint64("seq", qe.Seq), logx.String("trace", qe.TraceID))
	in.publish(EventAccepted, EventInfo{ID: raw.ID, Seq: qe.Seq, Trace: qe.TraceID})
	return ack
}

func (in *Intake) publish(typ string, info EventInfo) {
	if in.bus == nil {
		return
	}
	in.bus.Publish(eventbus.Event{Type: typ, Data: info})
}

package relay

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"relaybot/internal/eventbus"
	logx "relaybot/pkg/logx"
)

type DispatcherConfig struct {
	// Identity is the source user id resolved at startup. Empty disables
	// relaying: no text can contain an empty marker.
	Identity string

	LookupTimeout time.Duration
	SendTimeout   time.Duration
}

// Dispatcher is the single consumer of the queue. Events are processed one at
// a time, in queue order.
type Dispatcher struct {
	cfg     DispatcherConfig
	queue   *Queue
	dir     Directory
	labels  Labels
	sink    Sink
	log     logx.Logger
	bus     eventbus.Bus
	metrics Metrics
	stats   *Stats

	identity atomic.Pointer[string]
}

func NewDispatcher(cfg DispatcherConfig, queue *Queue, dir Directory, labels Labels, sink Sink, log logx.Logger, bus eventbus.Bus, m Metrics, stats *Stats) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if m == nil {
		m = nopMetrics{}
	}
	if stats == nil {
		stats = &Stats{}
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	d := &Dispatcher{cfg: cfg, queue: queue, dir: dir, labels: labels, sink: sink, log: log, bus: bus, metrics: m, stats: stats}
	d.SetIdentity(cfg.Identity)
	return d
}

// SetIdentity replaces the mention identity.
func (d *Dispatcher) SetIdentity(id string) {
	id = strings.TrimSpace(id)
	d.identity.Store(&id)
}

func (d *Dispatcher) Identity() string { return *d.identity.Load() }

// Run drains the queue until ctx is done or the queue is closed and empty.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info("dispatcher started", logx.Bool("identity_set", d.Identity() != ""))
	for {
		ev, err := d.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) {
				d.log.Info("dispatcher drained")
				return nil
			}
			return err
		}
		d.metrics.QueueDepth(d.queue.Len())
		d.handle(ctx, ev)
	}
}

// handle is the per-event fault boundary: nothing that happens while
// processing one event may stop the loop.
func (d *Dispatcher) handle(ctx context.Context, ev QueuedEvent) {
	log := d.log.With(logx.String("id", ev.ID), logx.Uint64("seq", ev.Seq), logx.String("trace", ev.TraceID))
	defer func() {
		if r := recover(); r != nil {
			d.stats.panics.Add(1)
			d.drop(ev, ReasonPanic)
			log.Error("event processing panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()

	reason, err := d.process(ctx, ev, log)
	if reason != "" {
		d.drop(ev, reason)
		switch reason {
		case ReasonLookupFailed, ReasonSendFailed:
			log.Warn("event dropped", logx.String("reason", reason), logx.Err(err))
		case ReasonNoActor:
			log.Info("message without actor dropped")
		default:
			log.Debug("event skipped", logx.String("reason", reason))
		}
		return
	}

	d.stats.dispatched.Add(1)
	d.metrics.EventDispatched(time.Since(ev.AcceptedAt))
	d.publish(EventDispatched, EventInfo{ID: ev.ID, Seq: ev.Seq, Trace: ev.TraceID})
}

// process runs filter, enrichment and delivery. It returns a drop reason
// (empty when the notification was sent) and the underlying error if any.
func (d *Dispatcher) process(ctx context.Context, ev QueuedEvent, log logx.Logger) (string, error) {
	if ev.Type != TypeMessage || ev.Text == nil {
		return ReasonNotMessage, nil
	}
	if ev.ActorID == "" {
		return ReasonNoActor, nil
	}
	marker := MentionMarker(d.Identity())
	if marker == "" || !strings.Contains(*ev.Text, marker) {
		return ReasonNoMention, nil
	}

	actor, err := d.lookup(ctx, d.dir.ResolveActor, ev.ActorID)
	if err != nil {
		return ReasonLookupFailed, err
	}
	channel, err := d.lookup(ctx, d.dir.ResolveChannel, ev.ChannelID)
	if err != nil {
		return ReasonLookupFailed, err
	}

	label := ""
	if d.labels != nil {
		label = d.labels.Get(channel)
	}
	n := Notification{
		EventID:      ev.ID,
		ChannelLabel: ChannelDisplay(channel, label),
		ActorName:    actor,
		RawText:      *ev.Text,
	}
	log.Info("mention found", logx.String("channel", channel), logx.String("actor", actor))

	sctx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()
	if err := d.sink.Send(sctx, n); err != nil {
		return ReasonSendFailed, fmt.Errorf("send: %w", err)
	}
	log.Info("notification sent", logx.String("channel", n.ChannelLabel))
	return "", nil
}

func (d *Dispatcher) lookup(ctx context.Context, fn func(context.Context, string) (string, error), id string) (string, error) {
	lctx, cancel := context.WithTimeout(ctx, d.cfg.LookupTimeout)
	defer cancel()
	return fn(lctx, id)
}

func (d *Dispatcher) drop(ev QueuedEvent, reason string) {
	d.stats.dropped.Add(1)
	d.metrics.EventDropped(reason)
	d.publish(EventDropped, EventInfo{ID: ev.ID, Seq: ev.Seq, Trace: ev.TraceID, Reason: reason})
}

func (d *Dispatcher) publish(typ string, info EventInfo) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{Type: typ, Data: info})
}

package relay

import (
	"time"

	"relaybot/internal/eventbus"
	logx "relaybot/pkg/logx"
)

// Config is the relay's own configuration, already parsed and defaulted by
// the app layer.
type Config struct {
	Identity        string
	AcceptWithoutID bool
	DedupWindow     time.Duration
	DedupMaxEntries int
	QueueMax        int
	LookupTimeout   time.Duration
	SendTimeout     time.Duration
}

// Pipeline wires one intake to one dispatcher through a shared queue.
type Pipeline struct {
	Dedup      *Dedup
	Queue      *Queue
	Intake     *Intake
	Dispatcher *Dispatcher
	Stats      *Stats
}

func NewPipeline(cfg Config, dir Directory, labels Labels, sink Sink, log logx.Logger, bus eventbus.Bus, m Metrics) *Pipeline {
	if log.IsZero() {
		log = logx.Nop()
	}
	stats := &Stats{}
	dedup := NewDedup(cfg.DedupMaxEntries, cfg.DedupWindow)
	queue := NewQueue(cfg.QueueMax)
	return &Pipeline{
		Dedup: dedup,
		Queue: queue,
		Intake: NewIntake(IntakeConfig{AcceptWithoutID: cfg.AcceptWithoutID},
			dedup, queue, log.With(logx.String("stage", "intake")), bus, m, stats),
		Dispatcher: NewDispatcher(DispatcherConfig{
			Identity:      cfg.Identity,
			LookupTimeout: cfg.LookupTimeout,
			SendTimeout:   cfg.SendTimeout,
		}, queue, dir, labels, sink, log.With(logx.String("stage", "dispatch")), bus, m, stats),
		Stats: stats,
	}
}

package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"

	"relaybot/internal/config"
	"relaybot/internal/eventbus"
	"relaybot/internal/maintenance"
	"relaybot/internal/notifier"
	"relaybot/internal/observability/health"
	"relaybot/internal/observability/metrics"
	"relaybot/internal/relay"
	"relaybot/internal/runtime/supervisor"
	"relaybot/internal/storage"
	"relaybot/internal/transport/slack"
	telegram "relaybot/internal/transport/telegram/adapter"
	logx "relaybot/pkg/logx"
)

const (
	taskDispatch = "relay.dispatch"
	taskSource   = "slack.source"

	// recentDeliveries is how many history and journal entries /stats and
	// the stats report carry.
	recentDeliveries = 20
)

type App struct {
	cfgm *config.ConfigManager

	// sup runs housekeeping. srcSup is its child and only runs the socket,
	// so Stop can wait for in-flight deliveries before closing the queue.
	// The dispatcher has its own supervisor so it can keep draining after
	// sup is cancelled.
	sup      *supervisor.Supervisor
	srcSup   *supervisor.Supervisor
	drainSup *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	tg      *telegram.Adapter
	dir     *slack.Directory
	source  *slack.Source
	labels  *relay.LabelSource
	pipe    *relay.Pipeline
	notif   *notifier.Service
	metrics *metrics.Relay
	health  *health.Service

	maintMu sync.Mutex
	maint   *maintenance.Scheduler

	labelsMu     sync.Mutex
	labelsCancel context.CancelFunc

	startedAt time.Time
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// Logging comes up before the Telegram transport so bootstrap errors
	// reach the console; the sender is attached once it exists.
	logSvc, log := logx.New(mapLogConfig(cfg), nil)
	appLog := log.With(logx.String("comp", "app"))

	tgTimeout, err := config.ParseDurationOrDefault("telegram.timeout", cfg.Telegram.Timeout, 10*time.Second)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, Timeout: tgTimeout}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("telegram: %w", err)
	}
	logSvc.SetSender(ad)

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		store = st
		appLog.Info("delivery journal enabled", logx.String("driver", sc.Driver))
	}

	rc, err := mapRelayConfig(cfg)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	api, err := slack.NewClient(slack.Config{
		UserToken: cfg.Slack.UserToken,
		AppToken:  cfg.Slack.AppToken,
		Debug:     cfg.Slack.Debug,
	})
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	a := &App{
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		tg:      ad,
		metrics: metrics.NewRelay(),
	}
	a.notif = notifier.New(mapNotifierConfig(cfg), ad, log.With(logx.String("comp", "notifier")), bus, store)
	a.labels = relay.NewLabelSource(labelsPath(cfg), log.With(logx.String("comp", "labels")))
	a.dir = slack.NewDirectory(api, log.With(logx.String("comp", "directory")))
	a.pipe = relay.NewPipeline(rc, a.dir, a.labels, a.notif, log.With(logx.String("comp", "relay")), bus, a.metrics)
	a.source = slack.NewSource(api, a.pipe.Intake, log.With(logx.String("comp", "slack")))
	a.registerCollectors()

	hc, err := mapHealthConfig(cfg)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	a.health = health.New(hc, health.Deps{
		Metrics: a.metrics.Handler(),
		Ready:   a.ready,
		Stats:   a.stats,
	}, log.With(logx.String("comp", "health")))

	return a, nil
}

// registerCollectors exposes state owned outside the relay package on the
// /metrics registry.
func (a *App) registerCollectors() {
	a.metrics.Registry().MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "relay",
			Name:      "dedup_entries",
			Help:      "Event ids held by the dedup store",
		}, func() float64 { return float64(a.pipe.Dedup.Len()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "relay",
			Name:      "labels",
			Help:      "Entries in the channel label table",
		}, func() float64 { return float64(a.labels.Table().Len()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "notifier_sent_total",
			Help:      "Notifications the sink delivered",
		}, func() float64 { sent, _ := a.notif.Counters(); return float64(sent) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "notifier_failed_total",
			Help:      "Notifications the sink failed to deliver",
		}, func() float64 { _, failed := a.notif.Counters(); return float64(failed) }),
	)
}

// Done is closed when the app supervisor context is cancelled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.startedAt = time.Now()
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.srcSup = supervisor.NewSupervisor(a.sup.Context(), supervisor.WithLogger(a.log))
	a.drainSup = supervisor.NewSupervisor(context.WithoutCancel(ctx), supervisor.WithLogger(a.log))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.validate)

	cfg := a.cfgm.Get()
	if a.pipe.Dispatcher.Identity() == "" {
		wctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		id := a.dir.WhoAmI(wctx)
		cancel()
		a.pipe.Dispatcher.SetIdentity(id)
	}
	if id := a.pipe.Dispatcher.Identity(); id == "" {
		a.log.Warn("source identity unresolved; mentions cannot match until slack.identity is set")
	} else {
		a.log.Info("relaying mentions", logx.String("identity", id))
	}

	a.drainSup.GoRestart(taskDispatch, a.pipe.Dispatcher.Run,
		supervisor.WithRestartBackoff(100*time.Millisecond, 5*time.Second))

	a.srcSup.GoRestart(taskSource, a.source.Run,
		supervisor.WithRestartBackoff(time.Second, 30*time.Second),
		supervisor.WithStopOnCleanExit(false))

	a.sup.GoRestart("labels.watch", a.watchLabels,
		supervisor.WithRestartBackoff(time.Second, 30*time.Second),
		supervisor.WithMaxRestarts(10))

	if a.health.Enabled() {
		a.health.Start(a.sup.Context())
	}
	if err := a.startMaintenance(cfg); err != nil {
		return err
	}

	if a.bus != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("eventbus.log", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
				}
			}
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) { a.reloadLoop(c, sub) })
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go0("systemd.watchdog", func(c context.Context) { watchdogLoop(c, a.log, a.alive) })

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started")
	return nil
}

// watchLabels runs the label file watcher. A path change cancels the inner
// watch so it restarts on the new directory.
func (a *App) watchLabels(ctx context.Context) error {
	for {
		wctx, cancel := context.WithCancel(ctx)
		a.labelsMu.Lock()
		a.labelsCancel = cancel
		a.labelsMu.Unlock()

		err := a.labels.Watch(wctx)
		cancel()
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (a *App) restartLabelsWatch() {
	a.labelsMu.Lock()
	cancel := a.labelsCancel
	a.labelsMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (a *App) buildMaintenance(cfg *config.Config) (*maintenance.Scheduler, error) {
	if !cfg.Maintenance.Enabled {
		return nil, nil
	}
	log := a.log.With(logx.String("comp", "maintenance"))
	s := maintenance.NewScheduler(maintenanceLocation(cfg), log)

	if err := s.Add(maintenance.DedupSweepJob(cfg.Maintenance.DedupSweep, a.pipe.Dedup, log)); err != nil {
		return nil, fmt.Errorf("maintenance.dedup_sweep: %w", err)
	}
	retention, err := storageRetention(cfg)
	if err != nil {
		return nil, err
	}
	if a.store != nil && retention > 0 {
		if err := s.Add(maintenance.JournalPruneJob(cfg.Maintenance.JournalPrune, a.store, retention, log)); err != nil {
			return nil, fmt.Errorf("maintenance.journal_prune: %w", err)
		}
	}
	if err := s.Add(maintenance.StatsReportJob(cfg.Maintenance.StatsReport, a.report, log)); err != nil {
		return nil, fmt.Errorf("maintenance.stats_report: %w", err)
	}
	return s, nil
}

// startMaintenance replaces the running scheduler, if any, with one built
// from cfg.
func (a *App) startMaintenance(cfg *config.Config) error {
	next, err := a.buildMaintenance(cfg)
	if err != nil {
		return err
	}
	a.maintMu.Lock()
	prev := a.maint
	a.maint = next
	a.maintMu.Unlock()

	if prev != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		prev.Stop(stopCtx)
		cancel()
	}
	if next != nil && a.sup.Context().Err() == nil {
		next.Start(a.sup.Context())
	}
	return nil
}

func (a *App) stopMaintenance(ctx context.Context) {
	a.maintMu.Lock()
	m := a.maint
	a.maint = nil
	a.maintMu.Unlock()
	if m != nil {
		m.Stop(ctx)
	}
}

// validate is the hot-reload hook; structural checks already ran in config.
func (a *App) validate(_ context.Context, cfg *config.Config) error {
	if _, err := mapRelayConfig(cfg); err != nil {
		return err
	}
	if _, err := mapHealthConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	_, err := a.buildMaintenance(cfg)
	return err
}

func (a *App) report(ctx context.Context) maintenance.Report {
	sent, failed := a.notif.Counters()
	return maintenance.Report{
		Relay:        a.pipe.Stats.Snapshot(),
		QueueDepth:   a.pipe.Queue.Len(),
		DedupEntries: a.pipe.Dedup.Len(),
		Sent:         sent,
		Failed:       failed,
		BusDropped:   a.bus.Dropped(),
		History:      a.notif.Snapshot(recentDeliveries),
		Journal:      a.recentJournal(ctx),
	}
}

// recentJournal reads the newest persisted deliveries. Errors are logged and
// yield nil so reporting never fails on storage.
func (a *App) recentJournal(ctx context.Context) []storage.DeliveryRecord {
	if a.store == nil {
		return nil
	}
	rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	recs, err := a.store.Recent(rctx, recentDeliveries)
	if err != nil {
		a.log.Warn("delivery journal read failed", logx.Err(err))
		return nil
	}
	return recs
}

// ready backs /readyz: the socket must be up.
func (a *App) ready() error {
	if !a.source.Connected() {
		return errors.New("slack socket not connected")
	}
	return nil
}

// alive gates the systemd watchdog: the dispatcher must still be running.
func (a *App) alive() error {
	for _, t := range a.drainSup.Snapshot() {
		if t.Name == taskDispatch && t.Running {
			return nil
		}
	}
	return errors.New("dispatcher not running")
}

func (a *App) stats() any {
	received, rejected := a.source.Counters()
	sent, failed := a.notif.Counters()
	tgSent, tgFailed := a.tg.Counters()

	a.maintMu.Lock()
	var jobs []maintenance.EntryInfo
	if a.maint != nil {
		jobs = a.maint.Entries()
	}
	a.maintMu.Unlock()

	tasks := append(a.sup.Snapshot(), a.srcSup.Snapshot()...)
	tasks = append(tasks, a.drainSup.Snapshot()...)

	return map[string]any{
		"uptime":        time.Since(a.startedAt).Round(time.Second).String(),
		"identity_set":  a.pipe.Dispatcher.Identity() != "",
		"connected":     a.source.Connected(),
		"received":      received,
		"rejected":      rejected,
		"relay":         a.pipe.Stats.Snapshot(),
		"queue_depth":   a.pipe.Queue.Len(),
		"dedup_entries": a.pipe.Dedup.Len(),
		"labels":        a.labels.Table().Len(),
		"notifier":      map[string]uint64{"sent": sent, "failed": failed},
		"telegram":      map[string]uint64{"sent": tgSent, "failed": tgFailed},
		"bus_dropped":   a.bus.Dropped(),
		"tasks":         tasks,
		"maintenance":   jobs,
		"history":       a.notif.Snapshot(recentDeliveries),
		"journal":       a.recentJournal(context.Background()),
	}
}

// Stop shuts down in dependency order: the source stops taking deliveries,
// the dispatcher drains what was already accepted, then sinks and stores
// close.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, daemon.SdNotifyStopping)

	// Cancels the socket session; unacked deliveries are redelivered by Slack.
	a.sup.Cancel()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

		stepCtx := ctx
		if limit > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				limit = min(limit, max(time.Until(dl), 0))
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, limit)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				a.log.Debug("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			}()
		}
	}

	step("maintenance", 2*time.Second, func(c context.Context) error { a.stopMaintenance(c); return nil })

	step("slack.source", 3*time.Second, a.closeIntake)

	cfg := a.cfgm.Get()
	step("relay.drain", drainTimeout(cfg), func(c context.Context) error {
		pending := a.pipe.Queue.Len()
		if err := a.drainSup.Wait(c); err != nil {
			a.drainSup.Cancel()
			return fmt.Errorf("drain incomplete with %d queued: %w", a.pipe.Queue.Len(), err)
		}
		a.log.Info("relay drained", logx.Int("pending_at_stop", pending))
		return nil
	})

	step("health", time.Second, func(c context.Context) error { a.health.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("storage", time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	a.log.Info("stopped")
	_ = a.logs.Close()
	return nil
}

// closeIntake waits for the socket task to return, then closes the queue.
// A delivery handled while the socket shuts down is still enqueued; the queue
// is closed even if the wait times out.
func (a *App) closeIntake(ctx context.Context) error {
	defer a.pipe.Queue.Close()
	a.srcSup.Cancel()
	err := a.srcSup.Wait(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"relaybot/internal/config"
	"relaybot/internal/eventbus"
	"relaybot/internal/notifier"
	"relaybot/internal/observability/metrics"
	"relaybot/internal/relay"
	"relaybot/internal/runtime/supervisor"
	"relaybot/internal/storage"
	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

func baseConfig() *config.Config {
	return &config.Config{
		Slack:    config.SlackConfig{UserToken: "xoxp-1", AppToken: "xapp-1"},
		Telegram: config.TelegramConfig{Token: "1:a", ChatID: -100, ThreadID: 3},
	}
}

func TestMapRelayConfigDefaults(t *testing.T) {
	rc, err := mapRelayConfig(baseConfig())
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if !rc.AcceptWithoutID {
		t.Fatalf("accept_without_id must default to true")
	}
	if rc.DedupWindow != relay.DefaultDedupWindow || rc.DedupMaxEntries != relay.DefaultDedupMaxEntries {
		t.Fatalf("dedup defaults = %v/%d", rc.DedupWindow, rc.DedupMaxEntries)
	}
	if rc.LookupTimeout != 10*time.Second || rc.SendTimeout != 15*time.Second || rc.QueueMax != 0 {
		t.Fatalf("relay = %+v", rc)
	}
}

func TestMapRelayConfigOverrides(t *testing.T) {
	cfg := baseConfig()
	no := false
	cfg.Slack.Identity = " U123 "
	cfg.Relay = config.RelayConfig{AcceptWithoutID: &no, DedupWindow: "1h", DedupMaxEntries: 5, QueueMax: 9, SendTimeout: "2s"}
	rc, err := mapRelayConfig(cfg)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if rc.Identity != "U123" || rc.AcceptWithoutID || rc.DedupWindow != time.Hour || rc.DedupMaxEntries != 5 || rc.QueueMax != 9 || rc.SendTimeout != 2*time.Second {
		t.Fatalf("relay = %+v", rc)
	}

	cfg.Relay.LookupTimeout = "soon"
	if _, err := mapRelayConfig(cfg); err == nil {
		t.Fatalf("expected duration error")
	}
}

func TestMapNotifierConfig(t *testing.T) {
	cfg := baseConfig()
	nc := mapNotifierConfig(cfg)
	if !nc.Enabled || nc.Target.ChatID != -100 || nc.Target.ThreadID != 3 || !nc.DisablePreview {
		t.Fatalf("notifier defaults = %+v", nc)
	}
	// A section without disable_preview keeps previews off.
	cfg.Notifier = &config.NotifierConfig{Enabled: false, RatePerSec: 7}
	nc = mapNotifierConfig(cfg)
	if nc.Enabled || nc.RatePerSec != 7 || !nc.DisablePreview {
		t.Fatalf("notifier = %+v", nc)
	}
	off := false
	cfg.Notifier.DisablePreview = &off
	if nc = mapNotifierConfig(cfg); nc.DisablePreview {
		t.Fatalf("explicit disable_preview=false ignored")
	}
}

func TestMapStorageConfig(t *testing.T) {
	cfg := baseConfig()
	if _, enabled, err := mapStorageConfig(cfg); enabled || err != nil {
		t.Fatalf("nil storage must be disabled: %v %v", enabled, err)
	}
	cfg.Storage = &config.StorageConfig{Driver: "sqlite"}
	if _, _, err := mapStorageConfig(cfg); err == nil {
		t.Fatalf("sqlite without a path must fail")
	}
	cfg.Storage = &config.StorageConfig{Driver: "SQLite", Path: "x.db"}
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil || !enabled || sc.Driver != "sqlite" || sc.BusyTimeout != time.Second {
		t.Fatalf("storage = %+v %v %v", sc, enabled, err)
	}
}

func TestMapLogConfigNeedsGroupLog(t *testing.T) {
	cfg := baseConfig()
	cfg.Logging.Telegram.Enabled = true
	if lc := mapLogConfig(cfg); lc.Telegram.Enabled {
		t.Fatalf("telegram logging without group_log must stay off")
	}
	cfg.Telegram.GroupLog = "-200"
	lc := mapLogConfig(cfg)
	if !lc.Telegram.Enabled || lc.Telegram.ChatID != -200 {
		t.Fatalf("log = %+v", lc.Telegram)
	}
}

func TestMapHealthConfig(t *testing.T) {
	cfg := baseConfig()
	cfg.Health = config.HealthConfig{Enabled: true, Addr: " 127.0.0.1:0 ", WriteTimeout: "5s"}
	hc, err := mapHealthConfig(cfg)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if hc.Addr != "127.0.0.1:0" || hc.WriteTimeout != 5*time.Second || hc.ReadTimeout != 10*time.Second {
		t.Fatalf("health = %+v", hc)
	}
}

type okSender struct{}

func (okSender) SendText(_ context.Context, to kit.ChatTarget, _ string, _ *kit.SendOptions) (kit.MessageRef, error) {
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func testApp(t *testing.T) *App {
	t.Helper()
	pipe := relay.NewPipeline(relay.Config{AcceptWithoutID: true}, nil, nil, nil, logx.Nop(), nil, nil)
	a := &App{
		log:     logx.Nop(),
		pipe:    pipe,
		bus:     eventbus.New(),
		metrics: metrics.NewRelay(),
		labels:  relay.NewLabelSource(filepath.Join(t.TempDir(), "missing.json"), logx.Nop()),
	}
	a.sup = supervisor.NewSupervisor(context.Background())
	a.srcSup = supervisor.NewSupervisor(a.sup.Context())
	t.Cleanup(a.sup.Cancel)
	return a
}

// withDeliveries gives a a file journal and a notifier that has sent ids.
func withDeliveries(t *testing.T, a *App, ids ...string) {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "journal.jsonl")}, logx.Nop())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	a.store = st
	a.notif = notifier.New(notifier.Config{Enabled: true, Target: kit.ChatTarget{ChatID: -100}, RatePerSec: 1000}, okSender{}, logx.Nop(), nil, st)
	for _, id := range ids {
		if err := a.notif.Send(context.Background(), relay.Notification{EventID: id, ChannelLabel: "general ", ActorName: "Ann", RawText: "<@U1>"}); err != nil {
			t.Fatalf("send %s: %v", id, err)
		}
	}
}

func TestReportCarriesRecentDeliveries(t *testing.T) {
	a := testApp(t)
	withDeliveries(t, a, "m1", "m2", "m3")

	r := a.report(context.Background())
	if r.Sent != 3 || r.Failed != 0 {
		t.Fatalf("counters = %d/%d", r.Sent, r.Failed)
	}
	if len(r.History) != 3 || r.History[0].EventID != "m3" {
		t.Fatalf("history = %+v", r.History)
	}
	if len(r.Journal) != 3 || r.Journal[0].EventID != "m3" || !r.Journal[0].OK {
		t.Fatalf("journal = %+v", r.Journal)
	}

	a.store = nil
	if r := a.report(context.Background()); r.Journal != nil {
		t.Fatalf("journal without storage = %+v", r.Journal)
	}
}

func TestCollectorsExposeAppState(t *testing.T) {
	a := testApp(t)
	withDeliveries(t, a, "m1")
	a.pipe.Dedup.Insert("x")
	a.registerCollectors()

	mfs, err := a.metrics.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	got := map[string]float64{}
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetGauge() != nil:
				got[mf.GetName()] = m.GetGauge().GetValue()
			case m.GetCounter() != nil:
				got[mf.GetName()] = m.GetCounter().GetValue()
			}
		}
	}
	if got["relay_dedup_entries"] != 1 || got["relay_notifier_sent_total"] != 1 || got["relay_labels"] != 0 {
		t.Fatalf("collected = %v", got)
	}
	if _, ok := got["relay_notifier_failed_total"]; !ok {
		t.Fatalf("failed counter not registered")
	}
}

// A delivery the socket is still handling when shutdown starts must reach
// the queue, not bounce off a closed one.
func TestCloseIntakeWaitsForSource(t *testing.T) {
	a := testApp(t)
	started := make(chan struct{})
	a.srcSup.Go0("slack.source", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		a.pipe.Intake.OnEvent(relay.RawEvent{EnvelopeID: "env-late", ID: "late", Type: "message"})
	})
	<-started

	a.sup.Cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.closeIntake(ctx); err != nil {
		t.Fatalf("close intake: %v", err)
	}

	if !a.pipe.Queue.Closed() {
		t.Fatalf("queue left open")
	}
	snap := a.pipe.Stats.Snapshot()
	if snap.Accepted != 1 || snap.Closed != 0 || a.pipe.Queue.Len() != 1 {
		t.Fatalf("late delivery lost: %+v, queue=%d", snap, a.pipe.Queue.Len())
	}
}

func TestBuildMaintenance(t *testing.T) {
	a := testApp(t)
	cfg := baseConfig()

	s, err := a.buildMaintenance(cfg)
	if err != nil || s != nil {
		t.Fatalf("disabled maintenance = %v, %v", s, err)
	}

	cfg.Maintenance = config.MaintenanceConfig{Enabled: true, DedupSweep: "10m", StatsReport: "@hourly", JournalPrune: "@daily"}
	s, err = a.buildMaintenance(cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	names := map[string]bool{}
	for _, e := range s.Entries() {
		names[e.Name] = true
	}
	// No store: the prune job is not registered.
	if len(names) != 2 || names["journal.prune"] {
		t.Fatalf("jobs = %v", names)
	}

	cfg.Maintenance.DedupSweep = "every now and then"
	if _, err := a.buildMaintenance(cfg); err == nil {
		t.Fatalf("bad schedule accepted")
	}
	if err := a.validate(context.Background(), cfg); err == nil {
		t.Fatalf("validator must reject a bad schedule")
	}
}

func TestStartMaintenanceReplacesScheduler(t *testing.T) {
	a := testApp(t)
	cfg := baseConfig()
	cfg.Maintenance = config.MaintenanceConfig{Enabled: true, DedupSweep: "1h"}

	if err := a.startMaintenance(cfg); err != nil {
		t.Fatalf("start: %v", err)
	}
	first := a.maint
	if first == nil {
		t.Fatalf("scheduler not started")
	}
	if err := a.startMaintenance(cfg); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if a.maint == first {
		t.Fatalf("scheduler not replaced")
	}
	cfg.Maintenance.Enabled = false
	if err := a.startMaintenance(cfg); err != nil || a.maint != nil {
		t.Fatalf("disable: %v %v", err, a.maint)
	}
}

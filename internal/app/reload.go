package app

import (
	"context"
	"reflect"
	"strings"
	"time"

	"relaybot/internal/config"
	logx "relaybot/pkg/logx"
)

// reloadLoop applies committed config versions until ctx is done.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: only the newest pending version matters.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					drained = true
				}
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	a.logs.Apply(mapLogConfig(newCfg))

	prevNotif := a.notif.Enabled()
	a.notif.Apply(mapNotifierConfig(newCfg))
	if next := a.notif.Enabled(); next != prevNotif {
		a.log.Info("notifier toggled via config", logx.Bool("enabled", next))
	}

	if rc, err := mapRelayConfig(newCfg); err != nil {
		a.log.Warn("invalid relay config; keeping previous", logx.Err(err))
	} else {
		a.pipe.Queue.SetMax(rc.QueueMax)
		a.pipe.Dedup.Resize(rc.DedupMaxEntries, rc.DedupWindow)
		if strings.TrimSpace(oldCfg.Slack.Identity) != rc.Identity {
			a.applyIdentity(ctx, rc.Identity)
		}
	}

	if p := labelsPath(newCfg); p != a.labels.Path() {
		_ = a.labels.SetPath(p)
		a.restartLabelsWatch()
	}

	if hc, err := mapHealthConfig(newCfg); err != nil {
		a.log.Warn("invalid health config; keeping previous", logx.Err(err))
	} else {
		a.health.Reconfigure(ctx, hc)
	}

	if oldCfg.Maintenance != newCfg.Maintenance || !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		if err := a.startMaintenance(newCfg); err != nil {
			a.log.Warn("invalid maintenance config; keeping previous", logx.Err(err))
		}
	}

	if len(restart) > 0 {
		a.log.Warn("restart required for some changes to take effect", logx.String("settings", strings.Join(restart, ",")))
	}
	a.log.Info("config reloaded", fields...)
}

// applyIdentity switches the mention identity. An empty configured identity
// falls back to the user token's owner.
func (a *App) applyIdentity(ctx context.Context, id string) {
	if id == "" {
		wctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		id = a.dir.WhoAmI(wctx)
		cancel()
	}
	if id == "" {
		a.log.Warn("identity unresolved after reload; keeping previous", logx.String("identity", a.pipe.Dispatcher.Identity()))
		return
	}
	a.pipe.Dispatcher.SetIdentity(id)
	a.log.Info("mention identity updated", logx.String("identity", id))
}

package config

import (
	"reflect"
	"slices"
	"strings"

	logx "relaybot/pkg/logx"
)

// SummarizeConfigChange returns the changed sections, safe attrs for logging
// (never tokens), and the changed settings that only take effect after a
// restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	o, n := oldCfg, newCfg

	// Slack: the socket and directory client are built once.
	if o.Slack.UserToken != n.Slack.UserToken || o.Slack.AppToken != n.Slack.AppToken || o.Slack.Debug != n.Slack.Debug {
		changed = append(changed, "slack")
		restart = append(restart, "slack")
	}
	if strings.TrimSpace(o.Slack.Identity) != strings.TrimSpace(n.Slack.Identity) {
		if !slices.Contains(changed, "slack") {
			changed = append(changed, "slack")
		}
		attrs = append(attrs, logx.Bool("slack.identity_set", strings.TrimSpace(n.Slack.Identity) != ""))
	}

	if o.Telegram != n.Telegram {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Int64("telegram.chat_id", n.Telegram.ChatID),
			logx.Int("telegram.thread_id", n.Telegram.ThreadID),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(n.Telegram.GroupLog) != ""),
		)
		if o.Telegram.Token != n.Telegram.Token || strings.TrimSpace(o.Telegram.Timeout) != strings.TrimSpace(n.Telegram.Timeout) {
			restart = append(restart, "telegram.token/timeout")
		}
	}

	if !reflect.DeepEqual(o.Relay, n.Relay) {
		changed = append(changed, "relay")
		attrs = append(attrs,
			logx.String("relay.labels_path", n.Relay.LabelsPath),
			logx.String("relay.dedup_window", n.Relay.DedupWindow),
			logx.Int("relay.dedup_max_entries", n.Relay.DedupMaxEntries),
			logx.Int("relay.queue_max", n.Relay.QueueMax),
		)
		if o.AcceptWithoutID() != n.AcceptWithoutID() ||
			strings.TrimSpace(o.Relay.LookupTimeout) != strings.TrimSpace(n.Relay.LookupTimeout) ||
			strings.TrimSpace(o.Relay.SendTimeout) != strings.TrimSpace(n.Relay.SendTimeout) {
			restart = append(restart, "relay.accept_without_id/lookup_timeout/send_timeout")
		}
	}

	if !reflect.DeepEqual(o.Notifier, n.Notifier) {
		changed = append(changed, "notifier")
		attrs = append(attrs, logx.Bool("notifier.enabled", n.NotifierEnabled()))
		if n.Notifier != nil {
			attrs = append(attrs,
				logx.Int("notifier.rate_per_sec", n.Notifier.RatePerSec),
				logx.Int("notifier.history_size", n.Notifier.HistorySize),
			)
		}
	}

	if o.Logging != n.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", n.Logging.Level),
			logx.Bool("logging.console", n.Logging.Console),
			logx.Bool("logging.file_enabled", n.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", n.Logging.Telegram.Enabled),
		)
	}

	// Health restarts its own listener; no process restart needed.
	if o.Health != n.Health {
		changed = append(changed, "health")
		attrs = append(attrs,
			logx.Bool("health.enabled", n.Health.Enabled),
			logx.String("health.addr", strings.TrimSpace(n.Health.Addr)),
			logx.Bool("health.token_set", strings.TrimSpace(n.Health.Token) != ""),
			logx.Bool("health.metrics", n.Health.Metrics),
			logx.Bool("health.pprof", n.Health.Pprof),
		)
	}

	if !reflect.DeepEqual(o.Storage, n.Storage) {
		changed = append(changed, "storage")
		restart = append(restart, "storage")
		if n.Storage != nil {
			attrs = append(attrs, logx.String("storage.driver", n.Storage.Driver))
		}
	}

	if o.Maintenance != n.Maintenance {
		changed = append(changed, "maintenance")
		attrs = append(attrs,
			logx.Bool("maintenance.enabled", n.Maintenance.Enabled),
			logx.String("maintenance.timezone", n.Maintenance.Timezone),
		)
	}

	return changed, attrs, restart
}

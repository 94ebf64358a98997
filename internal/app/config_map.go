package app

import (
	"fmt"
	"strings"
	"time"

	"relaybot/internal/config"
	"relaybot/internal/notifier"
	"relaybot/internal/observability/health"
	"relaybot/internal/relay"
	"relaybot/internal/storage"
	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

const defaultLabelsPath = "./channel_emojis.json"

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// storageRetention is how long journal records are kept. Zero disables pruning.
func storageRetention(cfg *config.Config) (time.Duration, error) {
	if cfg == nil || cfg.Storage == nil {
		return 0, nil
	}
	return config.ParseDurationField("storage.retention", cfg.Storage.Retention)
}

func mapRelayConfig(cfg *config.Config) (relay.Config, error) {
	rc := cfg.Relay
	window, err := config.ParseDurationOrDefault("relay.dedup_window", rc.DedupWindow, relay.DefaultDedupWindow)
	if err != nil {
		return relay.Config{}, err
	}
	lookup, err := config.ParseDurationOrDefault("relay.lookup_timeout", rc.LookupTimeout, 10*time.Second)
	if err != nil {
		return relay.Config{}, err
	}
	send, err := config.ParseDurationOrDefault("relay.send_timeout", rc.SendTimeout, 15*time.Second)
	if err != nil {
		return relay.Config{}, err
	}
	maxEntries := rc.DedupMaxEntries
	if maxEntries <= 0 {
		maxEntries = relay.DefaultDedupMaxEntries
	}
	return relay.Config{
		Identity:        strings.TrimSpace(cfg.Slack.Identity),
		AcceptWithoutID: cfg.AcceptWithoutID(),
		DedupWindow:     window,
		DedupMaxEntries: maxEntries,
		QueueMax:        rc.QueueMax,
		LookupTimeout:   lookup,
		SendTimeout:     send,
	}, nil
}

func labelsPath(cfg *config.Config) string {
	if p := strings.TrimSpace(cfg.Relay.LabelsPath); p != "" {
		return p
	}
	return defaultLabelsPath
}

func drainTimeout(cfg *config.Config) time.Duration {
	d, err := config.ParseDurationOrDefault("relay.drain_timeout", cfg.Relay.DrainTimeout, 10*time.Second)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

func mapNotifierConfig(cfg *config.Config) notifier.Config {
	nc := notifier.Config{
		Enabled: cfg.NotifierEnabled(),
		Target:  kit.ChatTarget{ChatID: cfg.Telegram.ChatID, ThreadID: cfg.Telegram.ThreadID},
		// Relayed text is plain; a link in a message would otherwise expand.
		DisablePreview: true,
	}
	if n := cfg.Notifier; n != nil {
		nc.RatePerSec = n.RatePerSec
		if n.DisablePreview != nil {
			nc.DisablePreview = *n.DisablePreview
		}
		nc.HistorySize = n.HistorySize
	}
	return nc
}

func mapHealthConfig(cfg *config.Config) (health.Config, error) {
	h := cfg.Health
	read, err := config.ParseDurationOrDefault("health.read_timeout", h.ReadTimeout, 10*time.Second)
	if err != nil {
		return health.Config{}, err
	}
	write, err := config.ParseDurationField("health.write_timeout", h.WriteTimeout)
	if err != nil {
		return health.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("health.idle_timeout", h.IdleTimeout, 60*time.Second)
	if err != nil {
		return health.Config{}, err
	}
	return health.Config{
		Enabled:              h.Enabled,
		Addr:                 strings.TrimSpace(h.Addr),
		Token:                strings.TrimSpace(h.Token),
		AllowInsecure:        h.AllowInsecure,
		Metrics:              h.Metrics,
		Pprof:                h.Pprof,
		PprofPrefix:          h.PprofPrefix,
		ReadTimeout:          read,
		WriteTimeout:         write,
		IdleTimeout:          idle,
		MutexProfileFraction: h.MutexProfileFraction,
		BlockProfileRate:     h.BlockProfileRate,
	}, nil
}

// mapLogConfig builds the logx config. A bad group_log was already rejected
// by validation, so the parse error is ignored here.
func mapLogConfig(cfg *config.Config) logx.Config {
	chatID, _ := cfg.GroupLogChatID()
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled && chatID != 0,
			ChatID:     chatID,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func maintenanceLocation(cfg *config.Config) *time.Location {
	tz := strings.TrimSpace(cfg.Maintenance.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local
	}
	return loc
}

package config

// Config is the on-disk configuration. All durations are Go duration strings
// ("500ms", "10s", "24h"). Secrets may be left empty in the file and supplied
// through the environment (see ApplyEnv).
type Config struct {
	Slack       SlackConfig       `json:"slack"`
	Telegram    TelegramConfig    `json:"telegram"`
	Relay       RelayConfig       `json:"relay"`
	Notifier    *NotifierConfig   `json:"notifier,omitempty"`
	Logging     LoggingConfig     `json:"logging"`
	Health      HealthConfig      `json:"health"`
	Storage     *StorageConfig    `json:"storage,omitempty"`
	Maintenance MaintenanceConfig `json:"maintenance"`
}

type SlackConfig struct {
	UserToken string `json:"user_token" env:"SLACK_USER_TOKEN" env-description:"Slack user token (xoxp-), identifies whose mentions are relayed"`
	AppToken  string `json:"app_token" env:"SLACK_APP_TOKEN" env-description:"Slack app-level token (xapp-) for Socket Mode"`
	// Identity skips auth.test when set.
	Identity string `json:"identity,omitempty" env:"SLACK_IDENTITY" env-description:"Slack user id to watch for; default is the user token's owner"`
	Debug    bool   `json:"debug,omitempty"`
}

type TelegramConfig struct {
	Token    string `json:"token" env:"TELEGRAM_BOT_TOKEN" env-description:"Telegram bot token"`
	ChatID   int64  `json:"chat_id" env:"TELEGRAM_CHAT_ID" env-description:"Telegram chat receiving relayed mentions"`
	ThreadID int    `json:"thread_id,omitempty"`
	// GroupLog is the chat id for warn+ log lines. Empty disables it.
	GroupLog string `json:"group_log,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

// RelayConfig controls the intake/dispatch pipeline.
//
// Defaults (when fields are omitted/zero):
//   - labels_path: "./channel_emojis.json"
//   - accept_without_id: true
//   - dedup_window: "24h", dedup_max_entries: 10000
//   - queue_max: 0 (unbounded)
//   - lookup_timeout: "10s", send_timeout: "15s", drain_timeout: "10s"
type RelayConfig struct {
	LabelsPath      string `json:"labels_path,omitempty"`
	AcceptWithoutID *bool  `json:"accept_without_id,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
	QueueMax        int    `json:"queue_max,omitempty"`
	LookupTimeout   string `json:"lookup_timeout,omitempty"`
	SendTimeout     string `json:"send_timeout,omitempty"`
	DrainTimeout    string `json:"drain_timeout,omitempty"`
}

// NotifierConfig controls delivery to Telegram. If the whole section is
// omitted the notifier is enabled with defaults.
type NotifierConfig struct {
	Enabled    bool `json:"enabled"`
	RatePerSec int  `json:"rate_per_sec,omitempty"`

	// DisablePreview defaults to true when unset.
	DisablePreview *bool `json:"disable_preview,omitempty"`
	HistorySize    int   `json:"history_size,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// HealthConfig controls the HTTP surface.
//
// Security note:
//   - Prefer binding to localhost (default "127.0.0.1:3000").
//   - metrics/pprof on a non-loopback address need a token or allow_insecure.
type HealthConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // do not log
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Metrics       bool   `json:"metrics,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	PprofPrefix   string `json:"pprof_prefix,omitempty"`

	// WriteTimeout defaults to 0 (disabled) so /profile works.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}

// StorageConfig controls the delivery journal.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/relay.db", "retention": "720h" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	Retention   string `json:"retention,omitempty"`
}

// MaintenanceConfig schedules housekeeping. Schedules accept cron
// expressions, descriptors ("@hourly") or bare durations ("5m"); an empty
// schedule disables that job.
type MaintenanceConfig struct {
	Enabled      bool   `json:"enabled"`
	Timezone     string `json:"timezone,omitempty"`
	DedupSweep   string `json:"dedup_sweep,omitempty"`
	StatsReport  string `json:"stats_report,omitempty"`
	JournalPrune string `json:"journal_prune,omitempty"`
}

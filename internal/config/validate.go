package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// GroupLogChatID parses telegram.group_log. Zero means unset.
func (c *Config) GroupLogChatID() (int64, error) {
	s := strings.TrimSpace(c.Telegram.GroupLog)
	if s == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram.group_log: invalid chat id %q", c.Telegram.GroupLog)
	}
	return id, nil
}

// AcceptWithoutID reports relay.accept_without_id (default true).
func (c *Config) AcceptWithoutID() bool {
	if c.Relay.AcceptWithoutID == nil {
		return true
	}
	return *c.Relay.AcceptWithoutID
}

// NotifierEnabled reports whether relayed mentions are delivered. An omitted
// notifier section means enabled.
func (c *Config) NotifierEnabled() bool {
	return c.Notifier == nil || c.Notifier.Enabled
}

// Validate checks a parsed config (after ApplyEnv). All problems are
// reported together.
func Validate(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	if strings.TrimSpace(c.Slack.UserToken) == "" {
		add(errors.New("slack.user_token is required (or SLACK_USER_TOKEN)"))
	}
	switch app := strings.TrimSpace(c.Slack.AppToken); {
	case app == "":
		add(errors.New("slack.app_token is required (or SLACK_APP_TOKEN)"))
	case !strings.HasPrefix(app, "xapp-"):
		add(errors.New("slack.app_token must start with xapp-"))
	}

	if strings.TrimSpace(c.Telegram.Token) == "" {
		add(errors.New("telegram.token is required (or TELEGRAM_BOT_TOKEN)"))
	}
	if c.Telegram.ChatID == 0 && c.NotifierEnabled() {
		add(errors.New("telegram.chat_id is required (or TELEGRAM_CHAT_ID)"))
	}
	if c.Telegram.ThreadID < 0 {
		add(errors.New("telegram.thread_id must be >= 0"))
	}
	_, err := c.GroupLogChatID()
	add(err)
	dur("telegram.timeout", c.Telegram.Timeout)

	dur("relay.dedup_window", c.Relay.DedupWindow)
	dur("relay.lookup_timeout", c.Relay.LookupTimeout)
	dur("relay.send_timeout", c.Relay.SendTimeout)
	dur("relay.drain_timeout", c.Relay.DrainTimeout)
	if c.Relay.DedupMaxEntries < 0 {
		add(errors.New("relay.dedup_max_entries must be >= 0"))
	}
	if c.Relay.QueueMax < 0 {
		add(errors.New("relay.queue_max must be >= 0"))
	}

	if n := c.Notifier; n != nil {
		if n.RatePerSec < 0 {
			add(errors.New("notifier.rate_per_sec must be >= 0"))
		}
		if n.HistorySize < 0 {
			add(errors.New("notifier.history_size must be >= 0"))
		}
	}

	add(validLevel("logging.level", c.Logging.Level))
	add(validLevel("logging.telegram.min_level", c.Logging.Telegram.MinLevel))
	if c.Logging.Telegram.Enabled && strings.TrimSpace(c.Telegram.GroupLog) == "" {
		add(errors.New("logging.telegram.enabled needs telegram.group_log"))
	}

	dur("health.read_timeout", c.Health.ReadTimeout)
	dur("health.write_timeout", c.Health.WriteTimeout)
	dur("health.idle_timeout", c.Health.IdleTimeout)

	if s := c.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		dur("storage.busy_timeout", s.BusyTimeout)
		dur("storage.retention", s.Retention)
	}

	if tz := strings.TrimSpace(c.Maintenance.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("maintenance.timezone: %w", err))
		}
	}

	return errors.Join(errs...)
}

func validLevel(path, lvl string) error {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
		return nil
	}
	return fmt.Errorf("%s: unknown level %q", path, lvl)
}

package notifier

import (
	"time"

	kit "relaybot/internal/transport"
)

// Config controls delivery.
type Config struct {
	Enabled bool
	// Target is the fixed destination chat (and optional forum topic).
	Target         kit.ChatTarget
	RatePerSec     int
	DisablePreview bool
	HistorySize    int
}

type HistoryItem struct {
	At      time.Time
	EventID string
	Text    string
	OK      bool
}

// NotificationEvent is emitted on the event bus for each delivery outcome.
// Keep it small; Data may be logged/serialized by subscribers.
type NotificationEvent struct {
	EventID  string    `json:"event_id,omitempty"`
	ChatID   int64     `json:"chat_id"`
	ThreadID int       `json:"thread_id,omitempty"`
	At       time.Time `json:"at"`
	TookMS   int64     `json:"took_ms"`
	Error    string    `json:"error,omitempty"`
}

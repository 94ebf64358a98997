package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// DeliveryRecord is one notification outcome.
// Keep it compact and schema-stable.
type DeliveryRecord struct {
	At       time.Time `json:"at"`
	EventID  string    `json:"event_id,omitempty"`
	Channel  string    `json:"channel"`
	Actor    string    `json:"actor"`
	ChatID   int64     `json:"chat_id"`
	ThreadID int       `json:"thread_id,omitempty"`
	OK       bool      `json:"ok"`
	Error    string    `json:"error,omitempty"`
	TookMS   int64     `json:"took_ms"`
}

// Store is the persistence API used by the notifier and maintenance jobs.
type Store interface {
	AppendDelivery(ctx context.Context, r DeliveryRecord) error
	// Recent returns up to n records, newest first.
	Recent(ctx context.Context, n int) ([]DeliveryRecord, error)
	// Prune removes records older than before and reports how many.
	Prune(ctx context.Context, before time.Time) (int, error)
	Close() error
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "relaybot/pkg/logx"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS deliveries (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		at_ms     INTEGER NOT NULL,
		event_id  TEXT,
		channel   TEXT NOT NULL,
		actor     TEXT NOT NULL,
		chat_id   INTEGER NOT NULL,
		thread_id INTEGER NOT NULL DEFAULT 0,
		ok        INTEGER NOT NULL,
		err       TEXT,
		took_ms   INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS deliveries_at ON deliveries(at_ms)`,
}

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	appended atomic.Uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite journal opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite migrate: %w", err)
		}
	}
	return nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendDelivery(ctx context.Context, r DeliveryRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries(at_ms, event_id, channel, actor, chat_id, thread_id, ok, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		r.At.UnixMilli(), nullStr(r.EventID), r.Channel, r.Actor, r.ChatID, r.ThreadID,
		boolInt(r.OK), nullStr(r.Error), r.TookMS,
	)
	if err == nil {
		s.appended.Add(1)
	}
	return err
}

func (s *sqliteStore) Recent(ctx context.Context, n int) ([]DeliveryRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at_ms, event_id, channel, actor, chat_id, thread_id, ok, err, took_ms
		 FROM deliveries ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DeliveryRecord
	for rows.Next() {
		var (
			r       DeliveryRecord
			atMS    int64
			eventID sql.NullString
			errText sql.NullString
			ok      int
		)
		if err := rows.Scan(&atMS, &eventID, &r.Channel, &r.Actor, &r.ChatID, &r.ThreadID, &ok, &errText, &r.TookMS); err != nil {
			return nil, err
		}
		r.At = time.UnixMilli(atMS)
		r.EventID = eventID.String
		r.Error = errText.String
		r.OK = ok != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Prune(ctx context.Context, before time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM deliveries WHERE at_ms < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

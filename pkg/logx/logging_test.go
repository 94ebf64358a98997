package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	kit "relaybot/internal/transport"
)

func decodeLine(t *testing.T, b []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(b), &m); err != nil {
		t.Fatalf("not json: %q: %v", b, err)
	}
	return m
}

func TestWriterLoggerFieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("comp", "relay"))

	log.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug written at info level: %s", buf.String())
	}

	log.Warn("send failed", Err(errors.New("boom")), Int("n", 3), Err(nil))
	m := decodeLine(t, buf.Bytes())
	if m["message"] != "send failed" || m["comp"] != "relay" || m["err"] != "boom" || m["n"] != float64(3) {
		t.Fatalf("line = %v", m)
	}
	if c, _ := m["caller"].(string); !strings.HasPrefix(c, "logging_test.go:") {
		t.Fatalf("caller = %v", m["caller"])
	}
}

func TestZeroAndNopLoggers(t *testing.T) {
	var zero Logger
	if !zero.IsZero() {
		t.Fatalf("zero value must report IsZero")
	}
	zero.Info("must not panic")
	if Nop().IsZero() {
		t.Fatalf("Nop is a real logger")
	}
}

func TestFormatTelegramLine(t *testing.T) {
	got := formatTelegramLine([]byte(`{"level":"warn","message":"dispatch failed","time":"x","id":"m1","comp":"relay"}`))
	want := "[WARN] dispatch failed\n- comp=relay\n- id=m1"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if got := formatTelegramLine([]byte("not json")); got != "not json" {
		t.Fatalf("raw fallback = %q", got)
	}
}

type captureSender struct {
	mu   sync.Mutex
	msgs []string
	to   []kit.ChatTarget
}

func (c *captureSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, text)
	c.to = append(c.to, to)
	return kit.MessageRef{}, nil
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func TestServiceTelegramSinkHonorsMinLevel(t *testing.T) {
	cs := &captureSender{}
	svc, log := New(Config{
		Level: "debug",
		Telegram: TelegramConfig{
			Enabled:    true,
			ChatID:     -500,
			ThreadID:   2,
			MinLevel:   "error",
			RatePerSec: 100,
		},
	}, cs)
	defer svc.Close()

	log.Warn("below threshold")
	log.Error("relay stalled", String("comp", "app"))

	deadline := time.Now().Add(2 * time.Second)
	for cs.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	cs.mu.Lock()
	defer cs.mu.Unlock()
	if len(cs.msgs) != 1 {
		t.Fatalf("messages = %q", cs.msgs)
	}
	if !strings.HasPrefix(cs.msgs[0], "[ERROR] relay stalled") {
		t.Fatalf("message = %q", cs.msgs[0])
	}
	if cs.to[0].ChatID != -500 || cs.to[0].ThreadID != 2 {
		t.Fatalf("target = %+v", cs.to[0])
	}
}

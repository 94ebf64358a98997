package health

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	logx "relaybot/pkg/logx"
)

func do(t *testing.T, h http.Handler, method, target string, hdr map[string]string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	b, _ := io.ReadAll(rec.Body)
	return rec.Code, string(b)
}

func metricsStub() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("relay_events_total 1\n"))
	})
}

func TestPublicEndpoints(t *testing.T) {
	s := New(Config{Enabled: true}, Deps{}, logx.Nop())
	h := s.handler(s.cfg, "127.0.0.1:3000")

	if code, body := do(t, h, "GET", "/healthz", nil); code != 200 || body != "ok" {
		t.Fatalf("/healthz = %d %q", code, body)
	}
	if code, body := do(t, h, "POST", "/slack/events", nil); code != 200 || body != `{"status":"ok"}` {
		t.Fatalf("/slack/events = %d %q", code, body)
	}
	if code, _ := do(t, h, "GET", "/slack/events", nil); code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /slack/events = %d", code)
	}
}

func TestReadiness(t *testing.T) {
	var ready error = errors.New("slack socket not connected")
	s := New(Config{Enabled: true}, Deps{Ready: func() error { return ready }}, logx.Nop())
	h := s.handler(s.cfg, "127.0.0.1:3000")

	if code, body := do(t, h, "GET", "/readyz", nil); code != 503 || !strings.Contains(body, "not connected") {
		t.Fatalf("/readyz = %d %q", code, body)
	}
	ready = nil
	if code, _ := do(t, h, "GET", "/readyz", nil); code != 200 {
		t.Fatalf("/readyz = %d after ready", code)
	}
}

func TestTokenProtectsMetricsAndStats(t *testing.T) {
	cfg := Config{Enabled: true, Metrics: true, Token: "s3cret"}
	s := New(cfg, Deps{Metrics: metricsStub(), Stats: func() any { return map[string]int{"accepted": 3} }}, logx.Nop())
	h := s.handler(cfg, "127.0.0.1:3000")

	if code, _ := do(t, h, "GET", "/metrics", nil); code != 401 {
		t.Fatalf("/metrics without token = %d", code)
	}
	if code, body := do(t, h, "GET", "/metrics", map[string]string{"Authorization": "Bearer s3cret"}); code != 200 || !strings.Contains(body, "relay_events_total") {
		t.Fatalf("/metrics with bearer = %d %q", code, body)
	}
	if code, body := do(t, h, "GET", "/stats?token=s3cret", nil); code != 200 || !strings.Contains(body, `"accepted": 3`) {
		t.Fatalf("/stats with query token = %d %q", code, body)
	}
	if code, _ := do(t, h, "GET", "/stats?token=nope", nil); code != 401 {
		t.Fatalf("/stats with wrong token = %d", code)
	}
	// Probes stay open.
	if code, _ := do(t, h, "GET", "/healthz", nil); code != 200 {
		t.Fatalf("/healthz with token configured = %d", code)
	}
}

func TestDebugEndpointsRefusedOnPublicAddrWithoutToken(t *testing.T) {
	cfg := Config{Enabled: true, Metrics: true, Pprof: true}
	s := New(cfg, Deps{Metrics: metricsStub()}, logx.Nop())
	h := s.handler(cfg, "0.0.0.0:3000")

	if code, _ := do(t, h, "GET", "/metrics", nil); code != 404 {
		t.Fatalf("/metrics on public addr = %d, want 404", code)
	}
	if code, _ := do(t, h, "GET", "/debug/pprof/", nil); code != 404 {
		t.Fatalf("pprof on public addr = %d, want 404", code)
	}
	if code, _ := do(t, h, "GET", "/healthz", nil); code != 200 {
		t.Fatalf("/healthz must still be served")
	}
}

func TestPprofCustomPrefix(t *testing.T) {
	cfg := Config{Enabled: true, Pprof: true, PprofPrefix: "dbg"}
	s := New(cfg, Deps{}, logx.Nop())
	h := s.handler(cfg, "127.0.0.1:3000")

	if code, body := do(t, h, "GET", "/dbg/", nil); code != 200 || !strings.Contains(body, "goroutine") {
		t.Fatalf("/dbg/ = %d", code)
	}
	if code, _ := do(t, h, "GET", "/dbg", nil); code != http.StatusPermanentRedirect {
		t.Fatalf("/dbg = %d, want redirect", code)
	}
}

func TestStartServesAndStops(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, Deps{}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	var addr string
	deadline := time.Now().Add(2 * time.Second)
	for addr == "" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
		addr = s.Addr()
	}
	if addr == "" {
		t.Fatalf("server did not start")
	}

	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer stopCancel()
	s.Stop(stopCtx)
	if s.Addr() != "" {
		t.Fatalf("listener still set after stop")
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:3000": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":3000":          false,
		"0.0.0.0:3000":   false,
		"10.0.0.5:3000":  false,
		"garbage":        false,
	}
	for addr, want := range cases {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}

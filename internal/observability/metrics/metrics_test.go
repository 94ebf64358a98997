package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRelayMetricsExposition(t *testing.T) {
	m := NewRelay()
	m.EventReceived("accepted")
	m.EventReceived("accepted")
	m.EventReceived("duplicate")
	m.EventDropped("no_mention")
	m.EventDispatched(120 * time.Millisecond)
	m.QueueDepth(4)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		`relay_events_total{result="accepted"} 2`,
		`relay_events_total{result="duplicate"} 1`,
		`relay_dropped_total{reason="no_mention"} 1`,
		`relay_dispatched_total 1`,
		`relay_queue_depth 4`,
		`relay_dispatch_latency_seconds_count 1`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("exposition missing %q", want)
		}
	}
}

func TestRegistriesAreIndependent(t *testing.T) {
	a, b := NewRelay(), NewRelay()
	a.EventReceived("accepted")

	mfs, err := b.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == "relay_events_total" && len(mf.GetMetric()) != 0 {
			t.Fatalf("second registry saw the first one's samples")
		}
	}
}

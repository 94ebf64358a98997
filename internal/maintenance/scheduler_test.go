package maintenance

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"relaybot/internal/notifier"
	"relaybot/internal/relay"
	"relaybot/internal/storage"
	logx "relaybot/pkg/logx"
)

func TestNormalizeSchedule(t *testing.T) {
	cases := map[string]string{
		"5m":          "@every 5m0s",
		"@hourly":     "@hourly",
		"*/5 * * * *": "*/5 * * * *",
		"@every 30s":  "@every 30s",
	}
	for in, want := range cases {
		got, err := NormalizeSchedule(in)
		if err != nil || got != want {
			t.Fatalf("NormalizeSchedule(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	for _, bad := range []string{"", "soon", "-5m"} {
		if _, err := NormalizeSchedule(bad); err == nil {
			t.Fatalf("NormalizeSchedule(%q) must fail", bad)
		}
	}
}

func TestAddRejectsBadCron(t *testing.T) {
	s := NewScheduler(time.UTC, logx.Nop())
	err := s.Add(Job{Name: "x", Schedule: "61 * * * *", Run: func(context.Context) error { return nil }})
	if err == nil {
		t.Fatalf("expected parse error")
	}
	if err := s.Add(Job{Name: "off", Schedule: "", Run: func(context.Context) error { return nil }}); err != nil {
		t.Fatalf("empty schedule must disable, got %v", err)
	}
	if len(s.Entries()) != 0 {
		t.Fatalf("no entries expected")
	}
}

func TestFireSkipsOverlapAndCountsFailures(t *testing.T) {
	s := NewScheduler(time.UTC, logx.Nop())
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	e := &entry{job: Job{Name: "slow", Timeout: time.Second, Run: func(ctx context.Context) error {
		started <- struct{}{}
		<-release
		return errors.New("bad run")
	}}}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.fire(e)
	}()
	<-started
	s.fire(e)
	close(release)
	wg.Wait()

	if e.runs.Load() != 1 || e.skips.Load() != 1 || e.fails.Load() != 1 {
		t.Fatalf("runs=%d skips=%d fails=%d", e.runs.Load(), e.skips.Load(), e.fails.Load())
	}
}

func TestSchedulerRunsJobs(t *testing.T) {
	s := NewScheduler(time.UTC, logx.Nop())
	ran := make(chan struct{}, 4)
	if err := s.Add(Job{Name: "tick", Schedule: "@every 1s", Run: func(context.Context) error {
		ran <- struct{}{}
		return nil
	}}); err != nil {
		t.Fatalf("add: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatalf("job did not run")
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	s.Stop(stopCtx)

	ents := s.Entries()
	if len(ents) != 1 || ents[0].Runs == 0 {
		t.Fatalf("entries = %+v", ents)
	}
}

func TestDedupSweepJob(t *testing.T) {
	d := relay.NewDedup(10, time.Nanosecond)
	d.Insert("a")
	time.Sleep(time.Millisecond)
	if err := DedupSweepJob("@every 1m", d, logx.Nop()).Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if d.Len() != 0 {
		t.Fatalf("len = %d after sweep", d.Len())
	}
}

func TestJournalPruneJob(t *testing.T) {
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "j.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()
	ctx := context.Background()
	_ = st.AppendDelivery(ctx, storage.DeliveryRecord{At: time.Now().Add(-48 * time.Hour), EventID: "old", OK: true})
	_ = st.AppendDelivery(ctx, storage.DeliveryRecord{At: time.Now(), EventID: "new", OK: true})

	if err := JournalPruneJob("@daily", st, 24*time.Hour, logx.Nop()).Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	recs, _ := st.Recent(ctx, 10)
	if len(recs) != 1 || recs[0].EventID != "new" {
		t.Fatalf("records = %+v", recs)
	}
}

func TestStatsReportJobLogsDeltas(t *testing.T) {
	var buf bytes.Buffer
	log := logx.NewWriter(&buf, "info")
	n := uint64(0)
	job := StatsReportJob("@hourly", func(context.Context) Report {
		n += 5
		return Report{
			Relay:   relay.StatsSnapshot{Accepted: n},
			History: []notifier.HistoryItem{{EventID: "m2", OK: false}, {EventID: "m1", OK: true}, {EventID: "m0", OK: true}},
			Journal: []storage.DeliveryRecord{{EventID: "m2"}},
		}
	}, log)

	_ = job.Run(context.Background())
	_ = job.Run(context.Background())
	out := buf.String()
	if strings.Count(out, "relay stats") != 2 {
		t.Fatalf("expected two report lines, got %q", out)
	}
	if !strings.Contains(out, `"accepted":10`) || !strings.Contains(out, `"accepted_delta":5`) {
		t.Fatalf("unexpected report: %q", out)
	}
	for _, want := range []string{`"recent_ok":2`, `"recent_failed":1`, `"journal_recent":1`} {
		if !strings.Contains(out, want) {
			t.Fatalf("report missing %s: %q", want, out)
		}
	}
}

package maintenance

import (
	"context"
	"time"

	"relaybot/internal/notifier"
	"relaybot/internal/relay"
	"relaybot/internal/storage"
	logx "relaybot/pkg/logx"
)

// DedupSweepJob drops expired ids so the store does not wait for the next
// insert to shrink.
func DedupSweepJob(schedule string, d *relay.Dedup, log logx.Logger) Job {
	return Job{
		Name:     "dedup.sweep",
		Schedule: schedule,
		Timeout:  10 * time.Second,
		Run: func(ctx context.Context) error {
			if n := d.Sweep(); n > 0 {
				log.Debug("dedup sweep", logx.Int("removed", n), logx.Int("left", d.Len()))
			}
			return nil
		},
	}
}

// JournalPruneJob deletes delivery records older than retention.
func JournalPruneJob(schedule string, st storage.Store, retention time.Duration, log logx.Logger) Job {
	return Job{
		Name:     "journal.prune",
		Schedule: schedule,
		Timeout:  time.Minute,
		Run: func(ctx context.Context) error {
			n, err := st.Prune(ctx, time.Now().Add(-retention))
			if err != nil {
				return err
			}
			if n > 0 {
				log.Info("delivery journal pruned", logx.Int("removed", n), logx.Duration("retention", retention))
			}
			return nil
		},
	}
}

// Report is what the stats job logs.
type Report struct {
	Relay        relay.StatsSnapshot
	QueueDepth   int
	DedupEntries int
	Sent         uint64
	Failed       uint64
	BusDropped   uint64

	// History is the notifier's in-memory ring, newest first.
	History []notifier.HistoryItem
	// Journal holds the newest persisted deliveries; nil without storage.
	Journal []storage.DeliveryRecord
}

// StatsReportJob logs counters and how much they moved since the last run.
func StatsReportJob(schedule string, collect func(ctx context.Context) Report, log logx.Logger) Job {
	var last relay.StatsSnapshot
	return Job{
		Name:     "stats.report",
		Schedule: schedule,
		Timeout:  10 * time.Second,
		Run: func(ctx context.Context) error {
			r := collect(ctx)
			recentOK, recentFailed := 0, 0
			for _, it := range r.History {
				if it.OK {
					recentOK++
				} else {
					recentFailed++
				}
			}
			var lastDelivery time.Time
			if len(r.Journal) > 0 {
				lastDelivery = r.Journal[0].At
			} else if len(r.History) > 0 {
				lastDelivery = r.History[0].At
			}
			log.Info("relay stats",
				logx.Uint64("accepted", r.Relay.Accepted),
				logx.Uint64("accepted_delta", r.Relay.Accepted-last.Accepted),
				logx.Uint64("duplicates", r.Relay.Duplicates),
				logx.Uint64("dispatched", r.Relay.Dispatched),
				logx.Uint64("dispatched_delta", r.Relay.Dispatched-last.Dispatched),
				logx.Uint64("overflow", r.Relay.Overflow),
				logx.Uint64("closed", r.Relay.Closed),
				logx.Uint64("dropped", r.Relay.Dropped),
				logx.Uint64("panics", r.Relay.Panics),
				logx.Int("queue_depth", r.QueueDepth),
				logx.Int("dedup_entries", r.DedupEntries),
				logx.Uint64("sent", r.Sent),
				logx.Uint64("failed", r.Failed),
				logx.Uint64("bus_dropped", r.BusDropped),
				logx.Int("recent_ok", recentOK),
				logx.Int("recent_failed", recentFailed),
				logx.Int("journal_recent", len(r.Journal)),
				logx.Time("last_delivery", lastDelivery),
			)
			last = r.Relay
			return nil
		},
	}
}

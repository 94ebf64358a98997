// Package maintenance runs periodic housekeeping jobs on a cron schedule:
// dedup sweeps, journal pruning and the stats report.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "relaybot/pkg/logx"
)

// Job is one scheduled task. Runs never overlap: a tick that finds the
// previous run still going is skipped.
type Job struct {
	Name     string
	Schedule string
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

type entry struct {
	job     Job
	id      cron.EntryID
	running atomic.Bool
	runs    atomic.Uint64
	skips   atomic.Uint64
	fails   atomic.Uint64
}

// EntryInfo describes a registered job.
type EntryInfo struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next"`
	Runs     uint64    `json:"runs"`
	Skips    uint64    `json:"skips"`
	Fails    uint64    `json:"fails"`
}

type Scheduler struct {
	mu      sync.Mutex
	log     logx.Logger
	parser  cron.Parser
	c       *cron.Cron
	entries []*entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(loc *time.Location, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	if loc == nil {
		loc = time.Local
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Scheduler{
		log:    log,
		parser: parser,
		c:      cron.New(cron.WithParser(parser), cron.WithLocation(loc)),
		ctx:    context.Background(),
	}
}

// NormalizeSchedule accepts a cron expression, a descriptor ("@hourly",
// "@every 5m") or a bare Go duration ("5m"), and returns a cron spec.
func NormalizeSchedule(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", errors.New("schedule required")
	}
	if strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t") {
		return s, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return "", fmt.Errorf("invalid schedule %q: %w", raw, err)
	}
	if d <= 0 {
		return "", fmt.Errorf("invalid schedule %q: must be > 0", raw)
	}
	return "@every " + d.String(), nil
}

// Add registers job. An empty schedule disables the job.
func (s *Scheduler) Add(job Job) error {
	if strings.TrimSpace(job.Name) == "" || job.Run == nil {
		return errors.New("maintenance job needs a name and a func")
	}
	if strings.TrimSpace(job.Schedule) == "" {
		s.log.Debug("maintenance job disabled", logx.String("name", job.Name))
		return nil
	}
	spec, err := NormalizeSchedule(job.Schedule)
	if err != nil {
		return err
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("job %s: %w", job.Name, err)
	}
	job.Schedule = spec
	if job.Timeout <= 0 {
		job.Timeout = time.Minute
	}

	e := &entry{job: job}
	id, err := s.c.AddFunc(spec, func() { s.fire(e) })
	if err != nil {
		return fmt.Errorf("job %s: %w", job.Name, err)
	}
	e.id = id

	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()
	s.log.Debug("maintenance job registered", logx.String("name", job.Name), logx.String("spec", spec))
	return nil
}

func (s *Scheduler) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	n := len(s.entries)
	s.mu.Unlock()
	s.c.Start()
	s.log.Info("maintenance scheduler started", logx.Int("jobs", n))
}

// Stop halts the cron clock and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	cronDone := s.c.Stop().Done()
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		<-cronDone
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("maintenance stop timed out")
	}
}

// Entries returns the registered jobs with their next fire time.
func (s *Scheduler) Entries() []EntryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EntryInfo, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, EntryInfo{
			Name:     e.job.Name,
			Schedule: e.job.Schedule,
			Next:     s.c.Entry(e.id).Next,
			Runs:     e.runs.Load(),
			Skips:    e.skips.Load(),
			Fails:    e.fails.Load(),
		})
	}
	return out
}

func (s *Scheduler) fire(e *entry) {
	if !e.running.CompareAndSwap(false, true) {
		e.skips.Add(1)
		s.log.Debug("maintenance job still running; tick skipped", logx.String("name", e.job.Name))
		return
	}
	s.mu.Lock()
	parent := s.ctx
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()
	defer e.running.Store(false)

	ctx, cancel := context.WithTimeout(parent, e.job.Timeout)
	defer cancel()

	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return e.job.Run(ctx)
	}()
	e.runs.Add(1)
	if err != nil {
		e.fails.Add(1)
		s.log.Warn("maintenance job failed", logx.String("name", e.job.Name), logx.Duration("took", time.Since(start)), logx.Err(err))
		return
	}
	s.log.Debug("maintenance job done", logx.String("name", e.job.Name), logx.Duration("took", time.Since(start)))
}

package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler re-aggregates stale subjects on a cron schedule.
type Scheduler struct {
	engine   *Engine
	cron     *cron.Cron
	entry    cron.EntryID
	schedule cron.Schedule
	spec     string
	running  atomic.Bool

	mu      sync.Mutex
	lastRun time.Time
	lastErr error
}

// NewScheduler validates spec (standard five-field cron syntax or a
// descriptor such as "@hourly") and prepares a scheduler. Call Start to
// begin running.
func NewScheduler(e *Engine, spec string) (*Scheduler, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid reaggregate schedule %q: %w", spec, err)
	}
	s := &Scheduler{
		engine:   e,
		cron:     cron.New(),
		schedule: schedule,
		spec:     spec,
	}
	s.entry = s.cron.Schedule(schedule, cron.FuncJob(s.tick))
	return s, nil
}

// Start begins running scheduled re-aggregation in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	fmt.Fprintf(s.engine.log, "Reaggregation scheduled (%s), next run %s\n",
		s.spec, s.Next().Format(time.RFC3339))
}

// Stop halts the schedule and waits for a run in progress to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Next returns the next scheduled run time.
func (s *Scheduler) Next() time.Time {
	if next := s.cron.Entry(s.entry).Next; !next.IsZero() {
		return next
	}
	return s.schedule.Next(time.Now())
}

// LastRun returns when the last run finished and its error, if any.
func (s *Scheduler) LastRun() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastErr
}

func (s *Scheduler) tick() {
	if _, err := s.RunOnce(context.Background()); err != nil && !errors.Is(err, ErrRunInProgress) {
		fmt.Fprintf(s.engine.log, "Warning: scheduled reaggregation failed: %v\n", err)
	}
}

// ErrRunInProgress is returned by RunOnce while another run is active.
var ErrRunInProgress = errors.New("reaggregation already running")

// RunOnce re-aggregates every stale subject now. Overlapping runs are
// refused with ErrRunInProgress.
func (s *Scheduler) RunOnce(ctx context.Context) (*AggregateSummary, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer s.running.Store(false)

	summary, err := s.engine.ReaggregateAll(ctx, nil)

	s.mu.Lock()
	s.lastRun = time.Now().UTC()
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	for _, f := range summary.Failures {
		fmt.Fprintf(s.engine.log, "Warning: reaggregating %s: %v\n", f.SubjectID, f.Err)
	}
	if len(summary.Outcomes) > 0 || s.engine.verbose {
		fmt.Fprintf(s.engine.log, "Reaggregated %d subjects (%d failed, %d documents skipped)\n",
			len(summary.Outcomes), len(summary.Failures), summary.SkippedCount())
	}
	return summary, nil
}

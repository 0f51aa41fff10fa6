package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hurttlocker/dossier/internal/profile"
	"github.com/hurttlocker/dossier/internal/store"
)

// AggregateOutcome is the result of rebuilding one subject's profile.
type AggregateOutcome struct {
	SubjectID string
	Profile   *profile.Profile
	Report    profile.Report
	Version   int64
	Saved     bool // false when a newer snapshot was already stored
}

// SubjectError records a subject whose re-aggregation failed.
type SubjectError struct {
	SubjectID string
	Err       error
}

func (e SubjectError) Error() string { return e.SubjectID + ": " + e.Err.Error() }

// AggregateSummary describes a multi-subject re-aggregation.
type AggregateSummary struct {
	Outcomes []*AggregateOutcome
	Failures []SubjectError
}

// SkippedCount totals the documents skipped across all subjects.
func (s *AggregateSummary) SkippedCount() int {
	n := 0
	for _, o := range s.Outcomes {
		n += o.Report.SkippedCount()
	}
	return n
}

// Reaggregate rebuilds a subject's profile from its complete document set
// and stores it. Runs for the same subject are serialized; the fold always
// starts over from the first document.
func (e *Engine) Reaggregate(ctx context.Context, subjectID string) (*AggregateOutcome, error) {
	lease, err := e.locker.Acquire(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("waiting for %s: %w", subjectID, err)
	}
	defer lease.Release()

	snap, err := e.store.LoadSubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	records := make([]profile.DocumentRecord, len(snap.Documents))
	for i, d := range snap.Documents {
		records[i] = d.Record()
	}

	p, rep, err := e.aggregator.Aggregate(lease, records)
	if err != nil {
		return nil, err
	}
	profile.ApplyOverrides(p, snap.Overrides)

	for _, sd := range rep.Skipped {
		fmt.Fprintf(e.log, "Warning: skipped document %s for %s: %v\n", sd.ID, subjectID, sd.Err)
	}

	saved, err := e.store.SaveProfile(ctx, p, rep, snap.Version)
	if err != nil {
		return nil, err
	}
	if e.verbose {
		fmt.Fprintf(e.log, "  aggregated %s: %d documents, %d fields, %d skipped (version %d)\n",
			subjectID, rep.Folded, len(p.Fields), rep.SkippedCount(), snap.Version)
	}

	return &AggregateOutcome{
		SubjectID: subjectID,
		Profile:   p,
		Report:    rep,
		Version:   snap.Version,
		Saved:     saved,
	}, nil
}

// ReaggregateAll rebuilds the given subjects in parallel, at most Workers
// at a time. A nil list means every stale subject. A failing subject is
// recorded in the summary and does not stop the others; only context
// cancellation aborts the run.
func (e *Engine) ReaggregateAll(ctx context.Context, subjects []string) (*AggregateSummary, error) {
	if subjects == nil {
		stale, err := e.store.StaleSubjects(ctx)
		if err != nil {
			return nil, err
		}
		subjects = stale
	}

	outcomes := make([]*AggregateOutcome, len(subjects))
	var (
		mu       sync.Mutex
		failures []SubjectError
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, subj := range subjects {
		g.Go(func() error {
			out, err := e.Reaggregate(gctx, subj)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				mu.Lock()
				failures = append(failures, SubjectError{SubjectID: subj, Err: err})
				mu.Unlock()
				return nil
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary := &AggregateSummary{}
	for _, o := range outcomes {
		if o != nil {
			summary.Outcomes = append(summary.Outcomes, o)
		}
	}
	sort.Slice(failures, func(i, j int) bool { return failures[i].SubjectID < failures[j].SubjectID })
	summary.Failures = failures
	return summary, nil
}

// Profile returns a subject's current profile, rebuilding it first when
// its inputs changed since the stored snapshot. Returns nil for a subject
// with no documents or overrides.
func (e *Engine) Profile(ctx context.Context, subjectID string) (*store.ProfileRecord, error) {
	rec, err := e.store.GetProfile(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	stale, err := e.store.StaleSubjects(ctx)
	if err != nil {
		return nil, err
	}
	if !containsString(stale, subjectID) {
		return rec, nil
	}

	if _, err := e.Reaggregate(ctx, subjectID); err != nil {
		return nil, err
	}
	return e.store.GetProfile(ctx, subjectID)
}

// SetOverride stores a manual edit of one profile field and rebuilds the
// profile so the edit shows immediately. Empty values remove the field.
func (e *Engine) SetOverride(ctx context.Context, subjectID, key string, values []string) (*AggregateOutcome, error) {
	if err := e.store.SetOverride(ctx, subjectID, profile.Override{Key: key, Values: values}); err != nil {
		return nil, err
	}
	return e.Reaggregate(ctx, subjectID)
}

// ClearOverride drops a manual edit and rebuilds the profile. Reports
// whether an edit existed.
func (e *Engine) ClearOverride(ctx context.Context, subjectID, key string) (bool, *AggregateOutcome, error) {
	removed, err := e.store.DeleteOverride(ctx, subjectID, key)
	if err != nil || !removed {
		return removed, nil, err
	}
	out, err := e.Reaggregate(ctx, subjectID)
	return true, out, err
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

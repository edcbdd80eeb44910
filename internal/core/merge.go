package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kilupskalvis/revstore/internal/metrics"
	"github.com/kilupskalvis/revstore/internal/models"
	"github.com/kilupskalvis/revstore/internal/store"
)

// Merger merges one branch into another.
type Merger struct {
	store       *store.Store
	processor   *ConflictProcessor
	coordinator *Coordinator
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewMerger creates a merger committing through coordinator.
func NewMerger(processor *ConflictProcessor, coordinator *Coordinator, m *metrics.Metrics, logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{
		store:       coordinator.Store(),
		processor:   processor,
		coordinator: coordinator,
		metrics:     m,
		logger:      logger,
	}
}

// mergePass is the outcome of processing a merge against one target head.
type mergePass struct {
	from, to  *models.ChangeSet
	conflicts []models.Conflict
	donated   []models.ObjectID
}

// Merge merges source into target. Conflicts are data, not errors: they are
// returned in the result with Success false and nothing is committed.
func (m *Merger) Merge(ctx context.Context, source, target string, opts models.MergeOptions) (*models.MergeResult, error) {
	start := time.Now()
	result := &models.MergeResult{Source: source, Target: target}

	if source == target {
		return nil, fmt.Errorf("cannot merge %s into itself", source)
	}
	src, err := m.store.GetBranch(source)
	if err != nil {
		return nil, err
	}
	tgt, err := m.store.GetBranch(target)
	if err != nil {
		return nil, err
	}
	srcSince, _, err := MergeBase(m.store, src, tgt)
	if err != nil {
		return nil, err
	}
	pending, err := BuildChangeSet(ctx, m.store, Point{Branch: source, Timestamp: src.HeadTimestamp}, srcSince)
	if err != nil {
		return nil, err
	}
	if pending.IsEmpty() {
		result.Success = true
		result.Warnings = append(result.Warnings, "Already up to date.")
		return result, nil
	}

	if opts.DryRun {
		sa, err := NewStagingArea(m.store, target)
		if err != nil {
			return nil, err
		}
		pass, err := m.apply(ctx, sa, source)
		if err != nil {
			m.metrics.ObserveMerge("failed", since(start))
			return nil, err
		}
		m.fill(result, pass)
		result.Success = len(pass.conflicts) == 0
		m.metrics.ObserveMerge(outcome(result), since(start))
		return result, nil
	}

	comment := opts.Comment
	if comment == "" {
		comment = fmt.Sprintf("Merge branch '%s' into %s", source, target)
	}
	var pass *mergePass
	out, err := m.coordinator.Commit(ctx, CommitRequest{
		Branch:  target,
		Author:  opts.Author,
		Comment: comment,
		Apply: func(ctx context.Context, sa *StagingArea) error {
			p, err := m.apply(ctx, sa, source)
			if err != nil {
				return err
			}
			pass = p
			if len(p.conflicts) > 0 {
				return &ConflictError{Conflicts: p.conflicts}
			}
			return nil
		},
	})
	if out != nil {
		result.Attempts = out.Attempts
	}

	var conflictErr *ConflictError
	switch {
	case errors.As(err, &conflictErr):
		m.fill(result, pass)
		m.metrics.ObserveMerge("conflicts", since(start))
		m.logger.Info("merge has conflicts", "source", source, "target", target, "conflicts", len(result.Conflicts))
		return result, nil
	case err != nil:
		m.metrics.ObserveMerge("failed", since(start))
		return nil, err
	}

	m.fill(result, pass)
	result.Success = true
	result.Commit = out.Commit
	m.metrics.ObserveMerge("merged", since(start))
	m.logger.Info("merged", "source", source, "target", target, "commit", out.Commit.ShortID(), "attempts", out.Attempts)
	return result, nil
}

func (m *Merger) fill(result *models.MergeResult, pass *mergePass) {
	if pass == nil {
		return
	}
	result.FromChanges = pass.from
	result.ToChanges = pass.to
	result.Conflicts = pass.conflicts
	result.Donated = pass.donated
	for _, c := range pass.conflicts {
		m.metrics.Conflict(string(c.Kind))
	}
	m.metrics.Donated(len(pass.donated))
}

func outcome(result *models.MergeResult) string {
	if len(result.Conflicts) > 0 {
		return "conflicts"
	}
	return "merged"
}

// apply computes the merge of source into the staging area's branch at the
// head the staging area was opened on.
func (m *Merger) apply(ctx context.Context, sa *StagingArea, source string) (*mergePass, error) {
	src, err := m.store.GetBranch(source)
	if err != nil {
		return nil, err
	}
	tgt, err := m.store.GetBranch(sa.Branch())
	if err != nil {
		return nil, err
	}
	// the staging area pins the target head
	tgt.HeadTimestamp = sa.Head()

	srcSince, tgtSince, err := MergeBase(m.store, src, tgt)
	if err != nil {
		return nil, err
	}

	pass := &mergePass{}
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cs, err := BuildChangeSet(gctx, m.store, Point{Branch: src.Path, Timestamp: src.HeadTimestamp}, srcSince)
		pass.from = cs
		return err
	})
	g.Go(func() error {
		cs, err := BuildChangeSet(gctx, m.store, Point{Branch: tgt.Path, Timestamp: tgt.HeadTimestamp}, tgtSince)
		pass.to = cs
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	m.metrics.ObserveChangeSet(since(start))

	sourceHead, err := m.store.Reader(src.Path, src.HeadTimestamp)
	if err != nil {
		return nil, err
	}
	sourceBase, err := m.store.Reader(srcSince.Branch, srcSince.Timestamp)
	if err != nil {
		return nil, err
	}
	targetBase, err := m.store.Reader(tgtSince.Branch, tgtSince.Timestamp)
	if err != nil {
		return nil, err
	}
	sa.setMergeSource(sourceHead)

	res, err := m.processor.Process(ctx, &mergeContext{
		source:     src,
		target:     tgt,
		staging:    sa,
		from:       pass.from,
		to:         pass.to,
		sourceBase: sourceBase,
		targetBase: targetBase,
	})
	if err != nil {
		return nil, err
	}
	pass.conflicts = res.Conflicts
	pass.donated = res.Donated
	return pass, nil
}

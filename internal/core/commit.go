package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/kilupskalvis/revstore/internal/metrics"
	"github.com/kilupskalvis/revstore/internal/models"
	"github.com/kilupskalvis/revstore/internal/store"
)

// RetryConfig bounds the optimistic commit loop.
type RetryConfig struct {
	MaxAttempts int
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryConfig returns five attempts with 100ms to 1.5s of backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 5,
		MinBackoff:  100 * time.Millisecond,
		MaxBackoff:  1500 * time.Millisecond,
	}
}

// CommitState is a state of the commit coordinator.
type CommitState int

const (
	StateIdle CommitState = iota
	StateAttempting
	StateRetrying
	StateCommitted
	StateFailed
)

func (s CommitState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAttempting:
		return "attempting"
	case StateRetrying:
		return "retrying"
	case StateCommitted:
		return "committed"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("CommitState(%d)", int(s))
}

// ApplyFunc stages changes into a fresh staging area. It is called once per
// attempt and must be safe to replay.
type ApplyFunc func(ctx context.Context, sa *StagingArea) error

// CommitRequest describes one logical change to commit.
type CommitRequest struct {
	Branch  string
	Author  string
	Comment string
	Apply   ApplyFunc
}

// CommitOutcome reports a finished commit loop.
type CommitOutcome struct {
	Commit      *models.Commit
	Attempts    int
	Violations  []Violation // collected without failing the commit
	Transitions []CommitState
}

// AuditSink receives every successful commit.
type AuditSink interface {
	Record(ctx context.Context, commit *models.Commit) error
}

// Coordinator runs apply, integrity check and commit against a fresh
// staging area, retrying with randomized backoff while the branch is
// contended.
type Coordinator struct {
	store   *store.Store
	checker *IntegrityChecker
	retry   RetryConfig
	audit   AuditSink
	metrics *metrics.Metrics
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithRetry overrides the retry bounds.
func WithRetry(cfg RetryConfig) CoordinatorOption {
	return func(c *Coordinator) { c.retry = cfg }
}

// WithAudit records successful commits in sink.
func WithAudit(sink AuditSink) CoordinatorOption {
	return func(c *Coordinator) { c.audit = sink }
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *metrics.Metrics) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = l }
}

// NewCoordinator creates a coordinator committing to st.
func NewCoordinator(st *store.Store, checker *IntegrityChecker, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:   st,
		checker: checker,
		retry:   DefaultRetryConfig(),
		logger:  slog.Default(),
		sleep:   sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.MaxAttempts < 1 {
		c.retry.MaxAttempts = 1
	}
	return c
}

// Store returns the store commits are written to.
func (c *Coordinator) Store() *store.Store {
	return c.store
}

// Commit runs the commit loop. Contention is retried up to MaxAttempts
// times; any other failure ends the loop immediately.
func (c *Coordinator) Commit(ctx context.Context, req CommitRequest) (*CommitOutcome, error) {
	out := &CommitOutcome{}
	state := StateIdle
	transition := func(next CommitState) {
		c.logger.Debug("commit state", "branch", req.Branch, "from", state, "to", next)
		state = next
		out.Transitions = append(out.Transitions, next)
	}

	var lastErr error
	transition(StateAttempting)
	for attempt := 1; ; attempt++ {
		out.Attempts = attempt
		commit, violations, err := c.attempt(ctx, req)
		out.Violations = violations
		if err == nil {
			transition(StateCommitted)
			c.metrics.CommitAttempt(req.Branch, "committed")
			c.record(ctx, commit)
			out.Commit = commit
			return out, nil
		}
		if !errors.Is(err, store.ErrContention) {
			transition(StateFailed)
			c.metrics.CommitAttempt(req.Branch, "failed")
			return out, err
		}

		lastErr = err
		c.metrics.CommitAttempt(req.Branch, "contention")
		if attempt >= c.retry.MaxAttempts {
			break
		}

		transition(StateRetrying)
		d := c.backoff()
		c.logger.Info("branch contended, retrying", "branch", req.Branch, "attempt", attempt, "backoff", d)
		if err := c.sleep(ctx, d); err != nil {
			transition(StateFailed)
			return out, cancelled(err)
		}
		transition(StateAttempting)
	}

	transition(StateFailed)
	c.metrics.RetriesExhausted()
	c.logger.Warn("commit retries exhausted", "branch", req.Branch, "attempts", out.Attempts, "error", lastErr)
	return out, &RetryExhaustedError{Attempts: out.Attempts, Last: lastErr}
}

// attempt is one pass over a fresh staging area.
func (c *Coordinator) attempt(ctx context.Context, req CommitRequest) (*models.Commit, []Violation, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, cancelled(err)
	}
	sa, err := NewStagingArea(c.store, req.Branch)
	if err != nil {
		return nil, nil, err
	}
	if err := req.Apply(ctx, sa); err != nil {
		return nil, nil, err
	}
	if sa.IsEmpty() && sa.MergeSource() == nil {
		return nil, nil, store.ErrEmptyCommit
	}

	violations, err := c.checker.Check(sa.CommitSet(), sa.Persisted())
	c.metrics.Violations(len(violations))
	if err != nil {
		return nil, violations, err
	}
	for _, v := range violations {
		c.logger.Warn("integrity violation", "branch", req.Branch, "missing", v.Missing.String(), "message", v.Message)
	}

	commit, err := sa.Commit(ctx, req.Author, req.Comment)
	if err != nil {
		return nil, violations, err
	}
	return commit, violations, nil
}

func (c *Coordinator) record(ctx context.Context, commit *models.Commit) {
	if c.audit == nil {
		return
	}
	if err := c.audit.Record(ctx, commit); err != nil {
		c.logger.Error("audit record failed", "commit", commit.ShortID(), "error", err)
	}
}

// backoff picks a uniformly random delay within the configured bounds.
func (c *Coordinator) backoff() time.Duration {
	span := c.retry.MaxBackoff - c.retry.MinBackoff
	if span <= 0 {
		return c.retry.MinBackoff
	}
	return c.retry.MinBackoff + time.Duration(rand.Int63n(int64(span)+1))
}

// sleep waits for the given duration or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

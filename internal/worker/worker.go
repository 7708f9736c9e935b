package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"outbound-dialer/internal/audit"
	"outbound-dialer/internal/calls"
	"outbound-dialer/internal/events"
	"outbound-dialer/internal/jobs"
	"outbound-dialer/pkg/logger"
	"outbound-dialer/pkg/metrics"
)

// Outcome is the plain status reported for one tick.
type Outcome string

const (
	OutcomeNoJobs          Outcome = "no jobs ready"
	OutcomeScheduledFuture Outcome = "scheduled future start"
	OutcomeOK              Outcome = "ok"
	OutcomeBusy            Outcome = "worker busy"
)

type Initiator interface {
	Initiate(ctx context.Context, req calls.Request) (calls.Result, error)
}

type Poller interface {
	Poll(ctx context.Context, conversationID string, timeout time.Duration) (string, error)
}

type Config struct {
	ID                string
	StaleAfter        time.Duration
	HeartbeatInterval time.Duration
	PollTimeout       time.Duration
	MaxConcurrentJobs int
}

func (c Config) withDefaults() Config {
	out := c
	if out.ID == "" {
		out.ID = "worker-" + uuid.NewString()[:8]
	}
	if out.StaleAfter <= 0 {
		out.StaleAfter = 30 * time.Second
	}
	if out.HeartbeatInterval <= 0 {
		out.HeartbeatInterval = 5 * time.Second
	}
	if out.PollTimeout <= 0 {
		out.PollTimeout = 10 * time.Minute
	}
	if out.MaxConcurrentJobs <= 0 {
		out.MaxConcurrentJobs = 1
	}
	return out
}

// Deps are the collaborators of a Worker. Audit, Events and Metrics are optional.
type Deps struct {
	Store   jobs.Store
	Calls   Initiator
	Poller  Poller
	Audit   *audit.Service
	Events  events.Publisher
	Metrics *metrics.Metrics
}

// Worker claims at most one job per Tick and drives it to a terminal state.
//
// Any number of Ticks may run concurrently, in this process or others; the
// store's conditional claims guarantee a job has one active holder. A holder
// that stops heartbeating is repossessed after StaleAfter.
type Worker struct {
	cfg  Config
	deps Deps
	sem  *semaphore.Weighted

	clock func() time.Time
}

func New(cfg Config, deps Deps) *Worker {
	cfg = cfg.withDefaults()
	if deps.Events == nil {
		deps.Events = events.NopPublisher{}
	}
	return &Worker{
		cfg:   cfg,
		deps:  deps,
		sem:   semaphore.NewWeighted(int64(cfg.MaxConcurrentJobs)),
		clock: time.Now,
	}
}

func (w *Worker) ID() string { return w.cfg.ID }

// Tick runs one claim attempt and, if a job was claimed, processes it to the end.
func (w *Worker) Tick(ctx context.Context) (Outcome, error) {
	if !w.sem.TryAcquire(1) {
		w.deps.Metrics.ObserveTick(string(OutcomeBusy))
		return OutcomeBusy, nil
	}
	defer w.sem.Release(1)

	outcome, err := w.tick(ctx)
	w.deps.Metrics.ObserveTick(string(outcome))
	return outcome, err
}

func (w *Worker) tick(ctx context.Context) (Outcome, error) {
	// Each claim gets its own owner token so concurrent ticks of one process
	// never share ownership of a job.
	owner := w.cfg.ID + "/" + uuid.NewString()[:8]
	l := logger.From(ctx).With("worker_id", owner)
	ctx = logger.With(ctx, l)

	now := w.clock().UTC()
	job, reclaimed, ok := w.claim(ctx, owner, now)
	if !ok {
		return OutcomeNoJobs, nil
	}
	l = l.With("job_id", job.ID)
	ctx = logger.With(ctx, l)

	if job.ScheduledStartAt != nil && job.ScheduledStartAt.After(now) {
		if err := w.deps.Store.Reschedule(ctx, job.ID, owner, now); err != nil {
			return OutcomeScheduledFuture, fmt.Errorf("reschedule job %s: %w", job.ID, err)
		}
		w.audit(ctx, func(a *audit.Service) error {
			return a.LogRescheduled(ctx, job.ID, job.UserID, owner, *job.ScheduledStartAt)
		})
		l.Info("job claimed before its start time; rescheduled", "scheduled_start_at", job.ScheduledStartAt)
		return OutcomeScheduledFuture, nil
	}

	l.Info("job claimed", "reclaimed", reclaimed, "current_index", job.CurrentIndex, "total_leads", job.TotalLeads)
	w.audit(ctx, func(a *audit.Service) error {
		return a.LogClaimed(ctx, job.ID, job.UserID, owner, reclaimed, job.CurrentIndex)
	})

	r := &run{w: w, job: job, owner: owner}
	if err := r.execute(ctx); err != nil {
		if errors.Is(err, jobs.ErrNotOwner) {
			l.Warn("job ownership lost; stopping without finalizing", "index", r.index)
			w.audit(ctx, func(a *audit.Service) error {
				return a.LogOwnershipLost(ctx, job.ID, job.UserID, owner, r.index)
			})
			return OutcomeOK, nil
		}
		return OutcomeOK, fmt.Errorf("process job %s: %w", job.ID, err)
	}
	return OutcomeOK, nil
}

// claim tries pending, then due scheduled, then stale running jobs. Store
// errors count as nothing claimed; the next tick retries.
func (w *Worker) claim(ctx context.Context, owner string, now time.Time) (jobs.Job, bool, bool) {
	l := logger.From(ctx)
	tiers := []struct {
		name  string
		claim func() (jobs.Job, bool, error)
	}{
		{"pending", func() (jobs.Job, bool, error) { return w.deps.Store.ClaimPending(ctx, owner, now) }},
		{"scheduled", func() (jobs.Job, bool, error) { return w.deps.Store.ClaimScheduled(ctx, owner, now) }},
		{"stale", func() (jobs.Job, bool, error) {
			return w.deps.Store.ClaimStale(ctx, owner, now, now.Add(-w.cfg.StaleAfter))
		}},
	}
	for _, tier := range tiers {
		j, ok, err := tier.claim()
		if err != nil {
			l.Warn("claim attempt failed; treating as no job", "tier", tier.name, "err", err)
			return jobs.Job{}, false, false
		}
		if ok {
			return j, tier.name == "stale", true
		}
	}
	return jobs.Job{}, false, false
}

func (w *Worker) audit(ctx context.Context, fn func(a *audit.Service) error) {
	if w.deps.Audit == nil {
		return
	}
	if err := fn(w.deps.Audit); err != nil {
		logger.From(ctx).Warn("audit append failed", "err", err)
	}
}

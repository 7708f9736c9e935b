package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"outbound-dialer/internal/audit"
	"outbound-dialer/internal/calls"
	"outbound-dialer/internal/events"
	"outbound-dialer/internal/jobs"
	"outbound-dialer/pkg/logger"
)

// run processes one claimed job. index tracks the lead being worked on.
type run struct {
	w     *Worker
	job   jobs.Job
	owner string
	index int
}

func (r *run) execute(ctx context.Context) error {
	store := r.w.deps.Store
	leads := r.job.LeadSnapshot
	r.index = r.job.CurrentIndex

	// A reclaimed job with a recorded conversation already dialed that lead;
	// wait for it instead of calling again.
	if r.job.CurrentConversationID != nil && r.index < len(leads) {
		ctx := logger.With(ctx, logger.From(ctx).With("lead_index", r.index))
		logger.From(ctx).Info("resuming in-flight call", "conversation_id", *r.job.CurrentConversationID)
		hctx, release := r.hold(ctx)
		if err := r.await(hctx, release, *r.job.CurrentConversationID); err != nil {
			return err
		}
		r.index++
	}

	for ; r.index < len(leads); r.index++ {
		lead := leads[r.index]
		lctx := logger.With(ctx, logger.From(ctx).With("lead_index", r.index, "lead_id", lead.ID))
		l := logger.From(lctx)

		if err := store.BeginLead(lctx, r.job.ID, r.owner, r.index, lead, r.w.clock().UTC()); err != nil {
			return err
		}

		// The heartbeat runs from here until the lead's outcome is recorded, so
		// a slow provisioning step cannot make the job look stale mid-dial.
		hctx, release := r.hold(lctx)

		// Job calls never hand a status token to anyone: the enqueuing user
		// follows the job row instead, so the call log carries no token hash.
		res, err := r.w.deps.Calls.Initiate(hctx, calls.Request{
			UserID:              r.job.UserID,
			Lead:                lead,
			SuppressStatusToken: true,
		})
		if err != nil {
			// Lost ownership or shutting down: the lead stays with whoever
			// reclaims the job.
			if hctx.Err() != nil {
				return settle(release, hctx.Err())
			}
			if rerr := settle(release, r.record(hctx, jobs.OutcomeFailed, err.Error())); rerr != nil {
				return rerr
			}
			if errors.Is(err, calls.ErrJobFatal) {
				l.Error("whole-job failure; aborting remaining leads", "err", err)
				r.w.deps.Metrics.ObserveLead("job_fatal")
				r.index++
				break
			}
			l.Warn("lead failed", "err", err)
			r.w.deps.Metrics.ObserveLead("failed")
			continue
		}

		if err := store.RecordInitiated(hctx, r.job.ID, r.owner, res.ConversationID, r.w.clock().UTC()); err != nil {
			return settle(release, err)
		}
		if err := r.await(hctx, release, res.ConversationID); err != nil {
			return err
		}
	}

	return r.finalize(ctx)
}

// hold starts heartbeating for the lead in flight. The returned context is
// cancelled if ownership is lost; release stops the heartbeat and reports
// jobs.ErrNotOwner in that case.
func (r *run) hold(ctx context.Context) (context.Context, func() error) {
	hctx, cancel := context.WithCancel(ctx)
	hb := make(chan error, 1)
	go func() { hb <- r.heartbeat(hctx, cancel) }()
	return hctx, func() error {
		cancel()
		return <-hb
	}
}

// settle stops the heartbeat. Lost ownership takes precedence over err.
func settle(release func() error, err error) error {
	if lost := release(); lost != nil {
		return lost
	}
	return err
}

// await polls the conversation under the lead's heartbeat, records the
// outcome, then releases the heartbeat.
func (r *run) await(ctx context.Context, release func() error, conversationID string) error {
	l := logger.From(ctx)

	start := r.w.clock()
	status, pollErr := r.w.deps.Poller.Poll(ctx, conversationID, r.w.cfg.PollTimeout)
	r.w.deps.Metrics.ObservePoll(r.w.clock().Sub(start))

	// Shutdown or lost ownership mid-poll: leave the cursor for whoever
	// reclaims the job.
	if ctx.Err() != nil {
		return settle(release, ctx.Err())
	}

	var err error
	if pollErr != nil {
		l.Warn("call did not finish", "conversation_id", conversationID, "err", pollErr)
		r.w.deps.Metrics.ObserveLead("failed")
		err = r.record(ctx, jobs.OutcomeFailed, pollErr.Error())
	} else {
		l.Info("call finished", "conversation_id", conversationID, "status", status)
		r.w.deps.Metrics.ObserveLead("completed")
		err = r.record(ctx, jobs.OutcomeCompleted, "")
	}
	return settle(release, err)
}

// heartbeat refreshes updated_at until ctx is done. Losing ownership cancels
// the lead's context.
func (r *run) heartbeat(ctx context.Context, cancel context.CancelFunc) error {
	t := time.NewTicker(r.w.cfg.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			err := r.w.deps.Store.Heartbeat(ctx, r.job.ID, r.owner, r.w.clock().UTC())
			switch {
			case err == nil:
			case errors.Is(err, jobs.ErrNotOwner):
				cancel()
				return err
			case ctx.Err() != nil:
				return nil
			default:
				logger.From(ctx).Warn("heartbeat failed", "err", err)
			}
		}
	}
}

func (r *run) record(ctx context.Context, outcome jobs.Outcome, errMsg string) error {
	return r.w.deps.Store.RecordOutcome(ctx, r.job.ID, r.owner, r.index, outcome, errMsg, r.w.clock().UTC())
}

func (r *run) finalize(ctx context.Context) error {
	store := r.w.deps.Store
	cur, err := store.Get(ctx, r.job.ID)
	if err != nil {
		return fmt.Errorf("load job for finalize: %w", err)
	}
	status := cur.FinalStatus()
	now := r.w.clock().UTC()
	if err := store.Finalize(ctx, r.job.ID, r.owner, status, now); err != nil {
		return err
	}

	l := logger.From(ctx)
	l.Info("job finalized", "status", status, "initiated", cur.Initiated, "completed", cur.Completed, "failed", cur.Failed)
	r.w.deps.Metrics.ObserveJobFinalized(string(status))
	r.w.audit(ctx, func(a *audit.Service) error {
		return a.LogFinalized(ctx, r.job.ID, r.job.UserID, r.owner, string(status), cur.Initiated, cur.Completed, cur.Failed)
	})
	if err := r.w.deps.Events.PublishJobFinished(ctx, events.JobFinished{
		JobID:      r.job.ID,
		UserID:     r.job.UserID,
		Status:     string(status),
		TotalLeads: cur.TotalLeads,
		Initiated:  cur.Initiated,
		Completed:  cur.Completed,
		Failed:     cur.Failed,
		FinishedAt: now,
	}); err != nil {
		l.Warn("job finished event not published", "err", err)
	}
	return nil
}

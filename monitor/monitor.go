// Package monitor polls asynchronous workflow runs after deployment.
//
// Watch returns a lazy, finite sequence of snapshots:
//
//	for snap := range monitor.Watch(ctx, engine, ref, monitor.Options{Interval: 10 * time.Second, Timeout: time.Hour}) {
//		fmt.Println(snap.Sequence, snap.Status)
//	}
//
// Each range over the sequence starts a fresh poll loop with its own deadline.
package monitor

import (
	"context"
	"iter"
	"log/slog"
	"time"

	"github.com/aws/CICD-for-SageMakerUnifiedStudio/errors"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/workflow"
)

// DefaultInterval is used when Options.Interval is not positive.
const DefaultInterval = 10 * time.Second

// Source reports the status of a workflow run.
type Source interface {
	Status(ctx context.Context, ref workflow.Ref) (workflow.Snapshot, error)
}

// Options controls polling.
type Options struct {
	Interval time.Duration
	// Timeout bounds the whole watch. Zero means no deadline.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Watch polls src for ref, immediately and then every Interval. The
// sequence ends after a terminal status, after a final timed_out snapshot
// once Timeout has elapsed, or silently when ctx is cancelled. A failed
// poll yields an unknown snapshot and polling continues.
func Watch(ctx context.Context, src Source, ref workflow.Ref, opts Options) iter.Seq[workflow.Snapshot] {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return func(yield func(workflow.Snapshot) bool) {
		var deadline time.Time
		if opts.Timeout > 0 {
			deadline = time.Now().Add(opts.Timeout)
		}

		seq := 0
		lastLog := ""
		last := workflow.Snapshot{Ref: ref}
		for {
			snap, err := poll(ctx, src, ref, deadline)
			if ctx.Err() != nil {
				return
			}
			if err != nil && !deadline.IsZero() && !time.Now().Before(deadline) {
				seq++
				yield(timedOut(last, seq))
				return
			}
			if err != nil {
				logger.WarnContext(ctx, "status poll failed", "workflow", ref.Name, "error", err)
				snap = workflow.Snapshot{Status: workflow.StatusUnknown, Message: err.Error()}
			}
			if snap.Ref.Name == "" {
				snap.Ref = ref
			}
			if snap.Time.IsZero() {
				snap.Time = time.Now()
			}
			if snap.Log == "" {
				snap.Log = lastLog
			}
			lastLog = snap.Log

			seq++
			snap.Sequence = seq
			last = snap
			if !yield(snap) || snap.Status.Terminal() {
				return
			}

			wait := interval
			if !deadline.IsZero() {
				remaining := time.Until(deadline)
				if remaining <= 0 {
					seq++
					yield(timedOut(snap, seq))
					return
				}
				wait = min(wait, remaining)
			}

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}

			if !deadline.IsZero() && !time.Now().Before(deadline) {
				seq++
				yield(timedOut(snap, seq))
				return
			}
		}
	}
}

// poll asks src for one status. A poll never outlives the watch deadline.
func poll(ctx context.Context, src Source, ref workflow.Ref, deadline time.Time) (workflow.Snapshot, error) {
	if deadline.IsZero() {
		return src.Status(ctx, ref)
	}
	pollCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	return src.Status(pollCtx, ref)
}

func timedOut(last workflow.Snapshot, seq int) workflow.Snapshot {
	return workflow.Snapshot{
		Ref:      last.Ref,
		Status:   workflow.StatusTimedOut,
		Sequence: seq,
		Log:      last.Log,
		Message:  "deadline reached before the run finished",
		Time:     time.Now(),
	}
}

// Wait consumes Watch and returns the final snapshot. Cancellation of ctx
// is reported as a CANCELLED error together with the last snapshot seen.
func Wait(ctx context.Context, src Source, ref workflow.Ref, opts Options, each func(workflow.Snapshot)) (workflow.Snapshot, error) {
	var last workflow.Snapshot
	for snap := range Watch(ctx, src, ref, opts) {
		last = snap
		if each != nil {
			each(snap)
		}
	}
	if err := ctx.Err(); err != nil && !last.Status.Terminal() {
		return last, errors.Wrap(err, errors.CodeCancelled, "stopped watching "+ref.Name)
	}
	return last, nil
}

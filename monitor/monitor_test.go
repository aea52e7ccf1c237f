package monitor_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aws/CICD-for-SageMakerUnifiedStudio/errors"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/monitor"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/workflow"
)

// scriptedSource returns queued results in order and repeats the last one.
type scriptedSource struct {
	mu      sync.Mutex
	results []result
	calls   int
}

type result struct {
	status workflow.Status
	log    string
	err    error
}

func (s *scriptedSource) Status(_ context.Context, ref workflow.Ref) (workflow.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.results[min(s.calls, len(s.results)-1)]
	s.calls++
	if r.err != nil {
		return workflow.Snapshot{}, r.err
	}
	return workflow.Snapshot{Ref: ref, Status: r.status, Log: r.log}, nil
}

func (s *scriptedSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func collect(seq func(func(workflow.Snapshot) bool)) []workflow.Snapshot {
	var out []workflow.Snapshot
	for s := range seq {
		out = append(out, s)
	}
	return out
}

var ref = workflow.Ref{Name: "etl", RunID: "jr_1"}

func TestWatchStopsOnTerminalStatus(t *testing.T) {
	src := &scriptedSource{results: []result{
		{status: workflow.StatusRunning},
		{status: workflow.StatusRunning},
		{status: workflow.StatusSucceeded},
	}}

	snaps := collect(monitor.Watch(context.Background(), src, ref, monitor.Options{Interval: 5 * time.Millisecond}))

	require.Len(t, snaps, 3)
	assert.Equal(t, workflow.StatusRunning, snaps[0].Status)
	assert.Equal(t, workflow.StatusRunning, snaps[1].Status)
	assert.Equal(t, workflow.StatusSucceeded, snaps[2].Status)
	for i, s := range snaps {
		assert.Equal(t, i+1, s.Sequence)
		assert.Equal(t, ref, s.Ref)
		assert.False(t, s.Time.IsZero())
	}
	assert.Equal(t, 3, src.Calls())
}

func TestWatchTimesOut(t *testing.T) {
	src := &scriptedSource{results: []result{{status: workflow.StatusRunning}}}
	interval := 20 * time.Millisecond

	start := time.Now()
	snaps := collect(monitor.Watch(context.Background(), src, ref, monitor.Options{Interval: interval, Timeout: 2 * interval}))
	elapsed := time.Since(start)

	require.NotEmpty(t, snaps)
	last := snaps[len(snaps)-1]
	assert.Equal(t, workflow.StatusTimedOut, last.Status)
	for _, s := range snaps[:len(snaps)-1] {
		assert.Equal(t, workflow.StatusRunning, s.Status)
	}
	assert.GreaterOrEqual(t, elapsed, 2*interval)
	assert.Less(t, elapsed, time.Second)

	for i := 1; i < len(snaps); i++ {
		assert.Greater(t, snaps[i].Sequence, snaps[i-1].Sequence)
	}
}

// hangingSource answers the first poll and blocks every later one until its
// context ends.
type hangingSource struct {
	mu    sync.Mutex
	calls int
}

func (s *hangingSource) Status(ctx context.Context, ref workflow.Ref) (workflow.Snapshot, error) {
	s.mu.Lock()
	s.calls++
	first := s.calls == 1
	s.mu.Unlock()
	if first {
		return workflow.Snapshot{Ref: ref, Status: workflow.StatusRunning, Log: "started"}, nil
	}
	select {
	case <-ctx.Done():
		return workflow.Snapshot{}, ctx.Err()
	case <-time.After(2 * time.Second):
		return workflow.Snapshot{Ref: ref, Status: workflow.StatusRunning}, nil
	}
}

func TestWatchDeadlineBoundsSlowPoll(t *testing.T) {
	opts := monitor.Options{Interval: 20 * time.Millisecond, Timeout: 40 * time.Millisecond}

	// A context that is never cancelled, as inside a bootstrap handler.
	ctx := context.WithoutCancel(context.Background())
	start := time.Now()
	snaps := collect(monitor.Watch(ctx, &hangingSource{}, ref, opts))
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 500*time.Millisecond)
	require.Len(t, snaps, 2)
	assert.Equal(t, workflow.StatusRunning, snaps[0].Status)
	last := snaps[1]
	assert.Equal(t, workflow.StatusTimedOut, last.Status)
	assert.Equal(t, 2, last.Sequence)
	assert.Equal(t, "started", last.Log)
	assert.Equal(t, ref, last.Ref)
}

func TestWatchPollErrorsYieldUnknown(t *testing.T) {
	src := &scriptedSource{results: []result{
		{status: workflow.StatusRunning, log: "starting"},
		{err: fmt.Errorf("throttled")},
		{status: workflow.StatusFailed},
	}}

	snaps := collect(monitor.Watch(context.Background(), src, ref, monitor.Options{Interval: time.Millisecond}))

	require.Len(t, snaps, 3)
	assert.Equal(t, workflow.StatusUnknown, snaps[1].Status)
	assert.Equal(t, "throttled", snaps[1].Message)
	assert.Equal(t, "starting", snaps[1].Log, "the freshest log excerpt is carried forward")
	assert.Equal(t, workflow.StatusFailed, snaps[2].Status)
}

func TestWatchCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &scriptedSource{results: []result{{status: workflow.StatusRunning}}}

	var snaps []workflow.Snapshot
	for s := range monitor.Watch(ctx, src, ref, monitor.Options{Interval: time.Hour}) {
		snaps = append(snaps, s)
		cancel()
	}
	assert.Len(t, snaps, 1)
}

func TestWatchEarlyBreak(t *testing.T) {
	src := &scriptedSource{results: []result{{status: workflow.StatusRunning}}}
	for range monitor.Watch(context.Background(), src, ref, monitor.Options{Interval: time.Millisecond}) {
		break
	}
	assert.Equal(t, 1, src.Calls())
}

func TestWatchIsRestartable(t *testing.T) {
	src := &scriptedSource{results: []result{{status: workflow.StatusSucceeded}}}
	seq := monitor.Watch(context.Background(), src, ref, monitor.Options{Interval: time.Millisecond})

	first := collect(seq)
	second := collect(seq)
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, 1, second[0].Sequence)
	assert.Equal(t, 2, src.Calls())
}

func TestWait(t *testing.T) {
	src := &scriptedSource{results: []result{{status: workflow.StatusRunning}, {status: workflow.StatusSucceeded}}}
	var seen int
	last, err := monitor.Wait(context.Background(), src, ref, monitor.Options{Interval: time.Millisecond}, func(workflow.Snapshot) { seen++ })
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusSucceeded, last.Status)
	assert.Equal(t, 2, seen)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = monitor.Wait(ctx, &scriptedSource{results: []result{{status: workflow.StatusRunning}}}, ref, monitor.Options{}, nil)
	assert.True(t, errors.HasCode(err, errors.CodeCancelled))
}

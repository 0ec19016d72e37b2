package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingRunner records job ids; it blocks while gate is open.
type recordingRunner struct {
	mu        sync.Mutex
	ran       []string
	abandoned []string
	gate    chan struct{}
	running atomic.Int32
	panicOn string
}

func (r *recordingRunner) Run(ctx context.Context, job GenerationJob) error {
	r.running.Add(1)
	defer r.running.Add(-1)

	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if job.RunID == r.panicOn {
		panic("runner exploded")
	}
	r.mu.Lock()
	r.ran = append(r.ran, job.RunID)
	r.mu.Unlock()
	return nil
}

func (r *recordingRunner) Abandon(ctx context.Context, job GenerationJob, cause error) {
	r.mu.Lock()
	r.abandoned = append(r.abandoned, job.RunID)
	r.mu.Unlock()
}

func (r *recordingRunner) Abandoned() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.abandoned...)
}

func (r *recordingRunner) Ran() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ran...)
}

func TestDispatcher_RunsJobsAndDrainsOnShutdown(t *testing.T) {
	runner := &recordingRunner{}
	d := NewDispatcher(runner, DispatcherConfig{Workers: 2, QueueSize: 8})
	d.Start()

	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, d.Enqueue(GenerationJob{RunID: id}))
	}
	require.NoError(t, d.Shutdown(5*time.Second))

	assert.ElementsMatch(t, []string{"a", "b", "c", "d"}, runner.Ran())
	assert.ErrorIs(t, d.Enqueue(GenerationJob{RunID: "e"}), ErrDispatcherClosed)
	assert.NoError(t, d.Shutdown(time.Second))
}

func TestDispatcher_QueueFull(t *testing.T) {
	runner := &recordingRunner{gate: make(chan struct{})}
	d := NewDispatcher(runner, DispatcherConfig{Workers: 1, QueueSize: 1})
	d.Start()

	require.NoError(t, d.Enqueue(GenerationJob{RunID: "busy"}))
	require.Eventually(t, func() bool { return runner.running.Load() == 1 }, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, d.Enqueue(GenerationJob{RunID: "queued"}))
	assert.ErrorIs(t, d.Enqueue(GenerationJob{RunID: "overflow"}), ErrQueueFull)

	close(runner.gate)
	require.NoError(t, d.Shutdown(5*time.Second))
	assert.ElementsMatch(t, []string{"busy", "queued"}, runner.Ran())
}

func TestDispatcher_ShutdownTimeoutCancelsWorkers(t *testing.T) {
	runner := &recordingRunner{gate: make(chan struct{})}
	d := NewDispatcher(runner, DispatcherConfig{Workers: 1, QueueSize: 2})
	d.Start()

	require.NoError(t, d.Enqueue(GenerationJob{RunID: "stuck"}))
	require.Eventually(t, func() bool { return runner.running.Load() == 1 }, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, d.Enqueue(GenerationJob{RunID: "waiting-1"}))
	require.NoError(t, d.Enqueue(GenerationJob{RunID: "waiting-2"}))

	err := d.Shutdown(50 * time.Millisecond)
	assert.True(t, errors.Is(err, ErrShutdownTimeout))
	assert.Equal(t, []string{"waiting-1", "waiting-2"}, runner.Abandoned())

	require.Eventually(t, func() bool { return runner.running.Load() == 0 }, 5*time.Second, 5*time.Millisecond)
	assert.Empty(t, runner.Ran())
}

func TestDispatcher_ShutdownWithoutStartAbandonsQueuedJobs(t *testing.T) {
	runner := &recordingRunner{}
	d := NewDispatcher(runner, DispatcherConfig{Workers: 1, QueueSize: 2})
	require.NoError(t, d.Enqueue(GenerationJob{RunID: "never-started"}))

	require.NoError(t, d.Shutdown(time.Second))
	assert.Equal(t, []string{"never-started"}, runner.Abandoned())
	assert.Empty(t, runner.Ran())
}

func TestDispatcher_WorkerSurvivesPanic(t *testing.T) {
	runner := &recordingRunner{panicOn: "bad"}
	d := NewDispatcher(runner, DispatcherConfig{Workers: 1, QueueSize: 4})
	d.Start()

	require.NoError(t, d.Enqueue(GenerationJob{RunID: "bad"}))
	require.NoError(t, d.Enqueue(GenerationJob{RunID: "good"}))
	require.NoError(t, d.Shutdown(5*time.Second))

	assert.Equal(t, []string{"good"}, runner.Ran())
}

func TestDispatcher_EnqueueAfterShutdownWithoutStart(t *testing.T) {
	d := NewDispatcher(&recordingRunner{}, DispatcherConfig{})
	require.NoError(t, d.Shutdown(time.Second))
	assert.ErrorIs(t, d.Enqueue(GenerationJob{RunID: "x"}), ErrDispatcherClosed)
}

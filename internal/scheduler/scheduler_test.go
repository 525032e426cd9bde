package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerRunsEachBackendOnFirstTick(t *testing.T) {
	var syncCalls, exportCalls atomic.Int32

	cfg := Config{SyncInterval: time.Hour, ExportInterval: time.Hour, Tick: 5 * time.Millisecond}
	s := New(cfg, []string{"plex", "jellyfin"}, map[JobType]JobExecutor{
		Sync: func(ctx context.Context, backendName string) error {
			syncCalls.Add(1)
			return nil
		},
		Export: func(ctx context.Context, backendName string) error {
			exportCalls.Add(1)
			return nil
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_ = s.Run(ctx)

	assert.GreaterOrEqual(t, syncCalls.Load(), int32(2))
	assert.GreaterOrEqual(t, exportCalls.Load(), int32(2))
}

func TestSchedulerDoesNotRescheduleBeforeIntervalElapses(t *testing.T) {
	var calls atomic.Int32

	cfg := Config{SyncInterval: time.Hour, ExportInterval: time.Hour, Tick: 2 * time.Millisecond}
	s := New(cfg, []string{"plex"}, map[JobType]JobExecutor{
		Sync: func(ctx context.Context, backendName string) error {
			calls.Add(1)
			return nil
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_ = s.Run(ctx)

	// The interval never elapses (1h), so every backend runs exactly once
	// (immediately, since there's no prior lastRun entry).
	assert.Equal(t, int32(1), calls.Load())
}

func TestSchedulerCancelsRunningJobsOnShutdown(t *testing.T) {
	started := make(chan struct{})
	cancelled := make(chan struct{})

	cfg := Config{SyncInterval: time.Hour, ExportInterval: time.Hour, Tick: 2 * time.Millisecond}
	s := New(cfg, []string{"plex"}, map[JobType]JobExecutor{
		Sync: func(ctx context.Context, backendName string) error {
			close(started)
			<-ctx.Done()
			close(cancelled)
			return ctx.Err()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("job never started")
	}

	cancel()

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("job was never cancelled")
	}

	require.NoError(t, <-done)
}

func TestSchedulerSnapshotReflectsCompletedRuns(t *testing.T) {
	cfg := Config{SyncInterval: time.Hour, ExportInterval: time.Hour, Tick: 2 * time.Millisecond}
	s := New(cfg, []string{"plex"}, map[JobType]JobExecutor{
		Sync: func(ctx context.Context, backendName string) error { return nil },
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_ = s.Run(ctx)

	snap := s.Snapshot()
	_, ok := snap[runKey(Sync, "plex")]
	assert.True(t, ok, "expected a recorded last-run for sync:plex")
}

func TestSchedulerSkipsAlreadyRunningJob(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})

	cfg := Config{SyncInterval: time.Millisecond, ExportInterval: time.Hour, Tick: time.Millisecond}
	s := New(cfg, []string{"plex"}, map[JobType]JobExecutor{
		Sync: func(ctx context.Context, backendName string) error {
			calls.Add(1)
			<-release
			return nil
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_ = s.Run(ctx)
	close(release)

	// Only one dispatch should have started even though many ticks fired,
	// since the first job never finished.
	assert.Equal(t, int32(1), calls.Load())
}

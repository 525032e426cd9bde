// Package scheduler runs the periodic backend sync and export jobs
// SPEC_FULL.md §12.1 adds on top of the core Reconciliation Engine: a
// tick-driven loop that launches a sync or export job per configured
// backend once its interval has elapsed, tracking in-flight jobs so they
// can be cancelled on shutdown.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kasuboski/watchstate/internal/cache"
	"github.com/kasuboski/watchstate/internal/logger"
)

// JobType names the recurring job kinds the scheduler drives. There is no
// third "reconcile" type: sync (import) and export are the whole of the
// core's periodic work, per spec.md §1's two directions.
type JobType string

const (
	Sync   JobType = "sync"
	Export JobType = "export"
)

// JobExecutor runs one job for one backend to completion or ctx cancellation.
type JobExecutor func(ctx context.Context, backendName string) error

// Config carries the tuning knobs from internal/config.Jobs.
type Config struct {
	SyncInterval   time.Duration
	ExportInterval time.Duration
	Tick           time.Duration
}

func (c Config) intervalFor(jt JobType) time.Duration {
	if jt == Export {
		return c.ExportInterval
	}
	return c.SyncInterval
}

// Scheduler drives Sync/Export jobs for a fixed set of backends. Unlike
// the teacher's job scheduler, run history isn't a durable table — spec.md
// §6 names `state` as the core's only durable state — so last-run tracking
// lives in an in-memory cache and resets on restart (every configured
// backend runs once on the first tick after a restart).
type Scheduler struct {
	config    Config
	backends  []string
	executors map[JobType]JobExecutor

	lastRun     *cache.Cache[string, time.Time]
	runningJobs *cache.Cache[string, context.CancelFunc]
}

// New constructs a Scheduler for backends, dispatching through executors.
func New(config Config, backends []string, executors map[JobType]JobExecutor) *Scheduler {
	return &Scheduler{
		config:      config,
		backends:    backends,
		executors:   executors,
		lastRun:     cache.New[string, time.Time](),
		runningJobs: cache.New[string, context.CancelFunc](),
	}
}

// Run blocks, ticking at config.Tick until ctx is cancelled, at which
// point it waits for in-flight jobs to be cancelled before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return s.shutdownJobs(ctx)
		case <-ticker.C:
			s.checkAndScheduleAll(ctx)
		}
	}
}

func (s *Scheduler) checkAndScheduleAll(ctx context.Context) {
	for jobType, executor := range s.executors {
		for _, backendName := range s.backends {
			s.checkAndScheduleJob(ctx, jobType, backendName, executor)
		}
	}
}

func runKey(jt JobType, backendName string) string {
	return string(jt) + ":" + backendName
}

func (s *Scheduler) checkAndScheduleJob(ctx context.Context, jobType JobType, backendName string, executor JobExecutor) {
	log := logger.FromCtx(ctx, "job_type", string(jobType), "backend", backendName)

	key := runKey(jobType, backendName)
	if _, running := s.runningJobs.Get(key); running {
		log.Debugw("job already running, not scheduling")
		return
	}

	interval := s.config.intervalFor(jobType)
	if last, ok := s.lastRun.Get(key); ok {
		if elapsed := time.Since(last); elapsed < interval {
			log.Debugw("interval not elapsed yet", "elapsed", elapsed, "interval", interval)
			return
		}
	}

	jobCtx, cancel := context.WithCancel(ctx)
	s.runningJobs.Set(key, cancel)

	go func() {
		defer func() {
			cancel()
			s.runningJobs.Delete(key)
			s.lastRun.Set(key, time.Now())
		}()

		log.Infow("job starting")
		if err := executor(jobCtx, backendName); err != nil {
			log.Errorw("job failed", zap.Error(err))
			return
		}
		log.Infow("job finished")
	}()
}

// Snapshot returns a point-in-time copy of every job's last-completed
// time, keyed as "{jobType}:{backend}", for the status surface in
// internal/server. Jobs that have never run are absent, not zero-valued.
func (s *Scheduler) Snapshot() map[string]time.Time {
	out := make(map[string]time.Time)
	for _, key := range s.lastRun.Keys() {
		if t, ok := s.lastRun.Get(key); ok {
			out[key] = t
		}
	}
	return out
}

func (s *Scheduler) shutdownJobs(ctx context.Context) error {
	log := logger.FromCtx(ctx)

	keys := s.runningJobs.Keys()

	var wg sync.WaitGroup
	for _, key := range keys {
		cancel, ok := s.runningJobs.Get(key)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(key string, cancel context.CancelFunc) {
			defer wg.Done()
			cancel()
		}(key, cancel)
	}
	wg.Wait()

	log.Debugw("all jobs cancelled on shutdown", "count", len(keys))
	return nil
}

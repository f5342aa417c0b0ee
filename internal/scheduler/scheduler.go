// Package scheduler turns the cycle intervals into jobs on a queue and runs
// them on a bounded worker pool.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/nexus-trading/hivemind/internal/bus"
	"github.com/nexus-trading/hivemind/internal/observability"
)

// Runner executes cycle jobs and knows which wallets to fan out to.
type Runner interface {
	Run(ctx context.Context, job bus.CycleJob) error
	EnabledWallets(ctx context.Context) ([]string, error)
}

// Config configures the scheduler.
type Config struct {
	Intervals  map[bus.Cycle]time.Duration
	Workers    int
	JobTimeout time.Duration
}

// DefaultConfig returns the production cadence.
func DefaultConfig() Config {
	return Config{
		Intervals: map[bus.Cycle]time.Duration{
			bus.CycleQuickScan: 3 * time.Minute,
			bus.CycleDeepScan:  15 * time.Minute,
			bus.CycleMonitor:   2 * time.Minute,
			bus.CycleRebalance: 30 * time.Minute,
			bus.CycleCleanup:   time.Hour,
		},
		Workers:    4,
		JobTimeout: 10 * time.Minute,
	}
}

// Scheduler enqueues one job per enabled wallet (one job for global cycles)
// on every tick and runs queued jobs on its workers. A (cycle, wallet) pair
// never runs twice concurrently; an overlapping job is skipped.
type Scheduler struct {
	config Config
	runner Runner
	queue  bus.JobQueue
	cron   *cron.Cron
	now    func() time.Time

	mu      sync.Mutex
	running map[string]struct{}

	ctx      context.Context
	wg       sync.WaitGroup
	started  atomic.Bool
	stopping atomic.Bool

	enqueued  atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
	panics    atomic.Int64
}

// New creates a scheduler. Zero intervals fall back to the defaults; a
// negative interval disables the cycle.
func New(config Config, runner Runner, queue bus.JobQueue) *Scheduler {
	def := DefaultConfig()
	intervals := make(map[bus.Cycle]time.Duration, len(def.Intervals))
	for c, d := range def.Intervals {
		intervals[c] = d
	}
	for c, d := range config.Intervals {
		if d != 0 {
			intervals[c] = d
		}
	}
	config.Intervals = intervals
	if config.Workers <= 0 {
		config.Workers = def.Workers
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = def.JobTimeout
	}
	return &Scheduler{
		config:  config,
		runner:  runner,
		queue:   queue,
		cron:    cron.New(),
		now:     time.Now,
		running: make(map[string]struct{}),
		ctx:     context.Background(),
	}
}

// Start registers the cycle ticks and launches the workers. Jobs already in
// flight when ctx is cancelled run to completion.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("scheduler: already started")
	}
	s.ctx = ctx

	for _, cycle := range bus.Cycles {
		interval := s.config.Intervals[cycle]
		if interval < 0 {
			log.Info().Str("cycle", string(cycle)).Msg("scheduler: cycle disabled")
			continue
		}
		spec := fmt.Sprintf("@every %s", interval)
		if _, err := s.cron.AddFunc(spec, func() { s.Tick(s.ctx, cycle) }); err != nil {
			return fmt.Errorf("schedule %s: %w", cycle, err)
		}
		log.Info().Str("cycle", string(cycle)).Dur("interval", interval).Msg("scheduler: cycle registered")
	}

	jobCtx := context.WithoutCancel(ctx)
	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		go s.worker(jobCtx, i)
	}
	s.cron.Start()

	log.Info().Int("workers", s.config.Workers).Msg("scheduler: started")
	return nil
}

// Stop prevents future ticks, drops queued jobs that have not started and
// waits for in-flight jobs to finish.
func (s *Scheduler) Stop() {
	if !s.stopping.CompareAndSwap(false, true) {
		return
	}
	<-s.cron.Stop().Done()
	s.queue.Close()
	s.wg.Wait()
	log.Info().
		Int64("completed", s.completed.Load()).
		Int64("failed", s.failed.Load()).
		Int64("skipped", s.skipped.Load()).
		Msg("scheduler: stopped")
}

// Tick enqueues the jobs of one cycle and returns how many were enqueued.
func (s *Scheduler) Tick(ctx context.Context, cycle bus.Cycle) int {
	if s.stopping.Load() {
		return 0
	}

	wallets := []string{""}
	if !cycle.Global() {
		var err error
		wallets, err = s.runner.EnabledWallets(ctx)
		if err != nil {
			log.Error().Err(err).Str("cycle", string(cycle)).Msg("scheduler: wallet list unavailable, tick dropped")
			return 0
		}
	}

	n := 0
	for _, w := range wallets {
		job := bus.NewCycleJob(cycle, w, s.now())
		if err := s.queue.Enqueue(ctx, job); err != nil {
			s.skipped.Add(1)
			observability.RecordCycleSkipped(string(cycle))
			log.Warn().Err(err).Str("cycle", string(cycle)).Str("wallet", w).Msg("scheduler: enqueue failed")
			continue
		}
		n++
	}
	s.enqueued.Add(int64(n))
	observability.SetQueueDepth(s.queue.Depth())
	return n
}

// Trigger enqueues one out-of-band job, e.g. a monitor run after on-chain
// activity on a wallet.
func (s *Scheduler) Trigger(ctx context.Context, cycle bus.Cycle, wallet string) error {
	if s.stopping.Load() {
		return bus.ErrQueueClosed
	}
	if err := s.queue.Enqueue(ctx, bus.NewCycleJob(cycle, wallet, s.now())); err != nil {
		s.skipped.Add(1)
		observability.RecordCycleSkipped(string(cycle))
		return fmt.Errorf("trigger %s/%s: %w", cycle, wallet, err)
	}
	s.enqueued.Add(1)
	observability.SetQueueDepth(s.queue.Depth())
	return nil
}

func (s *Scheduler) worker(ctx context.Context, id int) {
	defer s.wg.Done()
	for job := range s.queue.Jobs() {
		observability.SetQueueDepth(s.queue.Depth())
		if s.stopping.Load() {
			continue
		}
		s.execute(ctx, job)
	}
	log.Debug().Int("worker", id).Msg("scheduler: worker exited")
}

// execute runs one job unless the same (cycle, wallet) is already running.
// Panics are contained to the job.
func (s *Scheduler) execute(ctx context.Context, job bus.CycleJob) {
	key := job.Key()
	if !s.acquire(key) {
		s.skipped.Add(1)
		observability.RecordCycleSkipped(string(job.Cycle))
		log.Info().Str("cycle", string(job.Cycle)).Str("wallet", job.Wallet).Msg("scheduler: previous run still in progress, skipping")
		return
	}
	defer s.release(key)

	start := s.now()
	status := "ok"
	defer func() {
		if r := recover(); r != nil {
			status = "panic"
			s.panics.Add(1)
			s.failed.Add(1)
			log.Error().
				Str("cycle", string(job.Cycle)).
				Str("wallet", job.Wallet).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("scheduler: job panicked")
		}
		observability.RecordCycle(string(job.Cycle), status, s.now().Sub(start).Seconds())
	}()

	jctx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	defer cancel()

	if err := s.runner.Run(jctx, job); err != nil {
		status = "error"
		s.failed.Add(1)
		log.Warn().Err(err).Str("cycle", string(job.Cycle)).Str("wallet", job.Wallet).Msg("scheduler: job failed")
		return
	}
	s.completed.Add(1)
}

func (s *Scheduler) acquire(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.running[key]; busy {
		return false
	}
	s.running[key] = struct{}{}
	return true
}

func (s *Scheduler) release(key string) {
	s.mu.Lock()
	delete(s.running, key)
	s.mu.Unlock()
}

// Stats is a snapshot of the scheduler counters.
type Stats struct {
	Enqueued  int64 `json:"enqueued"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Skipped   int64 `json:"skipped"`
	Panics    int64 `json:"panics"`
	Running   int   `json:"running"`
	Queued    int   `json:"queued"`
}

// Stats returns the scheduler counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	running := len(s.running)
	s.mu.Unlock()
	return Stats{
		Enqueued:  s.enqueued.Load(),
		Completed: s.completed.Load(),
		Failed:    s.failed.Load(),
		Skipped:   s.skipped.Load(),
		Panics:    s.panics.Load(),
		Running:   running,
		Queued:    s.queue.Depth(),
	}
}

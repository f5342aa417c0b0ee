package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-trading/hivemind/internal/bus"
)

type fakeRunner struct {
	mu      sync.Mutex
	wallets []string
	ran     []bus.CycleJob
	block   chan struct{} // when set, monitor jobs wait on it
	started chan bus.CycleJob
	fail    bool
	panicOn bus.Cycle
}

func (r *fakeRunner) EnabledWallets(context.Context) ([]string, error) {
	return r.wallets, nil
}

func (r *fakeRunner) Run(ctx context.Context, job bus.CycleJob) error {
	if r.started != nil {
		r.started <- job
	}
	if job.Cycle == r.panicOn {
		panic("boom")
	}
	if r.block != nil && job.Cycle == bus.CycleMonitor {
		select {
		case <-r.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	r.ran = append(r.ran, job)
	r.mu.Unlock()
	if r.fail {
		return errors.New("cycle failed")
	}
	return nil
}

func (r *fakeRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ran)
}

// manual disables every cron tick so tests drive Tick themselves.
func manual(workers int) Config {
	cfg := Config{Intervals: map[bus.Cycle]time.Duration{}, Workers: workers}
	for _, c := range bus.Cycles {
		cfg.Intervals[c] = -1
	}
	return cfg
}

func TestTick_FansOutPerWallet(t *testing.T) {
	r := &fakeRunner{wallets: []string{"w1", "w2", "w3"}}
	q := bus.NewLocalQueue(16)
	s := New(manual(1), r, q)

	assert.Equal(t, 3, s.Tick(context.Background(), bus.CycleQuickScan))
	assert.Equal(t, 1, s.Tick(context.Background(), bus.CycleRebalance), "global cycle")
	assert.Equal(t, 4, q.Depth())

	job := <-q.Jobs()
	assert.Equal(t, bus.CycleQuickScan, job.Cycle)
	assert.Equal(t, "w1", job.Wallet)
	assert.NotEmpty(t, job.ID)
}

func TestTick_FullQueueSkips(t *testing.T) {
	r := &fakeRunner{wallets: []string{"w1", "w2", "w3"}}
	s := New(manual(1), r, bus.NewLocalQueue(2))

	assert.Equal(t, 2, s.Tick(context.Background(), bus.CycleMonitor))
	assert.Equal(t, int64(1), s.Stats().Skipped)
}

func TestWorkers_RunJobsAndIsolatePanics(t *testing.T) {
	r := &fakeRunner{wallets: []string{"w1", "w2"}, panicOn: bus.CycleDeepScan}
	s := New(manual(2), r, bus.NewLocalQueue(16))
	require.NoError(t, s.Start(context.Background()))

	s.Tick(context.Background(), bus.CycleDeepScan)
	s.Tick(context.Background(), bus.CycleQuickScan)
	s.Tick(context.Background(), bus.CycleCleanup)

	require.Eventually(t, func() bool { return r.count() == 3 }, time.Second, 5*time.Millisecond)
	s.Stop()

	st := s.Stats()
	assert.Equal(t, int64(2), st.Panics)
	assert.Equal(t, int64(3), st.Completed)
	assert.Equal(t, int64(2), st.Failed)
}

func TestWorkers_SkipOverlappingRun(t *testing.T) {
	r := &fakeRunner{
		wallets: []string{"w1"},
		block:   make(chan struct{}),
		started: make(chan bus.CycleJob, 4),
	}
	s := New(manual(2), r, bus.NewLocalQueue(16))
	require.NoError(t, s.Start(context.Background()))

	s.Tick(context.Background(), bus.CycleMonitor)
	<-r.started // first run is now blocked inside Run

	s.Tick(context.Background(), bus.CycleMonitor)
	require.Eventually(t, func() bool { return s.Stats().Skipped == 1 }, time.Second, 5*time.Millisecond)

	// A different cycle for the same wallet is not blocked.
	s.Tick(context.Background(), bus.CycleQuickScan)
	require.Eventually(t, func() bool { return r.count() == 1 }, time.Second, 5*time.Millisecond)

	close(r.block)
	s.Stop()
	assert.Equal(t, 2, r.count())
}

func TestStop_WaitsForInFlightAndStopsTicks(t *testing.T) {
	r := &fakeRunner{
		wallets: []string{"w1"},
		block:   make(chan struct{}),
		started: make(chan bus.CycleJob, 1),
	}
	s := New(manual(1), r, bus.NewLocalQueue(16))
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))

	s.Tick(ctx, bus.CycleMonitor)
	<-r.started
	cancel()

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a job was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(r.block)
	<-stopped
	assert.Equal(t, 1, r.count(), "in-flight job finished despite cancelled context")
	assert.Zero(t, s.Tick(context.Background(), bus.CycleMonitor))
}

func TestRun_ErrorsAreCounted(t *testing.T) {
	r := &fakeRunner{wallets: []string{"w1"}, fail: true}
	s := New(manual(1), r, bus.NewLocalQueue(4))
	require.NoError(t, s.Start(context.Background()))

	s.Tick(context.Background(), bus.CycleMonitor)
	require.Eventually(t, func() bool { return s.Stats().Failed == 1 }, time.Second, 5*time.Millisecond)
	s.Stop()
	assert.Zero(t, s.Stats().Completed)
}

func TestStart_Twice(t *testing.T) {
	s := New(manual(1), &fakeRunner{}, bus.NewLocalQueue(1))
	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))
	s.Stop()
}

func TestNew_DefaultIntervals(t *testing.T) {
	s := New(Config{Intervals: map[bus.Cycle]time.Duration{bus.CycleMonitor: time.Minute}}, &fakeRunner{}, bus.NewLocalQueue(1))
	assert.Equal(t, time.Minute, s.config.Intervals[bus.CycleMonitor])
	assert.Equal(t, 3*time.Minute, s.config.Intervals[bus.CycleQuickScan])
	assert.Equal(t, 4, s.config.Workers)
}

func TestTrigger_EnqueuesSingleJob(t *testing.T) {
	r := &fakeRunner{wallets: []string{"w1", "w2"}}
	q := bus.NewLocalQueue(1)
	s := New(manual(1), r, q)

	require.NoError(t, s.Trigger(context.Background(), bus.CycleMonitor, "w2"))
	job := <-q.Jobs()
	assert.Equal(t, bus.CycleMonitor, job.Cycle)
	assert.Equal(t, "w2", job.Wallet)

	require.NoError(t, s.Trigger(context.Background(), bus.CycleMonitor, "w1"))
	err := s.Trigger(context.Background(), bus.CycleMonitor, "w1")
	assert.ErrorIs(t, err, bus.ErrQueueFull)
	assert.Equal(t, int64(1), s.Stats().Skipped)
}

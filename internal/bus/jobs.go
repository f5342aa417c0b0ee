package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Cycle names a recurring job.
type Cycle string

const (
	CycleQuickScan Cycle = "quick_scan"
	CycleDeepScan  Cycle = "deep_scan"
	CycleMonitor   Cycle = "monitor"
	CycleRebalance Cycle = "rebalance"
	CycleCleanup   Cycle = "cleanup"
)

// Cycles lists every cycle in scheduling order.
var Cycles = []Cycle{CycleQuickScan, CycleDeepScan, CycleMonitor, CycleRebalance, CycleCleanup}

// Global reports whether the cycle runs once for all wallets.
func (c Cycle) Global() bool {
	return c == CycleRebalance || c == CycleCleanup
}

// CycleJob asks a worker to run one cycle. Wallet is empty for global cycles.
type CycleJob struct {
	ID         string    `json:"id"`
	Cycle      Cycle     `json:"cycle"`
	Wallet     string    `json:"wallet,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewCycleJob creates a job with a fresh ID.
func NewCycleJob(cycle Cycle, wallet string, now time.Time) CycleJob {
	return CycleJob{ID: uuid.NewString(), Cycle: cycle, Wallet: wallet, EnqueuedAt: now}
}

// Key identifies the (cycle, wallet) pair; at most one such job runs at once.
func (j CycleJob) Key() string {
	return string(j.Cycle) + "/" + j.Wallet
}

var (
	// ErrQueueFull is returned when a local queue cannot accept more jobs.
	ErrQueueFull = errors.New("bus: job queue full")
	// ErrQueueClosed is returned after Close.
	ErrQueueClosed = errors.New("bus: job queue closed")
)

// JobQueue carries cycle jobs from the scheduler to workers.
type JobQueue interface {
	Enqueue(ctx context.Context, job CycleJob) error
	// Jobs is closed when the queue is closed.
	Jobs() <-chan CycleJob
	Depth() int
	Close()
}

// LocalQueue is an in-process buffered queue.
type LocalQueue struct {
	mu     sync.RWMutex
	ch     chan CycleJob
	closed bool
}

// NewLocalQueue creates a queue holding up to size jobs.
func NewLocalQueue(size int) *LocalQueue {
	if size <= 0 {
		size = 256
	}
	return &LocalQueue{ch: make(chan CycleJob, size)}
}

// Enqueue adds a job without blocking.
func (q *LocalQueue) Enqueue(_ context.Context, job CycleJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- job:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrQueueFull, job.Key())
	}
}

func (q *LocalQueue) Jobs() <-chan CycleJob { return q.ch }

func (q *LocalQueue) Depth() int { return len(q.ch) }

func (q *LocalQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

// KafkaQueue publishes jobs to a topic and feeds jobs consumed by this
// process's group member into a local channel, so cycles can be spread over
// several worker processes. Jobs are keyed by wallet, so one wallet's jobs
// land on one partition.
type KafkaQueue struct {
	producer Producer
	consumer Consumer
	topic    string
	local    *LocalQueue
}

// NewKafkaQueue creates a Kafka-backed queue. Call Start before reading Jobs.
func NewKafkaQueue(producer Producer, consumer Consumer, topic string, buffer int) *KafkaQueue {
	return &KafkaQueue{
		producer: producer,
		consumer: consumer,
		topic:    topic,
		local:    NewLocalQueue(buffer),
	}
}

// Start consumes the jobs topic until ctx is cancelled, then closes Jobs.
func (q *KafkaQueue) Start(ctx context.Context) {
	go func() {
		defer q.local.Close()
		err := q.consumer.Consume(ctx, func(ctx context.Context, msg Message) error {
			var job CycleJob
			if err := json.Unmarshal(msg.Value, &job); err != nil {
				return fmt.Errorf("decode job: %w", err)
			}
			// Block rather than drop: the consumer only commits what it has
			// handed to a worker.
			for {
				err := q.local.Enqueue(ctx, job)
				if !errors.Is(err, ErrQueueFull) {
					return err
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(50 * time.Millisecond):
				}
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Str("topic", q.topic).Msg("bus: job consumer stopped")
		}
	}()
}

// Enqueue publishes the job.
func (q *KafkaQueue) Enqueue(ctx context.Context, job CycleJob) error {
	return q.producer.PublishJSON(ctx, q.topic, job.Wallet, job)
}

func (q *KafkaQueue) Jobs() <-chan CycleJob { return q.local.Jobs() }

func (q *KafkaQueue) Depth() int { return q.local.Depth() }

// Close stops consumption. The Jobs channel closes once the consume loop
// returns.
func (q *KafkaQueue) Close() {
	q.consumer.Close()
}

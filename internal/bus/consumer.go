package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"
)

// MessageHandler processes a consumed message.
// Return error to indicate processing failure (the message will still be committed).
type MessageHandler func(ctx context.Context, msg Message) error

// Consumer reads messages from Kafka/RedPanda topics.
type Consumer interface {
	// Consume starts the poll loop. Blocks until ctx is cancelled.
	Consume(ctx context.Context, handler MessageHandler) error
	// Close shuts down the consumer and commits final offsets.
	Close()
}

// KafkaConsumer is a real Kafka consumer backed by franz-go with consumer group support.
type KafkaConsumer struct {
	client  *kgo.Client
	groupID string
	topics  []string
	mu      sync.Mutex
	closed  bool
}

// NewConsumer creates a new Kafka consumer with consumer group support.
// Consumers sharing groupID split the partitions of the topics between them.
func NewConsumer(brokers []string, groupID string, topics []string) (*KafkaConsumer, error) {
	if len(topics) == 0 {
		return nil, fmt.Errorf("at least one topic is required")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(groupID),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topics...),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}

	log.Info().
		Strs("brokers", brokers).
		Str("group_id", groupID).
		Strs("topics", topics).
		Msg("bus: kafka consumer created")

	return &KafkaConsumer{client: client, groupID: groupID, topics: topics}, nil
}

// Consume starts the consumer poll loop. Blocks until ctx is cancelled.
// Handler errors are logged but do not stop consumption.
func (c *KafkaConsumer) Consume(ctx context.Context, handler MessageHandler) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("consumer is closed")
	}
	c.mu.Unlock()

	log.Info().
		Strs("topics", c.topics).
		Str("group", c.groupID).
		Msg("bus: starting consumer loop")

	for {
		fetches := c.client.PollFetches(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if fetches.IsClientClosed() {
			return nil
		}

		for _, fe := range fetches.Errors() {
			log.Error().
				Err(fe.Err).
				Str("topic", fe.Topic).
				Int32("partition", fe.Partition).
				Msg("bus: fetch error")
		}

		fetches.EachRecord(func(record *kgo.Record) {
			if err := handler(ctx, recordToMessage(record)); err != nil {
				log.Error().Err(err).
					Str("topic", record.Topic).
					Int32("partition", record.Partition).
					Int64("offset", record.Offset).
					Msg("bus: message handler error")
			}
		})

		c.client.AllowRebalance()
	}
}

// Close shuts down the consumer, committing final offsets.
func (c *KafkaConsumer) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.client.Close()
	log.Info().Str("group", c.groupID).Msg("bus: kafka consumer closed")
}

// recordToMessage converts a franz-go Record to a bus.Message.
func recordToMessage(r *kgo.Record) Message {
	headers := make(map[string]string, len(r.Headers))
	for _, h := range r.Headers {
		headers[h.Key] = string(h.Value)
	}
	return Message{
		Topic:     r.Topic,
		Key:       string(r.Key),
		Value:     r.Value,
		Headers:   headers,
		Timestamp: r.Timestamp,
	}
}

// --- Stub consumer for tests ---

// StubConsumer delivers messages pushed into it.
type StubConsumer struct {
	msgs chan Message
	once sync.Once
}

// NewStubConsumer creates a stub consumer with a buffered inbox.
func NewStubConsumer() *StubConsumer {
	return &StubConsumer{msgs: make(chan Message, 64)}
}

// Push queues a message for delivery.
func (s *StubConsumer) Push(msg Message) {
	s.msgs <- msg
}

func (s *StubConsumer) Consume(ctx context.Context, handler MessageHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-s.msgs:
			if !ok {
				return nil
			}
			if err := handler(ctx, msg); err != nil {
				log.Error().Err(err).Str("topic", msg.Topic).Msg("bus: message handler error")
			}
		}
	}
}

func (s *StubConsumer) Close() {
	s.once.Do(func() { close(s.msgs) })
}

// TopicNaming provides canonical topic names.
// Pattern: <prefix>.<domain>.<entity>
type TopicNaming struct {
	Prefix string
}

func (t TopicNaming) name(s string) string {
	if t.Prefix == "" {
		return "hivemind." + s
	}
	return t.Prefix + "." + s
}

func (t TopicNaming) Jobs() string      { return t.name("sched.jobs") }
func (t TopicNaming) Trades() string    { return t.name("exec.trades") }
func (t TopicNaming) Risk() string      { return t.name("risk.decisions") }
func (t TopicNaming) Drawdown() string  { return t.name("risk.drawdown") }
func (t TopicNaming) Strategy() string  { return t.name("signals.strategy") }
func (t TopicNaming) Heartbeat() string { return t.name("ops.heartbeat") }
func (t TopicNaming) Audit() string     { return t.name("audit.event_store") }

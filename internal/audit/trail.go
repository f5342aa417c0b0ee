// Package audit records every trade and trading decision. Trades go to the
// persistent trade log; every entry is also published to the bus and,
// when configured, mirrored to the analytics journal.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/nexus-trading/hivemind/internal/bus"
	"github.com/nexus-trading/hivemind/internal/clickhouse"
	"github.com/nexus-trading/hivemind/internal/risk"
	"github.com/nexus-trading/hivemind/internal/storage"
	"github.com/nexus-trading/hivemind/internal/strategy"
)

// Entry event types.
const (
	EventTrade      = "trade"
	EventRiskCheck  = "risk_check"
	EventAIDecision = "ai_decision"
	EventDrawdown   = "drawdown"
	EventStrategy   = "strategy"
)

// Entry represents a single audit trail entry.
type Entry struct {
	TraceID   string    `json:"trace_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"ts"`
	Wallet    string    `json:"wallet,omitempty"`
	Mint      string    `json:"mint,omitempty"`
	Decision  string    `json:"decision,omitempty"`
	Payload   string    `json:"payload"` // JSON of the full event
}

// Journal is the analytics mirror. clickhouse.Journal satisfies it.
type Journal interface {
	Record(ctx context.Context, entry storage.TradeLogEntry) error
	RecordDecision(ctx context.Context, row clickhouse.DecisionRow) error
}

// Trail records the decision chain of every wallet. It keeps a capped
// in-memory buffer for the control endpoint.
type Trail struct {
	log      storage.TradeLog
	producer bus.Producer
	topics   bus.TopicNaming
	journal  Journal
	source   string

	mu      sync.Mutex
	entries []Entry
	maxBuf  int

	now func() time.Time
}

// Option configures a Trail.
type Option func(*Trail)

// WithProducer publishes entries to the bus.
func WithProducer(p bus.Producer, topics bus.TopicNaming) Option {
	return func(t *Trail) {
		t.producer = p
		t.topics = topics
	}
}

// WithJournal mirrors trades and decisions to an analytics journal.
func WithJournal(j Journal) Option {
	return func(t *Trail) { t.journal = j }
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(t *Trail) { t.now = now }
}

// NewTrail creates an audit trail over the persistent trade log.
// maxBuf caps the in-memory buffer; the oldest entries are discarded first.
func NewTrail(tradeLog storage.TradeLog, maxBuf int, opts ...Option) *Trail {
	if maxBuf < 0 {
		maxBuf = 0
	}
	t := &Trail{
		log:     tradeLog,
		source:  "hivemind",
		entries: make([]Entry, 0, maxBuf),
		maxBuf:  maxBuf,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RecordTrade appends the entry to the trade log. The trade log write is the
// only step whose failure is returned; publishing and journaling failures are
// logged.
func (t *Trail) RecordTrade(ctx context.Context, e *storage.TradeLogEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = t.now().UTC()
	}
	if err := t.log.Append(ctx, e); err != nil {
		return fmt.Errorf("audit: append trade log: %w", err)
	}

	log.Info().
		Str("wallet", e.Wallet).
		Str("mint", e.Mint).
		Str("symbol", e.Symbol).
		Str("action", string(e.Action)).
		Str("reason", e.Reason).
		Str("amount_sol", e.AmountSOL.StringFixed(4)).
		Float64("profit_pct", e.ProfitPercent).
		Str("sig", e.Signature).
		Msg("audit: trade recorded")

	ev := bus.TradeEvent{
		BaseEvent:      t.baseEvent(),
		Wallet:         e.Wallet,
		Mint:           e.Mint,
		Symbol:         e.Symbol,
		Action:         string(e.Action),
		Reason:         e.Reason,
		AmountSOL:      e.AmountSOL,
		TokenAmountRaw: e.TokenAmountRaw,
		PriceSOL:       e.PriceSOL,
		ProfitPercent:  e.ProfitPercent,
		RealizedPnLSOL: e.RealizedPnLSOL,
		Confidence:     e.Confidence,
		Mode:           e.Mode,
		Signature:      e.Signature,
		Route:          e.Route,
	}
	t.record(ctx, Entry{
		TraceID:   ev.TraceID,
		EventType: EventTrade,
		Timestamp: e.CreatedAt,
		Wallet:    e.Wallet,
		Mint:      e.Mint,
		Decision:  string(e.Action),
	}, t.topics.Trades(), ev)

	if t.journal != nil {
		if err := t.journal.Record(ctx, *e); err != nil {
			log.Warn().Err(err).Str("wallet", e.Wallet).Msg("audit: journal trade failed")
		}
	}
	return nil
}

// RecordRiskCheck logs a risk decision.
func (t *Trail) RecordRiskCheck(ctx context.Context, wallet, mint string, d risk.Decision) {
	decision := "deny"
	if d.Allowed {
		decision = "allow"
	}
	ev := bus.RiskDecision{
		BaseEvent:   t.baseEvent(),
		Wallet:      wallet,
		Mint:        mint,
		Decision:    decision,
		SizeSOL:     d.SizeSOL,
		ReasonCodes: d.ReasonCodes,
	}
	t.record(ctx, Entry{
		TraceID:   ev.TraceID,
		EventType: EventRiskCheck,
		Timestamp: ev.Timestamp,
		Wallet:    wallet,
		Mint:      mint,
		Decision:  decision,
	}, t.topics.Risk(), ev)
}

// RecordAIDecision journals an AI verdict together with the engine's action.
func (t *Trail) RecordAIDecision(ctx context.Context, row clickhouse.DecisionRow) {
	if row.Timestamp.IsZero() {
		row.Timestamp = t.now().UTC()
	}
	t.buffer(Entry{
		EventType: EventAIDecision,
		Timestamp: row.Timestamp,
		Wallet:    row.Wallet,
		Mint:      row.Mint,
		Decision:  row.Action,
		Payload:   mustMarshal(row),
	})
	if t.journal != nil {
		if err := t.journal.RecordDecision(ctx, row); err != nil {
			log.Warn().Err(err).Str("wallet", row.Wallet).Msg("audit: journal decision failed")
		}
	}
}

// RecordDrawdown logs a breaker state change.
func (t *Trail) RecordDrawdown(ctx context.Context, wallet string, paused bool, value, peak decimal.Decimal) {
	decision := "resumed"
	if paused {
		decision = "paused"
	}
	ev := bus.DrawdownChange{
		BaseEvent:    t.baseEvent(),
		Wallet:       wallet,
		Paused:       paused,
		PortfolioSOL: value,
		PeakSOL:      peak,
	}
	t.record(ctx, Entry{
		TraceID:   ev.TraceID,
		EventType: EventDrawdown,
		Timestamp: ev.Timestamp,
		Wallet:    wallet,
		Decision:  decision,
	}, t.topics.Drawdown(), ev)
}

// RecordStrategy logs a newly generated strategy.
func (t *Trail) RecordStrategy(ctx context.Context, s *strategy.Strategy) {
	ev := bus.StrategyUpdate{
		BaseEvent:     t.baseEvent(),
		Wallet:        s.Wallet,
		Version:       s.Version,
		Source:        string(s.Source),
		Sentiment:     string(s.Sentiment),
		MinConfidence: s.MinConfidence,
		Reasoning:     s.Reasoning,
	}
	t.record(ctx, Entry{
		TraceID:   ev.TraceID,
		EventType: EventStrategy,
		Timestamp: ev.Timestamp,
		Wallet:    s.Wallet,
		Decision:  string(s.Sentiment),
	}, t.topics.Strategy(), ev)
}

// Query returns buffered entries of one wallet, oldest first.
func (t *Trail) Query(wallet string) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var result []Entry
	for _, e := range t.entries {
		if e.Wallet == wallet {
			result = append(result, e)
		}
	}
	return result
}

// Entries returns a copy of all entries in the in-memory buffer.
func (t *Trail) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	result := make([]Entry, len(t.entries))
	copy(result, t.entries)
	return result
}

// Len returns the number of entries in the in-memory buffer.
func (t *Trail) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *Trail) baseEvent() bus.BaseEvent {
	ev := bus.NewBaseEvent(t.source, "1.0.0")
	ev.Timestamp = t.now().UTC()
	return ev
}

// record buffers the entry with the event as payload and publishes the event.
func (t *Trail) record(ctx context.Context, entry Entry, topic string, event any) {
	entry.Payload = mustMarshal(event)
	t.buffer(entry)

	if t.producer == nil {
		return
	}
	key := entry.Wallet
	if key == "" {
		key = entry.EventType
	}
	if err := t.producer.PublishJSON(ctx, topic, key, event); err != nil {
		log.Error().Err(err).
			Str("event_type", entry.EventType).
			Str("wallet", entry.Wallet).
			Msg("audit: failed to publish entry")
	}
}

func (t *Trail) buffer(entry Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.maxBuf == 0 {
		return
	}
	if len(t.entries) >= t.maxBuf {
		copy(t.entries, t.entries[1:])
		t.entries[len(t.entries)-1] = entry
		return
	}
	t.entries = append(t.entries, entry)
}

// mustMarshal marshals v to JSON, returning "{}" on error.
func mustMarshal(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("audit: failed to marshal payload")
		return "{}"
	}
	return string(data)
}

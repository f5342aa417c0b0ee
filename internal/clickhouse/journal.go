package clickhouse

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nexus-trading/hivemind/internal/storage"
)

// DecisionRow records one AI verdict and what the engine did with it.
type DecisionRow struct {
	Timestamp     time.Time
	Wallet        string
	Mint          string
	Cycle         string
	Action        string
	Confidence    float64
	UpsidePercent float64
	Provider      string
	Cached        bool
	Fallback      bool
	Allowed       bool
	Reasons       []string
}

// Journal batches trade log entries and AI decisions and flushes them to
// ClickHouse periodically or when the batch is full.
type Journal struct {
	client        *Client
	database      string
	batchSize     int
	flushInterval time.Duration

	mu          sync.Mutex
	tradeBuf    []storage.TradeLogEntry
	decisionBuf []DecisionRow
	closed      bool

	flushCount atomic.Int64
	errorCount atomic.Int64

	cancel context.CancelFunc
	done   chan struct{}

	// flushHook replaces real writes during testing.
	flushHook func(ctx context.Context, table string, rows [][]any) error
}

// NewJournal creates a batch journal that flushes on size or interval.
func NewJournal(client *Client, database string, batchSize int, flushInterval time.Duration) *Journal {
	if batchSize <= 0 {
		batchSize = 500
	}
	if flushInterval <= 0 {
		flushInterval = 10 * time.Second
	}
	return &Journal{
		client:        client,
		database:      database,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		tradeBuf:      make([]storage.TradeLogEntry, 0, batchSize),
		decisionBuf:   make([]DecisionRow, 0, batchSize),
	}
}

func (j *Journal) tableName(name string) string {
	if j.database == "" {
		return name
	}
	return j.database + "." + name
}

// Record adds a trade log entry to the buffer.
func (j *Journal) Record(ctx context.Context, entry storage.TradeLogEntry) error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return fmt.Errorf("journal is closed")
	}
	j.tradeBuf = append(j.tradeBuf, entry)
	needsFlush := len(j.tradeBuf)+len(j.decisionBuf) >= j.batchSize
	j.mu.Unlock()

	if needsFlush {
		return j.Flush(ctx)
	}
	return nil
}

// RecordDecision adds an AI decision row to the buffer.
func (j *Journal) RecordDecision(ctx context.Context, row DecisionRow) error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return fmt.Errorf("journal is closed")
	}
	j.decisionBuf = append(j.decisionBuf, row)
	needsFlush := len(j.tradeBuf)+len(j.decisionBuf) >= j.batchSize
	j.mu.Unlock()

	if needsFlush {
		return j.Flush(ctx)
	}
	return nil
}

// Start begins the background flush loop.
func (j *Journal) Start(ctx context.Context) {
	bgCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.done = make(chan struct{})

	go func() {
		defer close(j.done)
		ticker := time.NewTicker(j.flushInterval)
		defer ticker.Stop()

		log.Info().
			Str("database", j.database).
			Int("batch_size", j.batchSize).
			Dur("flush_interval", j.flushInterval).
			Msg("clickhouse: journal started")

		for {
			select {
			case <-bgCtx.Done():
				return
			case <-ticker.C:
				if err := j.Flush(bgCtx); err != nil {
					log.Error().Err(err).Msg("clickhouse: periodic flush error")
				}
			}
		}
	}()
}

// Flush writes all buffered rows to ClickHouse.
func (j *Journal) Flush(ctx context.Context) error {
	j.mu.Lock()
	trades := j.tradeBuf
	decisions := j.decisionBuf
	j.tradeBuf = make([]storage.TradeLogEntry, 0, j.batchSize)
	j.decisionBuf = make([]DecisionRow, 0, j.batchSize)
	j.mu.Unlock()

	if len(trades) == 0 && len(decisions) == 0 {
		return nil
	}

	var firstErr error
	if len(trades) > 0 {
		rows := make([][]any, len(trades))
		for i, e := range trades {
			rows[i] = tradeRow(e)
		}
		if err := j.write(ctx, "trade_log", tradeColumns, rows); err != nil {
			log.Error().Err(err).Int("count", len(trades)).Msg("clickhouse: flush trades failed")
			j.errorCount.Add(1)
			firstErr = err
		}
	}
	if len(decisions) > 0 {
		rows := make([][]any, len(decisions))
		for i, d := range decisions {
			rows[i] = decisionRow(d)
		}
		if err := j.write(ctx, "ai_decisions", decisionColumns, rows); err != nil {
			log.Error().Err(err).Int("count", len(decisions)).Msg("clickhouse: flush decisions failed")
			j.errorCount.Add(1)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	j.flushCount.Add(1)
	log.Debug().
		Int("trades", len(trades)).
		Int("decisions", len(decisions)).
		Msg("clickhouse: journal flushed")
	return firstErr
}

const (
	tradeColumns = "id, ts, wallet, mint, symbol, action, reason, amount_sol, token_amount_raw, " +
		"price_sol, profit_percent, realized_pnl_sol, confidence, mode, signature, route"
	decisionColumns = "ts, wallet, mint, cycle, action, confidence, upside_percent, provider, " +
		"cached, fallback, allowed, reasons"
)

func tradeRow(e storage.TradeLogEntry) []any {
	return []any{
		e.ID, e.CreatedAt, e.Wallet, e.Mint, e.Symbol, string(e.Action), e.Reason,
		e.AmountSOL.InexactFloat64(), e.TokenAmountRaw, e.PriceSOL.InexactFloat64(),
		e.ProfitPercent, e.RealizedPnLSOL.InexactFloat64(), e.Confidence,
		e.Mode, e.Signature, e.Route,
	}
}

func decisionRow(d DecisionRow) []any {
	reasons := d.Reasons
	if reasons == nil {
		reasons = []string{}
	}
	return []any{
		d.Timestamp, d.Wallet, d.Mint, d.Cycle, d.Action, d.Confidence, d.UpsidePercent,
		d.Provider, boolToUInt8(d.Cached), boolToUInt8(d.Fallback), boolToUInt8(d.Allowed), reasons,
	}
}

func (j *Journal) write(ctx context.Context, table, columns string, rows [][]any) error {
	if j.flushHook != nil {
		return j.flushHook(ctx, j.tableName(table), rows)
	}

	batch, err := j.client.Conn().PrepareBatch(ctx,
		fmt.Sprintf("INSERT INTO %s (%s)", j.tableName(table), columns))
	if err != nil {
		return fmt.Errorf("prepare %s batch: %w", table, err)
	}
	for _, r := range rows {
		if err := batch.Append(r...); err != nil {
			return fmt.Errorf("append %s row: %w", table, err)
		}
	}
	return batch.Send()
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// Close stops the background loop and performs a final flush.
func (j *Journal) Close() error {
	if j.cancel != nil {
		j.cancel()
		<-j.done
	}
	j.mu.Lock()
	j.closed = true
	j.mu.Unlock()

	if err := j.Flush(context.Background()); err != nil {
		log.Error().Err(err).Msg("clickhouse: final flush on close failed")
		return err
	}

	log.Info().
		Int64("flushes", j.flushCount.Load()).
		Int64("errors", j.errorCount.Load()).
		Msg("clickhouse: journal closed")
	return nil
}

// Stats returns journal statistics.
func (j *Journal) Stats() (flushCount, errorCount int64, pendingTrades, pendingDecisions int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.flushCount.Load(), j.errorCount.Load(), len(j.tradeBuf), len(j.decisionBuf)
}

// SetFlushHook sets a test hook. Intended for testing only.
func (j *Journal) SetFlushHook(hook func(ctx context.Context, table string, rows [][]any) error) {
	j.flushHook = hook
}

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nexus-trading/hivemind/internal/storage"
)

// TradeLog implements storage.TradeLog using PostgreSQL.
type TradeLog struct {
	pool *Pool
}

// NewTradeLog creates a new TradeLog.
func NewTradeLog(pool *Pool) *TradeLog {
	return &TradeLog{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeLog = (*TradeLog)(nil)

const tradeLogColumns = `id, wallet, mint, symbol, action, reason, amount_sol, token_amount_raw,
	price_sol, profit_percent, realized_pnl_sol, confidence, mode, signature, route, created_at`

// Append stores an entry. Returns ErrDuplicateKey if the ID exists.
func (l *TradeLog) Append(ctx context.Context, e *storage.TradeLogEntry) (err error) {
	if e == nil || e.Wallet == "" || e.Action == "" {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("trade_log_append", start, err) }(time.Now())

	query := `
		INSERT INTO trade_log (` + tradeLogColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err = l.pool.Exec(ctx, query,
		e.ID, e.Wallet, e.Mint, e.Symbol, string(e.Action), e.Reason, e.AmountSOL, uint64ToDecimal(e.TokenAmountRaw),
		e.PriceSOL, e.ProfitPercent, e.RealizedPnLSOL, e.Confidence, e.Mode, e.Signature, e.Route, e.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert trade log entry: %w", err)
	}
	return nil
}

// Since returns the wallet's entries at or after since, ordered by CreatedAt ASC.
func (l *TradeLog) Since(ctx context.Context, wallet string, since time.Time) (_ []*storage.TradeLogEntry, err error) {
	defer func(start time.Time) { observe("trade_log_since", start, err) }(time.Now())

	query := `SELECT ` + tradeLogColumns + ` FROM trade_log WHERE wallet = $1 AND created_at >= $2 ORDER BY created_at`
	rows, err := l.pool.Query(ctx, query, wallet, since)
	if err != nil {
		return nil, fmt.Errorf("query trade log: %w", err)
	}
	defer rows.Close()

	var result []*storage.TradeLogEntry
	for rows.Next() {
		var (
			e      storage.TradeLogEntry
			action string
			amount decimal.Decimal
		)
		if err := rows.Scan(
			&e.ID, &e.Wallet, &e.Mint, &e.Symbol, &action, &e.Reason, &e.AmountSOL, &amount,
			&e.PriceSOL, &e.ProfitPercent, &e.RealizedPnLSOL, &e.Confidence, &e.Mode, &e.Signature, &e.Route, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan trade log entry: %w", err)
		}
		e.Action = storage.TradeAction(action)
		e.TokenAmountRaw = decimalToUint64(amount)
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade log: %w", err)
	}
	return result, nil
}

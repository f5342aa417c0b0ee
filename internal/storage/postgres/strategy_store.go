package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/nexus-trading/hivemind/internal/storage"
	"github.com/nexus-trading/hivemind/internal/strategy"
)

// StrategyStore implements strategy.Repository using PostgreSQL.
type StrategyStore struct {
	pool *Pool
}

// NewStrategyStore creates a new StrategyStore.
func NewStrategyStore(pool *Pool) *StrategyStore {
	return &StrategyStore{pool: pool}
}

// Compile-time interface check.
var _ strategy.Repository = (*StrategyStore)(nil)

const strategyColumns = `id, wallet, version, source, sentiment, risk_level, min_confidence,
	max_daily_trades, budget_per_trade_sol, min_volume_usd, min_liquidity_usd, min_organic_score,
	min_quality_score, min_transactions_24h, min_potential_percent, reasoning, generated_at, expires_at`

// Save inserts a strategy version. Returns ErrDuplicateKey if the ID or
// (wallet, version) exists.
func (s *StrategyStore) Save(ctx context.Context, st *strategy.Strategy) (err error) {
	if st == nil || st.Wallet == "" {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("strategy_save", start, err) }(time.Now())

	query := `
		INSERT INTO strategies (` + strategyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`
	_, err = s.pool.Exec(ctx, query,
		st.ID, st.Wallet, st.Version, string(st.Source), string(st.Sentiment), st.RiskLevel, st.MinConfidence,
		st.MaxDailyTrades, st.BudgetPerTradeSOL, st.MinVolumeUSD, st.MinLiquidityUSD, st.MinOrganicScore,
		st.MinQualityScore, st.MinTransactions24h, st.MinPotentialPercent, st.Reasoning, st.GeneratedAt, st.ExpiresAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert strategy: %w", err)
	}
	return nil
}

// Latest returns the highest version of a wallet's strategy.
func (s *StrategyStore) Latest(ctx context.Context, wallet string) (_ *strategy.Strategy, err error) {
	defer func(start time.Time) { observe("strategy_latest", start, err) }(time.Now())

	query := `SELECT ` + strategyColumns + ` FROM strategies WHERE wallet = $1 ORDER BY version DESC LIMIT 1`

	var (
		st        strategy.Strategy
		source    string
		sentiment string
	)
	err = s.pool.QueryRow(ctx, query, wallet).Scan(
		&st.ID, &st.Wallet, &st.Version, &source, &sentiment, &st.RiskLevel, &st.MinConfidence,
		&st.MaxDailyTrades, &st.BudgetPerTradeSOL, &st.MinVolumeUSD, &st.MinLiquidityUSD, &st.MinOrganicScore,
		&st.MinQualityScore, &st.MinTransactions24h, &st.MinPotentialPercent, &st.Reasoning, &st.GeneratedAt, &st.ExpiresAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("latest strategy: %w", err)
	}
	st.Source = strategy.Source(source)
	st.Sentiment = strategy.Sentiment(sentiment)
	return &st, nil
}

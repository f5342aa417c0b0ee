// Package strategy generates and stores the time-boxed trading parameters
// each wallet trades under.
package strategy

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nexus-trading/hivemind/internal/market"
)

// Sentiment is the market read a strategy was built for.
type Sentiment string

const (
	SentimentBullish  Sentiment = "bullish"
	SentimentBearish  Sentiment = "bearish"
	SentimentVolatile Sentiment = "volatile"
	SentimentNeutral  Sentiment = "neutral"
)

// Source records which generator produced a strategy.
type Source string

const (
	SourceAI    Source = "ai"
	SourceRules Source = "rules"
)

// Strategy is a versioned parameter set. A wallet does not trade without an
// unexpired strategy.
type Strategy struct {
	ID                  uuid.UUID       `json:"id"`
	Wallet              string          `json:"wallet"`
	Version             int             `json:"version"`
	Source              Source          `json:"source"`
	Sentiment           Sentiment       `json:"sentiment"`
	RiskLevel           string          `json:"risk_level"`
	MinConfidence       float64         `json:"min_confidence"` // 0-100
	MaxDailyTrades      int             `json:"max_daily_trades"`
	BudgetPerTradeSOL   decimal.Decimal `json:"budget_per_trade_sol"`
	MinVolumeUSD        float64         `json:"min_volume_usd"`
	MinLiquidityUSD     float64         `json:"min_liquidity_usd"`
	MinOrganicScore     float64         `json:"min_organic_score"`
	MinQualityScore     float64         `json:"min_quality_score"`
	MinTransactions24h  int             `json:"min_transactions_24h"`
	MinPotentialPercent float64         `json:"min_potential_percent"`
	Reasoning           string          `json:"reasoning"`
	GeneratedAt         time.Time       `json:"generated_at"`
	ExpiresAt           time.Time       `json:"expires_at"`
}

// Active reports whether the strategy is unexpired at now.
func (s *Strategy) Active(now time.Time) bool {
	return s != nil && now.Before(s.ExpiresAt)
}

// MinConfidenceFraction returns MinConfidence on the 0-1 scale.
func (s *Strategy) MinConfidenceFraction() float64 {
	return s.MinConfidence / 100
}

// QuickFilter selects momentum candidates for the quick scan. Only volume
// and liquidity minimums apply.
func (s *Strategy) QuickFilter(limit int) market.FilterParams {
	return market.FilterParams{
		MinVolumeUSD:    s.MinVolumeUSD,
		MinLiquidityUSD: s.MinLiquidityUSD,
		RequireMomentum: true,
		Limit:           limit,
	}
}

// DeepFilter applies every strategy minimum.
func (s *Strategy) DeepFilter(limit int) market.FilterParams {
	return market.FilterParams{
		MinVolumeUSD:       s.MinVolumeUSD,
		MinLiquidityUSD:    s.MinLiquidityUSD,
		MinTransactions24h: s.MinTransactions24h,
		MinOrganicScore:    s.MinOrganicScore,
		MinQualityScore:    s.MinQualityScore,
		Limit:              limit,
	}
}

// Repository persists strategies.
type Repository interface {
	// Save stores a new strategy version.
	Save(ctx context.Context, s *Strategy) error

	// Latest returns the most recent strategy of a wallet, expired or not.
	// Returns storage.ErrNotFound when the wallet has none.
	Latest(ctx context.Context, wallet string) (*Strategy, error)
}

package market

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TokenCandidate is a token observed on a discovery source. It is ephemeral
// and never persisted.
type TokenCandidate struct {
	Mint     string          `json:"mint"`
	Symbol   string          `json:"symbol"`
	Name     string          `json:"name"`
	Decimals uint8           `json:"decimals"`
	PriceUSD float64         `json:"price_usd"`
	PriceSOL decimal.Decimal `json:"price_sol"`

	Volume24hUSD  float64 `json:"volume_24h_usd"`
	LiquidityUSD  float64 `json:"liquidity_usd"`
	PriceChange5m float64 `json:"price_change_5m"` // percent
	PriceChange1h float64 `json:"price_change_1h"`
	PriceChange24 float64 `json:"price_change_24h"`
	Buys24h       int     `json:"buys_24h"`
	Sells24h      int     `json:"sells_24h"`
	Holders       int     `json:"holders,omitempty"` // 0 = unknown

	// SourceOrganicScore is the organic score reported by the source, if any.
	SourceOrganicScore float64 `json:"source_organic_score,omitempty"`

	// Computed by the cache on ingest.
	OrganicScore float64 `json:"organic_score"`
	QualityScore float64 `json:"quality_score"`

	Source     string    `json:"source"`
	ObservedAt time.Time `json:"observed_at"`
}

// Transactions24h is buys plus sells over the last day.
func (c TokenCandidate) Transactions24h() int {
	return c.Buys24h + c.Sells24h
}

// HasMomentum reports positive short-term price action.
func (c TokenCandidate) HasMomentum() bool {
	return c.PriceChange5m > 0 && c.PriceChange1h > 0
}

// FilterParams selects candidates. It is also the cache key, so two calls
// with equal params share one cached result.
type FilterParams struct {
	MinVolumeUSD       float64 `json:"min_volume_usd"`
	MinLiquidityUSD    float64 `json:"min_liquidity_usd"`
	MinTransactions24h int     `json:"min_transactions_24h"`
	MinOrganicScore    float64 `json:"min_organic_score"`
	MinQualityScore    float64 `json:"min_quality_score"`
	RequireMomentum    bool    `json:"require_momentum"`
	Limit              int     `json:"limit"`
}

// Key renders the params into a stable cache key.
func (f FilterParams) Key() string {
	return fmt.Sprintf("v=%.0f|l=%.0f|tx=%d|o=%.1f|q=%.1f|m=%t|n=%d",
		f.MinVolumeUSD, f.MinLiquidityUSD, f.MinTransactions24h,
		f.MinOrganicScore, f.MinQualityScore, f.RequireMomentum, f.Limit)
}

// Accepts reports whether a scored candidate passes every threshold.
func (f FilterParams) Accepts(c TokenCandidate) bool {
	if c.Volume24hUSD < f.MinVolumeUSD || c.LiquidityUSD < f.MinLiquidityUSD {
		return false
	}
	if c.Transactions24h() < f.MinTransactions24h {
		return false
	}
	if c.OrganicScore < f.MinOrganicScore || c.QualityScore < f.MinQualityScore {
		return false
	}
	if f.RequireMomentum && !c.HasMomentum() {
		return false
	}
	return true
}

// Source is one discovery/price provider.
type Source interface {
	Name() string
	// Candidates returns the source's current list of interesting tokens.
	Candidates(ctx context.Context) ([]TokenCandidate, error)
	// Token resolves a single mint. Returns ErrTokenNotFound when the source
	// does not know it.
	Token(ctx context.Context, mint string) (*TokenCandidate, error)
}

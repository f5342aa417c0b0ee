package intel

import (
	"time"

	"github.com/nexus-trading/hivemind/internal/market"
)

// Action is the trade recommendation returned by a provider.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

// ParseAction normalizes a provider's action string. Unknown values are
// rejected so a malformed answer moves on to the next provider.
func ParseAction(s string) (Action, bool) {
	switch Action(normalize(s)) {
	case ActionBuy:
		return ActionBuy, true
	case ActionSell:
		return ActionSell, true
	case ActionHold:
		return ActionHold, true
	}
	return "", false
}

// Tier selects which providers may answer. Fast serves the frequent cycles;
// full adds the slower, costlier models.
type Tier string

const (
	TierFast Tier = "fast"
	TierFull Tier = "full"
)

// Purpose separates entry and exit questions about the same mint in the
// cache.
type Purpose string

const (
	PurposeEntry Purpose = "entry"
	PurposeExit  Purpose = "exit"
)

// AnalysisRequest asks for a recommendation on one token.
type AnalysisRequest struct {
	Candidate     market.TokenCandidate
	Purpose       Purpose
	Tier          Tier
	RiskTolerance string  // low|medium|high
	BudgetHintSOL float64 // size the bot would commit, for context only

	// Set for held positions.
	ProfitPercent *float64
	HeldFor       time.Duration
}

// Analysis is the validated outcome of one analysis request.
type Analysis struct {
	Mint                   string    `json:"mint"`
	Action                 Action    `json:"action"`
	Confidence             float64   `json:"confidence"` // 0..1
	Reasoning              string    `json:"reasoning"`
	PotentialUpsidePercent float64   `json:"potential_upside_percent"`
	RiskLevel              string    `json:"risk_level"`
	Provider               string    `json:"provider"`
	Cached                 bool      `json:"cached"`
	Fallback               bool      `json:"fallback"`
	AnalyzedAt             time.Time `json:"analyzed_at"`
}

// ConfidencePct returns the confidence on the 0-100 scale used by positions
// and strategies.
func (a Analysis) ConfidencePct() float64 {
	return a.Confidence * 100
}

// holdFallback is returned when no provider produced a usable answer.
func holdFallback(mint string) Analysis {
	return Analysis{
		Mint:       mint,
		Action:     ActionHold,
		Confidence: 0,
		Reasoning:  "no provider available",
		RiskLevel:  "high",
		Fallback:   true,
		AnalyzedAt: time.Now(),
	}
}

// BatchItem is one held position submitted to a batch analysis.
type BatchItem struct {
	Mint          string  `json:"mint"`
	Symbol        string  `json:"symbol"`
	PriceSOL      string  `json:"price_sol"`
	ProfitPercent float64 `json:"profit_percent"`
	HeldMinutes   int     `json:"held_minutes"`
}

// Recommendation is the batch counterpart of Analysis.
type Recommendation struct {
	Mint       string  `json:"mint"`
	Action     Action  `json:"action"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
	Provider   string  `json:"provider"`
	Fallback   bool    `json:"fallback"`
}

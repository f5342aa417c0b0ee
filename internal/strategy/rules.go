package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Bounds every generated strategy is clamped into.
const (
	MinConfidenceFloor   = 65.0
	MinConfidenceCeiling = 90.0
	MaxDailyTradesFloor  = 1
	MaxDailyTradesCap    = 30
	MinVolumeFloorUSD    = 10_000.0
	MinLiquidityFloorUSD = 5_000.0
	MinTransactionsFloor = 50
	MinPotentialFloor    = 5.0
	MinPotentialCeiling  = 200.0
	MinBudgetPerTradeSOL = 0.01
	MaxBudgetShare       = 0.05 // of total budget
)

var hotStreakGrowth = decimal.RequireFromString("1.2")

// ruleParams is one row of the rule table.
type ruleParams struct {
	riskLevel      string
	minConfidence  float64
	maxDailyTrades int
	budgetShare    float64 // of total budget
	minVolume      float64
	minLiquidity   float64
	minQuality     float64
	minTx          int
	minPotential   float64
}

var ruleTable = map[Sentiment]ruleParams{
	SentimentBullish:  {"high", 70, 15, 0.04, 50_000, 20_000, 55, 150, 15},
	SentimentNeutral:  {"medium", 75, 10, 0.03, 75_000, 30_000, 60, 200, 20},
	SentimentVolatile: {"medium", 80, 6, 0.02, 100_000, 50_000, 65, 300, 25},
	SentimentBearish:  {"low", 85, 3, 0.015, 150_000, 75_000, 70, 400, 30},
}

// ClassifySentiment derives the market read from recent performance.
func ClassifySentiment(p Performance) Sentiment {
	if p.Trades == 0 {
		return SentimentNeutral
	}
	switch {
	case p.WinRate >= 60 && p.AvgProfitPercent > 5:
		return SentimentBullish
	case p.WinRate <= 35 || p.AvgProfitPercent < -5:
		return SentimentBearish
	case p.StdDevProfit > 25 || float64(p.StopLossExits) >= 0.4*float64(p.Trades):
		return SentimentVolatile
	default:
		return SentimentNeutral
	}
}

// Limits bound the generated budget per trade.
type Limits struct {
	TotalBudgetSOL    decimal.Decimal
	MaxBudgetPerTrade decimal.Decimal // absolute cap from configuration; zero = none
	MinOrganicScore   float64
}

// buildFromRules produces the rule-based parameter set, before clamping.
func buildFromRules(p Performance, limits Limits) *Strategy {
	sentiment := ClassifySentiment(p)
	row := ruleTable[sentiment]
	neutral := ruleTable[SentimentNeutral]

	budget := limits.TotalBudgetSOL.Mul(decimal.NewFromFloat(row.budgetShare))
	s := &Strategy{
		Source:              SourceRules,
		Sentiment:           sentiment,
		RiskLevel:           row.riskLevel,
		MinConfidence:       row.minConfidence,
		MaxDailyTrades:      row.maxDailyTrades,
		BudgetPerTradeSOL:   budget,
		MinVolumeUSD:        row.minVolume,
		MinLiquidityUSD:     row.minLiquidity,
		MinOrganicScore:     limits.MinOrganicScore,
		MinQualityScore:     row.minQuality,
		MinTransactions24h:  row.minTx,
		MinPotentialPercent: row.minPotential,
	}

	reason := fmt.Sprintf("%s market: win rate %.0f%% over %d trades, avg profit %.1f%%",
		sentiment, p.WinRate, p.Trades, p.AvgProfitPercent)

	switch {
	case p.Trades > 0 && p.WinRate >= 75:
		// Hot streak: budget may grow at most 20% above the neutral base.
		ceiling := limits.TotalBudgetSOL.Mul(decimal.NewFromFloat(neutral.budgetShare)).Mul(hotStreakGrowth)
		if s.BudgetPerTradeSOL.GreaterThan(ceiling) {
			s.BudgetPerTradeSOL = ceiling
		}
		reason += "; budget growth capped"
	case p.Trades >= 5 && p.WinRate < 25:
		s.BudgetPerTradeSOL = s.BudgetPerTradeSOL.Div(decimal.NewFromInt(2))
		s.MinConfidence += 5
		s.MinQualityScore += 10
		reason += "; cold streak, size halved and filters tightened"
	}
	s.Reasoning = reason
	return s
}

// Clamp forces every parameter into its allowed range.
func Clamp(s *Strategy, limits Limits) {
	s.MinConfidence = clampF(s.MinConfidence, MinConfidenceFloor, MinConfidenceCeiling)
	s.MaxDailyTrades = clampI(s.MaxDailyTrades, MaxDailyTradesFloor, MaxDailyTradesCap)
	s.MinVolumeUSD = max(s.MinVolumeUSD, MinVolumeFloorUSD)
	s.MinLiquidityUSD = max(s.MinLiquidityUSD, MinLiquidityFloorUSD)
	s.MinOrganicScore = clampF(s.MinOrganicScore, min(limits.MinOrganicScore, 100), 100)
	s.MinQualityScore = clampF(s.MinQualityScore, 0, 100)
	s.MinTransactions24h = max(s.MinTransactions24h, MinTransactionsFloor)
	s.MinPotentialPercent = clampF(s.MinPotentialPercent, MinPotentialFloor, MinPotentialCeiling)

	floor := decimal.NewFromFloat(MinBudgetPerTradeSOL)
	ceiling := limits.TotalBudgetSOL.Mul(decimal.NewFromFloat(MaxBudgetShare))
	if limits.MaxBudgetPerTrade.IsPositive() && ceiling.GreaterThan(limits.MaxBudgetPerTrade) {
		ceiling = limits.MaxBudgetPerTrade
	}
	if ceiling.LessThan(floor) {
		ceiling = floor
	}
	switch {
	case s.BudgetPerTradeSOL.LessThan(floor):
		s.BudgetPerTradeSOL = floor
	case s.BudgetPerTradeSOL.GreaterThan(ceiling):
		s.BudgetPerTradeSOL = ceiling
	}

	switch s.RiskLevel {
	case "low", "medium", "high":
	default:
		s.RiskLevel = "medium"
	}
	if _, ok := ruleTable[s.Sentiment]; !ok {
		s.Sentiment = SentimentNeutral
	}
}

func clampF(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}

func clampI(v, lo, hi int) int {
	return max(lo, min(hi, v))
}

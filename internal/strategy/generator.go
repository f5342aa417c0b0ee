package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/nexus-trading/hivemind/internal/intel"
)

// Generator produces an unclamped, unpersisted strategy.
type Generator interface {
	Name() string
	Generate(ctx context.Context, perf Performance, limits Limits) (*Strategy, error)
}

// RuleGenerator derives parameters from the rule table.
type RuleGenerator struct{}

func (RuleGenerator) Name() string { return string(SourceRules) }

func (RuleGenerator) Generate(_ context.Context, perf Performance, limits Limits) (*Strategy, error) {
	return buildFromRules(perf, limits), nil
}

// Completer is the slice of the AI consensus client used for generation.
type Completer interface {
	Complete(ctx context.Context, tier intel.Tier, req intel.CompletionRequest, accept func(text string) error) (string, error)
}

// AIGenerator asks the AI providers for a parameter set and falls back to
// the rule table when none answers usefully.
type AIGenerator struct {
	ai       Completer
	fallback RuleGenerator
}

// NewAIGenerator creates an AI generator over the consensus client.
func NewAIGenerator(ai Completer) *AIGenerator {
	return &AIGenerator{ai: ai}
}

func (g *AIGenerator) Name() string { return string(SourceAI) }

type aiStrategy struct {
	Sentiment           string   `json:"sentiment"`
	RiskLevel           string   `json:"risk_level"`
	MinConfidence       *float64 `json:"min_confidence"`
	MaxDailyTrades      *int     `json:"max_daily_trades"`
	BudgetPerTradeSOL   *float64 `json:"budget_per_trade_sol"`
	MinVolumeUSD        *float64 `json:"min_volume_usd"`
	MinLiquidityUSD     *float64 `json:"min_liquidity_usd"`
	MinOrganicScore     *float64 `json:"min_organic_score"`
	MinQualityScore     *float64 `json:"min_quality_score"`
	MinTransactions24h  *int     `json:"min_transactions_24h"`
	MinPotentialPercent *float64 `json:"min_potential_percent"`
	Reasoning           string   `json:"reasoning"`
}

func (g *AIGenerator) Generate(ctx context.Context, perf Performance, limits Limits) (*Strategy, error) {
	base := buildFromRules(perf, limits)

	var parsed aiStrategy
	provider, err := g.ai.Complete(ctx, intel.TierFull, intel.CompletionRequest{
		Prompt:      buildStrategyPrompt(perf, limits, base),
		MaxTokens:   800,
		Temperature: 0.3,
	}, func(text string) error {
		obj, ok := intel.ExtractObject(text)
		if !ok {
			return fmt.Errorf("no JSON object: %w", intel.ErrProviderBadReply)
		}
		var out aiStrategy
		if err := json.Unmarshal([]byte(obj), &out); err != nil {
			return fmt.Errorf("decode strategy: %v: %w", err, intel.ErrProviderBadReply)
		}
		if out.MinConfidence == nil || out.BudgetPerTradeSOL == nil {
			return fmt.Errorf("strategy missing required fields: %w", intel.ErrProviderBadReply)
		}
		parsed = out
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Msg("strategy: AI generation failed, using rules")
		return g.fallback.Generate(ctx, perf, limits)
	}

	s := base
	s.Source = SourceAI
	if v := Sentiment(strings.ToLower(strings.TrimSpace(parsed.Sentiment))); v != "" {
		s.Sentiment = v
	}
	if parsed.RiskLevel != "" {
		s.RiskLevel = strings.ToLower(strings.TrimSpace(parsed.RiskLevel))
	}
	s.MinConfidence = normalizePct(*parsed.MinConfidence)
	s.BudgetPerTradeSOL = decimal.NewFromFloat(*parsed.BudgetPerTradeSOL)
	setInt(&s.MaxDailyTrades, parsed.MaxDailyTrades)
	setFloat(&s.MinVolumeUSD, parsed.MinVolumeUSD)
	setFloat(&s.MinLiquidityUSD, parsed.MinLiquidityUSD)
	setFloat(&s.MinOrganicScore, parsed.MinOrganicScore)
	setFloat(&s.MinQualityScore, parsed.MinQualityScore)
	setInt(&s.MinTransactions24h, parsed.MinTransactions24h)
	setFloat(&s.MinPotentialPercent, parsed.MinPotentialPercent)
	s.Reasoning = fmt.Sprintf("[%s] %s", provider, strings.TrimSpace(parsed.Reasoning))
	return s, nil
}

func buildStrategyPrompt(perf Performance, limits Limits, base *Strategy) string {
	stats, _ := json.Marshal(perf)
	return fmt.Sprintf(`Design today's trading parameters for a Solana memecoin bot.
Recent performance (last %s): %s
Total budget: %s SOL. Maximum per trade: %s SOL.
Rule-based suggestion: sentiment %s, min confidence %.0f, %d trades/day, %s SOL per trade.
Reply with one JSON object:
{"sentiment":"bullish|bearish|volatile|neutral","risk_level":"low|medium|high","min_confidence":65-90,
"max_daily_trades":1-30,"budget_per_trade_sol":number,"min_volume_usd":number,"min_liquidity_usd":number,
"min_organic_score":0-100,"min_quality_score":0-100,"min_transactions_24h":number,
"min_potential_percent":5-200,"reasoning":"..."}`,
		perf.Window, stats,
		limits.TotalBudgetSOL.StringFixed(3), limits.MaxBudgetPerTrade.StringFixed(3),
		base.Sentiment, base.MinConfidence, base.MaxDailyTrades, base.BudgetPerTradeSOL.StringFixed(3))
}

// normalizePct accepts 0-1 or 0-100.
func normalizePct(v float64) float64 {
	if v > 0 && v <= 1 {
		return v * 100
	}
	return v
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

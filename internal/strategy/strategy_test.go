package strategy_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-trading/hivemind/internal/intel"
	"github.com/nexus-trading/hivemind/internal/storage"
	"github.com/nexus-trading/hivemind/internal/storage/memory"
	"github.com/nexus-trading/hivemind/internal/strategy"
)

const wallet = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func closes(profits ...float64) []*storage.TradeLogEntry {
	out := make([]*storage.TradeLogEntry, 0, len(profits))
	for _, p := range profits {
		out = append(out, &storage.TradeLogEntry{ID: uuid.New(), Wallet: wallet, Action: storage.ActionSell, ProfitPercent: p})
	}
	return out
}

func limits() strategy.Limits {
	return strategy.Limits{
		TotalBudgetSOL:    decimal.NewFromInt(10),
		MaxBudgetPerTrade: decimal.NewFromInt(1),
		MinOrganicScore:   70,
	}
}

type fixture struct {
	svc    *strategy.Service
	repo   *memory.StrategyStore
	trades *memory.TradeLog
	now    *time.Time
}

func newFixture(t *testing.T, gen strategy.Generator) fixture {
	t.Helper()
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	repo := memory.NewStrategyStore()
	trades := memory.NewTradeLog()
	svc := strategy.NewService(strategy.DefaultServiceConfig(), repo, gen, trades)
	svc.SetClock(func() time.Time { return now })
	return fixture{svc: svc, repo: repo, trades: trades, now: &now}
}

// ---------------------------------------------------------------------------
// Performance & sentiment
// ---------------------------------------------------------------------------

func TestComputePerformance(t *testing.T) {
	entries := closes(10, -5, 20, 0)
	entries = append(entries,
		&storage.TradeLogEntry{Action: storage.ActionBuy, ProfitPercent: 99},
		&storage.TradeLogEntry{Action: storage.ActionForceClose, ProfitPercent: -100, Reason: "illiquid"},
		&storage.TradeLogEntry{Action: storage.ActionSell, ProfitPercent: -25, Reason: "stop_loss"},
	)

	p := strategy.ComputePerformance(entries, 24*time.Hour)
	assert.Equal(t, 6, p.Trades, "buys are not trades")
	assert.Equal(t, 2, p.Wins)
	assert.Equal(t, 4, p.Losses)
	assert.InDelta(t, 33.33, p.WinRate, 0.01)
	assert.InDelta(t, -100.0/6, p.AvgProfitPercent, 1e-9)
	assert.Equal(t, 1, p.StopLossExits)
	assert.Equal(t, 1, p.ForceCloses)
	assert.Greater(t, p.StdDevProfit, 0.0)
}

func TestClassifySentiment(t *testing.T) {
	tests := []struct {
		name string
		perf strategy.Performance
		want strategy.Sentiment
	}{
		{"no trades", strategy.Performance{}, strategy.SentimentNeutral},
		{"winning", strategy.Performance{Trades: 10, WinRate: 70, AvgProfitPercent: 8}, strategy.SentimentBullish},
		{"losing", strategy.Performance{Trades: 10, WinRate: 30, AvgProfitPercent: 1}, strategy.SentimentBearish},
		{"bleeding", strategy.Performance{Trades: 10, WinRate: 50, AvgProfitPercent: -7}, strategy.SentimentBearish},
		{"swingy", strategy.Performance{Trades: 10, WinRate: 50, AvgProfitPercent: 2, StdDevProfit: 40}, strategy.SentimentVolatile},
		{"stopped out", strategy.Performance{Trades: 5, WinRate: 50, AvgProfitPercent: 0, StopLossExits: 2}, strategy.SentimentVolatile},
		{"flat", strategy.Performance{Trades: 10, WinRate: 50, AvgProfitPercent: 1, StdDevProfit: 5}, strategy.SentimentNeutral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, strategy.ClassifySentiment(tt.perf))
		})
	}
}

// ---------------------------------------------------------------------------
// Rule generator
// ---------------------------------------------------------------------------

func TestRuleGenerator_HotStreakCapsBudget(t *testing.T) {
	perf := strategy.Performance{Trades: 8, WinRate: 80, AvgProfitPercent: 12}
	s, err := strategy.RuleGenerator{}.Generate(context.Background(), perf, limits())
	require.NoError(t, err)

	assert.Equal(t, strategy.SentimentBullish, s.Sentiment)
	// Bullish would be 4% of 10 SOL; capped at 1.2 x neutral 3%.
	assert.True(t, s.BudgetPerTradeSOL.Equal(decimal.RequireFromString("0.36")), "got %s", s.BudgetPerTradeSOL)
}

func TestRuleGenerator_ColdStreakTightens(t *testing.T) {
	perf := strategy.Performance{Trades: 6, WinRate: 16, AvgProfitPercent: -9}
	s, err := strategy.RuleGenerator{}.Generate(context.Background(), perf, limits())
	require.NoError(t, err)

	assert.Equal(t, strategy.SentimentBearish, s.Sentiment)
	assert.Equal(t, 90.0, s.MinConfidence)                                        // 85 + 5
	assert.Equal(t, 80.0, s.MinQualityScore)                                      // 70 + 10
	assert.True(t, s.BudgetPerTradeSOL.Equal(decimal.RequireFromString("0.075"))) // 1.5% / 2
}

func TestClamp(t *testing.T) {
	s := &strategy.Strategy{
		Sentiment:           "euphoric",
		RiskLevel:           "yolo",
		MinConfidence:       40,
		MaxDailyTrades:      100,
		BudgetPerTradeSOL:   decimal.NewFromInt(5),
		MinVolumeUSD:        100,
		MinLiquidityUSD:     100,
		MinOrganicScore:     130,
		MinQualityScore:     -4,
		MinTransactions24h:  3,
		MinPotentialPercent: 900,
	}
	strategy.Clamp(s, limits())

	assert.Equal(t, strategy.SentimentNeutral, s.Sentiment)
	assert.Equal(t, "medium", s.RiskLevel)
	assert.Equal(t, 65.0, s.MinConfidence)
	assert.Equal(t, 30, s.MaxDailyTrades)
	assert.True(t, s.BudgetPerTradeSOL.Equal(decimal.RequireFromString("0.5")), "5%% of 10 SOL, got %s", s.BudgetPerTradeSOL)
	assert.Equal(t, 10_000.0, s.MinVolumeUSD)
	assert.Equal(t, 5_000.0, s.MinLiquidityUSD)
	assert.Equal(t, 100.0, s.MinOrganicScore)
	assert.Equal(t, 0.0, s.MinQualityScore)
	assert.Equal(t, 50, s.MinTransactions24h)
	assert.Equal(t, 200.0, s.MinPotentialPercent)

	s.BudgetPerTradeSOL = decimal.RequireFromString("0.001")
	s.MinOrganicScore = 40
	strategy.Clamp(s, limits())
	assert.True(t, s.BudgetPerTradeSOL.Equal(decimal.RequireFromString("0.01")))
	assert.Equal(t, 70.0, s.MinOrganicScore, "never below the configured floor")
}

// ---------------------------------------------------------------------------
// AI generator
// ---------------------------------------------------------------------------

func TestAIGenerator_UsesProviderAnswer(t *testing.T) {
	reply := `Here you go: {"sentiment":"volatile","risk_level":"low","min_confidence":0.82,
		"max_daily_trades":4,"budget_per_trade_sol":0.2,"min_volume_usd":120000,
		"min_transactions_24h":300,"min_potential_percent":30,"reasoning":"choppy tape"}`
	client := intel.NewClient(intel.DefaultClientConfig(), intel.NewStubProvider("p", intel.TierFull, reply))

	s, err := strategy.NewAIGenerator(client).Generate(context.Background(), strategy.Performance{}, limits())
	require.NoError(t, err)

	assert.Equal(t, strategy.SourceAI, s.Source)
	assert.Equal(t, strategy.SentimentVolatile, s.Sentiment)
	assert.InDelta(t, 82, s.MinConfidence, 1e-9)
	assert.Equal(t, 4, s.MaxDailyTrades)
	assert.Equal(t, 120_000.0, s.MinVolumeUSD)
	assert.Equal(t, 30_000.0, s.MinLiquidityUSD, "unset fields keep the rule value")
	assert.Contains(t, s.Reasoning, "choppy tape")
}

func TestAIGenerator_IgnoresProseAroundAnswer(t *testing.T) {
	reply := "Setting {tight} filters today.\n```json\n" +
		`{"sentiment":"bearish","min_confidence":85,"budget_per_trade_sol":0.1,"reasoning":"risk off {for now}"}` +
		"\n```\nAlternative {looser} set available on request."
	client := intel.NewClient(intel.DefaultClientConfig(), intel.NewStubProvider("p", intel.TierFull, reply))

	s, err := strategy.NewAIGenerator(client).Generate(context.Background(), strategy.Performance{}, limits())
	require.NoError(t, err)

	assert.Equal(t, strategy.SourceAI, s.Source)
	assert.Equal(t, strategy.SentimentBearish, s.Sentiment)
	assert.InDelta(t, 85, s.MinConfidence, 1e-9)
	assert.Contains(t, s.Reasoning, "risk off {for now}")
}

func TestAIGenerator_FallsBackToRules(t *testing.T) {
	client := intel.NewClient(intel.DefaultClientConfig(), intel.NewStubProvider("p", intel.TierFull, "no idea"))

	s, err := strategy.NewAIGenerator(client).Generate(context.Background(), strategy.Performance{}, limits())
	require.NoError(t, err)
	assert.Equal(t, strategy.SourceRules, s.Source)
	assert.Equal(t, strategy.SentimentNeutral, s.Sentiment)
}

// ---------------------------------------------------------------------------
// Service
// ---------------------------------------------------------------------------

func TestService_Lifecycle(t *testing.T) {
	f := newFixture(t, strategy.RuleGenerator{})
	ctx := context.Background()

	active, err := f.svc.GetActive(ctx, wallet)
	require.NoError(t, err)
	assert.Nil(t, active, "no strategy means no trading")
	assert.True(t, f.svc.ShouldRegenerate(ctx, wallet))

	s, err := f.svc.EnsureActive(ctx, wallet, decimal.NewFromInt(10))
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, 1, s.Version)
	assert.Equal(t, s.GeneratedAt.Add(6*time.Hour), s.ExpiresAt)
	assert.False(t, f.svc.ShouldRegenerate(ctx, wallet))

	// Three hours later it is still active but due for regeneration.
	*f.now = f.now.Add(3 * time.Hour)
	active, err = f.svc.GetActive(ctx, wallet)
	require.NoError(t, err)
	assert.NotNil(t, active)
	assert.True(t, f.svc.ShouldRegenerate(ctx, wallet))

	s2, err := f.svc.EnsureActive(ctx, wallet, decimal.NewFromInt(10))
	require.NoError(t, err)
	assert.Equal(t, 2, s2.Version)

	// Past expiry nothing is active.
	*f.now = f.now.Add(7 * time.Hour)
	active, err = f.svc.GetActive(ctx, wallet)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestService_PerformanceWindow(t *testing.T) {
	f := newFixture(t, strategy.RuleGenerator{})
	ctx := context.Background()

	for i, e := range closes(10, 12, -3) {
		e.CreatedAt = f.now.Add(-time.Duration(i*20) * time.Hour) // 0h, 20h, 40h ago
		require.NoError(t, f.trades.Append(ctx, e))
	}

	perf, err := f.svc.Performance(ctx, wallet)
	require.NoError(t, err)
	assert.Equal(t, 2, perf.Trades)
	assert.Equal(t, 100.0, perf.WinRate)
}

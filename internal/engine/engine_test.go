package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-trading/hivemind/internal/audit"
	"github.com/nexus-trading/hivemind/internal/bus"
	"github.com/nexus-trading/hivemind/internal/executor"
	"github.com/nexus-trading/hivemind/internal/intel"
	"github.com/nexus-trading/hivemind/internal/market"
	"github.com/nexus-trading/hivemind/internal/position"
	"github.com/nexus-trading/hivemind/internal/risk"
	"github.com/nexus-trading/hivemind/internal/rotation"
	"github.com/nexus-trading/hivemind/internal/solana"
	"github.com/nexus-trading/hivemind/internal/storage"
	"github.com/nexus-trading/hivemind/internal/storage/memory"
	"github.com/nexus-trading/hivemind/internal/strategy"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

const (
	wallet   = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	mintBONK = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
	mintWIF  = "EKpQGSJtjMFqKZ9KQanSqYXRcF8fBopzLHYxdM65zcjm"
)

const (
	buyReply  = `{"action":"buy","confidence":0.85,"reasoning":"flow","potential_upside_percent":40,"risk_level":"medium"}`
	holdReply = `{"action":"hold","confidence":0.6,"reasoning":"wait"}`
	sellReply = `{"action":"sell","confidence":0.75,"reasoning":"fading"}`
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fakeMarket serves fixed token data. Prices can be moved between cycles.
type fakeMarket struct {
	mu     sync.Mutex
	tokens map[string]market.TokenCandidate
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{tokens: make(map[string]market.TokenCandidate)}
}

func (m *fakeMarket) set(c market.TokenCandidate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[c.Mint] = c
}

func (m *fakeMarket) remove(mint string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, mint)
}

func (m *fakeMarket) GetCandidates(_ context.Context, params market.FilterParams) []market.TokenCandidate {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []market.TokenCandidate
	for _, c := range m.tokens {
		if params.Accepts(c) {
			out = append(out, c)
		}
	}
	return out
}

func (m *fakeMarket) GetToken(_ context.Context, mint string) (*market.TokenCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.tokens[mint]
	if !ok {
		return nil, market.ErrTokenNotFound
	}
	return &c, nil
}

func (m *fakeMarket) Evict() int { return 0 }

// failingSells wraps an executor and rejects every sell.
type failingSells struct {
	executor.TradeExecutor
	sells int
}

func (f *failingSells) Sell(context.Context, string, string, uint64, int) (*executor.SellResult, error) {
	f.sells++
	return nil, errors.New("no route")
}

func momentumToken(mint, price string) market.TokenCandidate {
	return market.TokenCandidate{
		Mint:          mint,
		Symbol:        mint[:4],
		Decimals:      6,
		PriceSOL:      d(price),
		Volume24hUSD:  250_000,
		LiquidityUSD:  80_000,
		PriceChange5m: 2,
		PriceChange1h: 6,
		Buys24h:       900,
		Sells24h:      500,
		QualityScore:  70,
	}
}

type harness struct {
	engine     *Engine
	now        *time.Time
	market     *fakeMarket
	provider   *intel.StubProvider
	wallets    *memory.WalletStore
	positions  *position.Store
	strategies *strategy.Service
	trades     *memory.TradeLog
	paper      *executor.PaperExecutor
	deps       Deps
}

func newHarness(t *testing.T, replies ...string) *harness {
	t.Helper()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	h := &harness{
		now:      &now,
		market:   newFakeMarket(),
		provider: intel.NewStubProvider("stub", intel.TierFast, replies...),
		wallets:  memory.NewWalletStore(),
		trades:   memory.NewTradeLog(),
	}
	h.positions = position.NewStore(memory.NewPositionStore())
	h.positions.SetClock(clock)
	h.strategies = strategy.NewService(strategy.ServiceConfig{}, memory.NewStrategyStore(), nil, h.trades)
	h.strategies.SetClock(clock)
	h.paper = executor.NewPaperExecutor(h.market, 0)

	advisor := intel.NewClient(intel.ClientConfig{}, h.provider)
	advisor.SetClock(clock)

	h.deps = Deps{
		Wallets:    h.wallets,
		Positions:  h.positions,
		Strategies: h.strategies,
		Market:     h.market,
		Advisor:    advisor,
		Risk:       risk.New(risk.Config{}),
		Rotation:   rotation.New(rotation.Config{}),
		Executor:   h.paper,
		Audit:      audit.NewTrail(h.trades, 100, audit.WithClock(clock)),
	}
	h.rebuild()

	require.NoError(t, h.wallets.Save(context.Background(), &storage.WalletConfig{
		Wallet:           wallet,
		Enabled:          true,
		TotalBudgetSOL:   d("10"),
		PortfolioPeakSOL: d("10"),
	}))
	return h
}

func (h *harness) rebuild() {
	h.engine = New(Config{}, h.deps)
	h.engine.SetClock(func() time.Time { return *h.now })
}

func (h *harness) withStrategy(t *testing.T) *strategy.Strategy {
	t.Helper()
	st, err := h.strategies.EnsureActive(context.Background(), wallet, d("10"))
	require.NoError(t, err)
	return st
}

func (h *harness) walletConfig(t *testing.T) *storage.WalletConfig {
	t.Helper()
	wc, err := h.wallets.Get(context.Background(), wallet)
	require.NoError(t, err)
	return wc
}

func (h *harness) setBudgetUsed(t *testing.T, used string) {
	t.Helper()
	wc := h.walletConfig(t)
	wc.BudgetUsedSOL = d(used)
	require.NoError(t, h.wallets.Save(context.Background(), wc))
}

// hold opens a position of 1000 whole tokens (decimals 6) at price and
// credits the paper executor with the tokens.
func (h *harness) hold(t *testing.T, mint, price string, confidence float64, swing bool) *position.Position {
	t.Helper()
	invested := d(price).Mul(d("1000"))
	p, err := h.positions.Open(context.Background(), wallet, mint, mint[:4], 6,
		position.Fill{AmountSOL: invested, TokenAmountRaw: 1_000_000_000, PriceSOL: d(price)}, confidence, swing)
	require.NoError(t, err)
	h.paper.Seed(wallet, mint, 1_000_000_000)
	return p
}

func (h *harness) actions() []storage.TradeAction {
	var out []storage.TradeAction
	for _, e := range h.trades.All() {
		out = append(out, e.Action)
	}
	return out
}

func (h *harness) lastTrade(t *testing.T) *storage.TradeLogEntry {
	t.Helper()
	all := h.trades.All()
	require.NotEmpty(t, all)
	return all[len(all)-1]
}

// ---------------------------------------------------------------------------
// Scans
// ---------------------------------------------------------------------------

func TestQuickScan_BuysConfidentCandidate(t *testing.T) {
	h := newHarness(t, buyReply)
	st := h.withStrategy(t)
	h.market.set(momentumToken(mintBONK, "0.001"))

	require.NoError(t, h.engine.QuickScan(context.Background(), wallet))

	p, err := h.positions.Get(context.Background(), wallet, mintBONK)
	require.NoError(t, err)
	// 0.85 is a swing entry; 6.5% of 10 SOL is capped by the strategy budget.
	assert.True(t, p.IsSwingTrade)
	assert.True(t, p.InvestedSOL.Equal(st.BudgetPerTradeSOL), "invested %s", p.InvestedSOL)
	assert.InDelta(t, 85, p.EntryConfidence, 1e-9)

	wc := h.walletConfig(t)
	assert.True(t, wc.BudgetUsedSOL.Equal(p.InvestedSOL))
	assert.Equal(t, []storage.TradeAction{storage.ActionBuy}, h.actions())
	assert.Equal(t, 1, h.engine.DailyTrades(wallet))
}

func TestQuickScan_NoStrategyNoTrade(t *testing.T) {
	h := newHarness(t, buyReply)
	h.market.set(momentumToken(mintBONK, "0.001"))

	require.NoError(t, h.engine.QuickScan(context.Background(), wallet))

	assert.Zero(t, h.provider.Calls())
	assert.Empty(t, h.trades.All())
}

func TestQuickScan_BelowConfidenceFloorSkips(t *testing.T) {
	// 0.70 is above the quick floor but below the neutral strategy's 75.
	h := newHarness(t, `{"action":"buy","confidence":0.70}`)
	h.withStrategy(t)
	h.market.set(momentumToken(mintBONK, "0.001"))

	require.NoError(t, h.engine.QuickScan(context.Background(), wallet))

	assert.Equal(t, 1, h.provider.Calls())
	assert.Empty(t, h.trades.All())
}

func TestQuickScan_DisabledWalletSkips(t *testing.T) {
	h := newHarness(t, buyReply)
	h.withStrategy(t)
	wc := h.walletConfig(t)
	wc.Enabled = false
	require.NoError(t, h.wallets.Save(context.Background(), wc))
	h.market.set(momentumToken(mintBONK, "0.001"))

	require.NoError(t, h.engine.QuickScan(context.Background(), wallet))
	assert.Zero(t, h.provider.Calls())
}

func TestQuickScan_DailyLimit(t *testing.T) {
	h := newHarness(t, buyReply)
	st := h.withStrategy(t)
	h.market.set(momentumToken(mintBONK, "0.001"))
	h.market.set(momentumToken(mintWIF, "0.002"))

	ws := h.engine.state(wallet)
	_ = h.engine.withWallet(wallet, func(*walletState) error { return nil })
	ws.dailyTrades = st.MaxDailyTrades

	require.NoError(t, h.engine.QuickScan(context.Background(), wallet))
	assert.Empty(t, h.trades.All())

	// The counter belongs to the UTC day.
	*h.now = h.now.Add(24 * time.Hour)
	assert.Equal(t, 0, h.engine.DailyTrades(wallet))
}

func TestQuickScan_DrawdownPausedBlocksBuys(t *testing.T) {
	h := newHarness(t, buyReply)
	h.withStrategy(t)
	wc := h.walletConfig(t)
	wc.DrawdownPaused = true
	require.NoError(t, h.wallets.Save(context.Background(), wc))
	h.market.set(momentumToken(mintBONK, "0.001"))

	require.NoError(t, h.engine.QuickScan(context.Background(), wallet))
	assert.Empty(t, h.trades.All())

	wc.BypassDrawdown = true
	require.NoError(t, h.wallets.Save(context.Background(), wc))
	require.NoError(t, h.engine.QuickScan(context.Background(), wallet))
	assert.Equal(t, []storage.TradeAction{storage.ActionBuy}, h.actions())
}

func TestQuickScan_RotatesWhenCapitalShort(t *testing.T) {
	h := newHarness(t, `{"action":"buy","confidence":0.95}`)
	ctx := context.Background()

	// WIF bought at 0.0099 with 65% confidence holds 9.9 SOL of the 10.
	h.hold(t, mintWIF, "0.0099", 65, false)
	h.setBudgetUsed(t, "9.9")
	h.market.set(market.TokenCandidate{Mint: mintWIF, Symbol: "WIF", Decimals: 6, PriceSOL: d("0.009108"), LiquidityUSD: 500_000})
	_, err := h.positions.Refresh(ctx, wallet, mintWIF, d("0.009108")) // -8%
	require.NoError(t, err)

	*h.now = h.now.Add(10 * time.Minute)
	st := h.withStrategy(t)
	h.market.set(momentumToken(mintBONK, "0.001"))

	require.NoError(t, h.engine.QuickScan(ctx, wallet))

	_, err = h.positions.Get(ctx, wallet, mintWIF)
	assert.ErrorIs(t, err, storage.ErrNotFound, "weakest position rotated out")

	p, err := h.positions.Get(ctx, wallet, mintBONK)
	require.NoError(t, err)
	assert.True(t, p.InvestedSOL.Equal(st.BudgetPerTradeSOL), "full size after rotation, got %s", p.InvestedSOL)

	assert.Equal(t, []storage.TradeAction{storage.ActionSell, storage.ActionBuy}, h.actions())
	assert.Equal(t, risk.ExitRotation, h.trades.All()[0].Reason)

	wc := h.walletConfig(t)
	assert.True(t, wc.RealizedPnLSOL.Equal(d("-0.792")), "realized %s", wc.RealizedPnLSOL)
	assert.True(t, wc.BudgetUsedSOL.Equal(p.InvestedSOL))
}

func TestQuickScan_NoBuyWhenRotationDeclined(t *testing.T) {
	tests := []struct {
		name    string
		price   string // entry price of the held WIF position
		mark    string
		used    string
		elapsed time.Duration
	}{
		// Held for under five minutes: nothing is eligible.
		{name: "position too young", price: "0.0099", mark: "0.009108", used: "9.9", elapsed: time.Minute},
		// Eligible, but 0.02 SOL on hand plus 0.008 SOL of proceeds is short.
		{name: "proceeds too small", price: "0.00001", mark: "0.000008", used: "9.98", elapsed: 10 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, `{"action":"buy","confidence":0.95}`)
			ctx := context.Background()

			h.hold(t, mintWIF, tt.price, 65, false)
			h.setBudgetUsed(t, tt.used)
			h.market.set(market.TokenCandidate{Mint: mintWIF, Symbol: "WIF", Decimals: 6, PriceSOL: d(tt.mark), LiquidityUSD: 500_000})
			_, err := h.positions.Refresh(ctx, wallet, mintWIF, d(tt.mark))
			require.NoError(t, err)

			*h.now = h.now.Add(tt.elapsed)
			h.withStrategy(t)
			h.market.set(momentumToken(mintBONK, "0.001"))

			require.NoError(t, h.engine.QuickScan(ctx, wallet))

			_, err = h.positions.Get(ctx, wallet, mintBONK)
			assert.ErrorIs(t, err, storage.ErrNotFound, "no partial entry")
			_, err = h.positions.Get(ctx, wallet, mintWIF)
			assert.NoError(t, err, "held position untouched")
			assert.Empty(t, h.trades.All())
			assert.True(t, h.walletConfig(t).BudgetUsedSOL.Equal(d(tt.used)))
		})
	}
}

func TestQuickScan_RebuyAfterDrop(t *testing.T) {
	h := newHarness(t, buyReply)
	h.withStrategy(t)
	h.hold(t, mintBONK, "0.001", 70, false)
	h.setBudgetUsed(t, "1")
	h.market.set(momentumToken(mintBONK, "0.00085"))

	require.NoError(t, h.engine.QuickScan(context.Background(), wallet))

	p, err := h.positions.Get(context.Background(), wallet, mintBONK)
	require.NoError(t, err)
	assert.Equal(t, 1, p.RebuyCount)
	assert.Equal(t, storage.ActionRebuy, h.lastTrade(t).Action)
}

func TestDeepScan_GeneratesStrategyAndGatesUpside(t *testing.T) {
	h := newHarness(t, buyReply)

	require.NoError(t, h.engine.DeepScan(context.Background(), wallet))

	st, err := h.strategies.GetActive(context.Background(), wallet)
	require.NoError(t, err)
	require.NotNil(t, st)

	floor := max(DeepScanMinConfidence, st.MinConfidenceFraction())
	buy := intel.Analysis{Action: intel.ActionBuy, Confidence: 0.85, PotentialUpsidePercent: 40}
	assert.True(t, deepEntry(buy, floor, st.MinPotentialPercent))

	buy.PotentialUpsidePercent = st.MinPotentialPercent - 1
	assert.False(t, deepEntry(buy, floor, st.MinPotentialPercent))

	buy.PotentialUpsidePercent = 40
	buy.Confidence = 0.79
	assert.False(t, deepEntry(buy, floor, st.MinPotentialPercent))
}

// ---------------------------------------------------------------------------
// Monitor
// ---------------------------------------------------------------------------

func TestMonitor_StopLossSells(t *testing.T) {
	h := newHarness(t, holdReply)
	h.hold(t, mintBONK, "0.001", 70, false)
	h.setBudgetUsed(t, "1")
	h.market.set(momentumToken(mintBONK, "0.00085"))

	require.NoError(t, h.engine.Monitor(context.Background(), wallet))

	_, err := h.positions.Get(context.Background(), wallet, mintBONK)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Zero(t, h.provider.Calls(), "deterministic exits skip the AI")

	last := h.lastTrade(t)
	assert.Equal(t, storage.ActionSell, last.Action)
	assert.Equal(t, risk.ExitStopLoss, last.Reason)
	assert.InDelta(t, -15, last.ProfitPercent, 1e-6)

	wc := h.walletConfig(t)
	assert.True(t, wc.BudgetUsedSOL.IsZero())
	assert.True(t, wc.RealizedPnLSOL.Equal(d("-0.15")), "realized %s", wc.RealizedPnLSOL)
}

func TestMonitor_AISell(t *testing.T) {
	h := newHarness(t, sellReply)
	h.hold(t, mintBONK, "0.001", 70, false)
	h.setBudgetUsed(t, "1")
	h.market.set(momentumToken(mintBONK, "0.00102"))

	require.NoError(t, h.engine.Monitor(context.Background(), wallet))

	assert.Equal(t, 1, h.provider.Calls())
	last := h.lastTrade(t)
	assert.Equal(t, risk.ExitAI, last.Reason)
	assert.InDelta(t, 75, last.Confidence, 1e-9)
}

func TestMonitor_AIHoldKeepsPosition(t *testing.T) {
	h := newHarness(t, holdReply)
	h.hold(t, mintBONK, "0.001", 70, false)
	h.market.set(momentumToken(mintBONK, "0.00102"))

	require.NoError(t, h.engine.Monitor(context.Background(), wallet))

	p, err := h.positions.Get(context.Background(), wallet, mintBONK)
	require.NoError(t, err)
	assert.InDelta(t, 2, p.LastProfitPercent, 1e-6)
	assert.Empty(t, h.trades.All())
}

func TestMonitor_ForceClosesUnsellable(t *testing.T) {
	h := newHarness(t, holdReply)
	failing := &failingSells{TradeExecutor: h.paper}
	h.deps.Executor = failing
	h.rebuild()

	h.hold(t, mintBONK, "0.001", 70, false)
	h.setBudgetUsed(t, "1")
	tok := momentumToken(mintBONK, "0.0005")
	tok.LiquidityUSD = 400
	h.market.set(tok)

	for i := 0; i < 2; i++ {
		require.NoError(t, h.engine.Monitor(context.Background(), wallet))
		_, err := h.positions.Get(context.Background(), wallet, mintBONK)
		require.NoError(t, err, "still tracked after %d failures", i+1)
	}
	require.NoError(t, h.engine.Monitor(context.Background(), wallet))

	assert.Equal(t, 3, failing.sells)
	_, err := h.positions.Get(context.Background(), wallet, mintBONK)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	last := h.lastTrade(t)
	assert.Equal(t, storage.ActionForceClose, last.Action)
	assert.True(t, last.RealizedPnLSOL.Equal(d("-1")))

	wc := h.walletConfig(t)
	assert.True(t, wc.BudgetUsedSOL.IsZero())
	assert.True(t, wc.RealizedPnLSOL.Equal(d("-1")))
}

func TestMonitor_LiquidTokenIsNeverForceClosed(t *testing.T) {
	h := newHarness(t, holdReply)
	h.deps.Executor = &failingSells{TradeExecutor: h.paper}
	h.rebuild()

	h.hold(t, mintBONK, "0.001", 70, false)
	h.market.set(momentumToken(mintBONK, "0.0005"))

	for i := 0; i < 5; i++ {
		require.NoError(t, h.engine.Monitor(context.Background(), wallet))
	}
	_, err := h.positions.Get(context.Background(), wallet, mintBONK)
	assert.NoError(t, err)
	assert.Empty(t, h.trades.All())
}

func TestMonitor_SkipsTokenWithoutPrice(t *testing.T) {
	h := newHarness(t, sellReply)
	ctx := context.Background()
	h.hold(t, mintBONK, "0.001", 70, false)
	h.setBudgetUsed(t, "1")
	// Last mark sits past the stop loss; the market no longer quotes BONK.
	_, err := h.positions.Refresh(ctx, wallet, mintBONK, d("0.00085"))
	require.NoError(t, err)

	require.NoError(t, h.engine.Monitor(ctx, wallet))

	_, err = h.positions.Get(ctx, wallet, mintBONK)
	assert.NoError(t, err)
	assert.Zero(t, h.provider.Calls(), "no AI review without a price")
	assert.Empty(t, h.trades.All())
}

func TestMonitor_FailingExitWithoutPriceReachesForceClose(t *testing.T) {
	h := newHarness(t, holdReply)
	failing := &failingSells{TradeExecutor: h.paper}
	h.deps.Executor = failing
	h.rebuild()
	ctx := context.Background()

	h.hold(t, mintBONK, "0.001", 70, false)
	h.setBudgetUsed(t, "1")
	h.market.set(momentumToken(mintBONK, "0.00085"))
	require.NoError(t, h.engine.Monitor(ctx, wallet))
	require.Equal(t, 1, failing.sells)

	h.market.remove(mintBONK)
	require.NoError(t, h.engine.Monitor(ctx, wallet))
	require.NoError(t, h.engine.Monitor(ctx, wallet))

	assert.Equal(t, 3, failing.sells)
	assert.Zero(t, h.provider.Calls())
	_, err := h.positions.Get(ctx, wallet, mintBONK)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t, storage.ActionForceClose, h.lastTrade(t).Action)
}

func TestMonitor_DrawdownPausesWallet(t *testing.T) {
	h := newHarness(t, holdReply)
	h.hold(t, mintBONK, "0.005", 70, false)
	h.setBudgetUsed(t, "5")
	h.market.set(momentumToken(mintBONK, "0.0025")) // -50%, stop loss sells

	require.NoError(t, h.engine.Monitor(context.Background(), wallet))

	wc := h.walletConfig(t)
	assert.True(t, wc.RealizedPnLSOL.Equal(d("-2.5")))
	assert.True(t, wc.DrawdownPaused, "7.5 is below 80% of the 10 SOL peak")
	assert.True(t, wc.PortfolioPeakSOL.Equal(d("10")))
}

func TestMonitor_OnChainSyncClosesMissingToken(t *testing.T) {
	h := newHarness(t, holdReply)
	rpc := solana.NewStubRPCClient()
	rpc.SetBalance(wallet, d("20"))
	rpc.SetTokenBalance(wallet, mintWIF, 1)
	h.deps.Balances = rpc
	h.rebuild()

	h.hold(t, mintBONK, "0.001", 70, false)
	h.hold(t, mintWIF, "0.001", 70, false)
	h.setBudgetUsed(t, "2")
	h.market.set(momentumToken(mintWIF, "0.001"))

	require.NoError(t, h.engine.Monitor(context.Background(), wallet))

	_, err := h.positions.Get(context.Background(), wallet, mintBONK)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = h.positions.Get(context.Background(), wallet, mintWIF)
	assert.NoError(t, err)

	assert.Equal(t, []storage.TradeAction{storage.ActionSyncClose}, h.actions())
	assert.True(t, h.walletConfig(t).BudgetUsedSOL.Equal(d("1")))
}

func TestSell_RecordsBuyback(t *testing.T) {
	h := newHarness(t, holdReply)
	wc := h.walletConfig(t)
	wc.BuybackEnabled = true
	wc.BuybackPercent = 10
	wc.BudgetUsedSOL = d("1")
	require.NoError(t, h.wallets.Save(context.Background(), wc))

	h.hold(t, mintBONK, "0.001", 70, false)
	h.market.set(momentumToken(mintBONK, "0.0012")) // +20%, scalp take-profit

	require.NoError(t, h.engine.Monitor(context.Background(), wallet))

	assert.Equal(t, []storage.TradeAction{storage.ActionSell, storage.ActionBuyback}, h.actions())
	buyback := h.lastTrade(t)
	assert.True(t, buyback.AmountSOL.Equal(d("0.02")), "10%% of 0.2 SOL, got %s", buyback.AmountSOL)
}

// ---------------------------------------------------------------------------
// Rebalance & cleanup
// ---------------------------------------------------------------------------

func TestRebalance_SellsOnConfidentBatchSell(t *testing.T) {
	reply := `[{"mint":"` + mintBONK + `","action":"sell","confidence":0.8},` +
		`{"mint":"` + mintWIF + `","action":"sell","confidence":0.7}]`
	h := newHarness(t, reply)
	h.hold(t, mintBONK, "0.001", 70, false)
	h.hold(t, mintWIF, "0.001", 70, false)
	h.setBudgetUsed(t, "2")
	h.market.set(momentumToken(mintBONK, "0.001"))
	h.market.set(momentumToken(mintWIF, "0.001"))

	require.NoError(t, h.engine.Rebalance(context.Background()))

	_, err := h.positions.Get(context.Background(), wallet, mintBONK)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = h.positions.Get(context.Background(), wallet, mintWIF)
	assert.NoError(t, err, "0.70 is below the rebalance threshold")
	assert.Equal(t, risk.ExitRebalance, h.lastTrade(t).Reason)
	assert.Equal(t, 1, h.provider.Calls())
}

// lossSeller answers a batch with sell for losing positions and hold for
// the rest, judging by the P&L in the prompt.
type lossSeller struct {
	mu      sync.Mutex
	prompts []string
}

func (l *lossSeller) Name() string     { return "loss-seller" }
func (l *lossSeller) Tier() intel.Tier { return intel.TierFull }

func (l *lossSeller) Complete(_ context.Context, req intel.CompletionRequest) (*intel.CompletionResponse, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prompts = append(l.prompts, req.Prompt)
	action := "hold"
	if strings.Contains(req.Prompt, `"profit_percent":-`) {
		action = "sell"
	}
	text := `[{"mint":"` + mintBONK + `","action":"` + action + `","confidence":0.8}]`
	return &intel.CompletionResponse{Text: text, Provider: l.Name()}, nil
}

func TestRebalance_JudgesEachWalletOnItsOwnProfit(t *testing.T) {
	const walletB = "5Q544fKrFoe6tsEbD7S8EmxGTJYAKtTVhAW5Q5pge4j1"
	ctx := context.Background()

	h := newHarness(t)
	ai := &lossSeller{}
	advisor := intel.NewClient(intel.ClientConfig{}, ai)
	advisor.SetClock(func() time.Time { return *h.now })
	h.deps.Advisor = advisor
	h.rebuild()

	require.NoError(t, h.wallets.Save(ctx, &storage.WalletConfig{
		Wallet:           walletB,
		Enabled:          true,
		TotalBudgetSOL:   d("10"),
		PortfolioPeakSOL: d("10"),
	}))

	// Same mint, same mark: wallet A is down 30%, wallet B up 60%.
	h.hold(t, mintBONK, "0.001", 70, false)
	h.setBudgetUsed(t, "1")
	_, err := h.positions.Open(ctx, walletB, mintBONK, "BONK", 6,
		position.Fill{AmountSOL: d("0.4375"), TokenAmountRaw: 1_000_000_000, PriceSOL: d("0.0004375")}, 70, false)
	require.NoError(t, err)
	h.paper.Seed(walletB, mintBONK, 1_000_000_000)

	h.market.set(momentumToken(mintBONK, "0.0007"))
	for _, w := range []string{wallet, walletB} {
		_, err := h.positions.Refresh(ctx, w, mintBONK, d("0.0007"))
		require.NoError(t, err)
	}

	require.NoError(t, h.engine.Rebalance(ctx))

	assert.Len(t, ai.prompts, 2, "one batch per wallet")

	_, err = h.positions.Get(ctx, wallet, mintBONK)
	assert.ErrorIs(t, err, storage.ErrNotFound, "the losing position is sold")
	_, err = h.positions.Get(ctx, walletB, mintBONK)
	assert.NoError(t, err, "the winner is held")

	require.Len(t, h.trades.All(), 1)
	assert.Equal(t, wallet, h.lastTrade(t).Wallet)
	assert.Equal(t, risk.ExitRebalance, h.lastTrade(t).Reason)
}

func TestRebalance_NoPositionsNoCall(t *testing.T) {
	h := newHarness(t, holdReply)
	require.NoError(t, h.engine.Rebalance(context.Background()))
	assert.Zero(t, h.provider.Calls())
}

func TestCleanup_DropsIdleState(t *testing.T) {
	h := newHarness(t, holdReply)
	_ = h.engine.DailyTrades(wallet)
	require.Len(t, h.engine.states, 1)

	*h.now = h.now.Add(23 * time.Hour)
	h.engine.Cleanup(context.Background())
	assert.Len(t, h.engine.states, 1)

	*h.now = h.now.Add(2 * time.Hour)
	h.engine.Cleanup(context.Background())
	assert.Empty(t, h.engine.states)
}

func TestWithWallet_RefetchesStateDroppedByCleanup(t *testing.T) {
	h := newHarness(t, holdReply)
	_ = h.engine.DailyTrades(wallet)

	// A caller fetched the state, then Cleanup dropped it before the lock.
	stale := h.engine.state(wallet)
	*h.now = h.now.Add(25 * time.Hour)
	h.engine.Cleanup(context.Background())
	require.Empty(t, h.engine.states)
	assert.False(t, lockLive(stale))

	var got *walletState
	require.NoError(t, h.engine.withWallet(wallet, func(st *walletState) error {
		got = st
		return nil
	}))
	assert.NotSame(t, stale, got)
	assert.Same(t, h.engine.states[wallet], got)
	assert.True(t, stale.mu.TryLock(), "dropped state is not left locked")
}

func TestRun_DispatchesCycles(t *testing.T) {
	h := newHarness(t, holdReply)
	ctx := context.Background()

	for _, c := range bus.Cycles {
		job := bus.NewCycleJob(c, wallet, *h.now)
		if c.Global() {
			job = bus.NewCycleJob(c, "", *h.now)
		}
		assert.NoError(t, h.engine.Run(ctx, job), c)
	}
	assert.Error(t, h.engine.Run(ctx, bus.CycleJob{Cycle: "bogus"}))

	wallets, err := h.engine.EnabledWallets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{wallet}, wallets)
}

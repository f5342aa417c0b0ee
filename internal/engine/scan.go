package engine

import (
	"context"
	"errors"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/nexus-trading/hivemind/internal/bus"
	"github.com/nexus-trading/hivemind/internal/clickhouse"
	"github.com/nexus-trading/hivemind/internal/intel"
	"github.com/nexus-trading/hivemind/internal/market"
	"github.com/nexus-trading/hivemind/internal/storage"
	"github.com/nexus-trading/hivemind/internal/strategy"
)

// QuickScan looks at the top momentum candidates with the fast tier and buys
// confident picks. A wallet without an active strategy does not trade.
func (e *Engine) QuickScan(ctx context.Context, wallet string) error {
	wc, st, ok, err := e.tradableWallet(ctx, wallet, false)
	if err != nil || !ok {
		return err
	}

	cands := e.deps.Market.GetCandidates(ctx, st.QuickFilter(0))
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].QualityScore > cands[j].QualityScore
	})
	if len(cands) > e.config.QuickScanTopN {
		cands = cands[:e.config.QuickScanTopN]
	}

	floor := max(QuickScanMinConfidence, st.MinConfidenceFraction())
	bought := 0
	for _, cand := range cands {
		if ctx.Err() != nil {
			break
		}
		a := e.deps.Advisor.Analyze(ctx, intel.AnalysisRequest{
			Candidate:     cand,
			Purpose:       intel.PurposeEntry,
			Tier:          intel.TierFast,
			RiskTolerance: st.RiskLevel,
			BudgetHintSOL: st.BudgetPerTradeSOL.InexactFloat64(),
		})
		e.recordAnalysis(ctx, wallet, bus.CycleQuickScan, a)
		if a.Action != intel.ActionBuy || a.Confidence < floor {
			continue
		}
		if e.buy(ctx, wc.Wallet, st, cand, a, string(bus.CycleQuickScan)) {
			bought++
		}
	}

	log.Debug().
		Str("wallet", wallet).
		Int("candidates", len(cands)).
		Int("bought", bought).
		Msg("engine: quick scan complete")
	return nil
}

// DeepScan regenerates a stale strategy, then runs every candidate that
// passes the strategy's filters through the full tier.
func (e *Engine) DeepScan(ctx context.Context, wallet string) error {
	wc, st, ok, err := e.tradableWallet(ctx, wallet, true)
	if err != nil || !ok {
		return err
	}

	remaining := max(st.MaxDailyTrades-e.DailyTrades(wallet), 0)
	log.Info().
		Str("wallet", wallet).
		Int("max_daily_trades", st.MaxDailyTrades).
		Int("remaining", remaining).
		Msg("engine: daily trade budget")
	if remaining == 0 {
		return nil
	}

	cands := e.deps.Market.GetCandidates(ctx, st.DeepFilter(e.config.DeepScanTopN))

	floor := max(DeepScanMinConfidence, st.MinConfidenceFraction())
	bought := 0
	for _, cand := range cands {
		if ctx.Err() != nil {
			break
		}
		a := e.deps.Advisor.Analyze(ctx, intel.AnalysisRequest{
			Candidate:     cand,
			Purpose:       intel.PurposeEntry,
			Tier:          intel.TierFull,
			RiskTolerance: st.RiskLevel,
			BudgetHintSOL: st.BudgetPerTradeSOL.InexactFloat64(),
		})
		e.recordAnalysis(ctx, wallet, bus.CycleDeepScan, a)
		if !deepEntry(a, floor, st.MinPotentialPercent) {
			continue
		}
		if e.buy(ctx, wc.Wallet, st, cand, a, string(bus.CycleDeepScan)) {
			bought++
		}
	}

	log.Info().
		Str("wallet", wallet).
		Int("candidates", len(cands)).
		Int("bought", bought).
		Msg("engine: deep scan complete")
	return nil
}

// deepEntry reports whether a full-tier answer justifies an entry.
func deepEntry(a intel.Analysis, floor, minPotential float64) bool {
	return a.Action == intel.ActionBuy &&
		a.Confidence >= floor &&
		a.PotentialUpsidePercent >= minPotential
}

// tradableWallet loads an enabled wallet and its active strategy. ok is false
// when the wallet should not trade this cycle. With regenerate set a stale
// strategy is rebuilt first.
func (e *Engine) tradableWallet(ctx context.Context, wallet string, regenerate bool) (*storage.WalletConfig, *strategy.Strategy, bool, error) {
	wc, err := e.deps.Wallets.Get(ctx, wallet)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, false, nil
		}
		return nil, nil, false, err
	}
	if !wc.Enabled {
		return nil, nil, false, nil
	}

	var st *strategy.Strategy
	if regenerate {
		regen := e.deps.Strategies.ShouldRegenerate(ctx, wallet)
		st, err = e.deps.Strategies.EnsureActive(ctx, wallet, wc.TotalBudgetSOL)
		if err == nil && regen && st != nil {
			e.deps.Audit.RecordStrategy(ctx, st)
		}
	} else {
		st, err = e.deps.Strategies.GetActive(ctx, wallet)
	}
	if err != nil {
		return nil, nil, false, err
	}
	if st == nil {
		log.Debug().Str("wallet", wallet).Msg("engine: no active strategy, not trading")
		return nil, nil, false, nil
	}
	return wc, st, true, nil
}

func (e *Engine) recordAnalysis(ctx context.Context, wallet string, cycle bus.Cycle, a intel.Analysis) {
	e.deps.Audit.RecordAIDecision(ctx, clickhouse.DecisionRow{
		Timestamp:     e.now(),
		Wallet:        wallet,
		Mint:          a.Mint,
		Cycle:         string(cycle),
		Action:        string(a.Action),
		Confidence:    a.Confidence,
		UpsidePercent: a.PotentialUpsidePercent,
		Provider:      a.Provider,
		Cached:        a.Cached,
		Fallback:      a.Fallback,
	})
}

// candidateFor builds the analysis input of a held mint from fresh market
// data, or from the position alone when the token has no price.
func candidateFor(tok *market.TokenCandidate, mint, symbol string) market.TokenCandidate {
	if tok != nil {
		return *tok
	}
	return market.TokenCandidate{Mint: mint, Symbol: symbol}
}

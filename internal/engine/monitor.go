package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/nexus-trading/hivemind/internal/bus"
	"github.com/nexus-trading/hivemind/internal/intel"
	"github.com/nexus-trading/hivemind/internal/market"
	"github.com/nexus-trading/hivemind/internal/observability"
	"github.com/nexus-trading/hivemind/internal/position"
	"github.com/nexus-trading/hivemind/internal/risk"
	"github.com/nexus-trading/hivemind/internal/solana"
	"github.com/nexus-trading/hivemind/internal/storage"
)

// Monitor manages the open positions of one wallet: on-chain sync, price
// refresh, deterministic exits, AI exits and the drawdown breaker.
func (e *Engine) Monitor(ctx context.Context, wallet string) error {
	wc, err := e.deps.Wallets.Get(ctx, wallet)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}

	if err := e.syncOnChain(ctx, wallet); err != nil {
		log.Warn().Err(err).Str("wallet", wallet).Msg("engine: on-chain sync skipped")
	}

	survivors, tokens, err := e.refreshAndExit(ctx, wallet)
	if err != nil {
		return err
	}

	riskLevel := "medium"
	if st, err := e.deps.Strategies.GetActive(ctx, wallet); err == nil && st != nil {
		riskLevel = st.RiskLevel
	}
	for _, p := range survivors {
		if ctx.Err() != nil {
			break
		}
		if tokens[p.Mint] == nil {
			continue
		}
		profit := p.LastProfitPercent
		a := e.deps.Advisor.Analyze(ctx, intel.AnalysisRequest{
			Candidate:     candidateFor(tokens[p.Mint], p.Mint, p.Symbol),
			Purpose:       intel.PurposeExit,
			Tier:          intel.TierFast,
			RiskTolerance: riskLevel,
			ProfitPercent: &profit,
			HeldFor:       p.Age(e.now()),
		})
		e.recordAnalysis(ctx, wallet, bus.CycleMonitor, a)
		if a.Action != intel.ActionSell || a.Confidence < risk.AISellThreshold(p) {
			continue
		}
		e.sellIfHeld(ctx, wallet, p.Mint, risk.ExitAI, a.ConfidencePct())
	}

	e.updateDrawdown(ctx, wallet)
	log.Debug().
		Str("wallet", wallet).
		Bool("enabled", wc.Enabled).
		Int("monitored", len(survivors)).
		Msg("engine: monitor complete")
	return nil
}

// refreshAndExit marks every position to market and sells those that hit a
// deterministic exit. It returns the positions left for AI review together
// with the market data seen for them.
func (e *Engine) refreshAndExit(ctx context.Context, wallet string) ([]*position.Position, map[string]*market.TokenCandidate, error) {
	var survivors []*position.Position
	tokens := make(map[string]*market.TokenCandidate)

	err := e.withWallet(wallet, func(ws *walletState) error {
		wc, positions, err := e.loadWallet(ctx, wallet)
		if err != nil {
			return err
		}
		for _, p := range positions {
			tok, err := e.deps.Market.GetToken(ctx, p.Mint)
			if err != nil {
				// A mint with failed sells keeps going through the exit check on
				// its last mark so it can still reach the force-close path.
				if ws.sellFailures[p.Mint] == 0 {
					log.Debug().Err(err).Str("wallet", wallet).Str("mint", p.Mint).Msg("engine: no price for held token, skipped")
					continue
				}
				log.Debug().Err(err).Str("wallet", wallet).Str("mint", p.Mint).Msg("engine: no price for failing exit")
			} else {
				tokens[p.Mint] = tok
				if refreshed, err := e.deps.Positions.Refresh(ctx, wallet, p.Mint, tok.PriceSOL); err == nil {
					p = refreshed
				} else {
					log.Warn().Err(err).Str("wallet", wallet).Str("mint", p.Mint).Msg("engine: refresh failed")
				}
			}

			exit := risk.EvaluateExit(p)
			if !exit.ShouldSell {
				survivors = append(survivors, p)
				continue
			}
			log.Info().
				Str("wallet", wallet).
				Str("mint", p.Mint).
				Str("reason", exit.Reason).
				Float64("profit_pct", p.LastProfitPercent).
				Float64("threshold", exit.Threshold).
				Msg("engine: exit triggered")
			_ = e.sellLocked(ctx, ws, wc, p, exit.Reason, p.EntryConfidence)
		}
		return nil
	})
	return survivors, tokens, err
}

// sellIfHeld sells a position under the wallet lock if it is still open.
func (e *Engine) sellIfHeld(ctx context.Context, wallet, mint, reason string, confPct float64) bool {
	sold := false
	err := e.withWallet(wallet, func(ws *walletState) error {
		wc, err := e.deps.Wallets.Get(ctx, wallet)
		if err != nil {
			return err
		}
		p, err := e.deps.Positions.Get(ctx, wallet, mint)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil
			}
			return err
		}
		if err := e.sellLocked(ctx, ws, wc, p, reason, confPct); err != nil {
			return err
		}
		sold = true
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("wallet", wallet).Str("mint", mint).Str("reason", reason).Msg("engine: sell not completed")
	}
	return sold
}

// syncOnChain closes tracked positions whose token the wallet no longer
// holds.
func (e *Engine) syncOnChain(ctx context.Context, wallet string) error {
	if e.deps.Balances == nil {
		return nil
	}
	bal, err := e.deps.Balances.GetWalletBalance(ctx, solana.Pubkey(wallet))
	if err != nil {
		return fmt.Errorf("balance %s: %w", wallet, err)
	}
	return e.withWallet(wallet, func(ws *walletState) error {
		wc, positions, err := e.loadWallet(ctx, wallet)
		if err != nil {
			return err
		}
		for _, p := range positions {
			if bal.HasToken(solana.Pubkey(p.Mint)) {
				continue
			}
			log.Warn().Str("wallet", wallet).Str("mint", p.Mint).Msg("engine: position no longer held on-chain")
			if err := e.syncClose(ctx, ws, wc, p); err != nil {
				return err
			}
		}
		return nil
	})
}

// updateDrawdown advances the wallet's drawdown breaker and publishes the
// wallet gauges.
func (e *Engine) updateDrawdown(ctx context.Context, wallet string) {
	err := e.withWallet(wallet, func(_ *walletState) error {
		wc, positions, err := e.loadWallet(ctx, wallet)
		if err != nil {
			return err
		}
		pf := e.snapshot(ctx, wc, positions)
		prev := risk.DrawdownState{PeakSOL: wc.PortfolioPeakSOL, Paused: wc.DrawdownPaused}
		next := e.deps.Risk.UpdateDrawdown(prev, pf.value)

		observability.SetWalletState(wallet, len(positions), pf.value.InexactFloat64(), next.Paused)
		if next.Paused == prev.Paused && next.PeakSOL.Equal(prev.PeakSOL) {
			return nil
		}

		wc.PortfolioPeakSOL = next.PeakSOL
		wc.DrawdownPaused = next.Paused
		wc.UpdatedAt = e.now()
		if err := e.deps.Wallets.Save(ctx, wc); err != nil {
			return fmt.Errorf("save wallet %s: %w", wallet, err)
		}
		if next.Paused != prev.Paused {
			e.deps.Audit.RecordDrawdown(ctx, wallet, next.Paused, pf.value, next.PeakSOL)
		}
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("wallet", wallet).Msg("engine: drawdown update failed")
	}
}

// Rebalance reviews the open positions of every wallet and sells the ones
// the full tier wants out of. Each wallet gets its own batch: the same mint
// held by two wallets carries two different P&L histories.
func (e *Engine) Rebalance(ctx context.Context) error {
	all, err := e.deps.Positions.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("list positions: %w", err)
	}
	if len(all) == 0 {
		return nil
	}

	var wallets []string
	byWallet := make(map[string][]*position.Position)
	for _, p := range all {
		if _, ok := byWallet[p.Wallet]; !ok {
			wallets = append(wallets, p.Wallet)
		}
		byWallet[p.Wallet] = append(byWallet[p.Wallet], p)
	}

	sold := 0
	for _, wallet := range wallets {
		if ctx.Err() != nil {
			break
		}
		held := byWallet[wallet]
		items := make([]intel.BatchItem, 0, len(held))
		for _, p := range held {
			items = append(items, intel.BatchItem{
				Mint:          p.Mint,
				Symbol:        p.Symbol,
				PriceSOL:      p.LastPriceSOL.String(),
				ProfitPercent: p.LastProfitPercent,
				HeldMinutes:   int(p.Age(e.now()).Minutes()),
			})
		}

		recs := e.deps.Advisor.AnalyzeBatch(ctx, items, intel.TierFull)
		for _, p := range held {
			rec, ok := recs[p.Mint]
			if !ok || rec.Action != intel.ActionSell || rec.Confidence < risk.RebalanceSellThreshold() {
				continue
			}
			if e.sellIfHeld(ctx, wallet, p.Mint, risk.ExitRebalance, rec.Confidence*100) {
				sold++
			}
		}
	}
	log.Info().
		Int("positions", len(all)).
		Int("wallets", len(wallets)).
		Int("sold", sold).
		Msg("engine: rebalance complete")
	return nil
}

package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/nexus-trading/hivemind/internal/executor"
	"github.com/nexus-trading/hivemind/internal/intel"
	"github.com/nexus-trading/hivemind/internal/market"
	"github.com/nexus-trading/hivemind/internal/observability"
	"github.com/nexus-trading/hivemind/internal/position"
	"github.com/nexus-trading/hivemind/internal/risk"
	"github.com/nexus-trading/hivemind/internal/rotation"
	"github.com/nexus-trading/hivemind/internal/storage"
	"github.com/nexus-trading/hivemind/internal/strategy"
)

var hundred = decimal.NewFromInt(100)

// buy runs one entry (or re-buy) through the risk guard and the executor.
// It reports whether a fill was recorded.
func (e *Engine) buy(ctx context.Context, wallet string, st *strategy.Strategy, cand market.TokenCandidate, a intel.Analysis, cycle string) bool {
	var bought bool
	err := e.withWallet(wallet, func(ws *walletState) error {
		if ws.dailyTrades >= st.MaxDailyTrades {
			log.Debug().Str("wallet", wallet).Int("daily_trades", ws.dailyTrades).Msg("engine: daily trade limit reached")
			return nil
		}
		wc, positions, err := e.loadWallet(ctx, wallet)
		if err != nil {
			return err
		}
		if !wc.Enabled {
			return nil
		}

		confPct := a.ConfidencePct()
		existing := findPosition(positions, cand.Mint)
		if existing != nil {
			if err := position.CanRebuy(existing, cand.PriceSOL, confPct); err != nil {
				log.Debug().Err(err).Str("wallet", wallet).Str("mint", cand.Mint).Msg("engine: already held, no re-buy")
				return nil
			}
		}

		pf := e.snapshot(ctx, wc, positions)
		d := e.checkBuy(wc, st, cand.Mint, a.Confidence, pf, existing)
		e.deps.Audit.RecordRiskCheck(ctx, wallet, cand.Mint, d)

		if d.CapitalShort && e.rotate(ctx, ws, wc, positions, cand.Mint, confPct, d.RequiredSOL, pf.available) {
			wc, positions, err = e.loadWallet(ctx, wallet)
			if err != nil {
				return err
			}
			existing = findPosition(positions, cand.Mint)
			pf = e.snapshot(ctx, wc, positions)
			d = e.checkBuy(wc, st, cand.Mint, a.Confidence, pf, existing)
			e.deps.Audit.RecordRiskCheck(ctx, wallet, cand.Mint, d)
		}
		if !d.Allowed {
			return nil
		}

		action := storage.ActionBuy
		if existing != nil {
			action = storage.ActionRebuy
		}

		res, err := e.deps.Executor.Buy(ctx, wallet, cand.Mint, d.SizeSOL, e.config.SlippageBps)
		if err != nil {
			observability.RecordTrade(string(action), "failed")
			return fmt.Errorf("buy %s: %w", cand.Mint, err)
		}
		price, err := executor.FillPriceSOL(res.AmountSOL, res.TokenAmountRaw, cand.Decimals)
		if err != nil {
			observability.RecordTrade(string(action), "failed")
			return fmt.Errorf("buy %s: %w", cand.Mint, err)
		}
		fill := position.Fill{
			AmountSOL:      res.AmountSOL,
			TokenAmountRaw: res.TokenAmountRaw,
			PriceSOL:       price,
			MarkPriceSOL:   cand.PriceSOL,
		}

		var p *position.Position
		if existing != nil {
			p, err = e.deps.Positions.ApplyRebuy(ctx, wallet, cand.Mint, fill, confPct)
		} else {
			p, err = e.deps.Positions.Open(ctx, wallet, cand.Mint, cand.Symbol, cand.Decimals, fill, confPct, d.Mode == risk.ModeSwing)
		}
		if err != nil {
			log.Error().Err(err).
				Str("wallet", wallet).
				Str("mint", cand.Mint).
				Str("sig", string(res.Signature)).
				Msg("engine: fill executed but position not recorded")
			return fmt.Errorf("record %s: %w", cand.Mint, err)
		}

		wc.BudgetUsedSOL = wc.BudgetUsedSOL.Add(res.AmountSOL)
		wc.UpdatedAt = e.now()
		if err := e.deps.Wallets.Save(ctx, wc); err != nil {
			log.Error().Err(err).Str("wallet", wallet).Msg("engine: budget update failed")
		}
		ws.dailyTrades++
		observability.RecordTrade(string(action), "ok")

		e.recordTrade(ctx, &storage.TradeLogEntry{
			Wallet:         wallet,
			Mint:           cand.Mint,
			Symbol:         cand.Symbol,
			Action:         action,
			Reason:         cycle,
			AmountSOL:      res.AmountSOL,
			TokenAmountRaw: res.TokenAmountRaw,
			PriceSOL:       price,
			Confidence:     confPct,
			Mode:           modeName(p),
			Signature:      string(res.Signature),
			Route:          res.Route,
		})
		bought = true
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("wallet", wallet).Str("mint", cand.Mint).Msg("engine: buy failed")
	}
	return bought
}

// checkBuy asks the risk guard to size an entry.
func (e *Engine) checkBuy(wc *storage.WalletConfig, st *strategy.Strategy, mint string, confidence float64, pf portfolio, existing *position.Position) risk.Decision {
	req := risk.BuyRequest{
		Wallet:            wc.Wallet,
		Mint:              mint,
		Confidence:        confidence,
		PortfolioSOL:      pf.value,
		AvailableSOL:      pf.available,
		StrategyBudgetSOL: st.BudgetPerTradeSOL,
		DrawdownPaused:    wc.DrawdownPaused,
		BypassDrawdown:    wc.BypassDrawdown,
	}
	if existing != nil {
		req.ExistingMintSOL = existing.ValueSOL()
	}
	return e.deps.Risk.CheckBuy(req)
}

// rotate sells the weakest position to fund a higher-conviction entry. It
// reports whether a position was sold. Must be called with the wallet lock.
func (e *Engine) rotate(ctx context.Context, ws *walletState, wc *storage.WalletConfig, positions []*position.Position, mint string, confPct float64, required, available decimal.Decimal) bool {
	others := make([]*position.Position, 0, len(positions))
	for _, p := range positions {
		if p.Mint != mint {
			others = append(others, p)
		}
	}
	choice, reason := e.deps.Rotation.FindCandidate(rotation.Request{
		NewConfidence: confPct,
		RequiredSOL:   required,
		AvailableSOL:  available,
		Positions:     others,
		Now:           e.now(),
	})
	if choice == nil {
		log.Debug().Str("wallet", wc.Wallet).Str("mint", mint).Str("reason", reason).Msg("engine: no rotation")
		return false
	}
	log.Info().
		Str("wallet", wc.Wallet).
		Str("sell", choice.Position.Mint).
		Str("for", mint).
		Float64("score", choice.Score).
		Str("reason", choice.Reason).
		Msg("engine: rotating capital")
	return e.sellLocked(ctx, ws, wc, choice.Position, risk.ExitRotation, confPct) == nil
}

// sellLocked sells a whole position and settles the wallet accounting.
// Must be called with the wallet lock held; wc is updated in place.
func (e *Engine) sellLocked(ctx context.Context, ws *walletState, wc *storage.WalletConfig, p *position.Position, reason string, confPct float64) error {
	res, err := e.deps.Executor.Sell(ctx, p.Wallet, p.Mint, p.TokenAmountRaw, e.config.SlippageBps)
	if err != nil {
		observability.RecordTrade(string(storage.ActionSell), "failed")
		ws.sellFailures[p.Mint]++
		failures := ws.sellFailures[p.Mint]
		log.Warn().Err(err).
			Str("wallet", p.Wallet).
			Str("mint", p.Mint).
			Str("reason", reason).
			Int("failures", failures).
			Msg("engine: sell failed")
		if failures >= e.config.MaxSellFailures && e.unsellable(ctx, p.Mint) {
			if ferr := e.forceClose(ctx, ws, wc, p); ferr != nil {
				return errors.Join(err, ferr)
			}
		}
		return fmt.Errorf("sell %s: %w", p.Mint, err)
	}
	delete(ws.sellFailures, p.Mint)

	pnl := res.ProceedsSOL.Sub(p.InvestedSOL)
	profitPct := 0.0
	if p.InvestedSOL.IsPositive() {
		profitPct = pnl.Div(p.InvestedSOL).Mul(hundred).InexactFloat64()
	}
	if err := e.close(ctx, wc, p, pnl); err != nil {
		log.Error().Err(err).Str("wallet", p.Wallet).Str("mint", p.Mint).Str("sig", string(res.Signature)).
			Msg("engine: sold but position not closed")
		return err
	}
	observability.RecordTrade(string(storage.ActionSell), "ok")

	var price decimal.Decimal
	if res.TokenAmountRaw > 0 {
		price, _ = executor.FillPriceSOL(res.ProceedsSOL, res.TokenAmountRaw, p.Decimals)
	}
	e.recordTrade(ctx, &storage.TradeLogEntry{
		Wallet:         p.Wallet,
		Mint:           p.Mint,
		Symbol:         p.Symbol,
		Action:         storage.ActionSell,
		Reason:         reason,
		AmountSOL:      res.ProceedsSOL,
		TokenAmountRaw: res.TokenAmountRaw,
		PriceSOL:       price,
		ProfitPercent:  profitPct,
		RealizedPnLSOL: pnl,
		Confidence:     confPct,
		Mode:           modeName(p),
		Signature:      string(res.Signature),
		Route:          res.Route,
	})
	e.recordBuyback(ctx, wc, p, pnl)
	return nil
}

// unsellable reports whether a mint has no price or too little liquidity to
// exit through the market.
func (e *Engine) unsellable(ctx context.Context, mint string) bool {
	tok, err := e.deps.Market.GetToken(ctx, mint)
	if err != nil || tok == nil || !tok.PriceSOL.IsPositive() {
		return true
	}
	return tok.LiquidityUSD < e.config.IlliquidUSD
}

// forceClose drops an unsellable position from tracking and books it as a
// full loss.
func (e *Engine) forceClose(ctx context.Context, ws *walletState, wc *storage.WalletConfig, p *position.Position) error {
	loss := p.InvestedSOL.Neg()
	if err := e.close(ctx, wc, p, loss); err != nil {
		return err
	}
	delete(ws.sellFailures, p.Mint)
	observability.RecordTrade(string(storage.ActionForceClose), "ok")
	log.Warn().
		Str("wallet", p.Wallet).
		Str("mint", p.Mint).
		Str("loss_sol", p.InvestedSOL.String()).
		Msg("engine: unsellable position force-closed")
	e.recordTrade(ctx, &storage.TradeLogEntry{
		Wallet:         p.Wallet,
		Mint:           p.Mint,
		Symbol:         p.Symbol,
		Action:         storage.ActionForceClose,
		Reason:         "unsellable",
		TokenAmountRaw: p.TokenAmountRaw,
		ProfitPercent:  -100,
		RealizedPnLSOL: loss,
		Confidence:     p.EntryConfidence,
		Mode:           modeName(p),
	})
	return nil
}

// syncClose drops a position the wallet no longer holds on-chain. The
// proceeds are unknown; the last mark is booked as realized.
func (e *Engine) syncClose(ctx context.Context, ws *walletState, wc *storage.WalletConfig, p *position.Position) error {
	pnl := p.UnrealizedPnLSOL()
	if err := e.close(ctx, wc, p, pnl); err != nil {
		return err
	}
	delete(ws.sellFailures, p.Mint)
	observability.RecordTrade(string(storage.ActionSyncClose), "ok")
	e.recordTrade(ctx, &storage.TradeLogEntry{
		Wallet:         p.Wallet,
		Mint:           p.Mint,
		Symbol:         p.Symbol,
		Action:         storage.ActionSyncClose,
		Reason:         "not held on-chain",
		AmountSOL:      p.ValueSOL(),
		PriceSOL:       p.LastPriceSOL,
		ProfitPercent:  p.LastProfitPercent,
		RealizedPnLSOL: pnl,
		Confidence:     p.EntryConfidence,
		Mode:           modeName(p),
	})
	return nil
}

// close deletes the position and releases its budget. BudgetUsed drops by
// exactly the invested amount, whatever the proceeds.
func (e *Engine) close(ctx context.Context, wc *storage.WalletConfig, p *position.Position, pnl decimal.Decimal) error {
	if err := e.deps.Positions.Delete(ctx, p.Wallet, p.Mint); err != nil {
		return err
	}
	wc.BudgetUsedSOL = wc.BudgetUsedSOL.Sub(p.InvestedSOL)
	if wc.BudgetUsedSOL.IsNegative() {
		wc.BudgetUsedSOL = decimal.Zero
	}
	wc.RealizedPnLSOL = wc.RealizedPnLSOL.Add(pnl)
	wc.UpdatedAt = e.now()
	if err := e.deps.Wallets.Save(ctx, wc); err != nil {
		return fmt.Errorf("save wallet %s: %w", wc.Wallet, err)
	}
	return nil
}

// recordBuyback logs the configured share of a realized profit as a buyback
// intent. Burns are executed elsewhere.
func (e *Engine) recordBuyback(ctx context.Context, wc *storage.WalletConfig, p *position.Position, pnl decimal.Decimal) {
	if !wc.BuybackEnabled || wc.BuybackPercent <= 0 || !pnl.IsPositive() {
		return
	}
	amount := pnl.Mul(decimal.NewFromFloat(wc.BuybackPercent)).Div(hundred)
	e.recordTrade(ctx, &storage.TradeLogEntry{
		Wallet:    wc.Wallet,
		Mint:      p.Mint,
		Symbol:    p.Symbol,
		Action:    storage.ActionBuyback,
		Reason:    fmt.Sprintf("%.0f%% of realized profit", wc.BuybackPercent),
		AmountSOL: amount,
	})
}

func (e *Engine) recordTrade(ctx context.Context, entry *storage.TradeLogEntry) {
	if err := e.deps.Audit.RecordTrade(ctx, entry); err != nil {
		log.Error().Err(err).Str("wallet", entry.Wallet).Str("action", string(entry.Action)).Msg("engine: trade log write failed")
	}
}

func modeName(p *position.Position) string {
	if p != nil && p.IsSwingTrade {
		return string(risk.ModeSwing)
	}
	return string(risk.ModeScalp)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/nexus-trading/hivemind/internal/config"
	"github.com/nexus-trading/hivemind/internal/storage"
)

// syncWallets makes the stored wallet records match the configured ones.
// Operator settings come from the config; accounting (budget used, realized
// P&L, drawdown peak) survives restarts.
func syncWallets(ctx context.Context, repo storage.WalletRepository, wallets []config.WalletConfig, now time.Time) error {
	for _, w := range wallets {
		total := decimal.NewFromFloat(w.TotalBudgetSOL)
		wc, err := repo.Get(ctx, w.Address)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			wc = &storage.WalletConfig{
				Wallet:           w.Address,
				PortfolioPeakSOL: total,
			}
		case err != nil:
			return fmt.Errorf("load wallet %s: %w", w.Address, err)
		}

		wc.Enabled = w.Enabled
		wc.TotalBudgetSOL = total
		wc.BypassDrawdown = w.BypassDrawdown
		wc.BuybackEnabled = w.BuybackEnabled
		wc.BuybackPercent = w.BuybackPercent
		wc.UpdatedAt = now
		if err := repo.Save(ctx, wc); err != nil {
			return fmt.Errorf("save wallet %s: %w", w.Address, err)
		}
		log.Info().
			Str("wallet", w.Address).
			Bool("enabled", w.Enabled).
			Str("budget_sol", total.String()).
			Msg("wallet registered")
	}
	return nil
}

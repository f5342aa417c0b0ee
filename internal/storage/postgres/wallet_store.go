package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nexus-trading/hivemind/internal/storage"
)

// WalletStore implements storage.WalletRepository using PostgreSQL.
type WalletStore struct {
	pool *Pool
}

// NewWalletStore creates a new WalletStore.
func NewWalletStore(pool *Pool) *WalletStore {
	return &WalletStore{pool: pool}
}

// Compile-time interface check.
var _ storage.WalletRepository = (*WalletStore)(nil)

const walletColumns = `wallet, enabled, total_budget_sol, budget_used_sol, realized_pnl_sol,
	portfolio_peak_sol, drawdown_paused, bypass_drawdown, buyback_enabled, buyback_percent, updated_at`

// Save inserts or replaces a wallet config.
func (s *WalletStore) Save(ctx context.Context, w *storage.WalletConfig) (err error) {
	if err := w.Validate(); err != nil {
		return err
	}
	defer func(start time.Time) { observe("wallet_save", start, err) }(time.Now())

	query := `
		INSERT INTO wallets (` + walletColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (wallet) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			total_budget_sol = EXCLUDED.total_budget_sol,
			budget_used_sol = EXCLUDED.budget_used_sol,
			realized_pnl_sol = EXCLUDED.realized_pnl_sol,
			portfolio_peak_sol = EXCLUDED.portfolio_peak_sol,
			drawdown_paused = EXCLUDED.drawdown_paused,
			bypass_drawdown = EXCLUDED.bypass_drawdown,
			buyback_enabled = EXCLUDED.buyback_enabled,
			buyback_percent = EXCLUDED.buyback_percent,
			updated_at = EXCLUDED.updated_at
	`
	_, err = s.pool.Exec(ctx, query,
		w.Wallet, w.Enabled, w.TotalBudgetSOL, w.BudgetUsedSOL, w.RealizedPnLSOL,
		w.PortfolioPeakSOL, w.DrawdownPaused, w.BypassDrawdown, w.BuybackEnabled, w.BuybackPercent, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save wallet: %w", err)
	}
	return nil
}

// Get returns the wallet config. Returns ErrNotFound if absent.
func (s *WalletStore) Get(ctx context.Context, wallet string) (_ *storage.WalletConfig, err error) {
	defer func(start time.Time) { observe("wallet_get", start, err) }(time.Now())

	query := `SELECT ` + walletColumns + ` FROM wallets WHERE wallet = $1`
	w, err := scanWallet(s.pool.QueryRow(ctx, query, wallet))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	return w, nil
}

// List returns every wallet ordered by address.
func (s *WalletStore) List(ctx context.Context) (_ []*storage.WalletConfig, err error) {
	defer func(start time.Time) { observe("wallet_list", start, err) }(time.Now())

	rows, err := s.pool.Query(ctx, `SELECT `+walletColumns+` FROM wallets ORDER BY wallet`)
	if err != nil {
		return nil, fmt.Errorf("query wallets: %w", err)
	}
	defer rows.Close()

	var result []*storage.WalletConfig
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan wallet: %w", err)
		}
		result = append(result, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wallets: %w", err)
	}
	return result, nil
}

func scanWallet(row pgx.Row) (*storage.WalletConfig, error) {
	var w storage.WalletConfig
	err := row.Scan(
		&w.Wallet, &w.Enabled, &w.TotalBudgetSOL, &w.BudgetUsedSOL, &w.RealizedPnLSOL,
		&w.PortfolioPeakSOL, &w.DrawdownPaused, &w.BypassDrawdown, &w.BuybackEnabled, &w.BuybackPercent, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WalletConfig is the persisted bot configuration and accounting of one
// managed wallet.
type WalletConfig struct {
	Wallet           string          `json:"wallet"`
	Enabled          bool            `json:"enabled"`
	TotalBudgetSOL   decimal.Decimal `json:"total_budget_sol"`
	BudgetUsedSOL    decimal.Decimal `json:"budget_used_sol"`
	RealizedPnLSOL   decimal.Decimal `json:"realized_pnl_sol"`
	PortfolioPeakSOL decimal.Decimal `json:"portfolio_peak_sol"`
	DrawdownPaused   bool            `json:"drawdown_paused"`
	BypassDrawdown   bool            `json:"bypass_drawdown"`
	BuybackEnabled   bool            `json:"buyback_enabled"`
	BuybackPercent   float64         `json:"buyback_percent"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Validate checks the accounting invariants.
func (w *WalletConfig) Validate() error {
	if w == nil || w.Wallet == "" {
		return ErrInvalidInput
	}
	if w.BudgetUsedSOL.IsNegative() || w.TotalBudgetSOL.IsNegative() {
		return ErrInvalidInput
	}
	return nil
}

// TradeAction classifies a trade log entry.
type TradeAction string

const (
	ActionBuy        TradeAction = "buy"
	ActionRebuy      TradeAction = "rebuy"
	ActionSell       TradeAction = "sell"
	ActionForceClose TradeAction = "force_close"
	ActionSyncClose  TradeAction = "sync_close"
	ActionBuyback    TradeAction = "buyback"
)

// Closes reports whether the action removed a position.
func (a TradeAction) Closes() bool {
	return a == ActionSell || a == ActionForceClose || a == ActionSyncClose
}

// TradeLogEntry is one append-only audit record.
type TradeLogEntry struct {
	ID             uuid.UUID       `json:"id"`
	Wallet         string          `json:"wallet"`
	Mint           string          `json:"mint"`
	Symbol         string          `json:"symbol"`
	Action         TradeAction     `json:"action"`
	Reason         string          `json:"reason"`
	AmountSOL      decimal.Decimal `json:"amount_sol"`
	TokenAmountRaw uint64          `json:"token_amount_raw"`
	PriceSOL       decimal.Decimal `json:"price_sol"`
	ProfitPercent  float64         `json:"profit_percent"`
	RealizedPnLSOL decimal.Decimal `json:"realized_pnl_sol"`
	Confidence     float64         `json:"confidence"` // 0-100
	Mode           string          `json:"mode"`
	Signature      string          `json:"signature,omitempty"`
	Route          string          `json:"route,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

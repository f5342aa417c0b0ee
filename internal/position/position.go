// Package position tracks open token positions per wallet.
package position

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MaxRebuys is the number of averaging-down re-buys allowed per position.
const MaxRebuys = 2

// RebuyDropPct is the minimum drop from the entry price before a re-buy.
const RebuyDropPct = 10.0

var (
	// ErrRebuyLimit is returned when a position already has MaxRebuys re-buys.
	ErrRebuyLimit = errors.New("position: re-buy limit reached")
	// ErrRebuyNotAllowed is returned when price or confidence do not justify
	// averaging down.
	ErrRebuyNotAllowed = errors.New("position: re-buy not allowed")
	// ErrInvalidFill is returned for fills with non-positive amounts or price.
	ErrInvalidFill = errors.New("position: invalid fill")
)

// Position is an open holding of one mint by one wallet.
type Position struct {
	ID              uuid.UUID       `json:"id"`
	Wallet          string          `json:"wallet"`
	Mint            string          `json:"mint"`
	Symbol          string          `json:"symbol"`
	Decimals        uint8           `json:"decimals"`
	EntryPriceSOL   decimal.Decimal `json:"entry_price_sol"`
	InvestedSOL     decimal.Decimal `json:"invested_sol"`
	TokenAmountRaw  uint64          `json:"token_amount_raw"`
	EntryConfidence float64         `json:"entry_confidence"` // 0-100
	IsSwingTrade    bool            `json:"is_swing_trade"`
	RebuyCount      int             `json:"rebuy_count"`

	LastPriceSOL      decimal.Decimal `json:"last_price_sol"`
	LastProfitPercent float64         `json:"last_profit_percent"`
	PeakProfitPercent float64         `json:"peak_profit_percent"`

	OpenedAt  time.Time `json:"opened_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProfitPercent returns the percent change of price relative to the entry.
func (p *Position) ProfitPercent(price decimal.Decimal) float64 {
	if p.EntryPriceSOL.IsZero() {
		return 0
	}
	pct, _ := price.Sub(p.EntryPriceSOL).Div(p.EntryPriceSOL).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}

// ValueSOL returns InvestedSOL scaled by the last observed profit.
func (p *Position) ValueSOL() decimal.Decimal {
	return p.InvestedSOL.Mul(decimal.NewFromFloat(1 + p.LastProfitPercent/100))
}

// UnrealizedPnLSOL returns the mark-to-market gain of the position.
func (p *Position) UnrealizedPnLSOL() decimal.Decimal {
	return p.ValueSOL().Sub(p.InvestedSOL)
}

// Age returns how long the position has been open.
func (p *Position) Age(now time.Time) time.Duration {
	return now.Sub(p.OpenedAt)
}

// Fill is an executed buy.
type Fill struct {
	AmountSOL      decimal.Decimal
	TokenAmountRaw uint64
	PriceSOL       decimal.Decimal

	// MarkPriceSOL is the market price the buy was decided at. Re-buy rules
	// are checked against it; zero means PriceSOL.
	MarkPriceSOL decimal.Decimal
}

func (f Fill) markPrice() decimal.Decimal {
	if f.MarkPriceSOL.IsPositive() {
		return f.MarkPriceSOL
	}
	return f.PriceSOL
}

func (f Fill) validate() error {
	if !f.AmountSOL.IsPositive() || !f.PriceSOL.IsPositive() || f.TokenAmountRaw == 0 {
		return ErrInvalidFill
	}
	return nil
}

// Repository persists positions. One record per (wallet, mint).
type Repository interface {
	// Create stores a new position. Returns storage.ErrDuplicateKey when the
	// wallet already holds the mint.
	Create(ctx context.Context, p *Position) error

	// Get returns storage.ErrNotFound when absent.
	Get(ctx context.Context, wallet, mint string) (*Position, error)

	// List returns the wallet's positions ordered by OpenedAt ASC.
	List(ctx context.Context, wallet string) ([]*Position, error)

	// ListAll returns every position of every wallet.
	ListAll(ctx context.Context) ([]*Position, error)

	// Update replaces an existing position. Returns storage.ErrNotFound when absent.
	Update(ctx context.Context, p *Position) error

	// Delete removes a position. Returns storage.ErrNotFound when absent.
	Delete(ctx context.Context, wallet, mint string) error
}

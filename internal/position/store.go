package position

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Store applies position lifecycle rules on top of a Repository. Callers
// serialize mutations of one wallet; the Store itself holds no lock.
type Store struct {
	repo Repository
	now  func() time.Time
}

// NewStore creates a Store over repo.
func NewStore(repo Repository) *Store {
	return &Store{repo: repo, now: time.Now}
}

// SetClock overrides the time source.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Open records a new position from an executed buy.
func (s *Store) Open(ctx context.Context, wallet, mint, symbol string, decimals uint8, fill Fill, confidence float64, swing bool) (*Position, error) {
	if err := fill.validate(); err != nil {
		return nil, err
	}
	now := s.now()
	p := &Position{
		ID:              uuid.New(),
		Wallet:          wallet,
		Mint:            mint,
		Symbol:          symbol,
		Decimals:        decimals,
		EntryPriceSOL:   fill.PriceSOL,
		InvestedSOL:     fill.AmountSOL,
		TokenAmountRaw:  fill.TokenAmountRaw,
		EntryConfidence: confidence,
		IsSwingTrade:    swing,
		LastPriceSOL:    fill.PriceSOL,
		OpenedAt:        now,
		UpdatedAt:       now,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create position %s/%s: %w", wallet, mint, err)
	}
	log.Info().
		Str("wallet", wallet).
		Str("mint", mint).
		Str("invested_sol", fill.AmountSOL.String()).
		Float64("confidence", confidence).
		Bool("swing", swing).
		Msg("position: opened")
	return p, nil
}

// Get returns one position.
func (s *Store) Get(ctx context.Context, wallet, mint string) (*Position, error) {
	return s.repo.Get(ctx, wallet, mint)
}

// List returns the wallet's open positions.
func (s *Store) List(ctx context.Context, wallet string) ([]*Position, error) {
	return s.repo.List(ctx, wallet)
}

// ListAll returns every open position.
func (s *Store) ListAll(ctx context.Context) ([]*Position, error) {
	return s.repo.ListAll(ctx)
}

// CanRebuy checks the averaging-down rules without side effects.
func CanRebuy(p *Position, price decimal.Decimal, confidence float64) error {
	if p.RebuyCount >= MaxRebuys {
		return ErrRebuyLimit
	}
	if p.ProfitPercent(price) > -RebuyDropPct {
		return fmt.Errorf("%w: price has not dropped %.0f%%", ErrRebuyNotAllowed, RebuyDropPct)
	}
	if confidence <= p.EntryConfidence {
		return fmt.Errorf("%w: confidence %.1f not above entry %.1f", ErrRebuyNotAllowed, confidence, p.EntryConfidence)
	}
	return nil
}

// ApplyRebuy folds an executed re-buy into the position. The entry price
// becomes the investment-weighted average of the old entry and the fill.
func (s *Store) ApplyRebuy(ctx context.Context, wallet, mint string, fill Fill, confidence float64) (*Position, error) {
	if err := fill.validate(); err != nil {
		return nil, err
	}
	p, err := s.repo.Get(ctx, wallet, mint)
	if err != nil {
		return nil, err
	}
	if err := CanRebuy(p, fill.markPrice(), confidence); err != nil {
		return nil, err
	}

	total := p.InvestedSOL.Add(fill.AmountSOL)
	p.EntryPriceSOL = p.EntryPriceSOL.Mul(p.InvestedSOL).
		Add(fill.PriceSOL.Mul(fill.AmountSOL)).
		Div(total)
	p.InvestedSOL = total
	p.TokenAmountRaw += fill.TokenAmountRaw
	p.RebuyCount++
	p.LastPriceSOL = fill.PriceSOL
	p.LastProfitPercent = p.ProfitPercent(fill.PriceSOL)
	p.UpdatedAt = s.now()

	if err := s.repo.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("update position %s/%s: %w", wallet, mint, err)
	}
	log.Info().
		Str("wallet", wallet).
		Str("mint", mint).
		Int("rebuy_count", p.RebuyCount).
		Str("entry_price_sol", p.EntryPriceSOL.String()).
		Msg("position: re-buy applied")
	return p, nil
}

// Refresh marks the position to price and advances the profit high-water mark.
func (s *Store) Refresh(ctx context.Context, wallet, mint string, price decimal.Decimal) (*Position, error) {
	p, err := s.repo.Get(ctx, wallet, mint)
	if err != nil {
		return nil, err
	}
	if !price.IsPositive() {
		return p, nil
	}
	p.LastPriceSOL = price
	p.LastProfitPercent = p.ProfitPercent(price)
	if p.LastProfitPercent > p.PeakProfitPercent {
		p.PeakProfitPercent = p.LastProfitPercent
	}
	p.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("update position %s/%s: %w", wallet, mint, err)
	}
	return p, nil
}

// Delete closes the position record.
func (s *Store) Delete(ctx context.Context, wallet, mint string) error {
	if err := s.repo.Delete(ctx, wallet, mint); err != nil {
		return fmt.Errorf("delete position %s/%s: %w", wallet, mint, err)
	}
	log.Info().Str("wallet", wallet).Str("mint", mint).Msg("position: closed")
	return nil
}

package executor

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/nexus-trading/hivemind/internal/market"
	"github.com/nexus-trading/hivemind/internal/solana"
)

// PriceSource resolves the current SOL price of a mint. market.Cache
// satisfies it.
type PriceSource interface {
	GetToken(ctx context.Context, mint string) (*market.TokenCandidate, error)
}

// PaperExecutor simulates swaps against market prices for dry runs.
// Fills are immediate; slippage is charged against the trader on both
// sides. Simulated token holdings are tracked so sells cannot exceed buys.
//
// Thread-safe: all shared state is guarded by mu.
type PaperExecutor struct {
	prices      PriceSource
	slippageBps int64

	mu       sync.Mutex
	holdings map[string]map[string]uint64 // wallet -> mint -> raw amount

	buys  atomic.Int64
	sells atomic.Int64
}

var _ Route = (*PaperExecutor)(nil)

// NewPaperExecutor creates a paper executor. slippageBps is applied to every
// fill (e.g. 50 = 0.5%).
func NewPaperExecutor(prices PriceSource, slippageBps int) *PaperExecutor {
	log.Info().Int("slippage_bps", slippageBps).Msg("executor: paper trading enabled")
	return &PaperExecutor{
		prices:      prices,
		slippageBps: int64(slippageBps),
		holdings:    make(map[string]map[string]uint64),
	}
}

func (p *PaperExecutor) Name() string { return "paper" }

func (p *PaperExecutor) price(ctx context.Context, mint string) (decimal.Decimal, uint8, error) {
	tok, err := p.prices.GetToken(ctx, mint)
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("paper: price %s: %w", mint, err)
	}
	if !tok.PriceSOL.IsPositive() {
		return decimal.Zero, 0, fmt.Errorf("%w: no SOL price for %s", ErrNoRoute, mint)
	}
	return tok.PriceSOL, tok.Decimals, nil
}

func (p *PaperExecutor) slip(sign int64) decimal.Decimal {
	return decimal.NewFromInt(10_000 + sign*p.slippageBps).Div(decimal.NewFromInt(10_000))
}

// Buy simulates a SOL -> token swap at the market price plus slippage.
func (p *PaperExecutor) Buy(ctx context.Context, wallet, mint string, amountSOL decimal.Decimal, _ int) (*BuyResult, error) {
	if !amountSOL.IsPositive() {
		return nil, fmt.Errorf("%w: %s SOL", ErrInvalidAmount, amountSOL)
	}
	price, decimals, err := p.price(ctx, mint)
	if err != nil {
		return nil, err
	}

	fillPrice := price.Mul(p.slip(1))
	raw := amountSOL.Div(fillPrice).Shift(int32(decimals)).Truncate(0)
	if !raw.IsPositive() {
		return nil, fmt.Errorf("%w: %s SOL buys no %s", ErrInvalidAmount, amountSOL, mint)
	}
	out := raw.BigInt().Uint64()

	p.mu.Lock()
	if p.holdings[wallet] == nil {
		p.holdings[wallet] = make(map[string]uint64)
	}
	p.holdings[wallet][mint] += out
	p.mu.Unlock()
	p.buys.Add(1)

	sig := solana.Signature("paper-" + uuid.NewString())
	log.Info().
		Str("wallet", wallet).
		Str("mint", mint).
		Str("amount_sol", amountSOL.String()).
		Uint64("out", out).
		Str("sig", string(sig)).
		Msg("executor: paper buy filled")
	return &BuyResult{Signature: sig, AmountSOL: amountSOL, TokenAmountRaw: out, Route: p.Name()}, nil
}

// Sell simulates a token -> SOL swap at the market price minus slippage.
func (p *PaperExecutor) Sell(ctx context.Context, wallet, mint string, amountRaw uint64, _ int) (*SellResult, error) {
	if amountRaw == 0 {
		return nil, fmt.Errorf("%w: zero token amount", ErrInvalidAmount)
	}

	price, decimals, err := p.price(ctx, mint)
	if err != nil {
		return nil, err
	}
	tokens := decimal.NewFromBigInt(new(big.Int).SetUint64(amountRaw), -int32(decimals))
	proceeds := tokens.Mul(price).Mul(p.slip(-1)).Truncate(9)

	p.mu.Lock()
	held := p.holdings[wallet][mint]
	if held < amountRaw {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: holding %d < %d", ErrInvalidAmount, held, amountRaw)
	}
	p.holdings[wallet][mint] -= amountRaw
	if p.holdings[wallet][mint] == 0 {
		delete(p.holdings[wallet], mint)
	}
	p.mu.Unlock()
	p.sells.Add(1)

	sig := solana.Signature("paper-" + uuid.NewString())
	log.Info().
		Str("wallet", wallet).
		Str("mint", mint).
		Uint64("amount_raw", amountRaw).
		Str("proceeds_sol", proceeds.String()).
		Str("sig", string(sig)).
		Msg("executor: paper sell filled")
	return &SellResult{Signature: sig, TokenAmountRaw: amountRaw, ProceedsSOL: proceeds, Route: p.Name()}, nil
}

// Holding returns the simulated raw balance of mint in wallet.
func (p *PaperExecutor) Holding(wallet, mint string) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.holdings[wallet][mint]
}

// Seed credits a simulated holding, e.g. positions restored from storage at
// startup.
func (p *PaperExecutor) Seed(wallet, mint string, amountRaw uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.holdings[wallet] == nil {
		p.holdings[wallet] = make(map[string]uint64)
	}
	p.holdings[wallet][mint] = amountRaw
}

// Stats returns paper fill counters.
func (p *PaperExecutor) Stats() map[string]int64 {
	return map[string]int64{
		"buys":  p.buys.Load(),
		"sells": p.sells.Load(),
	}
}

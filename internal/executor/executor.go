// Package executor turns buy and sell decisions into on-chain swaps.
package executor

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/nexus-trading/hivemind/internal/solana"
)

var (
	// ErrNoSigner is returned when no key is loaded for the wallet.
	ErrNoSigner = errors.New("executor: no signer for wallet")
	// ErrNoRoute is returned when the aggregator has no route for the pair.
	ErrNoRoute = errors.New("executor: no route")
	// ErrTxFailed is returned when the transaction landed with an error.
	ErrTxFailed = errors.New("executor: transaction failed")
	// ErrConfirmTimeout is returned when confirmation polling gave up.
	ErrConfirmTimeout = errors.New("executor: confirmation timeout")
	// ErrInvalidAmount is returned for non-positive trade sizes.
	ErrInvalidAmount = errors.New("executor: invalid amount")
)

// BuyResult is a confirmed SOL -> token swap.
type BuyResult struct {
	Signature      solana.Signature `json:"signature"`
	AmountSOL      decimal.Decimal  `json:"amount_sol"`
	TokenAmountRaw uint64           `json:"token_amount_raw"`
	Route          string           `json:"route"`
}

// SellResult is a confirmed token -> SOL swap.
type SellResult struct {
	Signature      solana.Signature `json:"signature"`
	TokenAmountRaw uint64           `json:"token_amount_raw"`
	ProceedsSOL    decimal.Decimal  `json:"proceeds_sol"`
	Route          string           `json:"route"`
}

// TradeExecutor executes swaps for managed wallets. Implementations block
// until the swap is confirmed or has failed.
type TradeExecutor interface {
	Buy(ctx context.Context, wallet, mint string, amountSOL decimal.Decimal, slippageBps int) (*BuyResult, error)
	Sell(ctx context.Context, wallet, mint string, amountRaw uint64, slippageBps int) (*SellResult, error)
}

// Route is one named execution path.
type Route interface {
	TradeExecutor
	Name() string
}

// Router tries the primary route and falls back to the secondary.
type Router struct {
	primary   Route
	secondary Route
}

// NewRouter creates a router. secondary may be nil.
func NewRouter(primary, secondary Route) *Router {
	return &Router{primary: primary, secondary: secondary}
}

// Buy executes on the primary route, then the secondary.
func (r *Router) Buy(ctx context.Context, wallet, mint string, amountSOL decimal.Decimal, slippageBps int) (*BuyResult, error) {
	res, err := r.primary.Buy(ctx, wallet, mint, amountSOL, slippageBps)
	if err == nil || !r.canFallback(ctx, err) {
		return res, err
	}
	log.Warn().Err(err).
		Str("wallet", wallet).
		Str("mint", mint).
		Str("route", r.primary.Name()).
		Msg("executor: primary buy failed, trying secondary")

	res2, err2 := r.secondary.Buy(ctx, wallet, mint, amountSOL, slippageBps)
	if err2 != nil {
		return nil, errors.Join(err, err2)
	}
	return res2, nil
}

// Sell executes on the primary route, then the secondary.
func (r *Router) Sell(ctx context.Context, wallet, mint string, amountRaw uint64, slippageBps int) (*SellResult, error) {
	res, err := r.primary.Sell(ctx, wallet, mint, amountRaw, slippageBps)
	if err == nil || !r.canFallback(ctx, err) {
		return res, err
	}
	log.Warn().Err(err).
		Str("wallet", wallet).
		Str("mint", mint).
		Str("route", r.primary.Name()).
		Msg("executor: primary sell failed, trying secondary")

	res2, err2 := r.secondary.Sell(ctx, wallet, mint, amountRaw, slippageBps)
	if err2 != nil {
		return nil, errors.Join(err, err2)
	}
	return res2, nil
}

// canFallback reports whether a primary failure may be retried elsewhere.
// A transaction that already landed with an error, or one still unconfirmed,
// must not be re-sent on another route.
func (r *Router) canFallback(ctx context.Context, err error) bool {
	if r.secondary == nil || ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, ErrTxFailed) && !errors.Is(err, ErrConfirmTimeout)
}

// FillPriceSOL derives the SOL price of one whole token from a fill.
func FillPriceSOL(amountSOL decimal.Decimal, tokenAmountRaw uint64, decimals uint8) (decimal.Decimal, error) {
	if tokenAmountRaw == 0 || !amountSOL.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: sol=%s raw=%d", ErrInvalidAmount, amountSOL, tokenAmountRaw)
	}
	tokens := decimal.NewFromBigInt(new(big.Int).SetUint64(tokenAmountRaw), -int32(decimals))
	return amountSOL.Div(tokens), nil
}

func lamports(sol decimal.Decimal) uint64 {
	return uint64(sol.Shift(9).IntPart())
}

package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/nexus-trading/hivemind/internal/solana"
)

// ---------------------------------------------------------------------------
// Jupiter swap route: quote -> swap tx -> sign -> send -> confirm
// ---------------------------------------------------------------------------

// JupiterConfig configures one Jupiter swap route.
type JupiterConfig struct {
	Name            string
	BaseURL         string // e.g. https://quote-api.jup.ag/v6
	Timeout         time.Duration
	PriorityFee     uint64 // micro-lamports per CU; 0 = ask the RPC
	ConfirmInterval time.Duration
	ConfirmTimeout  time.Duration
}

// JupiterRoute executes swaps through a Jupiter-compatible quote/swap API.
type JupiterRoute struct {
	config     JupiterConfig
	httpClient *http.Client
	rpc        solana.RPCClient

	mu      sync.RWMutex
	signers map[string]solana.Signer

	quoteCount atomic.Int64
	swapCount  atomic.Int64
	errorCount atomic.Int64
}

// NewJupiterRoute creates a Jupiter route.
func NewJupiterRoute(config JupiterConfig, rpc solana.RPCClient) *JupiterRoute {
	if config.Name == "" {
		config.Name = "jupiter"
	}
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}
	if config.ConfirmInterval == 0 {
		config.ConfirmInterval = 500 * time.Millisecond
	}
	if config.ConfirmTimeout == 0 {
		config.ConfirmTimeout = 45 * time.Second
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &JupiterRoute{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		rpc:        rpc,
		signers:    make(map[string]solana.Signer),
	}
}

func (j *JupiterRoute) Name() string { return j.config.Name }

// AddSigner registers the key of a managed wallet.
func (j *JupiterRoute) AddSigner(s solana.Signer) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.signers[string(s.Pubkey())] = s
}

func (j *JupiterRoute) signer(wallet string) (solana.Signer, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	s, ok := j.signers[wallet]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSigner, wallet)
	}
	return s, nil
}

// Buy swaps amountSOL of SOL into mint.
func (j *JupiterRoute) Buy(ctx context.Context, wallet, mint string, amountSOL decimal.Decimal, slippageBps int) (*BuyResult, error) {
	if !amountSOL.IsPositive() {
		return nil, fmt.Errorf("%w: %s SOL", ErrInvalidAmount, amountSOL)
	}
	quote, sig, err := j.swap(ctx, wallet, string(solana.SOLMint), mint, lamports(amountSOL), slippageBps)
	if err != nil {
		return nil, err
	}
	out, err := strconv.ParseUint(quote.OutAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("jupiter: parse out amount %q: %w", quote.OutAmount, err)
	}
	return &BuyResult{
		Signature:      sig,
		AmountSOL:      amountSOL,
		TokenAmountRaw: out,
		Route:          j.config.Name,
	}, nil
}

// Sell swaps amountRaw of mint back into SOL.
func (j *JupiterRoute) Sell(ctx context.Context, wallet, mint string, amountRaw uint64, slippageBps int) (*SellResult, error) {
	if amountRaw == 0 {
		return nil, fmt.Errorf("%w: zero token amount", ErrInvalidAmount)
	}
	quote, sig, err := j.swap(ctx, wallet, mint, string(solana.SOLMint), amountRaw, slippageBps)
	if err != nil {
		return nil, err
	}
	out, err := strconv.ParseUint(quote.OutAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("jupiter: parse out amount %q: %w", quote.OutAmount, err)
	}
	return &SellResult{
		Signature:      sig,
		TokenAmountRaw: amountRaw,
		ProceedsSOL:    solana.LamportsToSOL(out),
		Route:          j.config.Name,
	}, nil
}

func (j *JupiterRoute) swap(ctx context.Context, wallet, inMint, outMint string, amount uint64, slippageBps int) (*quoteResponse, solana.Signature, error) {
	signer, err := j.signer(wallet)
	if err != nil {
		return nil, "", err
	}

	start := time.Now()
	quote, raw, err := j.quote(ctx, inMint, outMint, amount, slippageBps)
	if err != nil {
		j.errorCount.Add(1)
		return nil, "", err
	}

	fee := j.config.PriorityFee
	if fee == 0 {
		if f, err := j.rpc.GetRecentPriorityFee(ctx); err == nil {
			fee = f
		}
	}

	unsigned, err := j.buildSwap(ctx, raw, wallet, fee)
	if err != nil {
		j.errorCount.Add(1)
		return nil, "", err
	}
	signed, err := signer.SignTransaction(unsigned)
	if err != nil {
		return nil, "", fmt.Errorf("jupiter: sign: %w", err)
	}
	sig, err := j.rpc.SendTransaction(ctx, signed)
	if err != nil {
		j.errorCount.Add(1)
		return nil, "", fmt.Errorf("jupiter: send: %w", err)
	}
	if err := j.confirm(ctx, sig); err != nil {
		j.errorCount.Add(1)
		return nil, sig, err
	}

	j.swapCount.Add(1)
	log.Info().
		Str("route", j.config.Name).
		Str("wallet", wallet).
		Str("in", inMint).
		Str("out", outMint).
		Uint64("in_amount", amount).
		Str("out_amount", quote.OutAmount).
		Str("price_impact", quote.PriceImpactPct).
		Str("sig", string(sig)).
		Int64("latency_ms", time.Since(start).Milliseconds()).
		Msg("jupiter: swap confirmed")
	return quote, sig, nil
}

type quoteResponse struct {
	InputMint      string `json:"inputMint"`
	OutputMint     string `json:"outputMint"`
	InAmount       string `json:"inAmount"`
	OutAmount      string `json:"outAmount"`
	PriceImpactPct string `json:"priceImpactPct"`
	SlippageBps    int    `json:"slippageBps"`
	RoutePlan      []struct {
		Percent int `json:"percent"`
	} `json:"routePlan"`
}

func (j *JupiterRoute) quote(ctx context.Context, inMint, outMint string, amount uint64, slippageBps int) (*quoteResponse, json.RawMessage, error) {
	q := url.Values{}
	q.Set("inputMint", inMint)
	q.Set("outputMint", outMint)
	q.Set("amount", strconv.FormatUint(amount, 10))
	q.Set("slippageBps", strconv.Itoa(slippageBps))
	q.Set("onlyDirectRoutes", "false")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.config.BaseURL+"/quote?"+q.Encode(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("jupiter: create quote request: %w", err)
	}
	body, err := j.do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("jupiter: quote: %w", err)
	}
	j.quoteCount.Add(1)

	var quote quoteResponse
	if err := json.Unmarshal(body, &quote); err != nil {
		return nil, nil, fmt.Errorf("jupiter: parse quote: %w", err)
	}
	if quote.OutAmount == "" || quote.OutAmount == "0" || len(quote.RoutePlan) == 0 {
		return nil, nil, fmt.Errorf("%w: %s -> %s", ErrNoRoute, inMint, outMint)
	}
	return &quote, body, nil
}

type swapRequest struct {
	QuoteResponse                 json.RawMessage `json:"quoteResponse"`
	UserPublicKey                 string          `json:"userPublicKey"`
	WrapAndUnwrapSOL              bool            `json:"wrapAndUnwrapSol"`
	ComputeUnitPriceMicroLamports uint64          `json:"computeUnitPriceMicroLamports,omitempty"`
	DynamicComputeUnitLimit       bool            `json:"dynamicComputeUnitLimit"`
}

type swapResponse struct {
	SwapTransaction      string `json:"swapTransaction"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

func (j *JupiterRoute) buildSwap(ctx context.Context, quote json.RawMessage, wallet string, fee uint64) (string, error) {
	payload, err := json.Marshal(swapRequest{
		QuoteResponse:                 quote,
		UserPublicKey:                 wallet,
		WrapAndUnwrapSOL:              true,
		ComputeUnitPriceMicroLamports: fee,
		DynamicComputeUnitLimit:       true,
	})
	if err != nil {
		return "", fmt.Errorf("jupiter: marshal swap request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.config.BaseURL+"/swap", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("jupiter: create swap request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	body, err := j.do(req)
	if err != nil {
		return "", fmt.Errorf("jupiter: swap: %w", err)
	}

	var resp swapResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("jupiter: parse swap response: %w", err)
	}
	if resp.SwapTransaction == "" {
		return "", errors.New("jupiter: empty swap transaction")
	}
	return resp.SwapTransaction, nil
}

func (j *JupiterRoute) do(req *http.Request) ([]byte, error) {
	resp, err := j.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	return body, nil
}

var errPending = errors.New("pending")

// confirm polls the signature status with exponential backoff until the
// transaction lands, fails, or ConfirmTimeout elapses.
func (j *JupiterRoute) confirm(ctx context.Context, sig solana.Signature) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = j.config.ConfirmInterval
	b.MaxInterval = 4 * j.config.ConfirmInterval
	b.MaxElapsedTime = j.config.ConfirmTimeout

	op := func() error {
		status, err := j.rpc.GetTransactionStatus(ctx, sig)
		if err != nil {
			return err
		}
		switch {
		case status.Landed():
			return nil
		case status == solana.TxFailed:
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrTxFailed, sig))
		default:
			return errPending
		}
	}

	err := backoff.Retry(op, backoff.WithContext(b, ctx))
	if err == nil || errors.Is(err, ErrTxFailed) {
		return err
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %s: %v", ErrConfirmTimeout, sig, ctx.Err())
	}
	return fmt.Errorf("%w: %s: %v", ErrConfirmTimeout, sig, err)
}

// RouteStats returns route counters.
type RouteStats struct {
	Quotes int64 `json:"quotes"`
	Swaps  int64 `json:"swaps"`
	Errors int64 `json:"errors"`
}

func (j *JupiterRoute) Stats() RouteStats {
	return RouteStats{
		Quotes: j.quoteCount.Load(),
		Swaps:  j.swapCount.Load(),
		Errors: j.errorCount.Load(),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

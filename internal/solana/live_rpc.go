package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Live RPC Client: Solana JSON-RPC with rate limiting, retry and breaker
// ---------------------------------------------------------------------------

// LiveRPCClient connects to a real Solana RPC endpoint.
type LiveRPCClient struct {
	config     RPCConfig
	httpClient *http.Client

	// Token bucket refilled at RateLimitRPS.
	limiter chan struct{}
	stop    context.CancelFunc

	nextID atomic.Int64

	consecutiveErrors atomic.Int64
	circuitOpenUntil  atomic.Int64 // unix millis

	requestCount atomic.Int64
	errorCount   atomic.Int64
	latencySum   atomic.Int64 // cumulative microseconds
}

const (
	circuitBreakerThreshold = 10
	circuitBreakerCooldown  = 30 * time.Second
)

// errRetryable marks failures worth another attempt.
var errRetryable = errors.New("retryable")

// NewLiveRPCClient creates a live Solana RPC client.
func NewLiveRPCClient(config RPCConfig) *LiveRPCClient {
	def := DefaultRPCConfig()
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = def.MaxRetries
	}
	if config.RateLimitRPS <= 0 {
		config.RateLimitRPS = def.RateLimitRPS
	}

	bucketSize := int(config.RateLimitRPS)
	if bucketSize < 1 {
		bucketSize = 1
	}
	limiter := make(chan struct{}, bucketSize)
	for i := 0; i < bucketSize; i++ {
		limiter <- struct{}{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &LiveRPCClient{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    limiter,
		stop:       cancel,
	}

	go c.refill(ctx)
	return c
}

func (c *LiveRPCClient) refill(ctx context.Context) {
	interval := time.Duration(float64(time.Second) / c.config.RateLimitRPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case c.limiter <- struct{}{}:
			default:
			}
		}
	}
}

// Close stops the rate limiter.
func (c *LiveRPCClient) Close() {
	c.stop()
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// call makes a rate-limited, retried JSON-RPC call.
func (c *LiveRPCClient) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	if until := c.circuitOpenUntil.Load(); until > time.Now().UnixMilli() {
		return nil, fmt.Errorf("rpc: circuit breaker open for %s", method)
	}

	select {
	case <-c.limiter:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * 500 * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		result, err := c.do(ctx, method, body)
		if err == nil {
			c.consecutiveErrors.Store(0)
			return result, nil
		}
		lastErr = err
		if !errors.Is(err, errRetryable) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("rpc: %s failed after %d attempts: %w", method, c.config.MaxRetries+1, lastErr)
}

func (c *LiveRPCClient) do(ctx context.Context, method string, body []byte) (json.RawMessage, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("rpc: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordError()
		return nil, fmt.Errorf("rpc: %s http error: %v: %w", method, err, errRetryable)
	}
	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		c.recordError()
		return nil, fmt.Errorf("rpc: %s read response: %v: %w", method, err, errRetryable)
	}

	c.requestCount.Add(1)
	c.latencySum.Add(time.Since(start).Microseconds())

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		// Rate limiting is not an endpoint fault; it does not trip the breaker.
		c.errorCount.Add(1)
		return nil, fmt.Errorf("rpc: %s rate limited: %w", method, errRetryable)
	case resp.StatusCode != http.StatusOK:
		c.recordError()
		return nil, fmt.Errorf("rpc: %s HTTP %d: %s: %w", method, resp.StatusCode, truncate(string(respBody), 200), errRetryable)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		c.recordError()
		return nil, fmt.Errorf("rpc: %s unmarshal response: %v: %w", method, err, errRetryable)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("rpc: %s error %d: %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

func (c *LiveRPCClient) recordError() {
	c.errorCount.Add(1)
	count := c.consecutiveErrors.Add(1)
	if count >= circuitBreakerThreshold {
		until := time.Now().Add(circuitBreakerCooldown).UnixMilli()
		if c.circuitOpenUntil.Swap(until) < time.Now().UnixMilli() {
			log.Error().Int64("errors", count).Msg("rpc: circuit breaker open")
		}
		c.consecutiveErrors.Store(0)
	}
}

// ---------------------------------------------------------------------------
// RPCClient implementation
// ---------------------------------------------------------------------------

// GetWalletBalance fetches SOL balance plus SPL token accounts of both token
// programs.
func (c *LiveRPCClient) GetWalletBalance(ctx context.Context, wallet Pubkey) (*WalletBalance, error) {
	solResult, err := c.call(ctx, "getBalance", []any{string(wallet), map[string]any{"commitment": "confirmed"}})
	if err != nil {
		return nil, err
	}
	var balResp struct {
		Value uint64 `json:"value"`
	}
	if err := json.Unmarshal(solResult, &balResp); err != nil {
		return nil, fmt.Errorf("rpc: parse balance: %w", err)
	}

	out := &WalletBalance{
		SOL:    LamportsToSOL(balResp.Value),
		Tokens: make(map[Pubkey]TokenBalance),
	}

	for _, program := range []string{TokenProgramID, Token2022ProgramID} {
		result, err := c.call(ctx, "getTokenAccountsByOwner", []any{
			string(wallet),
			map[string]any{"programId": program},
			map[string]any{"encoding": "jsonParsed", "commitment": "confirmed"},
		})
		if err != nil {
			return nil, err
		}
		if err := mergeTokenAccounts(result, out.Tokens); err != nil {
			return nil, err
		}
	}

	return out, nil
}

func mergeTokenAccounts(result json.RawMessage, into map[Pubkey]TokenBalance) error {
	var tokenResp struct {
		Value []struct {
			Account struct {
				Data struct {
					Parsed struct {
						Info struct {
							Mint        string `json:"mint"`
							TokenAmount struct {
								Amount   string `json:"amount"`
								Decimals uint8  `json:"decimals"`
							} `json:"tokenAmount"`
						} `json:"info"`
					} `json:"parsed"`
				} `json:"data"`
			} `json:"account"`
		} `json:"value"`
	}
	if err := json.Unmarshal(result, &tokenResp); err != nil {
		return fmt.Errorf("rpc: parse token accounts: %w", err)
	}

	for _, ta := range tokenResp.Value {
		info := ta.Account.Data.Parsed.Info
		amount, err := strconv.ParseUint(info.TokenAmount.Amount, 10, 64)
		if err != nil || amount == 0 {
			continue
		}
		mint := Pubkey(info.Mint)
		// A wallet can hold several accounts for one mint.
		prev := into[mint]
		into[mint] = TokenBalance{
			Mint:      mint,
			AmountRaw: prev.AmountRaw + amount,
			Decimals:  info.TokenAmount.Decimals,
		}
	}
	return nil
}

// SendTransaction submits a signed transaction.
func (c *LiveRPCClient) SendTransaction(ctx context.Context, txBase64 string) (Signature, error) {
	result, err := c.call(ctx, "sendTransaction", []any{
		txBase64,
		map[string]any{
			"encoding":            "base64",
			"skipPreflight":       false,
			"preflightCommitment": "confirmed",
			"maxRetries":          2,
		},
	})
	if err != nil {
		return "", err
	}

	var sig string
	if err := json.Unmarshal(result, &sig); err != nil {
		return "", fmt.Errorf("rpc: parse signature: %w", err)
	}
	return Signature(sig), nil
}

// GetTransactionStatus checks transaction confirmation status.
func (c *LiveRPCClient) GetTransactionStatus(ctx context.Context, sig Signature) (TxStatus, error) {
	result, err := c.call(ctx, "getSignatureStatuses", []any{
		[]string{string(sig)},
		map[string]any{"searchTransactionHistory": false},
	})
	if err != nil {
		return "", err
	}

	var resp struct {
		Value []*struct {
			ConfirmationStatus string `json:"confirmationStatus"`
			Err                any    `json:"err"`
		} `json:"value"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return "", fmt.Errorf("rpc: parse status: %w", err)
	}

	if len(resp.Value) == 0 || resp.Value[0] == nil || resp.Value[0].ConfirmationStatus == "" {
		return TxPending, nil
	}
	if resp.Value[0].Err != nil {
		return TxFailed, nil
	}
	return TxStatus(resp.Value[0].ConfirmationStatus), nil
}

// GetRecentPriorityFee returns the 75th percentile of non-zero
// prioritization fees over recent slots.
func (c *LiveRPCClient) GetRecentPriorityFee(ctx context.Context) (uint64, error) {
	result, err := c.call(ctx, "getRecentPrioritizationFees", []any{})
	if err != nil {
		return 0, err
	}

	var fees []struct {
		Slot              uint64 `json:"slot"`
		PrioritizationFee uint64 `json:"prioritizationFee"`
	}
	if err := json.Unmarshal(result, &fees); err != nil {
		return 0, fmt.Errorf("rpc: parse priority fees: %w", err)
	}

	var nonZero []uint64
	for _, f := range fees {
		if f.PrioritizationFee > 0 {
			nonZero = append(nonZero, f.PrioritizationFee)
		}
	}
	if len(nonZero) == 0 {
		return 0, nil
	}
	sort.Slice(nonZero, func(i, j int) bool { return nonZero[i] < nonZero[j] })
	return nonZero[(len(nonZero)-1)*75/100], nil
}

// Health calls getHealth.
func (c *LiveRPCClient) Health(ctx context.Context) error {
	result, err := c.call(ctx, "getHealth", nil)
	if err != nil {
		return err
	}
	var status string
	if err := json.Unmarshal(result, &status); err != nil {
		return fmt.Errorf("rpc: parse health: %w", err)
	}
	if status != "ok" {
		return fmt.Errorf("rpc: unhealthy: %s", status)
	}
	return nil
}

// RPCStats is a snapshot of client counters.
type RPCStats struct {
	RequestCount int64   `json:"request_count"`
	ErrorCount   int64   `json:"error_count"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	CircuitOpen  bool    `json:"circuit_open"`
}

func (c *LiveRPCClient) Stats() RPCStats {
	reqs := c.requestCount.Load()
	var avg float64
	if reqs > 0 {
		avg = float64(c.latencySum.Load()) / float64(reqs) / 1000
	}
	return RPCStats{
		RequestCount: reqs,
		ErrorCount:   c.errorCount.Load(),
		AvgLatencyMs: avg,
		CircuitOpen:  c.circuitOpenUntil.Load() > time.Now().UnixMilli(),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

package solana

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// RPC Client Interface
// ---------------------------------------------------------------------------

// RPCClient is the interface for Solana RPC interactions.
// Implementations: LiveRPCClient (real Solana), StubRPCClient (testing).
type RPCClient interface {
	// GetWalletBalance returns SOL + SPL token balances for a wallet.
	GetWalletBalance(ctx context.Context, wallet Pubkey) (*WalletBalance, error)

	// SendTransaction submits a signed transaction to the network.
	SendTransaction(ctx context.Context, txBase64 string) (Signature, error)

	// GetTransactionStatus checks if a transaction is confirmed.
	GetTransactionStatus(ctx context.Context, sig Signature) (TxStatus, error)

	// GetRecentPriorityFee returns the p75 prioritization fee of recent slots.
	GetRecentPriorityFee(ctx context.Context) (uint64, error)

	// Health returns the RPC endpoint health.
	Health(ctx context.Context) error
}

// RPCConfig configures the Solana RPC client.
type RPCConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	WSEndpoint   string        `yaml:"ws_endpoint"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RateLimitRPS float64       `yaml:"rate_limit_rps"`
}

// DefaultRPCConfig returns development defaults.
func DefaultRPCConfig() RPCConfig {
	return RPCConfig{
		Endpoint:     "https://api.mainnet-beta.solana.com",
		WSEndpoint:   "wss://api.mainnet-beta.solana.com",
		Timeout:      10 * time.Second,
		MaxRetries:   3,
		RateLimitRPS: 10,
	}
}

// ---------------------------------------------------------------------------
// Stub RPC Client (for testing and dry runs)
// ---------------------------------------------------------------------------

// StubRPCClient is an in-memory RPC client.
type StubRPCClient struct {
	mu       sync.RWMutex
	balances map[Pubkey]*WalletBalance
	statuses map[Signature]TxStatus
	sent     []string
	failNext bool
	fee      uint64
}

// NewStubRPCClient creates a stub RPC client.
func NewStubRPCClient() *StubRPCClient {
	return &StubRPCClient{
		balances: make(map[Pubkey]*WalletBalance),
		statuses: make(map[Signature]TxStatus),
		fee:      10_000,
	}
}

// SetBalance registers the SOL balance of a wallet.
func (s *StubRPCClient) SetBalance(wallet Pubkey, sol decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.walletLocked(wallet).SOL = sol
}

// SetTokenBalance registers (or with amountRaw 0 removes) a token holding.
func (s *StubRPCClient) SetTokenBalance(wallet, mint Pubkey, amountRaw uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.walletLocked(wallet)
	if amountRaw == 0 {
		delete(b.Tokens, mint)
		return
	}
	b.Tokens[mint] = TokenBalance{Mint: mint, AmountRaw: amountRaw}
}

func (s *StubRPCClient) walletLocked(wallet Pubkey) *WalletBalance {
	b, ok := s.balances[wallet]
	if !ok {
		b = &WalletBalance{Tokens: make(map[Pubkey]TokenBalance)}
		s.balances[wallet] = b
	}
	return b
}

// SetStatus pins the status reported for a signature.
func (s *StubRPCClient) SetStatus(sig Signature, status TxStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[sig] = status
}

// FailNext makes the next call return an error.
func (s *StubRPCClient) FailNext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = true
}

// Sent returns every transaction submitted so far.
func (s *StubRPCClient) Sent() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.sent))
	copy(out, s.sent)
	return out
}

func (s *StubRPCClient) consumeFailure(method string) error {
	if s.failNext {
		s.failNext = false
		return fmt.Errorf("stub: %s failed", method)
	}
	return nil
}

func (s *StubRPCClient) GetWalletBalance(_ context.Context, wallet Pubkey) (*WalletBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.consumeFailure("getWalletBalance"); err != nil {
		return nil, err
	}
	b := s.walletLocked(wallet)
	out := &WalletBalance{SOL: b.SOL, Tokens: make(map[Pubkey]TokenBalance, len(b.Tokens))}
	for k, v := range b.Tokens {
		out.Tokens[k] = v
	}
	return out, nil
}

func (s *StubRPCClient) SendTransaction(_ context.Context, txBase64 string) (Signature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.consumeFailure("sendTransaction"); err != nil {
		return "", err
	}
	s.sent = append(s.sent, txBase64)
	sig := Signature(fmt.Sprintf("stub-sig-%d", len(s.sent)))
	if _, ok := s.statuses[sig]; !ok {
		s.statuses[sig] = TxConfirmed
	}
	return sig, nil
}

func (s *StubRPCClient) GetTransactionStatus(_ context.Context, sig Signature) (TxStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.consumeFailure("getSignatureStatuses"); err != nil {
		return "", err
	}
	if st, ok := s.statuses[sig]; ok {
		return st, nil
	}
	return TxPending, nil
}

func (s *StubRPCClient) GetRecentPriorityFee(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fee, nil
}

func (s *StubRPCClient) Health(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consumeFailure("getHealth")
}

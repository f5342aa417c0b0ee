// Package engine runs the per-wallet cycle bodies: scanning for entries,
// monitoring open positions, rebalancing and housekeeping. Every mutation of
// one wallet's positions or accounting happens under that wallet's lock.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/nexus-trading/hivemind/internal/audit"
	"github.com/nexus-trading/hivemind/internal/bus"
	"github.com/nexus-trading/hivemind/internal/executor"
	"github.com/nexus-trading/hivemind/internal/intel"
	"github.com/nexus-trading/hivemind/internal/market"
	"github.com/nexus-trading/hivemind/internal/observability"
	"github.com/nexus-trading/hivemind/internal/position"
	"github.com/nexus-trading/hivemind/internal/risk"
	"github.com/nexus-trading/hivemind/internal/rotation"
	"github.com/nexus-trading/hivemind/internal/solana"
	"github.com/nexus-trading/hivemind/internal/storage"
	"github.com/nexus-trading/hivemind/internal/strategy"
)

// Entry confidence floors per scan, on the 0-1 scale.
const (
	QuickScanMinConfidence = 0.65
	DeepScanMinConfidence  = 0.80
)

// MarketData is the candidate and price source the engine scans.
type MarketData interface {
	GetCandidates(ctx context.Context, params market.FilterParams) []market.TokenCandidate
	GetToken(ctx context.Context, mint string) (*market.TokenCandidate, error)
	Evict() int
}

// Advisor answers trade questions. It never fails; exhausted providers come
// back as holds.
type Advisor interface {
	Analyze(ctx context.Context, req intel.AnalysisRequest) intel.Analysis
	AnalyzeBatch(ctx context.Context, items []intel.BatchItem, tier intel.Tier) map[string]intel.Recommendation
	Evict() int
}

// BalanceReader reads on-chain wallet balances.
type BalanceReader interface {
	GetWalletBalance(ctx context.Context, wallet solana.Pubkey) (*solana.WalletBalance, error)
}

// Config tunes the cycle bodies.
type Config struct {
	QuickScanTopN   int
	DeepScanTopN    int
	SlippageBps     int
	MaxSellFailures int
	IlliquidUSD     float64
	FeeReserveSOL   decimal.Decimal
	StateIdleTTL    time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		QuickScanTopN:   5,
		DeepScanTopN:    10,
		SlippageBps:     300,
		MaxSellFailures: 3,
		IlliquidUSD:     1000,
		FeeReserveSOL:   decimal.RequireFromString("0.05"),
		StateIdleTTL:    24 * time.Hour,
	}
}

// Deps are the collaborators of the engine. Balances is optional; without it
// available capital is not capped by the on-chain balance and the on-chain
// sync is skipped.
type Deps struct {
	Wallets    storage.WalletRepository
	Positions  *position.Store
	Strategies *strategy.Service
	Market     MarketData
	Advisor    Advisor
	Risk       *risk.Guard
	Rotation   *rotation.Engine
	Executor   executor.TradeExecutor
	Audit      *audit.Trail
	Balances   BalanceReader
}

// walletState is the in-process runtime state of one wallet. mu serializes
// every mutation of the wallet's positions and accounting.
type walletState struct {
	mu           sync.Mutex
	day          string // UTC date the daily counter belongs to
	dailyTrades  int
	sellFailures map[string]int // mint -> consecutive failed sells
	lastTouched  time.Time
	dropped      bool // removed by Cleanup; holders must fetch a fresh state
}

// Engine executes cycle jobs.
type Engine struct {
	config Config
	deps   Deps
	now    func() time.Time

	mu     sync.Mutex
	states map[string]*walletState
}

// New creates an engine.
func New(config Config, deps Deps) *Engine {
	def := DefaultConfig()
	if config.QuickScanTopN == 0 {
		config.QuickScanTopN = def.QuickScanTopN
	}
	if config.DeepScanTopN == 0 {
		config.DeepScanTopN = def.DeepScanTopN
	}
	if config.SlippageBps == 0 {
		config.SlippageBps = def.SlippageBps
	}
	if config.MaxSellFailures == 0 {
		config.MaxSellFailures = def.MaxSellFailures
	}
	if config.IlliquidUSD == 0 {
		config.IlliquidUSD = def.IlliquidUSD
	}
	if config.StateIdleTTL == 0 {
		config.StateIdleTTL = def.StateIdleTTL
	}
	return &Engine{
		config: config,
		deps:   deps,
		now:    time.Now,
		states: make(map[string]*walletState),
	}
}

// SetClock overrides the time source.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Run executes one cycle job. Errors are returned for logging only; a failed
// job leaves no partial state behind.
func (e *Engine) Run(ctx context.Context, job bus.CycleJob) error {
	switch job.Cycle {
	case bus.CycleQuickScan:
		return e.QuickScan(ctx, job.Wallet)
	case bus.CycleDeepScan:
		return e.DeepScan(ctx, job.Wallet)
	case bus.CycleMonitor:
		return e.Monitor(ctx, job.Wallet)
	case bus.CycleRebalance:
		return e.Rebalance(ctx)
	case bus.CycleCleanup:
		e.Cleanup(ctx)
		return nil
	}
	return fmt.Errorf("engine: unknown cycle %q", job.Cycle)
}

// EnabledWallets lists the wallets the scheduler fans out to.
func (e *Engine) EnabledWallets(ctx context.Context) ([]string, error) {
	all, err := e.deps.Wallets.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	out := make([]string, 0, len(all))
	for _, w := range all {
		if w.Enabled {
			out = append(out, w.Wallet)
		}
	}
	return out, nil
}

// Cleanup evicts expired cache entries and forgets wallet runtime state
// that has not been touched within StateIdleTTL.
func (e *Engine) Cleanup(_ context.Context) {
	marketEvicted := e.deps.Market.Evict()
	aiEvicted := e.deps.Advisor.Evict()

	cutoff := e.now().Add(-e.config.StateIdleTTL)
	var dropped []string
	e.mu.Lock()
	for wallet, st := range e.states {
		if !st.mu.TryLock() {
			continue
		}
		if st.lastTouched.Before(cutoff) {
			st.dropped = true
			delete(e.states, wallet)
			dropped = append(dropped, wallet)
		}
		st.mu.Unlock()
	}
	e.mu.Unlock()

	for _, w := range dropped {
		observability.ForgetWallet(w)
	}
	log.Info().
		Int("market_evicted", marketEvicted).
		Int("ai_evicted", aiEvicted).
		Int("states_dropped", len(dropped)).
		Msg("engine: cleanup complete")
}

// state returns the runtime state of a wallet, creating it on first use.
func (e *Engine) state(wallet string) *walletState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[wallet]
	if !ok {
		st = &walletState{sellFailures: make(map[string]int)}
		e.states[wallet] = st
	}
	return st
}

// lockLive locks st and reports whether it is still the wallet's current
// state. A state dropped by Cleanup is left unlocked.
func lockLive(st *walletState) bool {
	st.mu.Lock()
	if st.dropped {
		st.mu.Unlock()
		return false
	}
	return true
}

// withWallet runs fn holding the wallet's lock. The daily counter is rolled
// over at UTC midnight before fn sees it.
func (e *Engine) withWallet(wallet string, fn func(st *walletState) error) error {
	st := e.state(wallet)
	for !lockLive(st) {
		st = e.state(wallet)
	}
	defer st.mu.Unlock()

	now := e.now()
	st.lastTouched = now
	if day := now.UTC().Format(time.DateOnly); st.day != day {
		st.day = day
		st.dailyTrades = 0
	}
	return fn(st)
}

// DailyTrades returns the number of entries the wallet made today (UTC).
func (e *Engine) DailyTrades(wallet string) int {
	var n int
	_ = e.withWallet(wallet, func(st *walletState) error {
		n = st.dailyTrades
		return nil
	})
	return n
}

// portfolio is a point-in-time view of one wallet's capital.
type portfolio struct {
	value     decimal.Decimal
	available decimal.Decimal
}

// snapshot values the wallet. Must be called with the wallet lock held.
func (e *Engine) snapshot(ctx context.Context, wc *storage.WalletConfig, positions []*position.Position) portfolio {
	base := wc.TotalBudgetSOL.Add(wc.RealizedPnLSOL)
	value := base
	for _, p := range positions {
		value = value.Add(p.UnrealizedPnLSOL())
	}

	available := base.Sub(wc.BudgetUsedSOL)
	if e.deps.Balances != nil {
		bal, err := e.deps.Balances.GetWalletBalance(ctx, solana.Pubkey(wc.Wallet))
		if err != nil {
			log.Warn().Err(err).Str("wallet", wc.Wallet).Msg("engine: balance unavailable, using accounting only")
		} else if onChain := bal.SOL.Sub(e.config.FeeReserveSOL); onChain.LessThan(available) {
			available = onChain
		}
	}
	if available.IsNegative() {
		available = decimal.Zero
	}
	if value.IsNegative() {
		value = decimal.Zero
	}
	return portfolio{value: value, available: available}
}

// loadWallet returns the wallet config and its open positions.
func (e *Engine) loadWallet(ctx context.Context, wallet string) (*storage.WalletConfig, []*position.Position, error) {
	wc, err := e.deps.Wallets.Get(ctx, wallet)
	if err != nil {
		return nil, nil, fmt.Errorf("wallet %s: %w", wallet, err)
	}
	positions, err := e.deps.Positions.List(ctx, wallet)
	if err != nil {
		return nil, nil, fmt.Errorf("positions %s: %w", wallet, err)
	}
	return wc, positions, nil
}

func findPosition(positions []*position.Position, mint string) *position.Position {
	for _, p := range positions {
		if p.Mint == mint {
			return p
		}
	}
	return nil
}

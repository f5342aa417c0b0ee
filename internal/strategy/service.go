package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/nexus-trading/hivemind/internal/storage"
)

// ServiceConfig configures the strategy store.
type ServiceConfig struct {
	Validity          time.Duration
	RegenerateAfter   time.Duration
	PerformanceWindow time.Duration
	MinOrganicScore   float64
	MaxBudgetPerTrade decimal.Decimal
}

// DefaultServiceConfig returns production defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Validity:          6 * time.Hour,
		RegenerateAfter:   3 * time.Hour,
		PerformanceWindow: 24 * time.Hour,
		MinOrganicScore:   70,
		MaxBudgetPerTrade: decimal.NewFromInt(1),
	}
}

// Service is the strategy store: it keeps the active strategy of every
// wallet and regenerates it when stale.
type Service struct {
	config    ServiceConfig
	repo      Repository
	generator Generator
	trades    storage.TradeLog
	now       func() time.Time
}

// NewService creates a strategy store.
func NewService(config ServiceConfig, repo Repository, generator Generator, trades storage.TradeLog) *Service {
	def := DefaultServiceConfig()
	if config.Validity == 0 {
		config.Validity = def.Validity
	}
	if config.RegenerateAfter == 0 {
		config.RegenerateAfter = def.RegenerateAfter
	}
	if config.PerformanceWindow == 0 {
		config.PerformanceWindow = def.PerformanceWindow
	}
	if config.MinOrganicScore == 0 {
		config.MinOrganicScore = def.MinOrganicScore
	}
	if generator == nil {
		generator = RuleGenerator{}
	}
	return &Service{
		config:    config,
		repo:      repo,
		generator: generator,
		trades:    trades,
		now:       time.Now,
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// GetActive returns the wallet's unexpired strategy, or nil when there is none.
func (s *Service) GetActive(ctx context.Context, wallet string) (*Strategy, error) {
	latest, err := s.repo.Latest(ctx, wallet)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest strategy %s: %w", wallet, err)
	}
	if !latest.Active(s.now()) {
		return nil, nil
	}
	return latest, nil
}

// ShouldRegenerate reports whether the wallet has no strategy, an expired
// one, or one older than RegenerateAfter.
func (s *Service) ShouldRegenerate(ctx context.Context, wallet string) bool {
	latest, err := s.repo.Latest(ctx, wallet)
	if err != nil {
		return true
	}
	now := s.now()
	return !latest.Active(now) || now.Sub(latest.GeneratedAt) >= s.config.RegenerateAfter
}

// Performance summarizes the wallet's closed trades in the configured window.
func (s *Service) Performance(ctx context.Context, wallet string) (Performance, error) {
	if s.trades == nil {
		return Performance{Window: s.config.PerformanceWindow}, nil
	}
	entries, err := s.trades.Since(ctx, wallet, s.now().Add(-s.config.PerformanceWindow))
	if err != nil {
		return Performance{}, fmt.Errorf("trade log %s: %w", wallet, err)
	}
	return ComputePerformance(entries, s.config.PerformanceWindow), nil
}

// Generate builds, clamps and persists a new strategy version.
func (s *Service) Generate(ctx context.Context, wallet string, totalBudget decimal.Decimal, perf Performance) (*Strategy, error) {
	limits := Limits{
		TotalBudgetSOL:    totalBudget,
		MaxBudgetPerTrade: s.config.MaxBudgetPerTrade,
		MinOrganicScore:   s.config.MinOrganicScore,
	}

	st, err := s.generator.Generate(ctx, perf, limits)
	if err != nil {
		log.Warn().Err(err).Str("wallet", wallet).Str("generator", s.generator.Name()).Msg("strategy: generator failed, using rules")
		st, _ = RuleGenerator{}.Generate(ctx, perf, limits)
	}
	Clamp(st, limits)

	version := 1
	if latest, err := s.repo.Latest(ctx, wallet); err == nil {
		version = latest.Version + 1
	}

	now := s.now()
	st.ID = uuid.New()
	st.Wallet = wallet
	st.Version = version
	st.GeneratedAt = now
	st.ExpiresAt = now.Add(s.config.Validity)

	if err := s.repo.Save(ctx, st); err != nil {
		return nil, fmt.Errorf("save strategy %s: %w", wallet, err)
	}

	log.Info().
		Str("wallet", wallet).
		Int("version", st.Version).
		Str("source", string(st.Source)).
		Str("sentiment", string(st.Sentiment)).
		Float64("min_confidence", st.MinConfidence).
		Int("max_daily_trades", st.MaxDailyTrades).
		Str("budget_per_trade_sol", st.BudgetPerTradeSOL.String()).
		Msg("strategy: generated")
	return st, nil
}

// EnsureActive returns the active strategy, regenerating it first when stale.
func (s *Service) EnsureActive(ctx context.Context, wallet string, totalBudget decimal.Decimal) (*Strategy, error) {
	if !s.ShouldRegenerate(ctx, wallet) {
		return s.GetActive(ctx, wallet)
	}
	perf, err := s.Performance(ctx, wallet)
	if err != nil {
		log.Warn().Err(err).Str("wallet", wallet).Msg("strategy: performance unavailable, assuming none")
		perf = Performance{Window: s.config.PerformanceWindow}
	}
	return s.Generate(ctx, wallet, totalBudget, perf)
}

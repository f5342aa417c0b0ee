// Package risk sizes entries and enforces the per-wallet risk limits.
package risk

import (
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/nexus-trading/hivemind/internal/observability"
)

// Mode is the holding style chosen from the entry confidence.
type Mode string

const (
	ModeScalp Mode = "scalp"
	ModeSwing Mode = "swing"
)

// Confidence thresholds (0-1).
const (
	SwingConfidence = 0.80
	ScalpConfidence = 0.65
)

// Reason codes attached to rejected decisions.
const (
	ReasonKillSwitch          = "KILL_SWITCH_ACTIVE"
	ReasonFrozen              = "SYSTEM_FROZEN"
	ReasonDrawdownPaused      = "DRAWDOWN_PAUSED"
	ReasonLowConfidence       = "CONFIDENCE_TOO_LOW"
	ReasonConcentration       = "CONCENTRATION_LIMIT"
	ReasonBelowMinTrade       = "BELOW_MIN_TRADE"
	ReasonInsufficientCapital = "INSUFFICIENT_CAPITAL"
	ReasonNoPortfolio         = "NO_PORTFOLIO_VALUE"
)

// Config holds risk guard configuration.
type Config struct {
	MaxConcentrationPct float64
	DrawdownPausePct    float64
	DrawdownResumePct   float64
	MinTradeSOL         decimal.Decimal
}

// DefaultConfig returns production limits.
func DefaultConfig() Config {
	return Config{
		MaxConcentrationPct: 25,
		DrawdownPausePct:    80,
		DrawdownResumePct:   85,
		MinTradeSOL:         decimal.RequireFromString("0.01"),
	}
}

// Guard is the risk guard. It keeps no per-wallet state; callers pass the
// wallet's figures with every check.
type Guard struct {
	config Config

	// Kill switch - atomic for lock-free check
	killed atomic.Bool
	frozen atomic.Bool

	allowed atomic.Int64
	denied  atomic.Int64
}

// New creates a risk guard.
func New(cfg Config) *Guard {
	def := DefaultConfig()
	if cfg.MaxConcentrationPct == 0 {
		cfg.MaxConcentrationPct = def.MaxConcentrationPct
	}
	if cfg.DrawdownPausePct == 0 {
		cfg.DrawdownPausePct = def.DrawdownPausePct
	}
	if cfg.DrawdownResumePct == 0 {
		cfg.DrawdownResumePct = def.DrawdownResumePct
	}
	if cfg.MinTradeSOL.IsZero() {
		cfg.MinTradeSOL = def.MinTradeSOL
	}
	return &Guard{config: cfg}
}

// MinTradeSOL returns the smallest tradable size.
func (g *Guard) MinTradeSOL() decimal.Decimal {
	return g.config.MinTradeSOL
}

// ModeFor maps an entry confidence to a holding mode. ok is false below the
// scalp threshold.
func ModeFor(confidence float64) (Mode, bool) {
	switch {
	case confidence >= SwingConfidence:
		return ModeSwing, true
	case confidence >= ScalpConfidence:
		return ModeScalp, true
	default:
		return "", false
	}
}

type sizeTier struct {
	minConfidence float64
	pct           float64
}

var (
	swingTiers = []sizeTier{{0.95, 9}, {0.90, 8}, {0.85, 6.5}, {0.80, 5}}
	scalpTiers = []sizeTier{{0.75, 6}, {0.70, 4.5}, {0.65, 3}}
)

// SizePercent returns the share of portfolio value to commit.
func SizePercent(mode Mode, confidence float64) float64 {
	tiers := scalpTiers
	if mode == ModeSwing {
		tiers = swingTiers
	}
	for _, t := range tiers {
		if confidence >= t.minConfidence {
			return t.pct
		}
	}
	return 0
}

// BuyRequest carries everything CheckBuy needs about one prospective entry.
type BuyRequest struct {
	Wallet            string
	Mint              string
	Confidence        float64         // 0-1
	PortfolioSOL      decimal.Decimal // current portfolio value
	AvailableSOL      decimal.Decimal // spendable capital
	StrategyBudgetSOL decimal.Decimal // per-trade cap; zero = none
	ExistingMintSOL   decimal.Decimal // value already held in this mint
	DrawdownPaused    bool
	BypassDrawdown    bool
}

// Decision represents a risk decision.
type Decision struct {
	Allowed     bool            `json:"allowed"`
	SizeSOL     decimal.Decimal `json:"size_sol"`
	Mode        Mode            `json:"mode"`
	ReasonCodes []string        `json:"reason_codes"`

	// CapitalShort is set when available capital is below the size the
	// limits would allow. RequiredSOL is that size. The entry is refused;
	// it is never shrunk to fit the capital on hand.
	CapitalShort bool            `json:"capital_short"`
	RequiredSOL  decimal.Decimal `json:"required_sol"`
}

// CheckBuy sizes a buy and evaluates it against every buy-side limit.
func (g *Guard) CheckBuy(req BuyRequest) Decision {
	d := g.checkBuy(req)
	if d.Allowed {
		g.allowed.Add(1)
		log.Debug().
			Str("wallet", req.Wallet).
			Str("mint", req.Mint).
			Str("size_sol", d.SizeSOL.String()).
			Str("mode", string(d.Mode)).
			Msg("risk: buy allowed")
		return d
	}

	g.denied.Add(1)
	for _, code := range d.ReasonCodes {
		observability.RecordRiskRejection(reasonKey(code))
	}
	log.Info().
		Str("wallet", req.Wallet).
		Str("mint", req.Mint).
		Strs("reasons", d.ReasonCodes).
		Msg("risk: buy denied")
	return d
}

func (g *Guard) checkBuy(req BuyRequest) Decision {
	d := Decision{SizeSOL: decimal.Zero, RequiredSOL: decimal.Zero}

	// Kill switch check - ALWAYS first, atomic, no lock needed
	if g.killed.Load() {
		d.ReasonCodes = append(d.ReasonCodes, ReasonKillSwitch)
		return d
	}
	if g.frozen.Load() {
		d.ReasonCodes = append(d.ReasonCodes, ReasonFrozen)
		return d
	}
	if req.DrawdownPaused && !req.BypassDrawdown {
		d.ReasonCodes = append(d.ReasonCodes, ReasonDrawdownPaused)
		return d
	}

	mode, ok := ModeFor(req.Confidence)
	if !ok {
		d.ReasonCodes = append(d.ReasonCodes, fmt.Sprintf("%s:conf=%.2f", ReasonLowConfidence, req.Confidence))
		return d
	}
	d.Mode = mode

	if !req.PortfolioSOL.IsPositive() {
		d.ReasonCodes = append(d.ReasonCodes, ReasonNoPortfolio)
		return d
	}

	size := req.PortfolioSOL.Mul(decimal.NewFromFloat(SizePercent(mode, req.Confidence) / 100))
	if req.StrategyBudgetSOL.IsPositive() && size.GreaterThan(req.StrategyBudgetSOL) {
		size = req.StrategyBudgetSOL
	}

	headroom := req.PortfolioSOL.Mul(decimal.NewFromFloat(g.config.MaxConcentrationPct / 100)).Sub(req.ExistingMintSOL)
	if !headroom.IsPositive() {
		d.ReasonCodes = append(d.ReasonCodes,
			fmt.Sprintf("%s:held=%s", ReasonConcentration, req.ExistingMintSOL.StringFixed(4)))
		return d
	}
	if size.GreaterThan(headroom) {
		size = headroom
	}
	if size.LessThan(g.config.MinTradeSOL) {
		d.ReasonCodes = append(d.ReasonCodes, fmt.Sprintf("%s:size=%s", ReasonBelowMinTrade, size.StringFixed(4)))
		return d
	}

	if req.AvailableSOL.LessThan(size) {
		d.CapitalShort = true
		d.RequiredSOL = size
		d.ReasonCodes = append(d.ReasonCodes,
			fmt.Sprintf("%s:available=%s:required=%s", ReasonInsufficientCapital,
				req.AvailableSOL.StringFixed(4), size.StringFixed(4)))
		return d
	}

	d.Allowed = true
	d.SizeSOL = size
	return d
}

// Kill activates the kill switch. Buys stay blocked until restart.
func (g *Guard) Kill() {
	g.killed.Store(true)
	log.Error().Msg("risk: KILL SWITCH ACTIVATED - all buys stopped")
}

// Freeze pauses buys (can be resumed, unlike kill).
func (g *Guard) Freeze(reason string) {
	g.frozen.Store(true)
	log.Warn().Str("reason", reason).Msg("risk: buys frozen")
}

// Resume unfreezes buys.
func (g *Guard) Resume() {
	if g.killed.Load() {
		log.Warn().Msg("risk: cannot resume, kill switch is active (requires restart)")
		return
	}
	g.frozen.Store(false)
	log.Info().Msg("risk: buys resumed")
}

// IsActive returns true if buys are neither killed nor frozen.
func (g *Guard) IsActive() bool {
	return !g.killed.Load() && !g.frozen.Load()
}

// Stats returns guard counters.
func (g *Guard) Stats() map[string]any {
	return map[string]any{
		"killed":        g.killed.Load(),
		"frozen":        g.frozen.Load(),
		"allowed_total": g.allowed.Load(),
		"denied_total":  g.denied.Load(),
	}
}

// reasonKey strips the detail suffix of a reason code for metric labels.
func reasonKey(code string) string {
	for i := 0; i < len(code); i++ {
		if code[i] == ':' {
			return code[:i]
		}
	}
	return code
}

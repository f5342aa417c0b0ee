// Package rotation picks an open position to sell when a stronger signal
// needs capital the wallet does not have.
package rotation

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nexus-trading/hivemind/internal/position"
)

// Config holds rotation thresholds. Confidences are in percent.
type Config struct {
	MinAge            time.Duration
	ProtectProfitPct  float64
	MinConfidenceGain float64
	LossExitPct       float64
	LossExitMinConf   float64
}

// DefaultConfig returns production thresholds.
func DefaultConfig() Config {
	return Config{
		MinAge:            5 * time.Minute,
		ProtectProfitPct:  10,
		MinConfidenceGain: 25,
		LossExitPct:       -5,
		LossExitMinConf:   70,
	}
}

// Request describes the buy that needs capital.
type Request struct {
	NewConfidence float64 // 0-100
	RequiredSOL   decimal.Decimal
	AvailableSOL  decimal.Decimal
	Positions     []*position.Position
	Now           time.Time
}

// Choice is a position selected for rotation.
type Choice struct {
	Position      *position.Position
	Score         float64
	ProceedsSOL   decimal.Decimal
	Reason        string
	ConfidenceGap float64
}

// Engine selects rotation candidates. It is stateless.
type Engine struct {
	config Config
}

// New creates a rotation engine.
func New(cfg Config) *Engine {
	if cfg.MinAge == 0 {
		cfg = DefaultConfig()
	}
	return &Engine{config: cfg}
}

// Score ranks how readily a position can be sold; lower is more sellable.
func Score(p *position.Position) float64 {
	var base float64
	switch profit := p.LastProfitPercent; {
	case profit < -15:
		base = 0
	case profit < 0:
		base = 20
	case profit < 5:
		base = 30
	default:
		base = 60
	}
	return base + 0.2*p.EntryConfidence
}

// FindCandidate returns the position to sell, or nil with the reason no
// rotation applies.
func (e *Engine) FindCandidate(req Request) (*Choice, string) {
	if req.AvailableSOL.GreaterThanOrEqual(req.RequiredSOL) {
		return nil, "capital sufficient"
	}

	var best *position.Position
	bestScore := math.Inf(1)
	for _, p := range req.Positions {
		if p.Age(req.Now) < e.config.MinAge {
			continue
		}
		if p.LastProfitPercent > e.config.ProtectProfitPct {
			continue
		}
		if s := Score(p); s < bestScore {
			best, bestScore = p, s
		}
	}
	if best == nil {
		return nil, "no eligible position"
	}

	gap := req.NewConfidence - best.EntryConfidence
	lossExit := best.LastProfitPercent < e.config.LossExitPct && req.NewConfidence >= e.config.LossExitMinConf
	if gap < e.config.MinConfidenceGain && !lossExit {
		return nil, fmt.Sprintf("confidence gap %.1f too small for %s", gap, best.Symbol)
	}

	proceeds := best.ValueSOL()
	if req.AvailableSOL.Add(proceeds).LessThan(req.RequiredSOL) {
		return nil, fmt.Sprintf("selling %s frees %s SOL, not enough", best.Symbol, proceeds.StringFixed(4))
	}

	reason := fmt.Sprintf("rotate %s (profit %.1f%%, conf %.0f) for conf %.0f",
		best.Symbol, best.LastProfitPercent, best.EntryConfidence, req.NewConfidence)
	return &Choice{
		Position:      best,
		Score:         bestScore,
		ProceedsSOL:   proceeds,
		Reason:        reason,
		ConfidenceGap: gap,
	}, reason
}

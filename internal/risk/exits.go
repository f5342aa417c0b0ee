package risk

import (
	"github.com/nexus-trading/hivemind/internal/position"
)

// ---------------------------------------------------------------------------
// Exit rules: stop loss, trailing stop, scalp take-profit
// ---------------------------------------------------------------------------

// Exit reasons recorded in the trade log.
const (
	ExitStopLoss     = "stop_loss"
	ExitTrailingStop = "trailing_stop"
	ExitTakeProfit   = "take_profit"
	ExitAI           = "ai_sell"
	ExitRebalance    = "rebalance"
	ExitRotation     = "rotation"
)

const (
	scalpStopPercent   = -10.0
	swingTargetPercent = 15.0

	aiSellConfidence          = 0.70
	aiSellConfidenceAtTarget  = 0.50
	rebalanceSellConfidence   = 0.75
	swingStopBase, swingStopK = 25.0, 15.0
)

// StopLossPercent returns the (negative) stop for a mode and confidence.
func StopLossPercent(mode Mode, confidence float64) float64 {
	if mode != ModeSwing {
		return scalpStopPercent
	}
	stop := swingStopBase + swingStopK*(confidence-SwingConfidence)/0.20
	return -clamp(stop, 25, 40)
}

// TargetPercent returns the profit target for a mode and confidence. Scalp
// targets are sold deterministically; swing targets only relax the AI sell
// threshold.
func TargetPercent(mode Mode, confidence float64) float64 {
	if mode == ModeSwing {
		return swingTargetPercent
	}
	return clamp(4+4*(confidence-ScalpConfidence)/0.15, 4, 8)
}

type trailingTier struct {
	peak  float64
	floor float64
}

var trailingTiers = []trailingTier{{200, 100}, {100, 50}, {50, 20}}

// TrailingFloor returns the profit floor locked in by a peak profit.
func TrailingFloor(peakPercent float64) (float64, bool) {
	for _, t := range trailingTiers {
		if peakPercent >= t.peak {
			return t.floor, true
		}
	}
	return 0, false
}

// ExitDecision represents what the exit rules want to do.
type ExitDecision struct {
	ShouldSell bool
	Reason     string
	Threshold  float64 // the stop, floor or target that fired
}

func modeOf(p *position.Position) Mode {
	if p.IsSwingTrade {
		return ModeSwing
	}
	return ModeScalp
}

// EvaluateExit checks the deterministic exits of a marked position, in
// priority order: stop loss, trailing stop, scalp take-profit.
func EvaluateExit(p *position.Position) ExitDecision {
	mode := modeOf(p)
	conf := p.EntryConfidence / 100
	profit := p.LastProfitPercent

	if stop := StopLossPercent(mode, conf); profit <= stop {
		return ExitDecision{ShouldSell: true, Reason: ExitStopLoss, Threshold: stop}
	}
	if floor, ok := TrailingFloor(p.PeakProfitPercent); ok && profit <= floor {
		return ExitDecision{ShouldSell: true, Reason: ExitTrailingStop, Threshold: floor}
	}
	if mode == ModeScalp {
		if target := TargetPercent(mode, conf); profit >= target {
			return ExitDecision{ShouldSell: true, Reason: ExitTakeProfit, Threshold: target}
		}
	}
	return ExitDecision{}
}

// AISellThreshold is the minimum AI sell confidence the monitor acts on.
// Swing positions at or past their target accept a lower confidence.
func AISellThreshold(p *position.Position) float64 {
	if p.IsSwingTrade && p.LastProfitPercent >= swingTargetPercent {
		return aiSellConfidenceAtTarget
	}
	return aiSellConfidence
}

// RebalanceSellThreshold is the minimum batch AI sell confidence.
func RebalanceSellThreshold() float64 {
	return rebalanceSellConfidence
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}

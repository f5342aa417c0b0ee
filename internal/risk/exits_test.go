package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nexus-trading/hivemind/internal/position"
)

func makePosition(conf float64, swing bool, profit, peak float64) *position.Position {
	return &position.Position{
		EntryConfidence:   conf,
		IsSwingTrade:      swing,
		LastProfitPercent: profit,
		PeakProfitPercent: peak,
	}
}

func TestStopLossPercent(t *testing.T) {
	assert.Equal(t, -10.0, StopLossPercent(ModeScalp, 0.70))
	assert.InDelta(t, -25.0, StopLossPercent(ModeSwing, 0.80), 1e-9)
	assert.InDelta(t, -32.5, StopLossPercent(ModeSwing, 0.90), 1e-9)
	assert.InDelta(t, -40.0, StopLossPercent(ModeSwing, 1.0), 1e-9)
}

func TestTargetPercent(t *testing.T) {
	assert.InDelta(t, 4.0, TargetPercent(ModeScalp, 0.65), 1e-9)
	assert.InDelta(t, 6.0, TargetPercent(ModeScalp, 0.725), 1e-9)
	assert.InDelta(t, 8.0, TargetPercent(ModeScalp, 0.80), 1e-9)
	assert.Equal(t, 15.0, TargetPercent(ModeSwing, 0.90))
}

func TestTrailingFloor(t *testing.T) {
	_, ok := TrailingFloor(49)
	assert.False(t, ok)

	floor, ok := TrailingFloor(50)
	assert.True(t, ok)
	assert.Equal(t, 20.0, floor)

	floor, _ = TrailingFloor(150)
	assert.Equal(t, 50.0, floor)

	floor, _ = TrailingFloor(250)
	assert.Equal(t, 100.0, floor)
}

func TestEvaluateExit_ScalpStopLoss(t *testing.T) {
	d := EvaluateExit(makePosition(70, false, -10, 0))
	assert.True(t, d.ShouldSell)
	assert.Equal(t, ExitStopLoss, d.Reason)

	d = EvaluateExit(makePosition(70, false, -9, 0))
	assert.False(t, d.ShouldSell)
}

func TestEvaluateExit_ScalpTakeProfit(t *testing.T) {
	// target at 70% confidence is ~5.33%
	d := EvaluateExit(makePosition(70, false, 5, 5))
	assert.False(t, d.ShouldSell)

	d = EvaluateExit(makePosition(70, false, 6, 6))
	assert.True(t, d.ShouldSell)
	assert.Equal(t, ExitTakeProfit, d.Reason)
}

func TestEvaluateExit_SwingHoldsPastTarget(t *testing.T) {
	d := EvaluateExit(makePosition(85, true, 30, 30))
	assert.False(t, d.ShouldSell)
}

func TestEvaluateExit_TrailingStop(t *testing.T) {
	d := EvaluateExit(makePosition(85, true, 45, 120))
	assert.True(t, d.ShouldSell)
	assert.Equal(t, ExitTrailingStop, d.Reason)
	assert.Equal(t, 50.0, d.Threshold)

	d = EvaluateExit(makePosition(85, true, 25, 60))
	assert.False(t, d.ShouldSell)
}

func TestEvaluateExit_StopLossFirst(t *testing.T) {
	d := EvaluateExit(makePosition(85, true, -30, 60))
	assert.True(t, d.ShouldSell)
	assert.Equal(t, ExitStopLoss, d.Reason)
}

func TestAISellThreshold(t *testing.T) {
	assert.Equal(t, 0.50, AISellThreshold(makePosition(85, true, 15, 15)))
	assert.Equal(t, 0.70, AISellThreshold(makePosition(85, true, 10, 10)))
	assert.Equal(t, 0.70, AISellThreshold(makePosition(70, false, 20, 20)))
	assert.Equal(t, 0.75, RebalanceSellThreshold())
}

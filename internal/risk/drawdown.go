package risk

import (
	"github.com/shopspring/decimal"
)

// DrawdownState is the persisted breaker state of one wallet.
type DrawdownState struct {
	PeakSOL decimal.Decimal
	Paused  bool
}

// UpdateDrawdown advances the breaker with the current portfolio value.
// The peak is a running maximum. Value at or below the pause ratio of the
// peak pauses buys; a paused wallet resumes only at or above the resume
// ratio. Between the two the previous state holds.
func (g *Guard) UpdateDrawdown(state DrawdownState, value decimal.Decimal) DrawdownState {
	next := state
	if value.GreaterThan(next.PeakSOL) {
		next.PeakSOL = value
	}
	if !next.PeakSOL.IsPositive() {
		return next
	}

	pauseAt := next.PeakSOL.Mul(decimal.NewFromFloat(g.config.DrawdownPausePct / 100))
	resumeAt := next.PeakSOL.Mul(decimal.NewFromFloat(g.config.DrawdownResumePct / 100))

	switch {
	case value.LessThanOrEqual(pauseAt):
		next.Paused = true
	case next.Paused && value.GreaterThanOrEqual(resumeAt):
		next.Paused = false
	}
	return next
}

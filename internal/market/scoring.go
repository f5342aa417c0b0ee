package market

import (
	"math"

	"github.com/nexus-trading/hivemind/internal/config"
)

// ---------------------------------------------------------------------------
// Organic & quality scoring
// Organic: buy pressure 40% + activity 30% + turnover 30%
// Quality: liquidity 35% + volume 25% + momentum 25% + holders 15%
// ---------------------------------------------------------------------------

// ScoreWeights are the tunable weights of both scores.
type ScoreWeights struct {
	BuyPressure float64 `yaml:"buy_pressure"`
	Activity    float64 `yaml:"activity"`
	Turnover    float64 `yaml:"turnover"`

	Liquidity float64 `yaml:"liquidity"`
	Volume    float64 `yaml:"volume"`
	Momentum  float64 `yaml:"momentum"`
	Holders   float64 `yaml:"holders"`

	// SourceBlendRate is the share of a source-reported organic score in the
	// final organic score (0 = ignore the source, 1 = trust it fully).
	SourceBlendRate float64 `yaml:"source_blend_rate"`
}

// DefaultScoreWeights returns the production weights.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{
		BuyPressure:     0.40,
		Activity:        0.30,
		Turnover:        0.30,
		Liquidity:       0.35,
		Volume:          0.25,
		Momentum:        0.25,
		Holders:         0.15,
		SourceBlendRate: 0.50,
	}
}

// WeightsFromConfig overlays configured weights on the defaults.
func WeightsFromConfig(c config.ScoreWeightsConfig) ScoreWeights {
	w := DefaultScoreWeights()
	set := func(dst *float64, v float64) {
		if v > 0 {
			*dst = v
		}
	}
	set(&w.BuyPressure, c.BuyPressure)
	set(&w.Activity, c.Activity)
	set(&w.Turnover, c.Turnover)
	set(&w.Liquidity, c.Liquidity)
	set(&w.Volume, c.Volume)
	set(&w.Momentum, c.Momentum)
	set(&w.Holders, c.Holders)
	set(&w.SourceBlendRate, c.SourceBlendRate)
	if w.SourceBlendRate > 1 {
		w.SourceBlendRate = 1
	}
	return w
}

// OrganicScore estimates, on 0-100, how much of a token's activity looks like
// real demand rather than bots or wash trading.
func OrganicScore(c TokenCandidate, w ScoreWeights) float64 {
	buys, sells := float64(c.Buys24h), float64(c.Sells24h)

	var pressure float64
	if buys+sells > 0 {
		// 30% buys or less scores 0, 70% or more scores 1.
		pressure = clamp01((buys/(buys+sells) - 0.3) / 0.4)
	}

	activity := clamp01(math.Log10(buys+sells+1) / 4)

	turnover := turnoverScore(c.Volume24hUSD, c.LiquidityUSD)

	computed := 100 * weighted(
		[]float64{pressure, activity, turnover},
		[]float64{w.BuyPressure, w.Activity, w.Turnover},
	)

	if c.SourceOrganicScore > 0 {
		src := math.Min(c.SourceOrganicScore, 100)
		return round1(w.SourceBlendRate*src + (1-w.SourceBlendRate)*computed)
	}
	return round1(computed)
}

// QualityScore rates, on 0-100, how tradable a token is: depth, flow, sane
// price action and holder base.
func QualityScore(c TokenCandidate, w ScoreWeights) float64 {
	liquidity := logScore(c.LiquidityUSD, 3, 6) // $1k..$1M
	volume := logScore(c.Volume24hUSD, 4, 7)    // $10k..$10M

	momentum := 1.0
	switch ch := c.PriceChange24; {
	case ch < -20:
		momentum = clamp01(1 - (-20-ch)/40) // 0 at -60%
	case ch > 200:
		momentum = clamp01(1 - (ch-200)/800) // 0 at +1000%
	}

	holders := 0.5 // unknown
	if c.Holders > 0 {
		holders = clamp01(math.Log10(float64(c.Holders)) / 4)
	}

	return round1(100 * weighted(
		[]float64{liquidity, volume, momentum, holders},
		[]float64{w.Liquidity, w.Volume, w.Momentum, w.Holders},
	))
}

// turnoverScore favours volume/liquidity between 0.5x and 5x. Thin turnover
// means no interest; extreme turnover usually means wash trading.
func turnoverScore(volume, liquidity float64) float64 {
	if liquidity <= 0 || volume <= 0 {
		return 0
	}
	r := volume / liquidity
	switch {
	case r < 0.5:
		return r / 0.5
	case r <= 5:
		return 1
	default:
		return clamp01(1 - (r-5)/20)
	}
}

func logScore(v, lo, hi float64) float64 {
	if v <= 0 {
		return 0
	}
	return clamp01((math.Log10(v) - lo) / (hi - lo))
}

func weighted(values, weights []float64) float64 {
	var sum, wsum float64
	for i, v := range values {
		sum += v * weights[i]
		wsum += weights[i]
	}
	if wsum == 0 {
		return 0
	}
	return sum / wsum
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

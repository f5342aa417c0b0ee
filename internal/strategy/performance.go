package strategy

import (
	"math"
	"strings"
	"time"

	"github.com/nexus-trading/hivemind/internal/storage"
)

// Performance summarizes closed trades over a window.
type Performance struct {
	Trades           int           `json:"trades"`
	Wins             int           `json:"wins"`
	Losses           int           `json:"losses"`
	WinRate          float64       `json:"win_rate"` // 0-100
	AvgProfitPercent float64       `json:"avg_profit_percent"`
	StdDevProfit     float64       `json:"stddev_profit"`
	StopLossExits    int           `json:"stop_loss_exits"`
	ForceCloses      int           `json:"force_closes"`
	Window           time.Duration `json:"window"`
}

// ComputePerformance folds trade log entries into a Performance. Only
// closing actions count as trades.
func ComputePerformance(entries []*storage.TradeLogEntry, window time.Duration) Performance {
	perf := Performance{Window: window}
	var profits []float64

	for _, e := range entries {
		if !e.Action.Closes() {
			continue
		}
		perf.Trades++
		profits = append(profits, e.ProfitPercent)
		if e.ProfitPercent > 0 {
			perf.Wins++
		} else {
			perf.Losses++
		}
		if strings.HasPrefix(e.Reason, "stop_loss") {
			perf.StopLossExits++
		}
		if e.Action == storage.ActionForceClose {
			perf.ForceCloses++
		}
	}
	if perf.Trades == 0 {
		return perf
	}

	perf.WinRate = float64(perf.Wins) / float64(perf.Trades) * 100

	var sum float64
	for _, p := range profits {
		sum += p
	}
	perf.AvgProfitPercent = sum / float64(len(profits))

	var sq float64
	for _, p := range profits {
		d := p - perf.AvgProfitPercent
		sq += d * d
	}
	perf.StdDevProfit = math.Sqrt(sq / float64(len(profits)))
	return perf
}

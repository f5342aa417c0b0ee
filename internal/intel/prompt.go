package intel

import (
	"encoding/json"
	"fmt"
	"strings"
)

const systemPrompt = "You are a disciplined Solana memecoin analyst. " +
	"Answer with JSON only. Never invent data that is not in the prompt."

func buildAnalysisPrompt(req AnalysisRequest) string {
	c := req.Candidate
	var b strings.Builder

	switch req.Purpose {
	case PurposeExit:
		b.WriteString("We hold the token below. Decide whether to keep holding or sell now.\n")
	default:
		b.WriteString("Evaluate the token below as a new short-term position.\n")
	}

	fmt.Fprintf(&b, "Token: %s (%s) mint %s\n", c.Symbol, c.Name, c.Mint)
	fmt.Fprintf(&b, "Price: %s SOL / %.8f USD\n", c.PriceSOL.String(), c.PriceUSD)
	fmt.Fprintf(&b, "Volume 24h: $%.0f, liquidity: $%.0f\n", c.Volume24hUSD, c.LiquidityUSD)
	fmt.Fprintf(&b, "Price change: 5m %.2f%%, 1h %.2f%%, 24h %.2f%%\n", c.PriceChange5m, c.PriceChange1h, c.PriceChange24)
	fmt.Fprintf(&b, "Transactions 24h: %d buys / %d sells\n", c.Buys24h, c.Sells24h)
	if c.Holders > 0 {
		fmt.Fprintf(&b, "Holders: %d\n", c.Holders)
	}
	fmt.Fprintf(&b, "Organic score: %.1f, quality score: %.1f\n", c.OrganicScore, c.QualityScore)

	if req.ProfitPercent != nil {
		fmt.Fprintf(&b, "Our position: %.2f%% profit, held %s\n", *req.ProfitPercent, req.HeldFor.Round(1e9))
	}
	if req.RiskTolerance != "" {
		fmt.Fprintf(&b, "Risk tolerance: %s\n", req.RiskTolerance)
	}
	if req.BudgetHintSOL > 0 {
		fmt.Fprintf(&b, "Intended size: %.4f SOL\n", req.BudgetHintSOL)
	}

	b.WriteString(`Reply with one JSON object:
{"action":"buy|sell|hold","confidence":0.0-1.0,"reasoning":"...","potential_upside_percent":number,"risk_level":"low|medium|high"}`)
	return b.String()
}

func buildBatchPrompt(items []BatchItem) string {
	payload, _ := json.Marshal(items)
	var b strings.Builder
	b.WriteString("Review these open positions and recommend an action for each.\n")
	b.WriteString("Positions: ")
	b.Write(payload)
	b.WriteString(`
Reply with a JSON array, one element per position:
[{"mint":"...","action":"sell|hold","confidence":0.0-1.0,"reasoning":"..."}]`)
	return b.String()
}

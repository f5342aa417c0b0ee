package market

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nexus-trading/hivemind/internal/solana"
)

// JupiterTokenSource reads Jupiter's token API, which ranks tokens by an
// organic score and reports per-window trading stats.
type JupiterTokenSource struct {
	baseURL string
	http    httpSource
}

func NewJupiterTokenSource(baseURL string, timeout time.Duration) *JupiterTokenSource {
	return &JupiterTokenSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    newHTTPSource(timeout, 1),
	}
}

func (s *JupiterTokenSource) Name() string { return "jupiter" }

type jupStats struct {
	PriceChange float64 `json:"priceChange"`
	BuyVolume   float64 `json:"buyVolume"`
	SellVolume  float64 `json:"sellVolume"`
	NumBuys     int     `json:"numBuys"`
	NumSells    int     `json:"numSells"`
}

type jupToken struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Symbol       string    `json:"symbol"`
	Decimals     uint8     `json:"decimals"`
	HolderCount  int       `json:"holderCount"`
	OrganicScore float64   `json:"organicScore"`
	USDPrice     float64   `json:"usdPrice"`
	Liquidity    float64   `json:"liquidity"`
	Stats5m      *jupStats `json:"stats5m"`
	Stats1h      *jupStats `json:"stats1h"`
	Stats24h     *jupStats `json:"stats24h"`
}

func (s *JupiterTokenSource) Candidates(ctx context.Context) ([]TokenCandidate, error) {
	var tokens []jupToken
	if err := s.http.getJSON(ctx, s.baseURL+"/toporganicscore/1h?limit=100", &tokens); err != nil {
		return nil, fmt.Errorf("jupiter: top organic: %w", err)
	}
	solUSD, err := s.solPrice(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]TokenCandidate, 0, len(tokens))
	for _, t := range tokens {
		if c, ok := t.candidate(solUSD); ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *JupiterTokenSource) Token(ctx context.Context, mint string) (*TokenCandidate, error) {
	tokens, err := s.search(ctx, mint+","+string(solana.SOLMint))
	if err != nil {
		return nil, err
	}
	var solUSD float64
	var target *jupToken
	for i := range tokens {
		switch tokens[i].ID {
		case string(solana.SOLMint):
			solUSD = tokens[i].USDPrice
		case mint:
			target = &tokens[i]
		}
	}
	if target == nil {
		return nil, ErrTokenNotFound
	}
	c, ok := target.candidate(solUSD)
	if !ok {
		return nil, fmt.Errorf("jupiter: no usable price for %s", mint)
	}
	return &c, nil
}

func (s *JupiterTokenSource) solPrice(ctx context.Context) (float64, error) {
	tokens, err := s.search(ctx, string(solana.SOLMint))
	if err != nil {
		return 0, err
	}
	for _, t := range tokens {
		if t.ID == string(solana.SOLMint) && t.USDPrice > 0 {
			return t.USDPrice, nil
		}
	}
	return 0, fmt.Errorf("jupiter: SOL price unavailable")
}

func (s *JupiterTokenSource) search(ctx context.Context, query string) ([]jupToken, error) {
	var tokens []jupToken
	u := s.baseURL + "/search?query=" + url.QueryEscape(query)
	if err := s.http.getJSON(ctx, u, &tokens); err != nil {
		return nil, fmt.Errorf("jupiter: search: %w", err)
	}
	return tokens, nil
}

func (t jupToken) candidate(solUSD float64) (TokenCandidate, bool) {
	if t.USDPrice <= 0 || solUSD <= 0 {
		return TokenCandidate{}, false
	}
	c := TokenCandidate{
		Mint:               t.ID,
		Symbol:             t.Symbol,
		Name:               t.Name,
		Decimals:           t.Decimals,
		PriceUSD:           t.USDPrice,
		PriceSOL:           decimal.NewFromFloat(t.USDPrice).Div(decimal.NewFromFloat(solUSD)),
		LiquidityUSD:       t.Liquidity,
		Holders:            t.HolderCount,
		SourceOrganicScore: t.OrganicScore,
		Source:             "jupiter",
		ObservedAt:         time.Now(),
	}
	if t.Stats5m != nil {
		c.PriceChange5m = t.Stats5m.PriceChange
	}
	if t.Stats1h != nil {
		c.PriceChange1h = t.Stats1h.PriceChange
	}
	if t.Stats24h != nil {
		c.PriceChange24 = t.Stats24h.PriceChange
		c.Volume24hUSD = t.Stats24h.BuyVolume + t.Stats24h.SellVolume
		c.Buys24h = t.Stats24h.NumBuys
		c.Sells24h = t.Stats24h.NumSells
	}
	return c, true
}

package market

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nexus-trading/hivemind/internal/solana"
)

// DexScreenerSource discovers boosted Solana tokens and resolves pair data.
type DexScreenerSource struct {
	baseURL string
	http    httpSource
}

// NewDexScreenerSource creates the source. DexScreener allows roughly 300
// pair requests a minute; 4 rps keeps well under that.
func NewDexScreenerSource(baseURL string, timeout time.Duration) *DexScreenerSource {
	return &DexScreenerSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    newHTTPSource(timeout, 4),
	}
}

func (s *DexScreenerSource) Name() string { return "dexscreener" }

type dsBoost struct {
	ChainID      string `json:"chainId"`
	TokenAddress string `json:"tokenAddress"`
}

type dsPair struct {
	ChainID   string `json:"chainId"`
	BaseToken struct {
		Address string `json:"address"`
		Name    string `json:"name"`
		Symbol  string `json:"symbol"`
	} `json:"baseToken"`
	QuoteToken struct {
		Address string `json:"address"`
	} `json:"quoteToken"`
	PriceNative string `json:"priceNative"`
	PriceUSD    string `json:"priceUsd"`
	Txns        struct {
		H24 struct {
			Buys  int `json:"buys"`
			Sells int `json:"sells"`
		} `json:"h24"`
	} `json:"txns"`
	Volume struct {
		H24 float64 `json:"h24"`
	} `json:"volume"`
	PriceChange struct {
		M5  float64 `json:"m5"`
		H1  float64 `json:"h1"`
		H24 float64 `json:"h24"`
	} `json:"priceChange"`
	Liquidity struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
}

// dexscreener's tokens endpoint accepts at most 30 addresses per call.
const dsBatchSize = 30

func (s *DexScreenerSource) Candidates(ctx context.Context) ([]TokenCandidate, error) {
	var boosts []dsBoost
	if err := s.http.getJSON(ctx, s.baseURL+"/token-boosts/top/v1", &boosts); err != nil {
		return nil, fmt.Errorf("dexscreener: boosts: %w", err)
	}

	seen := make(map[string]bool)
	var mints []string
	for _, b := range boosts {
		if b.ChainID != "solana" || seen[b.TokenAddress] {
			continue
		}
		seen[b.TokenAddress] = true
		mints = append(mints, b.TokenAddress)
	}

	var out []TokenCandidate
	for start := 0; start < len(mints); start += dsBatchSize {
		end := min(start+dsBatchSize, len(mints))
		pairs, err := s.pairs(ctx, mints[start:end])
		if err != nil {
			if len(out) > 0 {
				// Keep what we have; the cache tolerates partial results.
				break
			}
			return nil, err
		}
		out = append(out, bestPairs(pairs)...)
	}
	return out, nil
}

func (s *DexScreenerSource) Token(ctx context.Context, mint string) (*TokenCandidate, error) {
	pairs, err := s.pairs(ctx, []string{mint})
	if err != nil {
		return nil, err
	}
	for _, c := range bestPairs(pairs) {
		if c.Mint == mint {
			return &c, nil
		}
	}
	return nil, ErrTokenNotFound
}

func (s *DexScreenerSource) pairs(ctx context.Context, mints []string) ([]dsPair, error) {
	var pairs []dsPair
	url := fmt.Sprintf("%s/tokens/v1/solana/%s", s.baseURL, strings.Join(mints, ","))
	if err := s.http.getJSON(ctx, url, &pairs); err != nil {
		return nil, fmt.Errorf("dexscreener: pairs: %w", err)
	}
	return pairs, nil
}

// bestPairs keeps the deepest SOL-quoted pair per base token.
func bestPairs(pairs []dsPair) []TokenCandidate {
	best := make(map[string]dsPair)
	var order []string
	for _, p := range pairs {
		if p.ChainID != "solana" || p.QuoteToken.Address != string(solana.SOLMint) {
			continue
		}
		mint := p.BaseToken.Address
		cur, ok := best[mint]
		if !ok {
			order = append(order, mint)
		}
		if !ok || p.Liquidity.USD > cur.Liquidity.USD {
			best[mint] = p
		}
	}

	now := time.Now()
	out := make([]TokenCandidate, 0, len(order))
	for _, mint := range order {
		p := best[mint]
		priceSOL, err := decimal.NewFromString(p.PriceNative)
		if err != nil || !priceSOL.IsPositive() {
			continue
		}
		priceUSD, _ := strconv.ParseFloat(p.PriceUSD, 64)
		out = append(out, TokenCandidate{
			Mint:          mint,
			Symbol:        p.BaseToken.Symbol,
			Name:          p.BaseToken.Name,
			PriceUSD:      priceUSD,
			PriceSOL:      priceSOL,
			Volume24hUSD:  p.Volume.H24,
			LiquidityUSD:  p.Liquidity.USD,
			PriceChange5m: p.PriceChange.M5,
			PriceChange1h: p.PriceChange.H1,
			PriceChange24: p.PriceChange.H24,
			Buys24h:       p.Txns.H24.Buys,
			Sells24h:      p.Txns.H24.Sells,
			Source:        "dexscreener",
			ObservedAt:    now,
		})
	}
	return out
}

package market

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Real mainnet mints so base58 validation passes.
const (
	mintBONK   = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
	mintJUP    = "JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN"
	mintWIF    = "EKpQGSJtjMFqKZ9KQanSqYXRcF8fBopzLHYxdM65zcjm"
	mintPOPCAT = "7GCihgDB8fe6KNjn2MYtkzZcRjQy3t9GHdC8uHYmW2hr"
)

type stubSource struct {
	name  string
	delay time.Duration
	err   error

	mu    sync.Mutex
	list  []TokenCandidate
	calls int
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Candidates(ctx context.Context) ([]TokenCandidate, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.list, nil
}

func (s *stubSource) Token(_ context.Context, mint string) (*TokenCandidate, error) {
	if s.err != nil {
		return nil, s.err
	}
	for _, c := range s.list {
		if c.Mint == mint {
			c := c
			return &c, nil
		}
	}
	return nil, ErrTokenNotFound
}

func (s *stubSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

var errSourceDown = errors.New("source down")

func candidate(mint, source string, volume float64) TokenCandidate {
	return TokenCandidate{
		Mint:          mint,
		Symbol:        mint[:4],
		PriceSOL:      decimal.NewFromFloat(0.0001),
		Volume24hUSD:  volume,
		LiquidityUSD:  volume / 2,
		PriceChange5m: 1,
		PriceChange1h: 3,
		PriceChange24: 20,
		Buys24h:       600,
		Sells24h:      400,
		Holders:       2000,
		Source:        source,
	}
}

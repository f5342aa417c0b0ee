package market

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/nexus-trading/hivemind/internal/cache"
	"github.com/nexus-trading/hivemind/internal/observability"
	"github.com/nexus-trading/hivemind/internal/solana"
)

// CacheConfig configures the market data cache.
type CacheConfig struct {
	SourceTimeout time.Duration
	CandidateTTL  time.Duration
	PriceTTL      time.Duration
	Blacklist     []string
	Weights       ScoreWeights
}

// DefaultCacheConfig returns production defaults.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		SourceTimeout: 10 * time.Second,
		CandidateTTL:  15 * time.Minute,
		PriceTTL:      time.Minute,
		Weights:       DefaultScoreWeights(),
	}
}

// Cache aggregates discovery sources behind a TTL cache. It is the only
// path by which cycles see market data.
type Cache struct {
	config  CacheConfig
	sources []Source

	mu        sync.RWMutex
	blacklist map[string]struct{}

	candidates *cache.TTL[string, []TokenCandidate]
	prices     *cache.TTL[string, TokenCandidate]
}

// NewCache creates a cache over sources. Source order is merge priority:
// when two sources report the same mint, the earlier source wins.
func NewCache(config CacheConfig, sources ...Source) *Cache {
	def := DefaultCacheConfig()
	if config.SourceTimeout == 0 {
		config.SourceTimeout = def.SourceTimeout
	}
	if config.CandidateTTL == 0 {
		config.CandidateTTL = def.CandidateTTL
	}
	if config.PriceTTL == 0 {
		config.PriceTTL = def.PriceTTL
	}
	if config.Weights == (ScoreWeights{}) {
		config.Weights = def.Weights
	}

	c := &Cache{
		config:     config,
		sources:    sources,
		blacklist:  make(map[string]struct{}),
		candidates: cache.NewTTL[string, []TokenCandidate](config.CandidateTTL),
		prices:     cache.NewTTL[string, TokenCandidate](config.PriceTTL),
	}
	for _, m := range config.Blacklist {
		c.blacklist[m] = struct{}{}
	}
	return c
}

// Blacklist excludes a mint from all future results.
func (c *Cache) Blacklist(mint string) {
	c.mu.Lock()
	c.blacklist[mint] = struct{}{}
	c.mu.Unlock()
	c.prices.Delete(mint)
}

func (c *Cache) isBlacklisted(mint string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.blacklist[mint]
	return ok
}

// GetCandidates returns scored, filtered, deduplicated candidates sorted by
// 24h volume. Failing sources are skipped; an empty slice is a valid result.
func (c *Cache) GetCandidates(ctx context.Context, params FilterParams) []TokenCandidate {
	key := params.Key()
	if cached, ok := c.candidates.Get(key); ok {
		observability.RecordMarketCacheHit("candidates")
		return c.dropBlacklisted(cached)
	}

	results := make([][]TokenCandidate, len(c.sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range c.sources {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(gctx, c.config.SourceTimeout)
			defer cancel()

			list, err := src.Candidates(sctx)
			observability.RecordSourceFetch(src.Name(), err)
			if err != nil {
				log.Warn().Err(err).Str("source", src.Name()).Msg("market: source failed, continuing with partial results")
				return nil
			}
			results[i] = list
			return nil
		})
	}
	_ = g.Wait()

	merged := c.merge(results)
	filtered := make([]TokenCandidate, 0, len(merged))
	for _, cand := range merged {
		if params.Accepts(cand) {
			filtered = append(filtered, cand)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Volume24hUSD > filtered[j].Volume24hUSD
	})
	if params.Limit > 0 && len(filtered) > params.Limit {
		filtered = filtered[:params.Limit]
	}

	observability.SetCandidatesFound(len(filtered))
	log.Debug().Int("merged", len(merged)).Int("accepted", len(filtered)).Str("key", key).Msg("market: candidates refreshed")

	c.candidates.Set(key, filtered)
	for _, cand := range filtered {
		c.prices.Set(cand.Mint, cand)
	}
	return filtered
}

// merge dedups by mint in source order, drops invalid and blacklisted mints
// and attaches scores.
func (c *Cache) merge(results [][]TokenCandidate) []TokenCandidate {
	seen := make(map[string]bool)
	var out []TokenCandidate
	for _, list := range results {
		for _, cand := range list {
			if seen[cand.Mint] {
				continue
			}
			seen[cand.Mint] = true
			if !solana.IsValidPubkey(cand.Mint) || c.isBlacklisted(cand.Mint) {
				continue
			}
			if !cand.PriceSOL.IsPositive() {
				continue
			}
			cand.OrganicScore = OrganicScore(cand, c.config.Weights)
			cand.QualityScore = QualityScore(cand, c.config.Weights)
			out = append(out, cand)
		}
	}
	return out
}

func (c *Cache) dropBlacklisted(list []TokenCandidate) []TokenCandidate {
	out := make([]TokenCandidate, 0, len(list))
	for _, cand := range list {
		if !c.isBlacklisted(cand.Mint) {
			out = append(out, cand)
		}
	}
	return out
}

// GetToken resolves current market data for a held mint, trying sources in
// order. Returns ErrTokenNotFound when no source knows the mint.
func (c *Cache) GetToken(ctx context.Context, mint string) (*TokenCandidate, error) {
	if cached, ok := c.prices.Get(mint); ok {
		observability.RecordMarketCacheHit("token")
		return &cached, nil
	}

	var lastErr error = ErrTokenNotFound
	for _, src := range c.sources {
		sctx, cancel := context.WithTimeout(ctx, c.config.SourceTimeout)
		tok, err := src.Token(sctx, mint)
		cancel()
		if err != nil {
			if !errors.Is(err, ErrTokenNotFound) {
				lastErr = err
				log.Debug().Err(err).Str("source", src.Name()).Str("mint", mint).Msg("market: token lookup failed")
			}
			continue
		}
		tok.OrganicScore = OrganicScore(*tok, c.config.Weights)
		tok.QualityScore = QualityScore(*tok, c.config.Weights)
		c.prices.Set(mint, *tok)
		return tok, nil
	}
	return nil, lastErr
}

// CacheStats reports hit rates of the candidate and token caches.
type CacheStats struct {
	CandidateHits   uint64 `json:"candidate_hits"`
	CandidateMisses uint64 `json:"candidate_misses"`
	TokenHits       uint64 `json:"token_hits"`
	TokenMisses     uint64 `json:"token_misses"`
	CachedTokens    int    `json:"cached_tokens"`
}

// Stats returns the cache counters.
func (c *Cache) Stats() CacheStats {
	var st CacheStats
	st.CandidateHits, st.CandidateMisses = c.candidates.Stats()
	st.TokenHits, st.TokenMisses = c.prices.Stats()
	st.CachedTokens = c.prices.Len()
	return st
}

// Evict drops expired entries from both caches.
func (c *Cache) Evict() int {
	return c.candidates.Evict() + c.prices.Evict()
}

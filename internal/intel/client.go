package intel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nexus-trading/hivemind/internal/cache"
	"github.com/nexus-trading/hivemind/internal/observability"
)

// ---------------------------------------------------------------------------
// Client configuration
// ---------------------------------------------------------------------------

// ClientConfig configures the consensus client.
type ClientConfig struct {
	CacheTTL                 time.Duration
	ProviderTimeout          time.Duration // upper bound per provider call
	MaxTokens                int
	Temperature              float64
	BatchSize                int     // positions per batch prompt
	CircuitBreakerMinSamples int     // results before the breaker may open
	CircuitBreakerErrorPct   float64 // open the breaker above this error rate
	CircuitBreakerCooldown   time.Duration
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		CacheTTL:                 30 * time.Minute,
		ProviderTimeout:          20 * time.Second,
		MaxTokens:                600,
		Temperature:              0.2,
		BatchSize:                20,
		CircuitBreakerMinSamples: 5,
		CircuitBreakerErrorPct:   0.50,
		CircuitBreakerCooldown:   2 * time.Minute,
	}
}

// ---------------------------------------------------------------------------
// Circuit breaker
// ---------------------------------------------------------------------------

type circuitBreaker struct {
	errors        int
	total         int
	queries       int
	failures      int
	lastError     time.Time
	open          bool
	cooldownUntil time.Time
}

// ---------------------------------------------------------------------------
// Client -- ordered-fallback consensus over AI providers
// ---------------------------------------------------------------------------

// Client asks AI providers for trade recommendations. Providers are tried in
// registration order; any failure (transport, auth, quota, timeout, invalid
// reply) moves on to the next one. When every provider fails the answer is
// a neutral hold, never an error.
type Client struct {
	mu        sync.Mutex
	config    ClientConfig
	providers []Provider
	breakers  map[string]*circuitBreaker
	now       func() time.Time

	analyses *cache.TTL[string, Analysis]

	totalQueries atomic.Int64
	fallbacks    atomic.Int64
}

// NewClient creates a client over providers, in fallback order.
func NewClient(config ClientConfig, providers ...Provider) *Client {
	def := DefaultClientConfig()
	if config.CacheTTL == 0 {
		config.CacheTTL = def.CacheTTL
	}
	if config.ProviderTimeout == 0 {
		config.ProviderTimeout = def.ProviderTimeout
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = def.MaxTokens
	}
	if config.BatchSize == 0 {
		config.BatchSize = def.BatchSize
	}
	if config.CircuitBreakerMinSamples == 0 {
		config.CircuitBreakerMinSamples = def.CircuitBreakerMinSamples
	}
	if config.CircuitBreakerErrorPct == 0 {
		config.CircuitBreakerErrorPct = def.CircuitBreakerErrorPct
	}
	if config.CircuitBreakerCooldown == 0 {
		config.CircuitBreakerCooldown = def.CircuitBreakerCooldown
	}

	c := &Client{
		config:    config,
		providers: providers,
		breakers:  make(map[string]*circuitBreaker, len(providers)),
		now:       time.Now,
		analyses:  cache.NewTTL[string, Analysis](config.CacheTTL),
	}
	for _, p := range providers {
		c.breakers[p.Name()] = &circuitBreaker{}
		log.Info().Str("provider", p.Name()).Str("tier", string(p.Tier())).Msg("intel: provider registered")
	}
	return c
}

// SetClock overrides the time source for the breakers and the cache.
func (c *Client) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
	c.analyses.SetClock(now)
}

// Analyze returns a recommendation for one token. Fresh cached answers for
// the same mint and purpose are returned without calling any provider.
func (c *Client) Analyze(ctx context.Context, req AnalysisRequest) Analysis {
	mint := req.Candidate.Mint
	key := cacheKey(req.Purpose, mint)

	if cached, ok := c.analyses.Get(key); ok {
		observability.RecordAICacheHit()
		cached.Cached = true
		return cached
	}

	tier := req.Tier
	if tier == "" {
		tier = TierFast
	}

	var result Analysis
	provider, err := c.query(ctx, tier, CompletionRequest{
		System:      systemPrompt,
		Prompt:      buildAnalysisPrompt(req),
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
	}, func(text string) error {
		a, perr := parseAnalysis(text)
		if perr != nil {
			return perr
		}
		result = a
		return nil
	})
	if err != nil {
		c.fallbacks.Add(1)
		observability.RecordAIFallback("analyze")
		log.Warn().Err(err).Str("mint", mint).Str("tier", string(tier)).Msg("intel: all providers failed, holding")
		return holdFallback(mint)
	}

	result.Mint = mint
	result.Provider = provider
	result.AnalyzedAt = c.clock()
	c.analyses.Set(key, result)

	log.Debug().
		Str("mint", mint).
		Str("provider", provider).
		Str("action", string(result.Action)).
		Float64("confidence", result.Confidence).
		Msg("intel: analysis complete")
	return result
}

// AnalyzeBatch asks for recommendations on many held positions with one
// prompt per chunk. Mints missing from a reply, and every mint when all
// providers fail, come back as hold with zero confidence.
func (c *Client) AnalyzeBatch(ctx context.Context, items []BatchItem, tier Tier) map[string]Recommendation {
	out := make(map[string]Recommendation, len(items))
	if tier == "" {
		tier = TierFull
	}

	for start := 0; start < len(items); start += c.config.BatchSize {
		end := min(start+c.config.BatchSize, len(items))
		chunk := items[start:end]

		asked := make(map[string]struct{}, len(chunk))
		for _, it := range chunk {
			asked[it.Mint] = struct{}{}
		}

		var recs map[string]Recommendation
		provider, err := c.query(ctx, tier, CompletionRequest{
			System:      systemPrompt,
			Prompt:      buildBatchPrompt(chunk),
			MaxTokens:   c.config.MaxTokens * 2,
			Temperature: c.config.Temperature,
		}, func(text string) error {
			r, perr := parseBatch(text, asked)
			if perr != nil {
				return perr
			}
			recs = r
			return nil
		})
		if err != nil {
			c.fallbacks.Add(1)
			observability.RecordAIFallback("batch")
			log.Warn().Err(err).Int("positions", len(chunk)).Msg("intel: batch failed on all providers, holding")
		}

		for _, it := range chunk {
			if rec, ok := recs[it.Mint]; ok {
				rec.Provider = provider
				out[it.Mint] = rec
				continue
			}
			out[it.Mint] = Recommendation{
				Mint:      it.Mint,
				Action:    ActionHold,
				Reasoning: "no recommendation returned",
				Fallback:  true,
			}
		}
	}
	return out
}

// Complete runs a free-form prompt through the ordered fallback. accept
// validates the text; a rejected text counts as a provider failure. It is
// used by callers that need their own reply schema (strategy generation).
func (c *Client) Complete(ctx context.Context, tier Tier, req CompletionRequest, accept func(text string) error) (string, error) {
	if req.System == "" {
		req.System = systemPrompt
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = c.config.MaxTokens
	}
	return c.query(ctx, tier, req, accept)
}

// query tries eligible providers in order until one returns text that
// accept approves. It returns the name of the provider that answered.
func (c *Client) query(ctx context.Context, tier Tier, req CompletionRequest, accept func(string) error) (string, error) {
	candidates := c.providersFor(tier)
	if len(candidates) == 0 {
		return "", fmt.Errorf("no providers configured: %w", ErrAllProvidersDown)
	}

	var errs []error
	for _, p := range candidates {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if !c.allow(p.Name()) {
			log.Debug().Str("provider", p.Name()).Msg("intel: provider skipped, circuit open")
			continue
		}

		c.totalQueries.Add(1)
		pctx, cancel := context.WithTimeout(ctx, c.config.ProviderTimeout)
		start := time.Now()
		resp, err := p.Complete(pctx, req)
		cancel()
		if err == nil {
			err = accept(resp.Text)
		}
		elapsed := time.Since(start).Seconds()

		if err != nil {
			c.recordResult(p.Name(), false)
			observability.RecordAICall(p.Name(), outcome(err), elapsed)
			log.Warn().Err(err).Str("provider", p.Name()).Msg("intel: provider failed, trying next")
			errs = append(errs, err)
			continue
		}

		c.recordResult(p.Name(), true)
		observability.RecordAICall(p.Name(), "ok", elapsed)
		return p.Name(), nil
	}

	errs = append(errs, ErrAllProvidersDown)
	return "", errors.Join(errs...)
}

// providersFor returns the providers eligible for a tier. The fast tier
// uses fast providers, or every provider when none is tagged fast.
func (c *Client) providersFor(tier Tier) []Provider {
	if tier != TierFast {
		return c.providers
	}
	fast := make([]Provider, 0, len(c.providers))
	for _, p := range c.providers {
		if p.Tier() == TierFast {
			fast = append(fast, p)
		}
	}
	if len(fast) == 0 {
		return c.providers
	}
	return fast
}

// allow checks if the provider's circuit breaker admits a request.
func (c *Client) allow(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	cb, ok := c.breakers[name]
	if !ok || !cb.open {
		return true
	}
	if c.now().After(cb.cooldownUntil) {
		cb.open = false
		cb.errors = 0
		cb.total = 0
		log.Info().Str("provider", name).Msg("intel: circuit breaker closed (cooldown elapsed)")
		return true
	}
	return false
}

// recordResult updates the circuit breaker for a provider after a query.
func (c *Client) recordResult(name string, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cb, ok := c.breakers[name]
	if !ok {
		cb = &circuitBreaker{}
		c.breakers[name] = cb
	}

	cb.total++
	cb.queries++
	if !success {
		cb.errors++
		cb.failures++
		cb.lastError = c.now()
	}

	if cb.total >= c.config.CircuitBreakerMinSamples && !cb.open {
		errorRate := float64(cb.errors) / float64(cb.total)
		if errorRate >= c.config.CircuitBreakerErrorPct {
			cb.open = true
			cb.cooldownUntil = c.now().Add(c.config.CircuitBreakerCooldown)
			log.Warn().
				Str("provider", name).
				Float64("error_rate", errorRate).
				Time("cooldown_until", cb.cooldownUntil).
				Msg("intel: circuit breaker OPENED")
		}
	}
}

func (c *Client) clock() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now()
}

// Evict drops expired cached analyses.
func (c *Client) Evict() int {
	return c.analyses.Evict()
}

// Forget drops any cached analysis of mint, for both purposes.
func (c *Client) Forget(mint string) {
	c.analyses.Delete(cacheKey(PurposeEntry, mint))
	c.analyses.Delete(cacheKey(PurposeExit, mint))
}

func cacheKey(purpose Purpose, mint string) string {
	if purpose == "" {
		purpose = PurposeEntry
	}
	return string(purpose) + ":" + mint
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrProviderAuth):
		return "auth"
	case errors.Is(err, ErrProviderQuota):
		return "quota"
	case errors.Is(err, ErrProviderBadReply):
		return "bad_reply"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

// ClientStats provides aggregate statistics about client operation.
type ClientStats struct {
	TotalQueries  int64                    `json:"total_queries"`
	CacheHits     int64                    `json:"cache_hits"`
	CacheMisses   int64                    `json:"cache_misses"`
	Fallbacks     int64                    `json:"fallbacks"`
	CachedEntries int                      `json:"cached_entries"`
	ProviderStats map[string]ProviderStats `json:"providers"`
}

// ProviderStats tracks per-provider statistics.
type ProviderStats struct {
	Queries     int  `json:"queries"`
	Errors      int  `json:"errors"`
	CircuitOpen bool `json:"circuit_open"`
}

// Stats returns aggregate statistics about client operation.
func (c *Client) Stats() ClientStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	hits, misses := c.analyses.Stats()
	stats := ClientStats{
		TotalQueries:  c.totalQueries.Load(),
		CacheHits:     int64(hits),
		CacheMisses:   int64(misses),
		Fallbacks:     c.fallbacks.Load(),
		CachedEntries: c.analyses.Len(),
		ProviderStats: make(map[string]ProviderStats, len(c.breakers)),
	}
	for name, cb := range c.breakers {
		stats.ProviderStats[name] = ProviderStats{
			Queries:     cb.queries,
			Errors:      cb.failures,
			CircuitOpen: cb.open,
		}
	}
	return stats
}

package intel

import (
	"context"
	"errors"
)

// Provider is one text-completion backend. Implementations must honour ctx
// cancellation; the client applies a per-provider timeout.
type Provider interface {
	Name() string
	Tier() Tier
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// CompletionRequest is a single-turn prompt.
type CompletionRequest struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// CompletionResponse is the raw provider answer.
type CompletionResponse struct {
	Text       string
	Provider   string
	TokensUsed int
	LatencyMs  int64
}

// Provider failure classes. All of them advance to the next provider; they
// differ only in how they are logged and counted.
var (
	ErrProviderAuth     = errors.New("provider auth rejected")
	ErrProviderQuota    = errors.New("provider quota exhausted")
	ErrProviderUpstream = errors.New("provider upstream error")
	ErrProviderBadReply = errors.New("provider reply unusable")
	ErrAllProvidersDown = errors.New("all providers failed")
)

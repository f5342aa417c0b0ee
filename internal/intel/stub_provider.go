package intel

import (
	"context"
	"fmt"
	"sync"
)

// StubProvider is a deterministic provider for testing.
// It returns pre-loaded responses in order, cycling back to the start
// when all responses have been consumed.
type StubProvider struct {
	mu        sync.Mutex
	name      string
	tier      Tier
	responses []string
	idx       int
	healthy   bool
	calls     int
	prompts   []string
}

// NewStubProvider creates a StubProvider with the given raw completion texts.
func NewStubProvider(name string, tier Tier, responses ...string) *StubProvider {
	return &StubProvider{
		name:      name,
		tier:      tier,
		responses: responses,
		healthy:   true,
	}
}

func (s *StubProvider) Name() string { return s.name }
func (s *StubProvider) Tier() Tier   { return s.tier }

// Complete returns the next pre-loaded response, or an error when the stub
// is marked unhealthy.
func (s *StubProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	s.prompts = append(s.prompts, req.Prompt)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.healthy {
		return nil, fmt.Errorf("%s: %w", s.name, ErrProviderUpstream)
	}
	if len(s.responses) == 0 {
		return nil, fmt.Errorf("%s has no responses configured: %w", s.name, ErrProviderBadReply)
	}

	text := s.responses[s.idx]
	s.idx = (s.idx + 1) % len(s.responses)
	return &CompletionResponse{Text: text, Provider: s.name}, nil
}

// SetHealthy sets whether the stub provider answers.
func (s *StubProvider) SetHealthy(healthy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthy = healthy
}

// Calls returns the total number of Complete() invocations.
func (s *StubProvider) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// LastPrompt returns the most recent prompt, or "" if never called.
func (s *StubProvider) LastPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.prompts) == 0 {
		return ""
	}
	return s.prompts[len(s.prompts)-1]
}

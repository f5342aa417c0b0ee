package memory

import (
	"context"
	"sync"

	"github.com/nexus-trading/hivemind/internal/storage"
	"github.com/nexus-trading/hivemind/internal/strategy"
)

// StrategyStore is an in-memory implementation of strategy.Repository.
// It keeps every version; Latest returns the last saved one.
type StrategyStore struct {
	mu   sync.RWMutex
	data map[string][]*strategy.Strategy // keyed by wallet
}

// NewStrategyStore creates a new in-memory strategy store.
func NewStrategyStore() *StrategyStore {
	return &StrategyStore{data: make(map[string][]*strategy.Strategy)}
}

var _ strategy.Repository = (*StrategyStore)(nil)

// Save appends a strategy version.
func (s *StrategyStore) Save(_ context.Context, st *strategy.Strategy) error {
	if st == nil || st.Wallet == "" {
		return storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.data[st.Wallet] {
		if existing.ID == st.ID {
			return storage.ErrDuplicateKey
		}
	}
	stCopy := *st
	s.data[st.Wallet] = append(s.data[st.Wallet], &stCopy)
	return nil
}

// Latest returns the most recently saved strategy of a wallet.
func (s *StrategyStore) Latest(_ context.Context, wallet string) (*strategy.Strategy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.data[wallet]
	if len(versions) == 0 {
		return nil, storage.ErrNotFound
	}
	stCopy := *versions[len(versions)-1]
	return &stCopy, nil
}

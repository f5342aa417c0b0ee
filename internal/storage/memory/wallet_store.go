// Package memory provides in-memory implementations of the repositories,
// used in tests and single-process dry runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/nexus-trading/hivemind/internal/storage"
)

// WalletStore is an in-memory implementation of storage.WalletRepository.
type WalletStore struct {
	mu   sync.RWMutex
	data map[string]*storage.WalletConfig
}

// NewWalletStore creates a new in-memory wallet store.
func NewWalletStore() *WalletStore {
	return &WalletStore{data: make(map[string]*storage.WalletConfig)}
}

var _ storage.WalletRepository = (*WalletStore)(nil)

// Save inserts or replaces a wallet config.
func (s *WalletStore) Save(_ context.Context, w *storage.WalletConfig) error {
	if err := w.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to prevent external mutation
	walletCopy := *w
	s.data[w.Wallet] = &walletCopy
	return nil
}

// Get returns a copy of the wallet config. Returns ErrNotFound if absent.
func (s *WalletStore) Get(_ context.Context, wallet string) (*storage.WalletConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.data[wallet]
	if !ok {
		return nil, storage.ErrNotFound
	}
	walletCopy := *w
	return &walletCopy, nil
}

// List returns every wallet ordered by address.
func (s *WalletStore) List(_ context.Context) ([]*storage.WalletConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*storage.WalletConfig, 0, len(s.data))
	for _, w := range s.data {
		walletCopy := *w
		result = append(result, &walletCopy)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Wallet < result[j].Wallet
	})
	return result, nil
}

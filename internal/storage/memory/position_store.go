package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/nexus-trading/hivemind/internal/position"
	"github.com/nexus-trading/hivemind/internal/storage"
)

type positionKey struct {
	wallet string
	mint   string
}

// PositionStore is an in-memory implementation of position.Repository.
type PositionStore struct {
	mu   sync.RWMutex
	data map[positionKey]*position.Position
}

// NewPositionStore creates a new in-memory position store.
func NewPositionStore() *PositionStore {
	return &PositionStore{data: make(map[positionKey]*position.Position)}
}

var _ position.Repository = (*PositionStore)(nil)

// Create adds a position. Returns ErrDuplicateKey if the wallet holds the mint.
func (s *PositionStore) Create(_ context.Context, p *position.Position) error {
	if p == nil || p.Wallet == "" || p.Mint == "" {
		return storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := positionKey{p.Wallet, p.Mint}
	if _, exists := s.data[key]; exists {
		return storage.ErrDuplicateKey
	}
	posCopy := *p
	s.data[key] = &posCopy
	return nil
}

// Get returns a copy of the position. Returns ErrNotFound if absent.
func (s *PositionStore) Get(_ context.Context, wallet, mint string) (*position.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.data[positionKey{wallet, mint}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	posCopy := *p
	return &posCopy, nil
}

// List returns the wallet's positions ordered by OpenedAt ASC.
func (s *PositionStore) List(_ context.Context, wallet string) ([]*position.Position, error) {
	return s.collect(func(p *position.Position) bool { return p.Wallet == wallet }), nil
}

// ListAll returns every position ordered by OpenedAt ASC.
func (s *PositionStore) ListAll(_ context.Context) ([]*position.Position, error) {
	return s.collect(func(*position.Position) bool { return true }), nil
}

func (s *PositionStore) collect(match func(*position.Position) bool) []*position.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*position.Position
	for _, p := range s.data {
		if match(p) {
			posCopy := *p
			result = append(result, &posCopy)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].OpenedAt.Equal(result[j].OpenedAt) {
			return result[i].Mint < result[j].Mint
		}
		return result[i].OpenedAt.Before(result[j].OpenedAt)
	})
	return result
}

// Update replaces a position. Returns ErrNotFound if absent.
func (s *PositionStore) Update(_ context.Context, p *position.Position) error {
	if p == nil {
		return storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := positionKey{p.Wallet, p.Mint}
	if _, exists := s.data[key]; !exists {
		return storage.ErrNotFound
	}
	posCopy := *p
	s.data[key] = &posCopy
	return nil
}

// Delete removes a position. Returns ErrNotFound if absent.
func (s *PositionStore) Delete(_ context.Context, wallet, mint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := positionKey{wallet, mint}
	if _, exists := s.data[key]; !exists {
		return storage.ErrNotFound
	}
	delete(s.data, key)
	return nil
}

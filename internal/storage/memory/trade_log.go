package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nexus-trading/hivemind/internal/storage"
)

// TradeLog is an in-memory implementation of storage.TradeLog.
type TradeLog struct {
	mu      sync.RWMutex
	entries []*storage.TradeLogEntry
	ids     map[string]struct{}
}

// NewTradeLog creates a new in-memory trade log.
func NewTradeLog() *TradeLog {
	return &TradeLog{ids: make(map[string]struct{})}
}

var _ storage.TradeLog = (*TradeLog)(nil)

// Append stores an entry. Returns ErrDuplicateKey if the ID exists.
func (l *TradeLog) Append(_ context.Context, e *storage.TradeLogEntry) error {
	if e == nil || e.Wallet == "" || e.Action == "" {
		return storage.ErrInvalidInput
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	id := e.ID.String()
	if _, exists := l.ids[id]; exists {
		return storage.ErrDuplicateKey
	}
	l.ids[id] = struct{}{}
	entryCopy := *e
	l.entries = append(l.entries, &entryCopy)
	return nil
}

// Since returns the wallet's entries at or after since, ordered by CreatedAt ASC.
func (l *TradeLog) Since(_ context.Context, wallet string, since time.Time) ([]*storage.TradeLogEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var result []*storage.TradeLogEntry
	for _, e := range l.entries {
		if e.Wallet == wallet && !e.CreatedAt.Before(since) {
			entryCopy := *e
			result = append(result, &entryCopy)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// All returns every entry in append order.
func (l *TradeLog) All() []*storage.TradeLogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]*storage.TradeLogEntry, 0, len(l.entries))
	for _, e := range l.entries {
		entryCopy := *e
		result = append(result, &entryCopy)
	}
	return result
}

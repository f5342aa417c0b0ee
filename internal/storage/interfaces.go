package storage

import (
	"context"
	"time"
)

// WalletRepository persists WalletConfig records.
type WalletRepository interface {
	// Save inserts or replaces the config of w.Wallet.
	Save(ctx context.Context, w *WalletConfig) error

	// Get returns the config of a wallet. Returns ErrNotFound if absent.
	Get(ctx context.Context, wallet string) (*WalletConfig, error)

	// List returns every stored wallet ordered by address.
	List(ctx context.Context) ([]*WalletConfig, error)
}

// TradeLog is the append-only audit trail.
type TradeLog interface {
	// Append stores an entry. Returns ErrDuplicateKey if the ID exists.
	Append(ctx context.Context, e *TradeLogEntry) error

	// Since returns the wallet's entries created at or after since,
	// ordered by CreatedAt ASC.
	Since(ctx context.Context, wallet string, since time.Time) ([]*TradeLogEntry, error)
}

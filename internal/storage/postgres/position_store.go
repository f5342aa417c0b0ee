package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/nexus-trading/hivemind/internal/position"
	"github.com/nexus-trading/hivemind/internal/storage"
)

// PositionStore implements position.Repository using PostgreSQL.
type PositionStore struct {
	pool *Pool
}

// NewPositionStore creates a new PositionStore.
func NewPositionStore(pool *Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Compile-time interface check.
var _ position.Repository = (*PositionStore)(nil)

const positionColumns = `id, wallet, mint, symbol, decimals, entry_price_sol, invested_sol,
	token_amount_raw, entry_confidence, is_swing_trade, rebuy_count, last_price_sol,
	last_profit_percent, peak_profit_percent, opened_at, updated_at`

// Create adds a position. Returns ErrDuplicateKey if the wallet holds the mint.
func (s *PositionStore) Create(ctx context.Context, p *position.Position) (err error) {
	if p == nil || p.Wallet == "" || p.Mint == "" {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("position_create", start, err) }(time.Now())

	query := `
		INSERT INTO positions (` + positionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err = s.pool.Exec(ctx, query,
		p.ID, p.Wallet, p.Mint, p.Symbol, int16(p.Decimals), p.EntryPriceSOL, p.InvestedSOL,
		uint64ToDecimal(p.TokenAmountRaw), p.EntryConfidence, p.IsSwingTrade, p.RebuyCount, p.LastPriceSOL,
		p.LastProfitPercent, p.PeakProfitPercent, p.OpenedAt, p.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert position: %w", err)
	}
	return nil
}

// Get returns a position. Returns ErrNotFound if absent.
func (s *PositionStore) Get(ctx context.Context, wallet, mint string) (_ *position.Position, err error) {
	defer func(start time.Time) { observe("position_get", start, err) }(time.Now())

	query := `SELECT ` + positionColumns + ` FROM positions WHERE wallet = $1 AND mint = $2`
	p, err := scanPosition(s.pool.QueryRow(ctx, query, wallet, mint))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get position: %w", err)
	}
	return p, nil
}

// List returns the wallet's positions ordered by OpenedAt ASC.
func (s *PositionStore) List(ctx context.Context, wallet string) ([]*position.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE wallet = $1 ORDER BY opened_at, mint`
	return s.query(ctx, "position_list", query, wallet)
}

// ListAll returns every position ordered by OpenedAt ASC.
func (s *PositionStore) ListAll(ctx context.Context) ([]*position.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions ORDER BY opened_at, mint`
	return s.query(ctx, "position_list_all", query)
}

func (s *PositionStore) query(ctx context.Context, op, query string, args ...any) (_ []*position.Position, err error) {
	defer func(start time.Time) { observe(op, start, err) }(time.Now())

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var result []*position.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate positions: %w", err)
	}
	return result, nil
}

// Update replaces the mutable fields of a position. Returns ErrNotFound if absent.
func (s *PositionStore) Update(ctx context.Context, p *position.Position) (err error) {
	if p == nil {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("position_update", start, err) }(time.Now())

	query := `
		UPDATE positions SET
			entry_price_sol = $3, invested_sol = $4, token_amount_raw = $5,
			rebuy_count = $6, last_price_sol = $7, last_profit_percent = $8,
			peak_profit_percent = $9, updated_at = $10
		WHERE wallet = $1 AND mint = $2
	`
	tag, err := s.pool.Exec(ctx, query,
		p.Wallet, p.Mint,
		p.EntryPriceSOL, p.InvestedSOL, uint64ToDecimal(p.TokenAmountRaw),
		p.RebuyCount, p.LastPriceSOL, p.LastProfitPercent,
		p.PeakProfitPercent, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Delete removes a position. Returns ErrNotFound if absent.
func (s *PositionStore) Delete(ctx context.Context, wallet, mint string) (err error) {
	defer func(start time.Time) { observe("position_delete", start, err) }(time.Now())

	tag, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE wallet = $1 AND mint = $2`, wallet, mint)
	if err != nil {
		return fmt.Errorf("delete position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanPosition(row pgx.Row) (*position.Position, error) {
	var (
		p        position.Position
		decimals int16
		amount   decimal.Decimal
	)
	err := row.Scan(
		&p.ID, &p.Wallet, &p.Mint, &p.Symbol, &decimals, &p.EntryPriceSOL, &p.InvestedSOL,
		&amount, &p.EntryConfidence, &p.IsSwingTrade, &p.RebuyCount, &p.LastPriceSOL,
		&p.LastProfitPercent, &p.PeakProfitPercent, &p.OpenedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Decimals = uint8(decimals)
	p.TokenAmountRaw = decimalToUint64(amount)
	return &p, nil
}

package position_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-trading/hivemind/internal/position"
	"github.com/nexus-trading/hivemind/internal/storage"
	"github.com/nexus-trading/hivemind/internal/storage/memory"
)

const (
	wallet = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	mint   = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newStore(t *testing.T) (*position.Store, *time.Time) {
	t.Helper()
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	s := position.NewStore(memory.NewPositionStore())
	s.SetClock(func() time.Time { return now })
	return s, &now
}

func openDefault(t *testing.T, s *position.Store) *position.Position {
	t.Helper()
	p, err := s.Open(context.Background(), wallet, mint, "BONK", 5,
		position.Fill{AmountSOL: d("1"), TokenAmountRaw: 1_000_000, PriceSOL: d("0.001")}, 70, false)
	require.NoError(t, err)
	return p
}

func TestStore_Open(t *testing.T) {
	s, now := newStore(t)
	p := openDefault(t, s)

	assert.Equal(t, *now, p.OpenedAt)
	assert.Equal(t, 0, p.RebuyCount)
	assert.True(t, p.InvestedSOL.Equal(d("1")))

	_, err := s.Open(context.Background(), wallet, mint, "BONK", 5,
		position.Fill{AmountSOL: d("1"), TokenAmountRaw: 1, PriceSOL: d("0.001")}, 70, false)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey, "one position per wallet and mint")

	_, err = s.Open(context.Background(), wallet, "other", "X", 5,
		position.Fill{AmountSOL: d("0"), TokenAmountRaw: 1, PriceSOL: d("0.001")}, 70, false)
	assert.ErrorIs(t, err, position.ErrInvalidFill)
}

func TestCanRebuy(t *testing.T) {
	p := &position.Position{EntryPriceSOL: d("0.001"), EntryConfidence: 70}

	tests := []struct {
		name       string
		rebuys     int
		price      string
		confidence float64
		want       error
	}{
		{"allowed", 0, "0.0009", 75, nil},
		{"drop just under threshold", 0, "0.00091", 75, position.ErrRebuyNotAllowed},
		{"confidence not higher", 1, "0.0008", 70, position.ErrRebuyNotAllowed},
		{"limit reached", 2, "0.0005", 99, position.ErrRebuyLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p.RebuyCount = tt.rebuys
			err := position.CanRebuy(p, d(tt.price), tt.confidence)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestStore_ApplyRebuy_WeightedEntry(t *testing.T) {
	s, _ := newStore(t)
	openDefault(t, s)
	ctx := context.Background()

	// 1 SOL @ 0.001 then 0.5 SOL @ 0.0008 -> (0.001*1 + 0.0008*0.5) / 1.5
	p, err := s.ApplyRebuy(ctx, wallet, mint,
		position.Fill{AmountSOL: d("0.5"), TokenAmountRaw: 625_000, PriceSOL: d("0.0008")}, 80)
	require.NoError(t, err)

	want := d("0.0014").Div(d("1.5"))
	assert.True(t, p.EntryPriceSOL.Equal(want), "got %s want %s", p.EntryPriceSOL, want)
	assert.True(t, p.InvestedSOL.Equal(d("1.5")))
	assert.Equal(t, uint64(1_625_000), p.TokenAmountRaw)
	assert.Equal(t, 1, p.RebuyCount)
}

func TestStore_ApplyRebuy_RejectsWithoutSideEffects(t *testing.T) {
	s, _ := newStore(t)
	openDefault(t, s)
	ctx := context.Background()

	_, err := s.ApplyRebuy(ctx, wallet, mint,
		position.Fill{AmountSOL: d("0.5"), TokenAmountRaw: 1, PriceSOL: d("0.00095")}, 90)
	assert.ErrorIs(t, err, position.ErrRebuyNotAllowed)

	p, err := s.Get(ctx, wallet, mint)
	require.NoError(t, err)
	assert.Equal(t, 0, p.RebuyCount)
	assert.True(t, p.InvestedSOL.Equal(d("1")))
	assert.Equal(t, uint64(1_000_000), p.TokenAmountRaw)
}

func TestStore_ApplyRebuy_LimitOfTwo(t *testing.T) {
	s, _ := newStore(t)
	openDefault(t, s)
	ctx := context.Background()

	_, err := s.ApplyRebuy(ctx, wallet, mint, position.Fill{AmountSOL: d("0.5"), TokenAmountRaw: 1, PriceSOL: d("0.0008")}, 80)
	require.NoError(t, err)
	// Entry is now ~0.000933; another 10% drop is needed.
	_, err = s.ApplyRebuy(ctx, wallet, mint, position.Fill{AmountSOL: d("0.5"), TokenAmountRaw: 1, PriceSOL: d("0.0006")}, 85)
	require.NoError(t, err)
	_, err = s.ApplyRebuy(ctx, wallet, mint, position.Fill{AmountSOL: d("0.5"), TokenAmountRaw: 1, PriceSOL: d("0.0003")}, 95)
	assert.ErrorIs(t, err, position.ErrRebuyLimit)

	p, err := s.Get(ctx, wallet, mint)
	require.NoError(t, err)
	assert.Equal(t, position.MaxRebuys, p.RebuyCount)
}

func TestStore_RefreshTracksPeak(t *testing.T) {
	s, now := newStore(t)
	openDefault(t, s)
	ctx := context.Background()

	p, err := s.Refresh(ctx, wallet, mint, d("0.0016"))
	require.NoError(t, err)
	assert.InDelta(t, 60, p.LastProfitPercent, 1e-9)
	assert.InDelta(t, 60, p.PeakProfitPercent, 1e-9)

	*now = now.Add(time.Minute)
	p, err = s.Refresh(ctx, wallet, mint, d("0.0012"))
	require.NoError(t, err)
	assert.InDelta(t, 20, p.LastProfitPercent, 1e-9)
	assert.InDelta(t, 60, p.PeakProfitPercent, 1e-9, "peak never decreases")
	assert.Equal(t, *now, p.UpdatedAt)

	assert.True(t, p.ValueSOL().Equal(d("1.2")))
	assert.True(t, p.UnrealizedPnLSOL().Equal(d("0.2")))

	// A non-positive price leaves the record untouched.
	p, err = s.Refresh(ctx, wallet, mint, decimal.Zero)
	require.NoError(t, err)
	assert.InDelta(t, 20, p.LastProfitPercent, 1e-9)
}

func TestStore_Delete(t *testing.T) {
	s, _ := newStore(t)
	openDefault(t, s)
	ctx := context.Background()

	require.NoError(t, s.Delete(ctx, wallet, mint))
	_, err := s.Get(ctx, wallet, mint)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, wallet, mint), storage.ErrNotFound)
}

func TestStore_ApplyRebuy_ChecksMarkPrice(t *testing.T) {
	s, _ := newStore(t)
	openDefault(t, s)

	// Decided at a 12% drop, filled at 9% after slippage.
	p, err := s.ApplyRebuy(context.Background(), wallet, mint,
		position.Fill{AmountSOL: d("0.5"), TokenAmountRaw: 549_450, PriceSOL: d("0.00091"), MarkPriceSOL: d("0.00088")}, 80)
	require.NoError(t, err)
	assert.Equal(t, 1, p.RebuyCount)
	assert.True(t, p.LastPriceSOL.Equal(d("0.00091")))
}

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-trading/hivemind/internal/position"
	"github.com/nexus-trading/hivemind/internal/storage"
	"github.com/nexus-trading/hivemind/internal/strategy"
)

const (
	testWallet = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	testMint   = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
)

func TestRepositories(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	t.Run("wallets", func(t *testing.T) {
		s := NewWalletStore(pool)

		_, err := s.Get(ctx, testWallet)
		assert.ErrorIs(t, err, storage.ErrNotFound)

		w := &storage.WalletConfig{
			Wallet:           testWallet,
			Enabled:          true,
			TotalBudgetSOL:   decimal.RequireFromString("10"),
			BudgetUsedSOL:    decimal.RequireFromString("2.5"),
			RealizedPnLSOL:   decimal.RequireFromString("-0.125"),
			PortfolioPeakSOL: decimal.RequireFromString("10.4"),
			DrawdownPaused:   true,
			BuybackPercent:   10,
			UpdatedAt:        now,
		}
		require.NoError(t, s.Save(ctx, w))

		w.BudgetUsedSOL = decimal.RequireFromString("1.5")
		require.NoError(t, s.Save(ctx, w))

		got, err := s.Get(ctx, testWallet)
		require.NoError(t, err)
		assert.True(t, got.BudgetUsedSOL.Equal(decimal.RequireFromString("1.5")))
		assert.True(t, got.RealizedPnLSOL.Equal(decimal.RequireFromString("-0.125")))
		assert.True(t, got.DrawdownPaused)

		list, err := s.List(ctx)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("positions", func(t *testing.T) {
		s := NewPositionStore(pool)
		p := &position.Position{
			ID:              uuid.New(),
			Wallet:          testWallet,
			Mint:            testMint,
			Symbol:          "BONK",
			Decimals:        5,
			EntryPriceSOL:   decimal.RequireFromString("0.000000123456789"),
			InvestedSOL:     decimal.RequireFromString("0.5"),
			TokenAmountRaw:  18_000_000_000_000_000_000,
			EntryConfidence: 82,
			IsSwingTrade:    true,
			LastPriceSOL:    decimal.RequireFromString("0.000000123456789"),
			OpenedAt:        now,
			UpdatedAt:       now,
		}
		require.NoError(t, s.Create(ctx, p))

		dup := *p
		dup.ID = uuid.New()
		assert.ErrorIs(t, s.Create(ctx, &dup), storage.ErrDuplicateKey)

		p.RebuyCount = 1
		p.PeakProfitPercent = 12.5
		require.NoError(t, s.Update(ctx, p))

		got, err := s.Get(ctx, testWallet, testMint)
		require.NoError(t, err)
		assert.Equal(t, p.ID, got.ID)
		assert.Equal(t, uint64(18_000_000_000_000_000_000), got.TokenAmountRaw)
		assert.Equal(t, uint8(5), got.Decimals)
		assert.Equal(t, 1, got.RebuyCount)
		assert.True(t, got.EntryPriceSOL.Equal(p.EntryPriceSOL))

		all, err := s.ListAll(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)

		require.NoError(t, s.Delete(ctx, testWallet, testMint))
		assert.ErrorIs(t, s.Delete(ctx, testWallet, testMint), storage.ErrNotFound)
		_, err = s.Get(ctx, testWallet, testMint)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("strategies", func(t *testing.T) {
		s := NewStrategyStore(pool)
		for v := 1; v <= 2; v++ {
			require.NoError(t, s.Save(ctx, &strategy.Strategy{
				ID:                uuid.New(),
				Wallet:            testWallet,
				Version:           v,
				Source:            strategy.SourceRules,
				Sentiment:         strategy.SentimentNeutral,
				RiskLevel:         "medium",
				MinConfidence:     75,
				MaxDailyTrades:    10,
				BudgetPerTradeSOL: decimal.RequireFromString("0.3"),
				GeneratedAt:       now,
				ExpiresAt:         now.Add(6 * time.Hour),
			}))
		}
		latest, err := s.Latest(ctx, testWallet)
		require.NoError(t, err)
		assert.Equal(t, 2, latest.Version)
		assert.Equal(t, strategy.SentimentNeutral, latest.Sentiment)
	})

	t.Run("trade log", func(t *testing.T) {
		l := NewTradeLog(pool)
		e := &storage.TradeLogEntry{
			ID:             uuid.New(),
			Wallet:         testWallet,
			Mint:           testMint,
			Action:         storage.ActionSell,
			Reason:         "stop_loss",
			AmountSOL:      decimal.RequireFromString("0.4"),
			TokenAmountRaw: 1_000,
			ProfitPercent:  -20,
			CreatedAt:      now,
		}
		require.NoError(t, l.Append(ctx, e))
		assert.ErrorIs(t, l.Append(ctx, e), storage.ErrDuplicateKey)

		got, err := l.Since(ctx, testWallet, now.Add(-time.Minute))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, storage.ActionSell, got[0].Action)
		assert.Equal(t, uint64(1_000), got[0].TokenAmountRaw)
	})
}

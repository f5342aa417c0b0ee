package executor

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/nexus-trading/hivemind/internal/solana"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testWallet = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	testMint   = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeRoute struct {
	name  string
	err   error
	calls int
}

func (f *fakeRoute) Name() string { return f.name }

func (f *fakeRoute) Buy(_ context.Context, _, _ string, amountSOL decimal.Decimal, _ int) (*BuyResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &BuyResult{Signature: solana.Signature("sig-" + f.name), AmountSOL: amountSOL, TokenAmountRaw: 42, Route: f.name}, nil
}

func (f *fakeRoute) Sell(_ context.Context, _, _ string, amountRaw uint64, _ int) (*SellResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &SellResult{Signature: solana.Signature("sig-" + f.name), TokenAmountRaw: amountRaw, ProceedsSOL: dec("1"), Route: f.name}, nil
}

func TestRouter_PrimaryWins(t *testing.T) {
	primary := &fakeRoute{name: "primary"}
	secondary := &fakeRoute{name: "secondary"}
	r := NewRouter(primary, secondary)

	res, err := r.Buy(context.Background(), testWallet, testMint, dec("0.5"), 300)
	require.NoError(t, err)
	assert.Equal(t, "primary", res.Route)
	assert.Equal(t, 0, secondary.calls)
}

func TestRouter_FallsBack(t *testing.T) {
	primary := &fakeRoute{name: "primary", err: errors.New("HTTP 502")}
	secondary := &fakeRoute{name: "secondary"}
	r := NewRouter(primary, secondary)

	res, err := r.Sell(context.Background(), testWallet, testMint, 1000, 300)
	require.NoError(t, err)
	assert.Equal(t, "secondary", res.Route)
	assert.Equal(t, 1, primary.calls)
}

func TestRouter_NoFallbackAfterLandedFailure(t *testing.T) {
	primary := &fakeRoute{name: "primary", err: fmt.Errorf("%w: sig", ErrTxFailed)}
	secondary := &fakeRoute{name: "secondary"}
	r := NewRouter(primary, secondary)

	_, err := r.Buy(context.Background(), testWallet, testMint, dec("0.5"), 300)
	assert.ErrorIs(t, err, ErrTxFailed)
	assert.Equal(t, 0, secondary.calls)

	primary.err = fmt.Errorf("%w: sig", ErrConfirmTimeout)
	_, err = r.Sell(context.Background(), testWallet, testMint, 1, 300)
	assert.ErrorIs(t, err, ErrConfirmTimeout)
	assert.Equal(t, 0, secondary.calls)
}

func TestRouter_BothFail(t *testing.T) {
	primary := &fakeRoute{name: "primary", err: errors.New("primary down")}
	secondary := &fakeRoute{name: "secondary", err: errors.New("secondary down")}
	r := NewRouter(primary, secondary)

	_, err := r.Buy(context.Background(), testWallet, testMint, dec("0.5"), 300)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "primary down")
	assert.Contains(t, err.Error(), "secondary down")
}

func TestRouter_NoSecondary(t *testing.T) {
	primary := &fakeRoute{name: "primary", err: errors.New("down")}
	r := NewRouter(primary, nil)

	_, err := r.Buy(context.Background(), testWallet, testMint, dec("0.5"), 300)
	assert.EqualError(t, err, "down")
}

func TestFillPriceSOL(t *testing.T) {
	price, err := FillPriceSOL(dec("1"), 1_000_000, 6)
	require.NoError(t, err)
	assert.True(t, price.Equal(dec("1")))

	price, err = FillPriceSOL(dec("1"), 2_000_000_000, 9)
	require.NoError(t, err)
	assert.True(t, price.Equal(dec("0.5")))

	_, err = FillPriceSOL(dec("1"), 0, 6)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestLamports(t *testing.T) {
	assert.Equal(t, uint64(1_500_000_000), lamports(dec("1.5")))
	assert.Equal(t, uint64(10_000_000), lamports(dec("0.01")))
}

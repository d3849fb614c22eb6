package sim

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradepilot/pkg/broker"
)

func TestRoundTripLongPosition(t *testing.T) {
	b := New()
	b.SetMarkPrice("BTC", 50000)
	ctx := context.Background()

	order, err := b.PlaceCryptoOrder(ctx, broker.CryptoOrderRequest{Symbol: "btc", Side: broker.SideBuy, Qty: 0.5, Leverage: 5})
	require.NoError(t, err)
	assert.Equal(t, "filled", order.Status)

	positions, err := b.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "BTCUSD", positions[0].Symbol)
	assert.Equal(t, "long", positions[0].Side)
	assert.InDelta(t, 0.5, positions[0].Qty, 1e-9)
	assert.Equal(t, 5, positions[0].Leverage)

	b.SetMarkPrice("BTC", 52000)
	positions, err = b.GetPositions(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 1000, positions[0].UnrealizedPL, 1e-6)

	closeOrder, err := b.ClosePosition(ctx, broker.CloseRequest{Symbol: "BTC", Percentage: 100})
	require.NoError(t, err)
	assert.Equal(t, broker.SideSell, closeOrder.Side)

	positions, err = b.GetPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)

	acct, err := b.GetAccount(ctx)
	require.NoError(t, err)
	assert.InDelta(t, defaultInitialCash+1000, acct.Cash, 1e-6, "realized pnl credits cash")
}

func TestShortPositionPnl(t *testing.T) {
	b := New()
	b.SetMarkPrice("ETH", 3000)
	ctx := context.Background()

	_, err := b.PlaceCryptoOrder(ctx, broker.CryptoOrderRequest{Symbol: "ETH", Side: broker.SideSell, Qty: 2})
	require.NoError(t, err)

	b.SetMarkPrice("ETH", 2800)
	positions, err := b.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "short", positions[0].Side)
	assert.Negative(t, positions[0].Qty)
	assert.InDelta(t, 400, positions[0].UnrealizedPL, 1e-6)

	closeOrder, err := b.ClosePosition(ctx, broker.CloseRequest{Symbol: "eth", Qty: 2})
	require.NoError(t, err)
	assert.Equal(t, broker.SideBuy, closeOrder.Side)

	acct, err := b.GetAccount(ctx)
	require.NoError(t, err)
	assert.InDelta(t, defaultInitialCash+400, acct.Cash, 1e-6)
}

func TestClosePartialByPercentage(t *testing.T) {
	b := New()
	b.SetMarkPrice("BTC", 40000)
	ctx := context.Background()

	_, err := b.PlaceCryptoOrder(ctx, broker.CryptoOrderRequest{Symbol: "BTC", Side: broker.SideBuy, Qty: 1})
	require.NoError(t, err)

	_, err = b.ClosePosition(ctx, broker.CloseRequest{Symbol: "BTC", Percentage: 25})
	require.NoError(t, err)

	positions, err := b.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.InDelta(t, 0.75, positions[0].Qty, 1e-9)
}

func TestLeverageCeiling(t *testing.T) {
	b := New()
	_, err := b.PlaceCryptoOrder(context.Background(), broker.CryptoOrderRequest{Symbol: "BTC", Side: broker.SideBuy, Qty: 1, Leverage: 51})
	var lerr *broker.LeverageError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, maxLeverage, lerr.Max)
}

func TestMarketStatusToggle(t *testing.T) {
	b := New()
	status, err := b.GetMarketStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Open)

	b.SetMarketOpen(false)
	status, err = b.GetMarketStatus(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Open)
}

func TestFactoryRegistration(t *testing.T) {
	b, err := broker.New("sim", broker.Credentials{})
	require.NoError(t, err)
	assert.Equal(t, "sim", b.Name())
}

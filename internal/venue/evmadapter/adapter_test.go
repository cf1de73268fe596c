package evmadapter

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundingarb/engine/internal/types"
)

func testAdapter(t *testing.T) *Adapter {
	t.Helper()
	a, err := New(Config{
		VenueName:   "lighter",
		RESTBaseURL: "http://example.invalid",
		DryRun:      true,
		Symbols: map[string]types.Symbol{
			"BTC": {TickSize: decimal.NewFromFloat(0.1), LotSize: decimal.NewFromFloat(0.001)},
		},
	})
	require.NoError(t, err)
	return a
}

func TestRoundPriceBuyRoundsDown(t *testing.T) {
	a := testAdapter(t)
	price := a.RoundPrice("BTC", decimal.NewFromFloat(100.27), types.SideBuy)
	assert.True(t, price.Equal(decimal.NewFromFloat(100.2)), "got %s", price)
}

func TestRoundPriceSellRoundsUp(t *testing.T) {
	a := testAdapter(t)
	price := a.RoundPrice("BTC", decimal.NewFromFloat(100.21), types.SideSell)
	assert.True(t, price.Equal(decimal.NewFromFloat(100.3)), "got %s", price)
}

func TestRoundPriceZeroTickIsNoOp(t *testing.T) {
	a := testAdapter(t)
	price := a.RoundPrice("UNKNOWN", decimal.NewFromFloat(5.555), types.SideBuy)
	assert.True(t, price.Equal(decimal.NewFromFloat(5.555)))
}

func TestBuildDomainSeparatorDeterministic(t *testing.T) {
	a := buildDomainSeparator("0x1111111111111111111111111111111111111111", 42161)
	b := buildDomainSeparator("0x1111111111111111111111111111111111111111", 42161)
	assert.Equal(t, a, b)

	c := buildDomainSeparator("0x2222222222222222222222222222222222222222", 42161)
	assert.NotEqual(t, a, c)
}

func TestBuildOrderStructHashDeterministic(t *testing.T) {
	order := &SignedOrder{
		Salt:      "123",
		Maker:     "0x1111111111111111111111111111111111111111",
		Symbol:    "BTC",
		Side:      "BUY",
		Price:     "100.5",
		Qty:       "10",
		OrderType: "LIMIT",
		Nonce:     "999",
	}
	h1 := buildOrderStructHash(order)
	h2 := buildOrderStructHash(order)
	assert.Equal(t, h1, h2)

	order.ReduceOnly = true
	h3 := buildOrderStructHash(order)
	assert.NotEqual(t, h1, h3)
}

func TestPadUint256LeftPads(t *testing.T) {
	padded := padUint256("255")
	require.Len(t, padded, 32)
	assert.Equal(t, byte(0xff), padded[31])
}

func TestPadUint256InvalidDefaultsToZero(t *testing.T) {
	padded := padUint256("not-a-number")
	require.Len(t, padded, 32)
	for _, b := range padded {
		assert.Equal(t, byte(0), b)
	}
}

func TestNormalizeOrderStatus(t *testing.T) {
	assert.Equal(t, types.OrderFilled, normalizeOrderStatus("FILLED"))
	assert.Equal(t, types.OrderCanceled, normalizeOrderStatus("CANCELED"))
}

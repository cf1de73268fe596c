package execution

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/fundingarb/engine/internal/types"
	"github.com/fundingarb/engine/internal/venue"
)

type stubAdapter struct {
	tick decimal.Decimal
}

func (s *stubAdapter) Name() string { return "stub" }
func (s *stubAdapter) BestBidAsk(ctx context.Context, symbol string) (types.BookTicker, error) {
	return types.BookTicker{}, nil
}
func (s *stubAdapter) OrderBook(ctx context.Context, symbol string, depth int) ([]types.BookLevel, []types.BookLevel, error) {
	return nil, nil, nil
}
func (s *stubAdapter) PlaceLimit(ctx context.Context, symbol string, side types.Side, qty, price decimal.Decimal, postOnly, reduceOnly bool) (string, error) {
	return "", nil
}
func (s *stubAdapter) PlaceMarket(ctx context.Context, symbol string, side types.Side, qty decimal.Decimal, reduceOnly bool) (string, error) {
	return "", nil
}
func (s *stubAdapter) Cancel(ctx context.Context, clientID string) error { return nil }
func (s *stubAdapter) OrderStatus(ctx context.Context, clientID string) (types.TrackedOrder, error) {
	return types.TrackedOrder{}, nil
}
func (s *stubAdapter) SetAccountLeverage(ctx context.Context, symbol string, leverage int) error {
	return venue.ErrUnsupported
}
func (s *stubAdapter) MaxLeverage(ctx context.Context, symbol string) (int, error) { return 1, nil }
func (s *stubAdapter) TickSize(symbol string) decimal.Decimal                      { return s.tick }
func (s *stubAdapter) LotSize(symbol string) decimal.Decimal                       { return decimal.NewFromFloat(0.001) }
func (s *stubAdapter) RoundPrice(symbol string, price decimal.Decimal, side types.Side) decimal.Decimal {
	return price
}
func (s *stubAdapter) Venue() types.Venue { return types.Venue{Name: "stub"} }

var _ venue.Adapter = (*stubAdapter)(nil)

func TestLimitPriceBuyInsideTickUndercutsAsk(t *testing.T) {
	a := &stubAdapter{tick: decimal.NewFromFloat(0.1)}
	e := New(a, nil)
	bbo := types.BookTicker{Bid: decimal.NewFromInt(100), Ask: decimal.NewFromFloat(100.1)}

	price := e.limitPrice("BTC", types.SideBuy, bbo, 1, 3)
	assert.True(t, price.Equal(decimal.NewFromInt(100)))
}

func TestLimitPriceBuyAtTouchAfterRetriesExhausted(t *testing.T) {
	a := &stubAdapter{tick: decimal.NewFromFloat(0.1)}
	e := New(a, nil)
	bbo := types.BookTicker{Bid: decimal.NewFromInt(100), Ask: decimal.NewFromFloat(100.1)}

	price := e.limitPrice("BTC", types.SideBuy, bbo, 4, 3)
	assert.True(t, price.Equal(decimal.NewFromFloat(100.1)))
}

func TestLimitPriceSellInsideTickIsAboveBid(t *testing.T) {
	a := &stubAdapter{tick: decimal.NewFromFloat(0.1)}
	e := New(a, nil)
	bbo := types.BookTicker{Bid: decimal.NewFromInt(100), Ask: decimal.NewFromFloat(100.1)}

	price := e.limitPrice("BTC", types.SideSell, bbo, 1, 3)
	assert.True(t, price.Equal(decimal.NewFromFloat(100.1)))
}

package hedge

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/fundingarb/engine/internal/types"
	"github.com/fundingarb/engine/internal/venue"
	"github.com/fundingarb/engine/internal/wsfeed"
)

type instantFillAdapter struct {
	tick decimal.Decimal
}

func (a *instantFillAdapter) Name() string { return "stub" }
func (a *instantFillAdapter) BestBidAsk(ctx context.Context, symbol string) (types.BookTicker, error) {
	return types.BookTicker{Bid: decimal.NewFromInt(100), Ask: decimal.NewFromFloat(100.1), TS: time.Now()}, nil
}
func (a *instantFillAdapter) OrderBook(ctx context.Context, symbol string, depth int) ([]types.BookLevel, []types.BookLevel, error) {
	return nil, nil, nil
}
func (a *instantFillAdapter) PlaceLimit(ctx context.Context, symbol string, side types.Side, qty, price decimal.Decimal, postOnly, reduceOnly bool) (string, error) {
	return "order-1", nil
}
func (a *instantFillAdapter) PlaceMarket(ctx context.Context, symbol string, side types.Side, qty decimal.Decimal, reduceOnly bool) (string, error) {
	return "order-market", nil
}
func (a *instantFillAdapter) Cancel(ctx context.Context, clientID string) error { return nil }
func (a *instantFillAdapter) OrderStatus(ctx context.Context, clientID string) (types.TrackedOrder, error) {
	return types.TrackedOrder{
		Status:       types.OrderFilled,
		RequestedQty: decimal.NewFromInt(10),
		FilledQty:    decimal.NewFromInt(10),
		AvgFillPrice: decimal.NewFromFloat(100.05),
		FeesPaid:     decimal.NewFromFloat(0.05),
	}, nil
}
func (a *instantFillAdapter) SetAccountLeverage(ctx context.Context, symbol string, leverage int) error {
	return venue.ErrUnsupported
}
func (a *instantFillAdapter) MaxLeverage(ctx context.Context, symbol string) (int, error) { return 1, nil }
func (a *instantFillAdapter) TickSize(symbol string) decimal.Decimal                      { return a.tick }
func (a *instantFillAdapter) LotSize(symbol string) decimal.Decimal                       { return decimal.NewFromFloat(0.001) }
func (a *instantFillAdapter) RoundPrice(symbol string, price decimal.Decimal, side types.Side) decimal.Decimal {
	return price
}
func (a *instantFillAdapter) Venue() types.Venue { return types.Venue{Name: "stub"} }

var _ venue.Adapter = (*instantFillAdapter)(nil)

type onTickSubscriber struct{}

func (onTickSubscriber) Subscribe(ctx context.Context, symbol string, onTick func(types.BookTicker)) error {
	onTick(types.BookTicker{Bid: decimal.NewFromInt(100), Ask: decimal.NewFromFloat(100.1), TS: time.Now()})
	return nil
}

func TestDriveFillsEntirelyAtBreakEvenLeg(t *testing.T) {
	adapter := &instantFillAdapter{tick: decimal.NewFromFloat(0.1)}
	cache := wsfeed.New(map[string]wsfeed.Subscriber{"stub": onTickSubscriber{}})
	assert.NoError(t, cache.Ensure(context.Background(), "stub", "BTC"))

	m := New(adapter, cache)
	res, err := m.Drive(context.Background(), Request{
		Symbol:           "BTC",
		Side:             types.SideBuy,
		TriggerFillPrice: decimal.NewFromFloat(100.05),
		HedgeTargetQty:   decimal.NewFromInt(10),
		Mode:             Opening,
	})
	assert.NoError(t, err)
	assert.True(t, res.FinalFilledQty.Equal(decimal.NewFromInt(10)))
}

func TestDriveUnknownModeErrors(t *testing.T) {
	adapter := &instantFillAdapter{tick: decimal.NewFromFloat(0.1)}
	cache := wsfeed.New(map[string]wsfeed.Subscriber{"stub": onTickSubscriber{}})
	m := New(adapter, cache)
	_, err := m.Drive(context.Background(), Request{Mode: OperationMode("BOGUS")})
	assert.Error(t, err)
}

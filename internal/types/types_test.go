package types

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestVenueRatePerSecond(t *testing.T) {
	v := Venue{FundingIntervalSec: 3600}
	rate := v.RatePerSecond(decimal.NewFromFloat(0.0001))
	assert.True(t, rate.Equal(decimal.NewFromFloat(0.0001).Div(decimal.NewFromInt(3600))))
}

func TestVenueRatePerSecondZeroInterval(t *testing.T) {
	v := Venue{FundingIntervalSec: 0}
	assert.True(t, v.RatePerSecond(decimal.NewFromFloat(1)).IsZero())
}

func TestFundingRateRatePerSecond(t *testing.T) {
	f := FundingRate{Rate: decimal.NewFromFloat(0.0008), IntervalSeconds: 28800}
	expected := decimal.NewFromFloat(0.0008).Div(decimal.NewFromInt(28800))
	assert.True(t, f.RatePerSecond().Equal(expected))
}

func TestOpportunityMinOI(t *testing.T) {
	o := Opportunity{LongOIUSD: decimal.NewFromInt(100), ShortOIUSD: decimal.NewFromInt(50)}
	assert.True(t, o.MinOI().Equal(decimal.NewFromInt(50)))
}

func TestPositionAgeHours(t *testing.T) {
	now := time.Now()
	p := Position{OpenedAt: now.Add(-2 * time.Hour)}
	assert.InDelta(t, 2.0, p.AgeHours(now), 0.01)
}

func TestOrderStatusIsTerminal(t *testing.T) {
	assert.True(t, OrderFilled.IsTerminal())
	assert.True(t, OrderCanceled.IsTerminal())
	assert.True(t, OrderRejected.IsTerminal())
	assert.False(t, OrderPlaced.IsTerminal())
	assert.False(t, OrderPartial.IsTerminal())
}

func TestTrackedOrderRemaining(t *testing.T) {
	o := TrackedOrder{RequestedQty: decimal.NewFromInt(10), FilledQty: decimal.NewFromInt(3)}
	assert.True(t, o.Remaining().Equal(decimal.NewFromInt(7)))

	overfilled := TrackedOrder{RequestedQty: decimal.NewFromInt(5), FilledQty: decimal.NewFromInt(8)}
	assert.True(t, overfilled.Remaining().IsZero())
}

func TestBookTickerMidAndSpread(t *testing.T) {
	b := BookTicker{Bid: decimal.NewFromInt(100), Ask: decimal.NewFromInt(101)}
	assert.True(t, b.Mid().Equal(decimal.NewFromFloat(100.5)))
	assert.True(t, b.SpreadBps().GreaterThan(decimal.Zero))
}

func TestBookTickerIsStale(t *testing.T) {
	now := time.Now()
	fresh := BookTicker{TS: now.Add(-1 * time.Second)}
	assert.False(t, fresh.IsStale(now, 2*time.Second))

	stale := BookTicker{TS: now.Add(-5 * time.Second)}
	assert.True(t, stale.IsStale(now, 2*time.Second))
}

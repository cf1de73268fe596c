package wsfeed

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/fundingarb/engine/internal/types"
)

type fakeSubscriber struct {
	onSubscribe func(symbol string, onTick func(types.BookTicker))
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, symbol string, onTick func(types.BookTicker)) error {
	if f.onSubscribe != nil {
		f.onSubscribe(symbol, onTick)
	}
	return nil
}

func TestGetUnpopulatedSlotIsStale(t *testing.T) {
	c := New(map[string]Subscriber{"lighter": &fakeSubscriber{}})
	ticker, stale := c.Get("lighter", "BTC", time.Now(), 2*time.Second)
	assert.True(t, stale)
	assert.Equal(t, "lighter", ticker.Venue)
}

func TestEnsureUnknownVenueErrors(t *testing.T) {
	c := New(map[string]Subscriber{})
	err := c.Ensure(context.Background(), "ghost", "BTC")
	assert.Error(t, err)
}

func TestEnsureDemandStartsSubscriptionOnce(t *testing.T) {
	calls := 0
	sub := &fakeSubscriber{onSubscribe: func(symbol string, onTick func(types.BookTicker)) {
		calls++
		onTick(types.BookTicker{Venue: "lighter", Symbol: symbol, Bid: decimal.Zero, Ask: decimal.Zero, TS: time.Now()})
	}}
	c := New(map[string]Subscriber{"lighter": sub})

	err := c.Ensure(context.Background(), "lighter", "BTC")
	assert.NoError(t, err)
	err = c.Ensure(context.Background(), "lighter", "BTC")
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestGetReflectsUpdate(t *testing.T) {
	c := New(map[string]Subscriber{"lighter": &fakeSubscriber{}})
	now := time.Now()
	c.update("lighter", "BTC", types.BookTicker{Venue: "lighter", Symbol: "BTC", TS: now})
	ticker, stale := c.Get("lighter", "BTC", now, 2*time.Second)
	assert.False(t, stale)
	assert.Equal(t, "BTC", ticker.Symbol)
}

// Package venue defines the uniform capability surface the rest of the core
// trades against. Concrete exchanges implement Adapter; the core never talks
// to an exchange SDK directly.
package venue

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/fundingarb/engine/internal/types"
)

// Sentinel errors forming the error taxonomy venues report into. Components
// type-switch/errors.Is against these rather than parsing messages.
var (
	// ErrPostOnlyReject is returned by PlaceLimit when a post-only order
	// would have crossed the book.
	ErrPostOnlyReject = errors.New("venue: post-only order would cross the book")
	// ErrUnsupported is returned by operations a venue does not implement,
	// e.g. SetAccountLeverage on a cross-margin-only venue.
	ErrUnsupported = errors.New("venue: operation unsupported")
	// ErrNotFound is returned by Cancel/OrderStatus for an unknown order.
	// Cancel treats ErrNotFound as success (idempotent).
	ErrNotFound = errors.New("venue: order not found")
	// ErrStaleQuote names a stale-quote failure. No adapter in this module
	// returns it; the cache-first quote path in package execution reports
	// execution.ErrStaleQuote instead.
	ErrStaleQuote = errors.New("venue: stale quote, refresh failed")
	// ErrTransient wraps retryable venue failures (timeout, 5xx, rate
	// limit). Nothing converts it to ErrPermanent after repeated failures.
	ErrTransient = errors.New("venue: transient error")
	// ErrPermanent marks a venue failure that is not worth retrying.
	ErrPermanent = errors.New("venue: permanent error")
)

// Adapter is the contract every venue implements. All operations are
// asynchronous (context-bound) and return a result-or-error; none panic on
// venue-side rejection, all venue-side rejection is a typed error above.
//
// Adapters MUST use decimal.Decimal end to end and MUST NOT silently
// truncate price or quantity precision.
type Adapter interface {
	// Name is the venue identifier, e.g. "lighter".
	Name() string

	// BestBidAsk returns the venue's current best bid and ask. The evmadapter
	// implementation reads it over REST without consulting the WS cache and
	// reports failures as ErrTransient; the WS-cache-first read with a REST
	// fallback is done by package execution, not by adapters.
	BestBidAsk(ctx context.Context, symbol string) (types.BookTicker, error)

	// OrderBook returns bids descending and asks ascending, up to depth
	// levels per side. The evmadapter implementation always reads it over
	// REST; FullDepthWS does not change the source.
	OrderBook(ctx context.Context, symbol string, depth int) (bids, asks []types.BookLevel, err error)

	// PlaceLimit places a limit order. It returns ErrPostOnlyReject when
	// postOnly is true and price would cross the book at submission time.
	PlaceLimit(ctx context.Context, symbol string, side types.Side, qty, price decimal.Decimal, postOnly, reduceOnly bool) (clientID string, err error)

	// PlaceMarket places a market order.
	PlaceMarket(ctx context.Context, symbol string, side types.Side, qty decimal.Decimal, reduceOnly bool) (clientID string, err error)

	// Cancel is idempotent; ErrNotFound is treated as success by callers.
	Cancel(ctx context.Context, clientID string) error

	// OrderStatus returns the current tracked state of a previously placed
	// order.
	OrderStatus(ctx context.Context, clientID string) (types.TrackedOrder, error)

	// SetAccountLeverage may return ErrUnsupported on cross-margin venues.
	SetAccountLeverage(ctx context.Context, symbol string, leverage int) error

	// MaxLeverage returns the venue's maximum leverage for a symbol.
	MaxLeverage(ctx context.Context, symbol string) (int, error)

	// TickSize and LotSize return the symbol's price/quantity increments.
	TickSize(symbol string) decimal.Decimal
	LotSize(symbol string) decimal.Decimal

	// RoundPrice rounds toward the passive side for the given side so a
	// post-only limit does not cross: down for buys, up for sells.
	RoundPrice(symbol string, price decimal.Decimal, side types.Side) decimal.Decimal

	// Venue exposes the venue's static, session-immutable attributes.
	Venue() types.Venue
}

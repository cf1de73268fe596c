// Package execution implements OrderExecutor: tiered limit->market placement
// of a single order against one venue, driven by the live book ticker.
// Grounded in the teacher's execution/executor.go retry/state-machine shape,
// generalized from Polymarket CLOB orders to the venue.Adapter contract.
package execution

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/fundingarb/engine/internal/types"
	"github.com/fundingarb/engine/internal/venue"
	"github.com/fundingarb/engine/internal/wsfeed"
)

// Mode selects the single-order execution strategy.
type Mode string

const (
	LimitOnly         Mode = "LIMIT_ONLY"
	LimitWithFallback Mode = "LIMIT_WITH_FALLBACK"
	MarketOnly        Mode = "MARKET_ONLY"
)

// ErrStaleQuote is returned when a fresh BBO cannot be obtained for pricing.
var ErrStaleQuote = errors.New("execution: no fresh BBO available")

const (
	defaultStaleness   = 2 * time.Second
	defaultPollInterval = 150 * time.Millisecond
	defaultMaxAttempts  = 5
)

// Result is the outcome of a single-order execution.
type Result struct {
	FilledQty   decimal.Decimal
	AvgPrice    decimal.Decimal
	FeesPaid    decimal.Decimal
	ModeUsed    Mode
	SlippagePct decimal.Decimal
}

// Request parameterizes one Execute call.
type Request struct {
	Symbol            string
	Side              types.Side
	SizeUSD           decimal.Decimal
	Mode              Mode
	TimeoutTotal      time.Duration
	InsideTickRetries int // default 3 if zero
	PollInterval      time.Duration
	Staleness         time.Duration
	ReduceOnly        bool
	// Price overrides the first limit attempt's price, e.g. the break-even
	// aligned price AtomicMultiOrderExecutor computes across both legs
	// (spec §4.8 step 3). Retries beyond the first always reprice off the
	// live BBO since an aligned price can go stale as the market moves.
	// Zero means "derive from live BBO as usual".
	Price decimal.Decimal
}

// Executor drives a single order to fill against one venue adapter.
type Executor struct {
	adapter venue.Adapter
	cache   *wsfeed.Cache
}

// New constructs an Executor bound to one venue adapter and the shared
// BookTickerCache it reads live quotes from.
func New(adapter venue.Adapter, cache *wsfeed.Cache) *Executor {
	return &Executor{adapter: adapter, cache: cache}
}

func (e *Executor) liveBBO(ctx context.Context, symbol string, staleness time.Duration) (types.BookTicker, error) {
	now := time.Now()
	ticker, stale := e.cache.Get(e.adapter.Name(), symbol, now, staleness)
	if !stale {
		return ticker, nil
	}
	fresh, err := e.adapter.BestBidAsk(ctx, symbol)
	if err != nil {
		return types.BookTicker{}, ErrStaleQuote
	}
	return fresh, nil
}

// limitPrice computes the price for attempt N (1-indexed) per side, rounded
// toward the passive side: buy = ask-tick for the first insideTickRetries
// attempts then ask (touch); sell is symmetric with bid.
func (e *Executor) limitPrice(symbol string, side types.Side, bbo types.BookTicker, attempt, insideTickRetries int) decimal.Decimal {
	tick := e.adapter.TickSize(symbol)
	var raw decimal.Decimal
	if side == types.SideBuy {
		if attempt <= insideTickRetries {
			raw = bbo.Ask.Sub(tick)
		} else {
			raw = bbo.Ask
		}
	} else {
		if attempt <= insideTickRetries {
			raw = bbo.Bid.Add(tick)
		} else {
			raw = bbo.Bid
		}
	}
	return e.adapter.RoundPrice(symbol, raw, side)
}

// Execute runs the tiered limit->market state machine described in spec
// §4.6 and returns the accumulated fill.
func (e *Executor) Execute(ctx context.Context, req Request) (Result, error) {
	if req.InsideTickRetries == 0 {
		req.InsideTickRetries = 3
	}
	if req.PollInterval == 0 {
		req.PollInterval = defaultPollInterval
	}
	if req.Staleness == 0 {
		req.Staleness = defaultStaleness
	}
	maxAttempts := defaultMaxAttempts
	attemptTimeout := req.TimeoutTotal / time.Duration(maxAttempts)

	referenceBBO, err := e.liveBBO(ctx, req.Symbol, req.Staleness)
	if err != nil {
		return Result{}, err
	}
	referenceMid := referenceBBO.Mid()

	var filledAccum, feesAccum, weightedPriceSum decimal.Decimal
	qtyRemaining := req.SizeUSD // tracked in notional USD terms; venues quote price, qty derived by caller's sizing upstream
	modeUsed := Mode(LimitOnly)

	deadline := time.Now().Add(req.TimeoutTotal)

	if req.Mode != MarketOnly {
	attemptLoop:
		for attempt := 1; attempt <= maxAttempts && qtyRemaining.IsPositive() && time.Now().Before(deadline); attempt++ {
			bbo, err := e.liveBBO(ctx, req.Symbol, req.Staleness)
			if err != nil {
				break
			}
			var price decimal.Decimal
			if attempt == 1 && req.Price.IsPositive() {
				price = e.adapter.RoundPrice(req.Symbol, req.Price, req.Side)
			} else {
				price = e.limitPrice(req.Symbol, req.Side, bbo, attempt, req.InsideTickRetries)
			}

			clientID, err := e.adapter.PlaceLimit(ctx, req.Symbol, req.Side, qtyRemaining, price, true, req.ReduceOnly)
			if errors.Is(err, venue.ErrPostOnlyReject) {
				log.Debug().Str("symbol", req.Symbol).Int("attempt", attempt).Msg("post-only reject, refreshing BBO")
				continue attemptLoop
			}
			if err != nil {
				log.Warn().Err(err).Str("symbol", req.Symbol).Msg("limit placement failed")
				break
			}

			subDeadline := time.Now().Add(attemptTimeout)
			for time.Now().Before(subDeadline) {
				order, err := e.adapter.OrderStatus(ctx, clientID)
				if err != nil {
					break
				}
				if order.Status == types.OrderFilled {
					filledAccum = filledAccum.Add(order.FilledQty)
					weightedPriceSum = weightedPriceSum.Add(order.FilledQty.Mul(order.AvgFillPrice))
					feesAccum = feesAccum.Add(order.FeesPaid)
					qtyRemaining = qtyRemaining.Sub(order.FilledQty)
					modeUsed = LimitOnly
					break attemptLoop
				}
				if order.Status.IsTerminal() {
					break
				}
				select {
				case <-ctx.Done():
					break attemptLoop
				case <-time.After(req.PollInterval):
				}
			}

			// Sub-timeout reached without terminal fill: cancel and carry
			// any partial fill forward.
			_ = e.adapter.Cancel(ctx, clientID)
			order, statusErr := e.adapter.OrderStatus(ctx, clientID)
			if statusErr == nil && order.FilledQty.IsPositive() {
				filledAccum = filledAccum.Add(order.FilledQty)
				weightedPriceSum = weightedPriceSum.Add(order.FilledQty.Mul(order.AvgFillPrice))
				feesAccum = feesAccum.Add(order.FeesPaid)
				qtyRemaining = qtyRemaining.Sub(order.FilledQty)
			}
		}
	}

	if qtyRemaining.IsPositive() && req.Mode != LimitOnly {
		clientID, err := e.adapter.PlaceMarket(ctx, req.Symbol, req.Side, qtyRemaining, req.ReduceOnly)
		if err == nil {
			order, statusErr := e.adapter.OrderStatus(ctx, clientID)
			if statusErr == nil {
				filledAccum = filledAccum.Add(order.FilledQty)
				weightedPriceSum = weightedPriceSum.Add(order.FilledQty.Mul(order.AvgFillPrice))
				feesAccum = feesAccum.Add(order.FeesPaid)
				qtyRemaining = qtyRemaining.Sub(order.FilledQty)
				modeUsed = MarketOnly
			}
		}
	}

	avgPrice := decimal.Zero
	if filledAccum.IsPositive() {
		avgPrice = weightedPriceSum.Div(filledAccum)
	}
	slippagePct := decimal.Zero
	if !referenceMid.IsZero() && filledAccum.IsPositive() {
		diff := avgPrice.Sub(referenceMid).Div(referenceMid)
		if req.Side == types.SideSell {
			diff = diff.Neg()
		}
		slippagePct = diff
	}

	return Result{
		FilledQty:   filledAccum,
		AvgPrice:    avgPrice,
		FeesPaid:    feesAccum,
		ModeUsed:    modeUsed,
		SlippagePct: slippagePct,
	}, nil
}

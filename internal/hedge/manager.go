// Package hedge implements HedgeManager: the adaptive retry state machine
// that drives the second leg of a delta-neutral pair to completion once the
// first leg has filled. Grounded in the teacher's core/engine.go
// positionMonitorLoop adaptive-check pattern, generalized into a standalone,
// callable driver instead of a ticker-bound loop.
package hedge

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/fundingarb/engine/internal/execution"
	"github.com/fundingarb/engine/internal/types"
	"github.com/fundingarb/engine/internal/venue"
	"github.com/fundingarb/engine/internal/wsfeed"
)

// OperationMode selects the retry profile.
type OperationMode string

const (
	Opening OperationMode = "OPENING"
	Closing OperationMode = "CLOSING"
)

// Profile is a retry/backoff/timeout configuration for one OperationMode.
type Profile struct {
	MaxRetries        int
	RetryBackoff      time.Duration
	TotalTimeout      time.Duration
	InsideTickRetries int
}

// Profiles holds the spec-mandated default OPENING/CLOSING tables.
var Profiles = map[OperationMode]Profile{
	Opening: {MaxRetries: 8, RetryBackoff: 75 * time.Millisecond, TotalTimeout: 6 * time.Second, InsideTickRetries: 3},
	Closing: {MaxRetries: 5, RetryBackoff: 50 * time.Millisecond, TotalTimeout: 3 * time.Second, InsideTickRetries: 2},
}

const maxDeviationPct = 0.5 // percent, default per spec

// Request parameterizes one hedge drive.
type Request struct {
	Symbol          string
	Side            types.Side
	TriggerFillPrice decimal.Decimal
	HedgeTargetQty  decimal.Decimal
	Mode            OperationMode
}

// Result mirrors AtomicMultiOrderExecutor's needs: the final accumulated
// fill and which tier last satisfied it.
type Result struct {
	FinalFilledQty decimal.Decimal
	AvgPrice       decimal.Decimal
	FeesPaid       decimal.Decimal
	LastModeUsed   execution.Mode
}

// Manager drives the second leg of a pair against one venue.
type Manager struct {
	adapter venue.Adapter
	cache   *wsfeed.Cache
}

// New constructs a Manager bound to the venue the second leg trades on.
func New(adapter venue.Adapter, cache *wsfeed.Cache) *Manager {
	return &Manager{adapter: adapter, cache: cache}
}

// Drive runs the break-even-targeting + adaptive-retry + market-fallback
// algorithm of spec §4.7. ctx cancellation aborts the live attempt and
// returns the accumulated state without market-hedging the remainder; that
// decision belongs to the caller's rollback path.
func (m *Manager) Drive(ctx context.Context, req Request) (Result, error) {
	profile, ok := Profiles[req.Mode]
	if !ok {
		return Result{}, errors.New("hedge: unknown operation mode")
	}
	attemptTimeout := profile.TotalTimeout / time.Duration(profile.MaxRetries)

	remaining := req.HedgeTargetQty
	var filledAccum, feesAccum, weightedPriceSum decimal.Decimal
	lastMode := execution.LimitOnly
	deadline := time.Now().Add(profile.TotalTimeout)

	// Step 1: break-even targeting — one post-only limit at (adjusted)
	// trigger price, if it's within current BBO and the market hasn't
	// moved beyond max_deviation_pct since the trigger.
	if bbo, stale := m.cache.Get(m.adapter.Name(), req.Symbol, time.Now(), 2*time.Second); !stale {
		withinBBO := req.TriggerFillPrice.GreaterThanOrEqual(bbo.Bid) && req.TriggerFillPrice.LessThanOrEqual(bbo.Ask)
		deviation := decimal.Zero
		if !bbo.Mid().IsZero() {
			deviation = req.TriggerFillPrice.Sub(bbo.Mid()).Div(bbo.Mid()).Abs().Mul(decimal.NewFromInt(100))
		}
		if withinBBO && deviation.LessThan(decimal.NewFromFloat(maxDeviationPct)) {
			price := m.adapter.RoundPrice(req.Symbol, req.TriggerFillPrice, req.Side)
			if clientID, err := m.adapter.PlaceLimit(ctx, req.Symbol, req.Side, remaining, price, true, req.Mode == Closing); err == nil {
				filled, fees, avg := m.pollToTimeout(ctx, clientID, attemptTimeout)
				filledAccum = filledAccum.Add(filled)
				feesAccum = feesAccum.Add(fees)
				if filled.IsPositive() {
					weightedPriceSum = weightedPriceSum.Add(filled.Mul(avg))
					remaining = remaining.Sub(filled)
				}
				_ = m.adapter.Cancel(ctx, clientID)
				lastMode = execution.LimitOnly
			}
		}
	}

	attempt := 0
	rereadsThisAttempt := 0
	for attempt < profile.MaxRetries && remaining.IsPositive() && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return m.result(filledAccum, feesAccum, weightedPriceSum, lastMode), ctx.Err()
		default:
		}

		bbo, stale := m.cache.Get(m.adapter.Name(), req.Symbol, time.Now(), 2*time.Second)
		if stale {
			time.Sleep(profile.RetryBackoff)
			continue
		}

		attempt++
		tick := m.adapter.TickSize(req.Symbol)
		var raw decimal.Decimal
		insideTick := attempt <= profile.InsideTickRetries
		if req.Side == types.SideBuy {
			if insideTick {
				raw = bbo.Ask.Sub(tick)
			} else {
				raw = bbo.Ask
			}
		} else {
			if insideTick {
				raw = bbo.Bid.Add(tick)
			} else {
				raw = bbo.Bid
			}
		}
		price := m.adapter.RoundPrice(req.Symbol, raw, req.Side)

		clientID, err := m.adapter.PlaceLimit(ctx, req.Symbol, req.Side, remaining, price, true, req.Mode == Closing)
		if errors.Is(err, venue.ErrPostOnlyReject) {
			if rereadsThisAttempt < 2 {
				rereadsThisAttempt++
				attempt-- // does not consume a retry slot, bounded to 2 re-reads
				continue
			}
			rereadsThisAttempt = 0
			continue
		}
		rereadsThisAttempt = 0
		if err != nil {
			log.Warn().Err(err).Str("symbol", req.Symbol).Msg("hedge limit placement failed")
			time.Sleep(profile.RetryBackoff)
			continue
		}

		filled, fees, avg := m.pollToTimeout(ctx, clientID, attemptTimeout)
		if filled.IsPositive() {
			filledAccum = filledAccum.Add(filled)
			feesAccum = feesAccum.Add(fees)
			weightedPriceSum = weightedPriceSum.Add(filled.Mul(avg))
			remaining = remaining.Sub(filled)
		}
		_ = m.adapter.Cancel(ctx, clientID)
		lastMode = execution.LimitOnly
		time.Sleep(profile.RetryBackoff)
	}

	// Step 4: market fallback for any remainder.
	if remaining.IsPositive() {
		clientID, err := m.adapter.PlaceMarket(ctx, req.Symbol, req.Side, remaining, req.Mode == Closing)
		if err == nil {
			order, statusErr := m.adapter.OrderStatus(ctx, clientID)
			if statusErr == nil && order.FilledQty.IsPositive() {
				filledAccum = filledAccum.Add(order.FilledQty)
				feesAccum = feesAccum.Add(order.FeesPaid)
				weightedPriceSum = weightedPriceSum.Add(order.FilledQty.Mul(order.AvgFillPrice))
				lastMode = execution.MarketOnly
			}
		} else {
			log.Error().Err(err).Str("symbol", req.Symbol).Msg("hedge market fallback rejected")
		}
	}

	return m.result(filledAccum, feesAccum, weightedPriceSum, lastMode), nil
}

func (m *Manager) result(filled, fees, weightedSum decimal.Decimal, mode execution.Mode) Result {
	avg := decimal.Zero
	if filled.IsPositive() {
		avg = weightedSum.Div(filled)
	}
	return Result{FinalFilledQty: filled, AvgPrice: avg, FeesPaid: fees, LastModeUsed: mode}
}

// pollToTimeout polls order status until terminal or sub-timeout, returning
// whatever filled quantity accumulated; it cancels on the caller's behalf is
// NOT done here, callers are responsible for cancel after return.
func (m *Manager) pollToTimeout(ctx context.Context, clientID string, timeout time.Duration) (filled, fees, avgPrice decimal.Decimal) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		order, err := m.adapter.OrderStatus(ctx, clientID)
		if err != nil {
			return decimal.Zero, decimal.Zero, decimal.Zero
		}
		if order.Status == types.OrderFilled {
			return order.FilledQty, order.FeesPaid, order.AvgFillPrice
		}
		if order.Status.IsTerminal() {
			return order.FilledQty, order.FeesPaid, order.AvgFillPrice
		}
		select {
		case <-ctx.Done():
			return order.FilledQty, order.FeesPaid, order.AvgFillPrice
		case <-time.After(100 * time.Millisecond):
		}
	}
	order, err := m.adapter.OrderStatus(ctx, clientID)
	if err != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero
	}
	return order.FilledQty, order.FeesPaid, order.AvgFillPrice
}

// Package liquidity implements LiquidityAnalyzer: a pre-flight depth,
// slippage, and spread feasibility check run before committing size to a
// venue. Grounded in the teacher's feeds/orderbook.go depth-walking helpers.
package liquidity

import (
	"github.com/shopspring/decimal"

	"github.com/fundingarb/engine/internal/types"
)

// Recommendation is the analyzer's verdict for a proposed trade.
type Recommendation string

const (
	ProceedLimit         Recommendation = "proceed_limit"
	ProceedMarket        Recommendation = "proceed_market"
	InsufficientDepth    Recommendation = "insufficient_depth"
	WideSpread           Recommendation = "wide_spread"
	UnacceptableSlippage Recommendation = "unacceptable_slippage"
)

// Policy holds the configurable feasibility thresholds.
type Policy struct {
	MaxSlippagePct  decimal.Decimal // default 0.5
	MaxSpreadBps    decimal.Decimal // default 50
	MinLiquidityScore decimal.Decimal // default 0.6
}

// DefaultPolicy returns the spec's default thresholds.
func DefaultPolicy() Policy {
	return Policy{
		MaxSlippagePct:    decimal.NewFromFloat(0.5),
		MaxSpreadBps:      decimal.NewFromInt(50),
		MinLiquidityScore: decimal.NewFromFloat(0.6),
	}
}

// Report is the outcome of a feasibility check.
type Report struct {
	DepthOK              bool
	ExpectedSlippagePct  decimal.Decimal
	SpreadBps            decimal.Decimal
	LiquidityScore       decimal.Decimal
	Recommendation       Recommendation
}

// Analyzer performs pre-flight feasibility checks against an order book
// snapshot. It holds no state; every call is pure given its inputs.
type Analyzer struct{}

// New constructs a stateless Analyzer.
func New() *Analyzer {
	return &Analyzer{}
}

// Check walks the order book from the touch, consuming sizeUSD of notional
// on the requested side, and evaluates the result against policy. When
// fullDepth is false (a venue exposing only top of book), it falls back to a
// BBO-only conservative estimate: depth is deemed unknown and only
// proceed_market is offered, gated on spread alone. When fullDepth is true,
// the given levels are walked however few there are.
func (a *Analyzer) Check(bids, asks []types.BookLevel, side types.Side, sizeUSD decimal.Decimal, policy Policy, fullDepth bool) Report {
	if len(bids) == 0 || len(asks) == 0 {
		return Report{Recommendation: InsufficientDepth}
	}
	bestBid, bestAsk := bids[0].Price, asks[0].Price
	mid := bestBid.Add(bestAsk).Div(decimal.NewFromInt(2))
	spreadBps := decimal.Zero
	if !mid.IsZero() {
		spreadBps = bestAsk.Sub(bestBid).Div(mid).Mul(decimal.NewFromInt(10000))
	}

	if !fullDepth {
		report := Report{
			DepthOK:             false,
			ExpectedSlippagePct: decimal.Zero,
			SpreadBps:           spreadBps,
			LiquidityScore:      decimal.NewFromFloat(0.5),
			Recommendation:      ProceedMarket,
		}
		if spreadBps.GreaterThan(policy.MaxSpreadBps) {
			report.Recommendation = WideSpread
		}
		return report
	}

	levels := asks
	if side == types.SideSell {
		levels = bids
	}

	remaining := sizeUSD
	weightedCost := decimal.Zero
	consumedUSD := decimal.Zero
	for _, lvl := range levels {
		if remaining.IsZero() || remaining.IsNegative() {
			break
		}
		levelNotional := lvl.Price.Mul(lvl.Size)
		take := levelNotional
		if take.GreaterThan(remaining) {
			take = remaining
		}
		weightedCost = weightedCost.Add(lvl.Price.Mul(take))
		consumedUSD = consumedUSD.Add(take)
		remaining = remaining.Sub(take)
	}

	depthOK := remaining.IsZero() || !remaining.IsPositive()
	if consumedUSD.IsZero() {
		return Report{DepthOK: false, SpreadBps: spreadBps, Recommendation: InsufficientDepth}
	}

	avgFillPrice := weightedCost.Div(consumedUSD)
	slippagePct := decimal.Zero
	if !mid.IsZero() {
		slippagePct = avgFillPrice.Sub(mid).Div(mid).Abs().Mul(decimal.NewFromInt(100))
	}

	depthScore := decimal.NewFromFloat(1.0)
	if !depthOK {
		depthScore = decimal.NewFromFloat(0.0)
	}
	spreadScore := decimal.NewFromFloat(1.0).Sub(spreadBps.Div(policy.MaxSpreadBps.Mul(decimal.NewFromInt(2))))
	if spreadScore.IsNegative() {
		spreadScore = decimal.Zero
	}
	liquidityScore := depthScore.Add(spreadScore).Div(decimal.NewFromInt(2))

	report := Report{
		DepthOK:             depthOK,
		ExpectedSlippagePct: slippagePct,
		SpreadBps:           spreadBps,
		LiquidityScore:      liquidityScore,
	}

	switch {
	case !depthOK:
		report.Recommendation = InsufficientDepth
	case spreadBps.GreaterThan(policy.MaxSpreadBps):
		report.Recommendation = WideSpread
	case slippagePct.GreaterThan(policy.MaxSlippagePct):
		report.Recommendation = UnacceptableSlippage
	case liquidityScore.LessThan(policy.MinLiquidityScore):
		report.Recommendation = UnacceptableSlippage
	default:
		report.Recommendation = ProceedLimit
	}
	return report
}

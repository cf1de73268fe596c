// Package fees implements FeeModel: a pure, stateless computation of
// round-trip trading cost given two venues' fee schedules. Grounded in the
// teacher's risk/sizing.go cost-of-trade helpers, generalized to a two-venue
// pair instead of a single-venue position.
package fees

import (
	"github.com/shopspring/decimal"

	"github.com/fundingarb/engine/internal/types"
)

// Liquidity is the fill assumption used when estimating cost.
type Liquidity string

const (
	AssumeMaker Liquidity = "maker"
	AssumeTaker Liquidity = "taker"
)

// Schedule is the fee table for one venue, configured at load time and
// immutable afterward.
type Schedule struct {
	MakerFeeRate decimal.Decimal
	TakerFeeRate decimal.Decimal
}

// Model holds per-venue fee schedules. It is safe for concurrent read-only
// use once built; there is no mutation path after NewModel.
type Model struct {
	schedules map[string]Schedule
}

// NewModel builds a Model from a venue-name-keyed set of schedules.
func NewModel(schedules map[string]Schedule) *Model {
	cp := make(map[string]Schedule, len(schedules))
	for k, v := range schedules {
		cp[k] = v
	}
	return &Model{schedules: cp}
}

// NewModelFromVenues builds a Model directly from Venue definitions, which
// already carry maker/taker rates.
func NewModelFromVenues(venues []types.Venue) *Model {
	schedules := make(map[string]Schedule, len(venues))
	for _, v := range venues {
		schedules[v.Name] = Schedule{MakerFeeRate: v.MakerFeeRate, TakerFeeRate: v.TakerFeeRate}
	}
	return &Model{schedules: schedules}
}

// feeRate returns the configured rate for venue at the given liquidity
// assumption; an unconfigured venue is treated as zero-fee (callers should
// validate configured venues at startup).
func (m *Model) feeRate(venue string, liquidity Liquidity) decimal.Decimal {
	sched, ok := m.schedules[venue]
	if !ok {
		return decimal.Zero
	}
	if liquidity == AssumeMaker {
		return sched.MakerFeeRate
	}
	return sched.TakerFeeRate
}

// RoundTripCostUSD computes the conservative round-trip cost of a
// delta-neutral pair: entry and exit on each leg, both at the given
// liquidity assumption. Default callers should pass AssumeTaker as the
// conservative upper bound; callers expecting limit-first execution to fill
// as maker may override.
func (m *Model) RoundTripCostUSD(venueA, venueB string, sizeUSD decimal.Decimal, liquidity Liquidity) decimal.Decimal {
	feeA := m.feeRate(venueA, liquidity)
	feeB := m.feeRate(venueB, liquidity)
	return sizeUSD.Mul(feeA.Add(feeB)).Mul(decimal.NewFromInt(2))
}

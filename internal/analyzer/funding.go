// Package analyzer implements FundingAnalyzer: normalization of
// heterogeneous funding conventions and fee-adjusted ranking of pair
// opportunities. Grounded in the teacher's feeds/indicators.go style of
// pure, struct-free computational helpers, generalized from price
// indicators to funding-rate economics.
package analyzer

import (
	"math"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/fundingarb/engine/internal/fees"
	"github.com/fundingarb/engine/internal/types"
)

const secondsPerYear = 365 * 86400

// Analyzer ranks funding-rate divergences net of round-trip trading fees.
type Analyzer struct {
	feeModel *fees.Model
}

// New constructs an Analyzer backed by the given fee model.
func New(feeModel *fees.Model) *Analyzer {
	return &Analyzer{feeModel: feeModel}
}

// Normalize converts a venue's raw per-interval rate to a per-second basis.
func Normalize(venue types.Venue, rawRate decimal.Decimal) decimal.Decimal {
	return venue.RatePerSecond(rawRate)
}

// NetProfitabilityUSD computes the annualized net profit in USD of holding a
// sizeUSD delta-neutral pair given the per-second rate differential,
// net of round-trip fees.
func (a *Analyzer) NetProfitabilityUSD(venueA, venueB string, ratePerSecondA, ratePerSecondB, sizeUSD decimal.Decimal) decimal.Decimal {
	deltaAbs := ratePerSecondA.Sub(ratePerSecondB).Abs()
	grossAnnual := deltaAbs.Mul(decimal.NewFromInt(secondsPerYear)).Mul(sizeUSD)
	cost := a.feeModel.RoundTripCostUSD(venueA, venueB, sizeUSD, fees.AssumeTaker)
	return grossAnnual.Sub(cost)
}

// BestPair orients a symbol's per-venue raw rates into a long/short pair and
// returns the annualized net APY (as a fraction, e.g. 0.0255 = 2.55%) of
// holding sizeUSD on each side. The venue with the higher normalized rate is
// short (receives funding); the lower is long (pays funding). Venues with an
// unconfigured/zero funding interval are excluded from consideration.
func (a *Analyzer) BestPair(symbol string, venues map[string]types.Venue, rawRates map[string]decimal.Decimal, sizeUSD decimal.Decimal) (longVenue, shortVenue string, netAPY decimal.Decimal, ok bool) {
	type candidate struct {
		name           string
		ratePerSecond  decimal.Decimal
	}
	var candidates []candidate
	for name, raw := range rawRates {
		v, known := venues[name]
		if !known || v.FundingIntervalSec <= 0 {
			log.Warn().Str("venue", name).Str("symbol", symbol).Msg("excluding venue with unknown funding interval")
			continue
		}
		f, _ := raw.Float64()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			log.Warn().Str("venue", name).Str("symbol", symbol).Msg("excluding venue with NaN/infinite rate")
			continue
		}
		candidates = append(candidates, candidate{name: name, ratePerSecond: v.RatePerSecond(raw)})
	}
	if len(candidates) < 2 {
		return "", "", decimal.Zero, false
	}

	var bestLong, bestShort candidate
	bestDivergence := decimal.Zero
	found := false
	for i := 0; i < len(candidates); i++ {
		for j := 0; j < len(candidates); j++ {
			if i == j {
				continue
			}
			lo, hi := candidates[i], candidates[j]
			if lo.ratePerSecond.GreaterThanOrEqual(hi.ratePerSecond) {
				continue
			}
			divergence := hi.ratePerSecond.Sub(lo.ratePerSecond)
			if !found || divergence.GreaterThan(bestDivergence) {
				bestDivergence = divergence
				bestLong = lo
				bestShort = hi
				found = true
			}
		}
	}
	if !found {
		return "", "", decimal.Zero, false
	}

	netUSD := a.NetProfitabilityUSD(bestLong.name, bestShort.name, bestLong.ratePerSecond, bestShort.ratePerSecond, sizeUSD)
	if sizeUSD.IsZero() {
		return "", "", decimal.Zero, false
	}
	apy := netUSD.Div(sizeUSD)
	if !apy.IsPositive() {
		return "", "", decimal.Zero, false
	}
	return bestLong.name, bestShort.name, apy, true
}

// Rank sorts opportunities by net APY desc, then min(24h notional) desc,
// then lexically by symbol, and drops non-positive-APY entries.
func Rank(opportunities []types.Opportunity) []types.Opportunity {
	out := make([]types.Opportunity, 0, len(opportunities))
	for _, o := range opportunities {
		if !o.EstNetAPY.IsPositive() {
			continue
		}
		out = append(out, o)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.EstNetAPY.Equal(b.EstNetAPY) {
			return a.EstNetAPY.GreaterThan(b.EstNetAPY)
		}
		aMin, bMin := a.MinOI(), b.MinOI()
		if !aMin.Equal(bMin) {
			return aMin.GreaterThan(bMin)
		}
		return a.Symbol < b.Symbol
	})
	return out
}

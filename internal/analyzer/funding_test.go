package analyzer

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/fundingarb/engine/internal/fees"
	"github.com/fundingarb/engine/internal/types"
)

func TestNormalize(t *testing.T) {
	v := types.Venue{FundingIntervalSec: 3600}
	got := Normalize(v, decimal.NewFromFloat(0.0001))
	assert.True(t, got.Equal(decimal.NewFromFloat(0.0001).Div(decimal.NewFromInt(3600))))
}

func newTestAnalyzer() *Analyzer {
	m := fees.NewModel(map[string]fees.Schedule{
		"lighter": {MakerFeeRate: decimal.NewFromFloat(0.0002), TakerFeeRate: decimal.NewFromFloat(0.0005)},
		"aster":   {MakerFeeRate: decimal.NewFromFloat(0.0001), TakerFeeRate: decimal.NewFromFloat(0.0004)},
	})
	return New(m)
}

func TestBestPairOrientsLongShortCorrectly(t *testing.T) {
	a := newTestAnalyzer()
	venues := map[string]types.Venue{
		"lighter": {Name: "lighter", FundingIntervalSec: 3600},
		"aster":   {Name: "aster", FundingIntervalSec: 28800},
	}
	rawRates := map[string]decimal.Decimal{
		"lighter": decimal.NewFromFloat(0.0001),  // per-second: .0001/3600
		"aster":   decimal.NewFromFloat(0.0016),  // per-second: .0016/28800 - twice lighter's
	}
	long, short, apy, ok := a.BestPair("BTC", venues, rawRates, decimal.NewFromInt(10000))
	assert.True(t, ok)
	assert.NotEqual(t, long, short)
	// whichever venue has the lower normalized per-second rate must be long
	lighterRate := venues["lighter"].RatePerSecond(rawRates["lighter"])
	asterRate := venues["aster"].RatePerSecond(rawRates["aster"])
	if lighterRate.LessThan(asterRate) {
		assert.Equal(t, "lighter", long)
		assert.Equal(t, "aster", short)
	} else {
		assert.Equal(t, "aster", long)
		assert.Equal(t, "lighter", short)
	}
	assert.True(t, apy.IsPositive())
}

func TestBestPairExcludesUnknownInterval(t *testing.T) {
	a := newTestAnalyzer()
	venues := map[string]types.Venue{
		"lighter": {Name: "lighter", FundingIntervalSec: 3600},
	}
	rawRates := map[string]decimal.Decimal{
		"lighter": decimal.NewFromFloat(0.0001),
		"ghost":   decimal.NewFromFloat(0.0002), // no matching venue entry
	}
	_, _, _, ok := a.BestPair("BTC", venues, rawRates, decimal.NewFromInt(1000))
	assert.False(t, ok)
}

func TestBestPairRequiresPositiveAPY(t *testing.T) {
	a := newTestAnalyzer()
	venues := map[string]types.Venue{
		"lighter": {Name: "lighter", FundingIntervalSec: 3600},
		"aster":   {Name: "aster", FundingIntervalSec: 3600},
	}
	// identical rates => zero divergence => non-positive net APY after fees
	rawRates := map[string]decimal.Decimal{
		"lighter": decimal.NewFromFloat(0.0001),
		"aster":   decimal.NewFromFloat(0.0001),
	}
	_, _, _, ok := a.BestPair("BTC", venues, rawRates, decimal.NewFromInt(1000))
	assert.False(t, ok)
}

func TestRankSortsByAPYThenMinOIThenSymbolAndDropsNonPositive(t *testing.T) {
	opps := []types.Opportunity{
		{Symbol: "ETH", EstNetAPY: decimal.NewFromFloat(0.05), LongOIUSD: decimal.NewFromInt(100), ShortOIUSD: decimal.NewFromInt(200)},
		{Symbol: "BTC", EstNetAPY: decimal.NewFromFloat(0.05), LongOIUSD: decimal.NewFromInt(300), ShortOIUSD: decimal.NewFromInt(400)},
		{Symbol: "SOL", EstNetAPY: decimal.NewFromFloat(0.10)},
		{Symbol: "DOGE", EstNetAPY: decimal.NewFromFloat(-0.01)},
		{Symbol: "ARB", EstNetAPY: decimal.Zero},
	}
	ranked := Rank(opps)
	assert.Len(t, ranked, 3)
	assert.Equal(t, "SOL", ranked[0].Symbol)
	// BTC has higher MinOI (300) than ETH (100) at the same APY
	assert.Equal(t, "BTC", ranked[1].Symbol)
	assert.Equal(t, "ETH", ranked[2].Symbol)
}

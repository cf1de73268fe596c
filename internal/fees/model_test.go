package fees

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/fundingarb/engine/internal/types"
)

func TestRoundTripCostUSD(t *testing.T) {
	m := NewModel(map[string]Schedule{
		"lighter": {MakerFeeRate: decimal.NewFromFloat(0.0002), TakerFeeRate: decimal.NewFromFloat(0.0005)},
		"aster":   {MakerFeeRate: decimal.NewFromFloat(0.0001), TakerFeeRate: decimal.NewFromFloat(0.0004)},
	})

	cost := m.RoundTripCostUSD("lighter", "aster", decimal.NewFromInt(1000), AssumeTaker)
	expected := decimal.NewFromInt(1000).Mul(decimal.NewFromFloat(0.0009)).Mul(decimal.NewFromInt(2))
	assert.True(t, cost.Equal(expected), "got %s want %s", cost, expected)
}

func TestRoundTripCostUSDUnconfiguredVenueIsZeroFee(t *testing.T) {
	m := NewModel(map[string]Schedule{})
	cost := m.RoundTripCostUSD("unknown-a", "unknown-b", decimal.NewFromInt(1000), AssumeTaker)
	assert.True(t, cost.IsZero())
}

func TestNewModelFromVenues(t *testing.T) {
	m := NewModelFromVenues([]types.Venue{
		{Name: "lighter", MakerFeeRate: decimal.NewFromFloat(0.0002), TakerFeeRate: decimal.NewFromFloat(0.0005)},
	})
	assert.True(t, m.feeRate("lighter", AssumeMaker).Equal(decimal.NewFromFloat(0.0002)))
	assert.True(t, m.feeRate("lighter", AssumeTaker).Equal(decimal.NewFromFloat(0.0005)))
}

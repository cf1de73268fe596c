package orchestrator

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/fundingarb/engine/internal/atomicx"
	"github.com/fundingarb/engine/internal/types"
	"github.com/fundingarb/engine/internal/venue"
)

func TestEstimateRealizedPnLCombinesLegsFundingAndFees(t *testing.T) {
	pos := types.Position{
		EntryLongPrice:       decimal.NewFromInt(100),
		EntryShortPrice:      decimal.NewFromInt(100),
		CumulativeFundingUSD: decimal.NewFromFloat(5),
		TotalFeesUSD:         decimal.NewFromFloat(2),
	}
	result := atomicx.Result{
		LegA:            atomicx.LegResult{AvgPrice: decimal.NewFromFloat(101)},
		LegB:            atomicx.LegResult{AvgPrice: decimal.NewFromFloat(99)},
		RollbackCostUSD: decimal.NewFromFloat(1),
	}
	pnl := estimateRealizedPnL(pos, result)
	// longPnL = 101-100 = 1, shortPnL = 100-99 = 1, +5 funding -2 fees -1 rollback = 4
	assert.True(t, pnl.Equal(decimal.NewFromFloat(4)), "got %s", pnl)
}

func TestInCooldownTrueWithinWindow(t *testing.T) {
	o := &Orchestrator{
		cfg:               Config{CooldownSeconds: 3600},
		lastCloseBySymbol: map[string]time.Time{"BTC": time.Now()},
	}
	assert.True(t, o.inCooldown("BTC"))
	assert.False(t, o.inCooldown("ETH"))
}

func TestInCooldownFalseAfterWindow(t *testing.T) {
	o := &Orchestrator{
		cfg:               Config{CooldownSeconds: 1},
		lastCloseBySymbol: map[string]time.Time{"BTC": time.Now().Add(-2 * time.Second)},
	}
	assert.False(t, o.inCooldown("BTC"))
}

func TestVenueNamesListsAllKeys(t *testing.T) {
	o := &Orchestrator{venues: map[string]venue.Adapter{"lighter": nil, "aster": nil}}
	names := o.venueNames()
	assert.ElementsMatch(t, []string{"lighter", "aster"}, names)
}

package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/fundingarb/engine/internal/types"
)

func TestEvaluateFundingFlipTakesPriorityOverErosion(t *testing.T) {
	e := New(DefaultConfig())
	pos := types.Position{EntryDivergence: decimal.NewFromFloat(0.001), OpenedAt: time.Now()}

	shouldExit, reason := e.Evaluate(pos, decimal.NewFromFloat(-0.0001), decimal.Zero, time.Now())
	assert.True(t, shouldExit)
	assert.Equal(t, types.ExitFundingFlip, reason)
}

func TestEvaluateProfitErosion(t *testing.T) {
	e := New(DefaultConfig())
	pos := types.Position{EntryDivergence: decimal.NewFromFloat(0.001), OpenedAt: time.Now()}

	// current divergence eroded below 50% of entry, but still positive (no flip)
	shouldExit, reason := e.Evaluate(pos, decimal.NewFromFloat(0.0004), decimal.Zero, time.Now())
	assert.True(t, shouldExit)
	assert.Equal(t, types.ExitProfitErosion, reason)
}

func TestEvaluateTimeLimit(t *testing.T) {
	e := New(DefaultConfig())
	pos := types.Position{
		EntryDivergence: decimal.NewFromFloat(0.001),
		OpenedAt:        time.Now().Add(-200 * time.Hour),
	}
	// current divergence unchanged from entry, so erosion/flip predicates don't fire
	shouldExit, reason := e.Evaluate(pos, decimal.NewFromFloat(0.001), decimal.Zero, time.Now())
	assert.True(t, shouldExit)
	assert.Equal(t, types.ExitTimeLimit, reason)
}

func TestEvaluateNoExitWhenHealthy(t *testing.T) {
	e := New(DefaultConfig())
	pos := types.Position{
		EntryDivergence: decimal.NewFromFloat(0.001),
		OpenedAt:        time.Now().Add(-1 * time.Hour),
	}
	shouldExit, _ := e.Evaluate(pos, decimal.NewFromFloat(0.001), decimal.Zero, time.Now())
	assert.False(t, shouldExit)
}

func TestEvaluateBetterOpportunityDisabledByDefault(t *testing.T) {
	e := New(DefaultConfig())
	pos := types.Position{
		EntryDivergence: decimal.NewFromFloat(0.001),
		OpenedAt:        time.Now(),
	}
	shouldExit, _ := e.Evaluate(pos, decimal.NewFromFloat(0.001), decimal.NewFromFloat(0.05), time.Now())
	assert.False(t, shouldExit)
}

func TestEvaluateBetterOpportunityWhenEnabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableBetterOpportunity = true
	e := New(cfg)
	pos := types.Position{
		EntryDivergence: decimal.NewFromFloat(0.001),
		OpenedAt:        time.Now(),
	}
	shouldExit, reason := e.Evaluate(pos, decimal.NewFromFloat(0.001), decimal.NewFromFloat(0.01), time.Now())
	assert.True(t, shouldExit)
	assert.Equal(t, types.ExitBetterOpportunity, reason)
}

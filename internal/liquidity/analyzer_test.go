package liquidity

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/fundingarb/engine/internal/types"
)

func level(price, size float64) types.BookLevel {
	return types.BookLevel{Price: decimal.NewFromFloat(price), Size: decimal.NewFromFloat(size)}
}

func TestCheckProceedsLimitOnDeepTightBook(t *testing.T) {
	a := New()
	bids := []types.BookLevel{level(100, 10), level(99.9, 10)}
	asks := []types.BookLevel{level(100.1, 10), level(100.2, 10)}

	report := a.Check(bids, asks, types.SideBuy, decimal.NewFromInt(500), DefaultPolicy(), true)
	assert.Equal(t, ProceedLimit, report.Recommendation)
	assert.True(t, report.DepthOK)
}

func TestCheckInsufficientDepth(t *testing.T) {
	a := New()
	bids := []types.BookLevel{level(100, 1)}
	asks := []types.BookLevel{level(100.1, 1)}

	report := a.Check(bids, asks, types.SideBuy, decimal.NewFromInt(100000), DefaultPolicy(), true)
	assert.Equal(t, InsufficientDepth, report.Recommendation)
}

func TestCheckWideSpread(t *testing.T) {
	a := New()
	bids := []types.BookLevel{level(100, 100)}
	asks := []types.BookLevel{level(110, 100)} // ~950bps spread
	report := a.Check(bids, asks, types.SideBuy, decimal.NewFromInt(100), DefaultPolicy(), true)
	assert.Equal(t, WideSpread, report.Recommendation)
}

func TestCheckEmptyBookIsInsufficientDepth(t *testing.T) {
	a := New()
	report := a.Check(nil, nil, types.SideBuy, decimal.NewFromInt(100), DefaultPolicy(), true)
	assert.Equal(t, InsufficientDepth, report.Recommendation)
}

func TestCheckBBOFallbackForPartialDepthVenue(t *testing.T) {
	a := New()
	bids := []types.BookLevel{level(100, 1)}
	asks := []types.BookLevel{level(100.05, 1)}
	report := a.Check(bids, asks, types.SideBuy, decimal.NewFromInt(100000), DefaultPolicy(), false)
	assert.False(t, report.DepthOK)
	assert.Equal(t, ProceedMarket, report.Recommendation)
}

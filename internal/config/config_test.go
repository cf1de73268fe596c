package config

import (
	"os"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadStrategyDefaults(t *testing.T) {
	strategy, err := LoadStrategy("")
	require.NoError(t, err)
	assert.Equal(t, []string{"lighter", "aster"}, strategy.Exchanges)
	assert.Equal(t, 5, strategy.MaxPositions)
	assert.True(t, strategy.MaxPositionSizeUSD.Equal(decimal.NewFromInt(1000)))
	assert.True(t, strategy.MinProfitAPY.Equal(decimal.NewFromFloat(0.02)))
	assert.Equal(t, 168.0, strategy.Rebalance.MaxAgeHours)
	assert.False(t, strategy.SinglePositionPerSession)
	assert.Equal(t, 3600, strategy.CooldownSeconds)
}

func TestLoadStrategyEnvOverride(t *testing.T) {
	os.Setenv("FUNDINGARB_MAX_POSITIONS", "9")
	defer os.Unsetenv("FUNDINGARB_MAX_POSITIONS")

	strategy, err := LoadStrategy("")
	require.NoError(t, err)
	assert.Equal(t, 9, strategy.MaxPositions)
}

func TestLoadStrategyInvalidDecimalErrors(t *testing.T) {
	os.Setenv("FUNDINGARB_MIN_PROFIT_APY", "not-a-number")
	defer os.Unsetenv("FUNDINGARB_MIN_PROFIT_APY")

	_, err := LoadStrategy("")
	assert.Error(t, err)
}

func TestLoadProcessDefaults(t *testing.T) {
	os.Unsetenv("LOG_LEVEL")
	os.Unsetenv("DRY_RUN")
	proc := LoadProcess()
	assert.Equal(t, "info", proc.LogLevel)
	assert.True(t, proc.DryRun)
}

func TestLoadProcessDryRunOverride(t *testing.T) {
	os.Setenv("DRY_RUN", "false")
	defer os.Unsetenv("DRY_RUN")
	proc := LoadProcess()
	assert.False(t, proc.DryRun)
}

package telemetry

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpportunitiesConsideredIncrementsBySymbol(t *testing.T) {
	OpportunitiesConsidered.WithLabelValues("BTC").Inc()
	OpportunitiesConsidered.WithLabelValues("BTC").Inc()

	m := &dto.Metric{}
	require.NoError(t, OpportunitiesConsidered.WithLabelValues("BTC").Write(m))
	assert.Equal(t, float64(2), m.GetCounter().GetValue())
}

func TestOpenPositionsGaugeSet(t *testing.T) {
	OpenPositions.Set(3)
	m := &dto.Metric{}
	require.NoError(t, OpenPositions.Write(m))
	assert.Equal(t, float64(3), m.GetGauge().GetValue())
}

func TestExitsTriggeredByReason(t *testing.T) {
	ExitsTriggered.WithLabelValues("FUNDING_FLIP").Inc()
	m := &dto.Metric{}
	require.NoError(t, ExitsTriggered.WithLabelValues("FUNDING_FLIP").Write(m))
	assert.GreaterOrEqual(t, m.GetCounter().GetValue(), float64(1))
}

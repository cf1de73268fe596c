package fundingsvc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpportunitiesParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/opportunities", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"opportunities":[{"symbol":"BTC","long_dex":"lighter","short_dex":"aster","divergence":"0.0005","net_profit_apy":"0.12"}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	opps, err := c.Opportunities(context.Background(), decimal.NewFromFloat(0.02), decimal.NewFromInt(1000000), nil, nil)
	require.NoError(t, err)
	require.Len(t, opps, 1)
	assert.Equal(t, "BTC", opps[0].Symbol)
	assert.True(t, opps[0].NetProfitAPY.Equal(decimal.NewFromFloat(0.12)))
}

func TestOpportunitiesErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Opportunities(context.Background(), decimal.Zero, decimal.Zero, nil, nil)
	assert.Error(t, err)
}

func TestBestNotFoundIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, ok, err := c.Best(context.Background(), "BTC")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCompareParsesDivergence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"divergence":"0.0003","long_rate":"0.0001","short_rate":"-0.0002"}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	div, long, short, err := c.Compare(context.Background(), "ETH", "lighter", "aster")
	require.NoError(t, err)
	assert.True(t, div.Equal(decimal.NewFromFloat(0.0003)))
	assert.True(t, long.Equal(decimal.NewFromFloat(0.0001)))
	assert.True(t, short.Equal(decimal.NewFromFloat(-0.0002)))
}

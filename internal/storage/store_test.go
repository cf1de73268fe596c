package storage

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundingarb/engine/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open("file::memory:?cache=shared")
	require.NoError(t, err)
	return store
}

func TestCreateGetRoundTrip(t *testing.T) {
	store := openTestStore(t)
	pos := types.Position{
		Symbol:     "BTC",
		LongVenue:  "lighter",
		ShortVenue: "aster",
		SizeUSD:    decimal.NewFromInt(1000),
		Status:     types.StatusOpening,
		OpenedAt:   time.Now(),
	}
	created, err := store.Create(pos)
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	fetched, err := store.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "BTC", fetched.Symbol)
	assert.Equal(t, types.StatusOpening, fetched.Status)
}

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Get("does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListOpenExcludesClosed(t *testing.T) {
	store := openTestStore(t)
	open, err := store.Create(types.Position{Symbol: "ETH", Status: types.StatusOpen, OpenedAt: time.Now()})
	require.NoError(t, err)
	closed, err := store.Create(types.Position{Symbol: "SOL", Status: types.StatusOpen, OpenedAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, store.Close(closed.ID, types.ExitFundingFlip, decimal.NewFromInt(5)))

	positions, err := store.ListOpen()
	require.NoError(t, err)
	ids := make(map[string]bool)
	for _, p := range positions {
		ids[p.ID] = true
	}
	assert.True(t, ids[open.ID])
	assert.False(t, ids[closed.ID])
}

func TestStrategyStateRoundTrip(t *testing.T) {
	store := openTestStore(t)
	type cooldowns struct {
		BySymbol map[string]time.Time `json:"by_symbol"`
	}
	in := cooldowns{BySymbol: map[string]time.Time{"BTC": time.Now().Truncate(time.Second)}}
	require.NoError(t, store.SaveStrategyState("cooldowns", in))

	var out cooldowns
	require.NoError(t, store.LoadStrategyState("cooldowns", &out))
	assert.Equal(t, in.BySymbol["BTC"].Unix(), out.BySymbol["BTC"].Unix())
}

func TestLoadStrategyStateMissingReturnsErrNotFound(t *testing.T) {
	store := openTestStore(t)
	var out struct{}
	err := store.LoadStrategyState("missing", &out)
	assert.ErrorIs(t, err, ErrNotFound)
}

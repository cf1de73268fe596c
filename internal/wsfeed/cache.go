// Package wsfeed implements BookTickerCache: a process-wide, concurrent-read
// best-bid/ask cache fed by per-venue WebSocket handlers. Grounded in the
// teacher's feeds/polymarket_ws.go connection-loop pattern and
// feeds/orderbook.go level bookkeeping, generalized from a single
// prediction-market feed to many (venue, symbol) subscriptions multiplexed
// through one cache.
package wsfeed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fundingarb/engine/internal/types"
)

const defaultWarmup = 500 * time.Millisecond

// Subscriber is implemented by a venue's WS client: Subscribe starts (if not
// already running) a persistent read task that pushes BookTicker updates
// into the cache for the given symbol, until ctx is canceled.
type Subscriber interface {
	Subscribe(ctx context.Context, symbol string, onTick func(types.BookTicker)) error
}

// Cache is the process-wide (venue,symbol) -> BookTicker map. Each key has
// its own RWMutex-guarded slot, so a reader of a key can briefly block that
// key's writer; every Get and every update first looks its slot up under the
// map-wide lock held exclusively, so all keys briefly contend on that lock.
type Cache struct {
	warmup time.Duration

	mu        sync.RWMutex
	slots     map[string]*slot
	subscribed map[string]bool
	venues    map[string]Subscriber
}

type slot struct {
	mu     sync.RWMutex
	ticker types.BookTicker
	ready  chan struct{}
	once   sync.Once
}

// New constructs an empty Cache. venues maps venue name to its Subscriber.
func New(venues map[string]Subscriber) *Cache {
	return &Cache{
		warmup:     defaultWarmup,
		slots:      make(map[string]*slot),
		subscribed: make(map[string]bool),
		venues:     venues,
	}
}

func key(venue, symbol string) string {
	return venue + ":" + symbol
}

func (c *Cache) slotFor(venue, symbol string) *slot {
	k := key(venue, symbol)
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[k]
	if !ok {
		s = &slot{ready: make(chan struct{})}
		c.slots[k] = s
	}
	return s
}

// Ensure demand-starts the WS subscription for (venue,symbol) if not already
// running, then waits up to warmup for the first tick.
func (c *Cache) Ensure(ctx context.Context, venue, symbol string) error {
	k := key(venue, symbol)

	c.mu.Lock()
	alreadySubscribed := c.subscribed[k]
	if !alreadySubscribed {
		c.subscribed[k] = true
	}
	sub, known := c.venues[venue]
	c.mu.Unlock()

	if !known {
		return fmt.Errorf("wsfeed: no subscriber registered for venue %q", venue)
	}

	s := c.slotFor(venue, symbol)

	if !alreadySubscribed {
		if err := sub.Subscribe(ctx, symbol, func(t types.BookTicker) {
			c.update(venue, symbol, t)
		}); err != nil {
			log.Error().Err(err).Str("venue", venue).Str("symbol", symbol).Msg("book ticker subscription failed")
			c.mu.Lock()
			c.subscribed[k] = false
			c.mu.Unlock()
			return err
		}
	}

	select {
	case <-s.ready:
		return nil
	case <-time.After(c.warmup):
		return nil // caller sees stale=true via Get if no tick ever arrived
	case <-ctx.Done():
		return ctx.Err()
	}
}

// update is called by venue WS handlers as ticks arrive. It never blocks on
// readers.
func (c *Cache) update(venue, symbol string, t types.BookTicker) {
	s := c.slotFor(venue, symbol)
	s.mu.Lock()
	s.ticker = t
	s.mu.Unlock()
	s.once.Do(func() { close(s.ready) })
}

// Get returns the current snapshot for (venue,symbol) plus whether it is
// stale (older than staleness, or never populated).
func (c *Cache) Get(venue, symbol string, now time.Time, staleness time.Duration) (types.BookTicker, bool) {
	s := c.slotFor(venue, symbol)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ticker.TS.IsZero() {
		return types.BookTicker{Venue: venue, Symbol: symbol}, true
	}
	return s.ticker, s.ticker.IsStale(now, staleness)
}

package pricecache

import (
	"context"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	defaultCapacity   = 2048
	defaultLiveWindow = time.Minute
)

// Options tune cache behaviour.
type Options struct {
	// Capacity bounds the number of cached day buckets.
	Capacity int
	// LiveWindow is the distance from now within which a timestamp is
	// considered live and served from the current-price endpoint.
	LiveWindow time.Duration
	// Now overrides the wall clock in tests.
	Now func() time.Time
}

// Cache resolves prices for arbitrary points in time, memoising immutable
// historical day buckets in a bounded LRU. Live prices are never cached:
// a price for "now" stops being valid the moment now advances.
type Cache struct {
	provider Provider
	logger   zerolog.Logger
	live     time.Duration
	now      func() time.Time
	days     *lru.Cache[string, decimal.Decimal]

	hits   atomic.Uint64
	misses atomic.Uint64
}

// New constructs a price cache over the given provider.
func New(provider Provider, opts Options, logger zerolog.Logger) (*Cache, error) {
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	live := opts.LiveWindow
	if live <= 0 {
		live = defaultLiveWindow
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	days, err := lru.New[string, decimal.Decimal](capacity)
	if err != nil {
		return nil, err
	}

	return &Cache{
		provider: provider,
		logger:   logger.With().Str("component", "price_cache").Logger(),
		live:     live,
		now:      now,
		days:     days,
	}, nil
}

// DayBucket derives the calendar-day cache key for a timestamp.
func DayBucket(t time.Time) string {
	return t.Format(historyDateFormat)
}

// Price resolves the price at the given timestamp. Timestamps within the
// live window of now, or anywhere on today's calendar day, are fetched
// live and never stored; older timestamps are served from the day-bucket
// cache, fetching from the history endpoint on a miss.
//
// The live-window check takes the wall clock independently per call, so
// two concurrent calls with near-identical timestamps may take different
// branches. Callers that need consistency across a batch must resolve
// once and reuse the value.
func (c *Cache) Price(ctx context.Context, at time.Time) (decimal.Decimal, error) {
	now := c.now()

	if at.After(now.Add(-c.live)) {
		return c.currentPrice(ctx)
	}

	bucket := DayBucket(at)
	if bucket == DayBucket(now) {
		// Today's bucket is not yet an immutable historical record.
		return c.currentPrice(ctx)
	}

	if price, ok := c.days.Get(bucket); ok {
		c.hits.Add(1)
		return price, nil
	}
	c.misses.Add(1)

	price, err := c.provider.HistoricalPrice(ctx, at)
	if err != nil {
		return decimal.Decimal{}, &ProviderError{Endpoint: EndpointHistory, Err: err}
	}

	// Two concurrent misses for the same bucket may both land here; the
	// value is invariant for a past day, so the double write is harmless.
	c.days.Add(bucket, price)
	c.logger.Debug().Str("bucket", bucket).Str("price", price.String()).Msg("cached historical price")
	return price, nil
}

func (c *Cache) currentPrice(ctx context.Context) (decimal.Decimal, error) {
	price, err := c.provider.CurrentPrice(ctx)
	if err != nil {
		return decimal.Decimal{}, &ProviderError{Endpoint: EndpointCurrent, Err: err}
	}
	return price, nil
}

// Len reports the number of cached day buckets.
func (c *Cache) Len() int { return c.days.Len() }

// Stats reports cache hit and miss counts since construction.
func (c *Cache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

var _ Resolver = (*Cache)(nil)

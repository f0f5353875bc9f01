package pricecache

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Endpoint names used in ProviderError.
const (
	EndpointCurrent = "current"
	EndpointHistory = "history"
)

// Provider retrieves asset prices in the reference currency from an
// external source.
type Provider interface {
	// CurrentPrice returns the live price.
	CurrentPrice(ctx context.Context) (decimal.Decimal, error)
	// HistoricalPrice returns the price on the calendar day of date.
	HistoricalPrice(ctx context.Context, date time.Time) (decimal.Decimal, error)
}

// Resolver resolves a price for an arbitrary point in time.
type Resolver interface {
	Price(ctx context.Context, at time.Time) (decimal.Decimal, error)
}

// ProviderError reports a failed provider call and which endpoint failed,
// so callers can distinguish unenriched data from lost data.
type ProviderError struct {
	Endpoint string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("price provider %s endpoint: %v", e.Endpoint, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

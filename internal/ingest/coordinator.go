package ingest

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"reef-ingest/internal/model"
	"reef-ingest/internal/pricecache"
)

// BatchWriter is the persistence surface the coordinator drives.
type BatchWriter interface {
	InsertEvents(ctx context.Context, events []model.EventRecord) error
	InsertAccounts(ctx context.Context, accounts []model.AccountRecord) error
	InsertPoolEvents(ctx context.Context, events []model.PoolEventRecord) error
}

// Result reports what happened to one unit. EnrichErr is set when the
// unit persisted without price enrichment; it is deliberately separate
// from the error return so the host can tell "data persisted but
// unenriched" apart from "data lost".
type Result struct {
	EventRows     int
	AccountRows   int
	PoolEventRows int
	Price         decimal.NullDecimal
	EnrichErr     error
}

// Coordinator binds the batch writer and the price resolver: for every
// unit it persists all record kinds and enriches pool events with the
// unit price. Enrichment failure never blocks persistence, and a store
// failure never corrupts the price cache.
type Coordinator struct {
	writer BatchWriter
	prices pricecache.Resolver
	logger zerolog.Logger
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(writer BatchWriter, prices pricecache.Resolver, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		writer: writer,
		prices: prices,
		logger: logger.With().Str("component", "coordinator").Logger(),
	}
}

// Process ingests one unit. The returned error is always a store failure
// and means the unit (or a trailing part of it) was not persisted;
// enrichment failures travel in Result.EnrichErr instead.
func (c *Coordinator) Process(ctx context.Context, unit *Unit) (Result, error) {
	var res Result

	poolEvents := unit.PoolEvents
	if len(poolEvents) > 0 && c.prices != nil {
		price, err := c.prices.Price(ctx, unit.Timestamp)
		if err != nil {
			// Non-fatal: the rows land unenriched and the host decides.
			res.EnrichErr = err
			c.logger.Warn().Err(err).Int64("block_id", unit.BlockID).Msg("price enrichment failed")
		} else {
			res.Price = decimal.NewNullDecimal(price)
			enriched := make([]model.PoolEventRecord, len(poolEvents))
			copy(enriched, poolEvents)
			for i := range enriched {
				enriched[i].TokenPrice = res.Price
			}
			poolEvents = enriched
		}
	}

	if err := c.writer.InsertEvents(ctx, unit.Events); err != nil {
		return res, err
	}
	res.EventRows = len(unit.Events)

	if err := c.writer.InsertAccounts(ctx, normalizeAccounts(unit.Accounts)); err != nil {
		return res, err
	}
	res.AccountRows = len(unit.Accounts)

	if err := c.writer.InsertPoolEvents(ctx, poolEvents); err != nil {
		return res, err
	}
	res.PoolEventRows = len(poolEvents)

	return res, nil
}

// normalizeAccounts maps decoder output to store rows; currently that is
// just EVM address checksumming. Input order is preserved: the upsert's
// last-write-wins semantics depend on it.
func normalizeAccounts(accounts []model.AccountRecord) []model.AccountRecord {
	if len(accounts) == 0 {
		return accounts
	}
	normalized := make([]model.AccountRecord, len(accounts))
	copy(normalized, accounts)
	for i := range normalized {
		normalized[i].EVMAddress = model.NormalizeEVMAddress(normalized[i].EVMAddress)
	}
	return normalized
}

package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"reef-ingest/internal/model"
	"reef-ingest/internal/pricecache"
	"reef-ingest/internal/storage"
)

type fakeWriter struct {
	events     [][]model.EventRecord
	accounts   [][]model.AccountRecord
	poolEvents [][]model.PoolEventRecord

	eventsErr   error
	accountsErr error
	poolsErr    error
}

func (f *fakeWriter) InsertEvents(ctx context.Context, events []model.EventRecord) error {
	if len(events) == 0 {
		return nil
	}
	if f.eventsErr != nil {
		return f.eventsErr
	}
	f.events = append(f.events, events)
	return nil
}

func (f *fakeWriter) InsertAccounts(ctx context.Context, accounts []model.AccountRecord) error {
	if len(accounts) == 0 {
		return nil
	}
	if f.accountsErr != nil {
		return f.accountsErr
	}
	f.accounts = append(f.accounts, accounts)
	return nil
}

func (f *fakeWriter) InsertPoolEvents(ctx context.Context, events []model.PoolEventRecord) error {
	if len(events) == 0 {
		return nil
	}
	if f.poolsErr != nil {
		return f.poolsErr
	}
	f.poolEvents = append(f.poolEvents, events)
	return nil
}

type fakeResolver struct {
	price decimal.Decimal
	err   error
	calls int
}

func (f *fakeResolver) Price(ctx context.Context, at time.Time) (decimal.Decimal, error) {
	f.calls++
	if f.err != nil {
		return decimal.Decimal{}, f.err
	}
	return f.price, nil
}

func testUnit() *Unit {
	return &Unit{
		BlockID:   100,
		Timestamp: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC),
		Events: []model.EventRecord{
			{ID: 1, BlockID: 100, ExtrinsicID: 10, Index: 0, Section: "balances", Method: "Transfer"},
			{ID: 2, BlockID: 100, ExtrinsicID: 10, Index: 1, Section: "system", Method: "ExtrinsicSuccess"},
		},
		Accounts: []model.AccountRecord{
			{Address: "5FHneW46", EVMAddress: "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", BlockID: 100},
		},
		PoolEvents: []model.PoolEventRecord{
			{PoolID: 5, Type: model.PoolEventSync, Timestamp: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC),
				Reserved1: decimal.NewFromInt(10), Reserved2: decimal.NewFromInt(20)},
		},
	}
}

func TestProcessPersistsAllKinds(t *testing.T) {
	writer := &fakeWriter{}
	resolver := &fakeResolver{price: decimal.NewFromFloat(0.002)}
	coord := NewCoordinator(writer, resolver, zerolog.Nop())

	res, err := coord.Process(context.Background(), testUnit())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.EnrichErr != nil {
		t.Fatalf("unexpected enrichment error: %v", res.EnrichErr)
	}
	if res.EventRows != 2 || res.AccountRows != 1 || res.PoolEventRows != 1 {
		t.Fatalf("unexpected row counts: %+v", res)
	}

	if len(writer.poolEvents) != 1 {
		t.Fatal("pool events not written")
	}
	row := writer.poolEvents[0][0]
	if !row.TokenPrice.Valid || !row.TokenPrice.Decimal.Equal(resolver.price) {
		t.Fatalf("pool event should carry unit price, got %+v", row.TokenPrice)
	}
}

func TestProcessEnrichmentFailureNonFatal(t *testing.T) {
	writer := &fakeWriter{}
	resolver := &fakeResolver{err: &pricecache.ProviderError{Endpoint: pricecache.EndpointHistory, Err: errors.New("down")}}
	coord := NewCoordinator(writer, resolver, zerolog.Nop())

	res, err := coord.Process(context.Background(), testUnit())
	if err != nil {
		t.Fatalf("enrichment failure must not fail the unit: %v", err)
	}

	var provErr *pricecache.ProviderError
	if !errors.As(res.EnrichErr, &provErr) {
		t.Fatalf("expected ProviderError in result, got %v", res.EnrichErr)
	}

	if len(writer.poolEvents) != 1 {
		t.Fatal("pool events must persist unenriched")
	}
	if writer.poolEvents[0][0].TokenPrice.Valid {
		t.Fatal("unenriched row must carry a null price")
	}
}

func TestProcessStoreFailureFatal(t *testing.T) {
	storeErr := &storage.BatchError{Op: storage.OpInsertEvents, Rows: 2, Err: errors.New("connection refused")}
	writer := &fakeWriter{eventsErr: storeErr}
	coord := NewCoordinator(writer, &fakeResolver{price: decimal.NewFromInt(1)}, zerolog.Nop())

	_, err := coord.Process(context.Background(), testUnit())
	if !errors.Is(err, storeErr) {
		t.Fatalf("expected store error, got %v", err)
	}
	if len(writer.accounts) != 0 || len(writer.poolEvents) != 0 {
		t.Fatal("later record kinds must not be written after a store failure")
	}
}

func TestProcessSkipsResolverWithoutPoolEvents(t *testing.T) {
	writer := &fakeWriter{}
	resolver := &fakeResolver{price: decimal.NewFromInt(1)}
	coord := NewCoordinator(writer, resolver, zerolog.Nop())

	unit := testUnit()
	unit.PoolEvents = nil

	if _, err := coord.Process(context.Background(), unit); err != nil {
		t.Fatalf("process: %v", err)
	}
	if resolver.calls != 0 {
		t.Fatalf("no enrichment needed, resolver called %d times", resolver.calls)
	}
}

func TestProcessNormalizesEVMAddresses(t *testing.T) {
	writer := &fakeWriter{}
	coord := NewCoordinator(writer, &fakeResolver{price: decimal.NewFromInt(1)}, zerolog.Nop())

	unit := testUnit()
	if _, err := coord.Process(context.Background(), unit); err != nil {
		t.Fatalf("process: %v", err)
	}

	got := writer.accounts[0][0].EVMAddress
	if got != "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed" {
		t.Fatalf("evm address not checksummed: %s", got)
	}
	// The caller's unit stays untouched.
	if unit.Accounts[0].EVMAddress != "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed" {
		t.Fatal("input unit must not be mutated")
	}
}

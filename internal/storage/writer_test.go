package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"reef-ingest/internal/model"
)

// The empty-batch tests use a Writer with a nil pool: touching the store
// would panic, so a nil return proves no store call was issued.

func TestInsertEventsEmptyNoStoreCall(t *testing.T) {
	w := NewWriter(nil, zerolog.Nop())
	if err := w.InsertEvents(context.Background(), nil); err != nil {
		t.Fatalf("empty batch must succeed: %v", err)
	}
	if err := w.InsertEvents(context.Background(), []model.EventRecord{}); err != nil {
		t.Fatalf("empty batch must succeed: %v", err)
	}
}

func TestInsertAccountsEmptyNoStoreCall(t *testing.T) {
	w := NewWriter(nil, zerolog.Nop())
	if err := w.InsertAccounts(context.Background(), nil); err != nil {
		t.Fatalf("empty batch must succeed: %v", err)
	}
}

func TestInsertPoolEventsEmptyNoStoreCall(t *testing.T) {
	w := NewWriter(nil, zerolog.Nop())
	if err := w.InsertPoolEvents(context.Background(), nil); err != nil {
		t.Fatalf("empty batch must succeed: %v", err)
	}
}

func TestEventArgsOrder(t *testing.T) {
	ev := model.EventRecord{
		ID:          42,
		BlockID:     7,
		ExtrinsicID: 9,
		Index:       3,
		Section:     "balances",
		Method:      "Transfer",
		Data:        `["a","b","100"]`,
	}

	args := eventArgs(ev)
	want := []any{int64(42), int64(7), int64(9), int32(3), "balances", "Transfer", `["a","b","100"]`}
	if len(args) != len(want) {
		t.Fatalf("expected %d args, got %d", len(want), len(args))
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("arg %d: got %#v want %#v", i, args[i], want[i])
		}
	}
}

func TestAccountArgsMatchStatementColumns(t *testing.T) {
	acc := model.AccountRecord{
		Address:          "5FHneW46...",
		EVMAddress:       "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		BlockID:          100,
		Active:           true,
		FreeBalance:      decimal.RequireFromString("1000000000000000000"),
		LockedBalance:    decimal.RequireFromString("1"),
		AvailableBalance: decimal.RequireFromString("2"),
		ReservedBalance:  decimal.RequireFromString("3"),
		VotingBalance:    decimal.RequireFromString("4"),
		VestedBalance:    decimal.RequireFromString("5"),
		Identity:         "{}",
		Nonce:            11,
		EVMNonce:         12,
	}

	args := accountArgs(acc)
	if len(args) != 13 {
		t.Fatalf("upsert statement binds 13 columns, got %d args", len(args))
	}
	if args[0] != acc.Address {
		t.Fatalf("identity key must bind first, got %#v", args[0])
	}
	// Balances travel as strings.
	if args[4] != "1000000000000000000" {
		t.Fatalf("free balance: got %#v", args[4])
	}
	if args[9] != "5" {
		t.Fatalf("vested balance must bind last of the balances, got %#v", args[9])
	}
	if args[12] != int64(12) {
		t.Fatalf("evm nonce: got %#v", args[12])
	}
}

func TestPoolEventArgsNullPrice(t *testing.T) {
	ev := model.PoolEventRecord{
		PoolID:    5,
		Type:      model.PoolEventSync,
		Timestamp: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC),
		Amount1:   decimal.Zero,
		Amount2:   decimal.Zero,
		Reserved1: decimal.RequireFromString("10"),
		Reserved2: decimal.RequireFromString("20"),
	}

	args := poolEventArgs(ev)
	if len(args) != 8 {
		t.Fatalf("expected 8 args, got %d", len(args))
	}
	if args[1] != "Sync" {
		t.Fatalf("type: got %#v", args[1])
	}
	if args[7] != nil {
		t.Fatalf("unenriched row must bind NULL token_price, got %#v", args[7])
	}

	ev.TokenPrice = decimal.NewNullDecimal(decimal.RequireFromString("0.0021"))
	args = poolEventArgs(ev)
	if args[7] != "0.0021" {
		t.Fatalf("enriched row: got %#v", args[7])
	}
}

func TestAccountBatchPreservesInputOrder(t *testing.T) {
	older := model.AccountRecord{
		Address:     "5FHneW46",
		BlockID:     100,
		FreeBalance: decimal.RequireFromString("100"),
	}
	newer := older
	newer.BlockID = 101
	newer.FreeBalance = decimal.RequireFromString("250")

	batch := accountBatch([]model.AccountRecord{older, newer})
	if batch.Len() != 2 {
		t.Fatalf("duplicate addresses must queue one statement each, got %d", batch.Len())
	}

	// Row order decides which state survives the in-batch conflict, so
	// the later snapshot must be queued last.
	for i, q := range batch.QueuedQueries {
		if q.SQL != upsertAccountSQL {
			t.Fatalf("statement %d: unexpected SQL", i)
		}
		if q.Arguments[0] != "5FHneW46" {
			t.Fatalf("statement %d: address %#v", i, q.Arguments[0])
		}
	}
	if got := batch.QueuedQueries[0].Arguments[4]; got != "100" {
		t.Fatalf("first statement must carry the older balance, got %#v", got)
	}
	if got := batch.QueuedQueries[1].Arguments[4]; got != "250" {
		t.Fatalf("last statement must carry the newest balance, got %#v", got)
	}
}

func TestEventBatchPreservesInputOrder(t *testing.T) {
	events := []model.EventRecord{
		{ID: 7, BlockID: 1},
		{ID: 5, BlockID: 1},
		{ID: 6, BlockID: 1},
	}

	batch := eventBatch(events)
	if batch.Len() != len(events) {
		t.Fatalf("expected %d statements, got %d", len(events), batch.Len())
	}
	for i, q := range batch.QueuedQueries {
		if q.Arguments[0] != events[i].ID {
			t.Fatalf("statement %d: id %#v, rows reordered", i, q.Arguments[0])
		}
	}
}

func TestIsDuplicate(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "event_pkey"}
	wrapped := &BatchError{Op: OpInsertEvents, Rows: 3, Err: pgErr}

	if !IsDuplicate(wrapped) {
		t.Fatal("unique violation should classify as duplicate")
	}
	if IsDuplicate(errors.New("connection refused")) {
		t.Fatal("plain error must not classify as duplicate")
	}
	if IsDuplicate(&BatchError{Op: OpInsertEvents, Rows: 1, Err: &pgconn.PgError{Code: "23502"}}) {
		t.Fatal("other constraint codes must not classify as duplicate")
	}
}

func TestBatchErrorMessage(t *testing.T) {
	err := &BatchError{Op: OpInsertAccounts, Rows: 7, Err: errors.New("boom")}
	if got := err.Error(); got != "storage: insert accounts (7 rows): boom" {
		t.Fatalf("unexpected message %q", got)
	}
	if !errors.Is(err, err.Err) {
		t.Fatal("BatchError must unwrap to its cause")
	}
}

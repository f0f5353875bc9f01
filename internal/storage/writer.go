package storage

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"reef-ingest/internal/model"
)

const (
	insertEventSQL = `INSERT INTO event
        (id, block_id, extrinsic_id, index, section, method, data)
    VALUES ($1, $2, $3, $4, $5, $6, $7);`

	upsertAccountSQL = `INSERT INTO account
        (address, evm_address, block_id, active, free_balance, locked_balance,
         available_balance, reserved_balance, voting_balance, vested_balance,
         identity, nonce, evm_nonce)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
    ON CONFLICT (address) DO UPDATE SET
        active            = EXCLUDED.active,
        block_id          = EXCLUDED.block_id,
        evm_address       = EXCLUDED.evm_address,
        free_balance      = EXCLUDED.free_balance,
        locked_balance    = EXCLUDED.locked_balance,
        vested_balance    = EXCLUDED.vested_balance,
        voting_balance    = EXCLUDED.voting_balance,
        reserved_balance  = EXCLUDED.reserved_balance,
        available_balance = EXCLUDED.available_balance,
        nonce             = EXCLUDED.nonce,
        evm_nonce         = EXCLUDED.evm_nonce,
        identity          = EXCLUDED.identity;`

	insertPoolEventSQL = `INSERT INTO pool_event
        (pool_id, type, timestamp, amount_1, amount_2, reserved_1, reserved_2, token_price)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8);`
)

// Writer performs set-based batch writes against the store. It holds no
// in-process state; durability lives entirely in Postgres.
//
// Each operation runs one parameter-bound statement per input row inside a
// single transaction, preserving input order: either all rows of a batch
// land or none do, and the last row wins when a batch carries duplicate
// upsert keys.
type Writer struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewWriter wires a pgx pool into a Writer.
func NewWriter(pool *pgxpool.Pool, logger zerolog.Logger) *Writer {
	return &Writer{pool: pool, logger: logger.With().Str("component", "batch_writer").Logger()}
}

// InsertEvents appends event rows to the ledger. An empty batch is a
// successful no-op that issues no store call. A duplicate id is surfaced
// as a constraint violation; duplicates are a producer bug, not handled
// here.
func (w *Writer) InsertEvents(ctx context.Context, events []model.EventRecord) error {
	if len(events) == 0 {
		return nil
	}

	if err := w.sendBatch(ctx, eventBatch(events)); err != nil {
		return &BatchError{Op: OpInsertEvents, Rows: len(events), Err: err}
	}

	w.logger.Debug().Int("rows", len(events)).Msg("events inserted")
	return nil
}

// InsertAccounts upserts account rows keyed by address, overwriting every
// mutable column with the incoming values. Input order is preserved, so
// the last row for an address within one batch determines the stored
// state. An empty batch is a successful no-op.
func (w *Writer) InsertAccounts(ctx context.Context, accounts []model.AccountRecord) error {
	if len(accounts) == 0 {
		return nil
	}

	if err := w.sendBatch(ctx, accountBatch(accounts)); err != nil {
		return &BatchError{Op: OpInsertAccounts, Rows: len(accounts), Err: err}
	}

	w.logger.Debug().Int("rows", len(accounts)).Msg("accounts upserted")
	return nil
}

// InsertPoolEvents appends liquidity event rows in input order. Same-pool
// Sync rows are never collapsed or reordered; the schema rejects two Sync
// rows sharing a (pool_id, timestamp) pair, which the reserve derivation
// relies on. An empty batch is a successful no-op.
func (w *Writer) InsertPoolEvents(ctx context.Context, events []model.PoolEventRecord) error {
	if len(events) == 0 {
		return nil
	}

	if err := w.sendBatch(ctx, poolEventBatch(events)); err != nil {
		return &BatchError{Op: OpInsertPoolEvents, Rows: len(events), Err: err}
	}

	w.logger.Debug().Int("rows", len(events)).Msg("pool events inserted")
	return nil
}

func (w *Writer) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return err
		}
	}
	if err := br.Close(); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// The batch builders queue exactly one statement per input row, in input
// order. Collapsing rows (for example deduplicating accounts by address)
// would change which row wins an in-batch conflict.

func eventBatch(events []model.EventRecord) *pgx.Batch {
	batch := &pgx.Batch{}
	for _, ev := range events {
		batch.Queue(insertEventSQL, eventArgs(ev)...)
	}
	return batch
}

func accountBatch(accounts []model.AccountRecord) *pgx.Batch {
	batch := &pgx.Batch{}
	for _, acc := range accounts {
		batch.Queue(upsertAccountSQL, accountArgs(acc)...)
	}
	return batch
}

func poolEventBatch(events []model.PoolEventRecord) *pgx.Batch {
	batch := &pgx.Batch{}
	for _, ev := range events {
		batch.Queue(insertPoolEventSQL, poolEventArgs(ev)...)
	}
	return batch
}

// Balances travel as strings and land in NUMERIC columns; chain amounts
// exceed every native integer type.

func eventArgs(ev model.EventRecord) []any {
	return []any{ev.ID, ev.BlockID, ev.ExtrinsicID, ev.Index, ev.Section, ev.Method, ev.Data}
}

func accountArgs(acc model.AccountRecord) []any {
	return []any{
		acc.Address,
		acc.EVMAddress,
		acc.BlockID,
		acc.Active,
		acc.FreeBalance.String(),
		acc.LockedBalance.String(),
		acc.AvailableBalance.String(),
		acc.ReservedBalance.String(),
		acc.VotingBalance.String(),
		acc.VestedBalance.String(),
		acc.Identity,
		acc.Nonce,
		acc.EVMNonce,
	}
}

func poolEventArgs(ev model.PoolEventRecord) []any {
	var tokenPrice any
	if ev.TokenPrice.Valid {
		tokenPrice = ev.TokenPrice.Decimal.String()
	}
	return []any{
		ev.PoolID,
		string(ev.Type),
		ev.Timestamp,
		ev.Amount1.String(),
		ev.Amount2.String(),
		ev.Reserved1.String(),
		ev.Reserved2.String(),
		tokenPrice,
	}
}

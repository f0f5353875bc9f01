package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"reef-ingest/internal/model"
)

const (
	selectAccountSQL = `SELECT
        address, evm_address, block_id, active,
        free_balance::text, locked_balance::text, available_balance::text,
        reserved_balance::text, voting_balance::text, vested_balance::text,
        identity, nonce, evm_nonce
    FROM account
    WHERE address = $1;`

	selectRecentEventsSQL = `SELECT
        id, block_id, extrinsic_id, index, section, method, data
    FROM event
    ORDER BY id DESC
    LIMIT $1;`

	selectPoolReservesSQL = `SELECT
        reserved_1::text, reserved_2::text, timestamp
    FROM pool_event
    WHERE pool_id = $1 AND type = 'Sync'
    ORDER BY timestamp DESC
    LIMIT 1;`

	selectPoolSyncsBetweenSQL = `SELECT
        pool_id, type, timestamp, amount_1::text, amount_2::text,
        reserved_1::text, reserved_2::text, token_price::text
    FROM pool_event
    WHERE pool_id = $1 AND type = 'Sync'
      AND timestamp >= $2 AND timestamp < $3
    ORDER BY timestamp;`
)

// PoolReserves is the derived current reserve state of a pool: the Sync
// event with the maximum timestamp, never materialised separately.
type PoolReserves struct {
	PoolID    int64
	Reserved1 decimal.Decimal
	Reserved2 decimal.Decimal
	Timestamp time.Time
}

// Reader serves the read queries the CLI and tests rely on.
type Reader struct {
	pool *pgxpool.Pool
}

// NewReader wires a pgx pool into a Reader.
func NewReader(pool *pgxpool.Pool) *Reader {
	return &Reader{pool: pool}
}

// Account returns the stored state for an address. pgx.ErrNoRows is
// returned unwrapped when the address is unknown.
func (r *Reader) Account(ctx context.Context, address string) (model.AccountRecord, error) {
	row := r.pool.QueryRow(ctx, selectAccountSQL, address)

	var acc model.AccountRecord
	var free, locked, available, reserved, voting, vested string
	if err := row.Scan(
		&acc.Address,
		&acc.EVMAddress,
		&acc.BlockID,
		&acc.Active,
		&free,
		&locked,
		&available,
		&reserved,
		&voting,
		&vested,
		&acc.Identity,
		&acc.Nonce,
		&acc.EVMNonce,
	); err != nil {
		return model.AccountRecord{}, err
	}

	var err error
	if acc.FreeBalance, err = decimal.NewFromString(free); err != nil {
		return model.AccountRecord{}, fmt.Errorf("parse free balance: %w", err)
	}
	if acc.LockedBalance, err = decimal.NewFromString(locked); err != nil {
		return model.AccountRecord{}, fmt.Errorf("parse locked balance: %w", err)
	}
	if acc.AvailableBalance, err = decimal.NewFromString(available); err != nil {
		return model.AccountRecord{}, fmt.Errorf("parse available balance: %w", err)
	}
	if acc.ReservedBalance, err = decimal.NewFromString(reserved); err != nil {
		return model.AccountRecord{}, fmt.Errorf("parse reserved balance: %w", err)
	}
	if acc.VotingBalance, err = decimal.NewFromString(voting); err != nil {
		return model.AccountRecord{}, fmt.Errorf("parse voting balance: %w", err)
	}
	if acc.VestedBalance, err = decimal.NewFromString(vested); err != nil {
		return model.AccountRecord{}, fmt.Errorf("parse vested balance: %w", err)
	}

	return acc, nil
}

// RecentEvents lists the most recent ledger events by descending id.
func (r *Reader) RecentEvents(ctx context.Context, limit int) ([]model.EventRecord, error) {
	rows, err := r.pool.Query(ctx, selectRecentEventsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent events: %w", err)
	}
	defer rows.Close()

	events := make([]model.EventRecord, 0, limit)
	for rows.Next() {
		var ev model.EventRecord
		if err := rows.Scan(&ev.ID, &ev.BlockID, &ev.ExtrinsicID, &ev.Index, &ev.Section, &ev.Method, &ev.Data); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// PoolReserves derives a pool's current reserves from its latest Sync
// event. pgx.ErrNoRows is returned when the pool has no Sync events yet.
func (r *Reader) PoolReserves(ctx context.Context, poolID int64) (PoolReserves, error) {
	row := r.pool.QueryRow(ctx, selectPoolReservesSQL, poolID)

	var res PoolReserves
	var reserved1, reserved2 string
	if err := row.Scan(&reserved1, &reserved2, &res.Timestamp); err != nil {
		return PoolReserves{}, err
	}
	res.PoolID = poolID

	var err error
	if res.Reserved1, err = decimal.NewFromString(reserved1); err != nil {
		return PoolReserves{}, fmt.Errorf("parse reserved_1: %w", err)
	}
	if res.Reserved2, err = decimal.NewFromString(reserved2); err != nil {
		return PoolReserves{}, fmt.Errorf("parse reserved_2: %w", err)
	}
	return res, nil
}

// PoolSyncsBetween lists a pool's Sync events within a time window in
// ascending timestamp order.
func (r *Reader) PoolSyncsBetween(ctx context.Context, poolID int64, from, to time.Time) ([]model.PoolEventRecord, error) {
	rows, err := r.pool.Query(ctx, selectPoolSyncsBetweenSQL, poolID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list pool syncs: %w", err)
	}
	defer rows.Close()

	events := make([]model.PoolEventRecord, 0)
	for rows.Next() {
		ev, err := scanPoolEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func scanPoolEvent(rows pgx.Rows) (model.PoolEventRecord, error) {
	var ev model.PoolEventRecord
	var evType string
	var amount1, amount2, reserved1, reserved2 string
	var tokenPrice *string

	if err := rows.Scan(&ev.PoolID, &evType, &ev.Timestamp, &amount1, &amount2, &reserved1, &reserved2, &tokenPrice); err != nil {
		return model.PoolEventRecord{}, err
	}
	ev.Type = model.PoolEventType(evType)

	var err error
	if ev.Amount1, err = decimal.NewFromString(amount1); err != nil {
		return model.PoolEventRecord{}, fmt.Errorf("parse amount_1: %w", err)
	}
	if ev.Amount2, err = decimal.NewFromString(amount2); err != nil {
		return model.PoolEventRecord{}, fmt.Errorf("parse amount_2: %w", err)
	}
	if ev.Reserved1, err = decimal.NewFromString(reserved1); err != nil {
		return model.PoolEventRecord{}, fmt.Errorf("parse reserved_1: %w", err)
	}
	if ev.Reserved2, err = decimal.NewFromString(reserved2); err != nil {
		return model.PoolEventRecord{}, fmt.Errorf("parse reserved_2: %w", err)
	}
	if tokenPrice != nil {
		price, err := decimal.NewFromString(*tokenPrice)
		if err != nil {
			return model.PoolEventRecord{}, fmt.Errorf("parse token_price: %w", err)
		}
		ev.TokenPrice = decimal.NewNullDecimal(price)
	}
	return ev, nil
}

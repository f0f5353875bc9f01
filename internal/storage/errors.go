package storage

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Operation names carried by BatchError.
const (
	OpInsertEvents     = "insert events"
	OpInsertAccounts   = "insert accounts"
	OpInsertPoolEvents = "insert pool events"
)

// uniqueViolation is the SQLSTATE code Postgres reports for duplicate keys.
const uniqueViolation = "23505"

// BatchError wraps a failed batch write with the operation name and batch
// size, so the host can log and decide whether to retry the unit.
type BatchError struct {
	Op   string
	Rows int
	Err  error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("storage: %s (%d rows): %v", e.Op, e.Rows, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// IsDuplicate reports whether err was caused by a unique-constraint
// violation. On the append-only event ledger this means the rows were
// already persisted by an earlier attempt.
func IsDuplicate(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

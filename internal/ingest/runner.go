package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"reef-ingest/internal/alerting"
	"reef-ingest/internal/metrics"
	"reef-ingest/internal/storage"
)

// RunnerOptions tune the host ingestion loop.
type RunnerOptions struct {
	// MaxRetries is the number of additional attempts after a failed unit.
	MaxRetries int
	// RetryBackoff is the pause between attempts.
	RetryBackoff time.Duration
}

// Runner is the host ingestion loop: it pulls units from the source,
// drives the coordinator, and owns the retry policy the core itself
// deliberately does not have. Units are processed strictly in source
// order; account upserts rely on that order for last-write-wins.
type Runner struct {
	source   Source
	coord    *Coordinator
	notifier alerting.Notifier
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	opts     RunnerOptions
}

// NewRunner constructs a Runner. notifier may be nil.
func NewRunner(source Source, coord *Coordinator, notifier alerting.Notifier, m *metrics.Metrics, opts RunnerOptions, logger zerolog.Logger) *Runner {
	if m == nil {
		m = metrics.New()
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 2 * time.Second
	}
	return &Runner{
		source:   source,
		coord:    coord,
		notifier: notifier,
		metrics:  m,
		logger:   logger.With().Str("component", "runner").Logger(),
		opts:     opts,
	}
}

// Run ingests units until the source is drained or ctx is cancelled. A
// unit that still fails after retries stops the loop: continuing past it
// would reorder account observations.
func (r *Runner) Run(ctx context.Context) error {
	for {
		unit, err := r.source.Next(ctx)
		if errors.Is(err, io.EOF) {
			r.logger.Info().Msg("source drained")
			return nil
		}
		if err != nil {
			return fmt.Errorf("next unit: %w", err)
		}

		if err := r.processWithRetry(ctx, unit); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.metrics.UnitsFailed.Inc()
			r.notify(ctx, unit, err)
			return fmt.Errorf("unit for block %d abandoned: %w", unit.BlockID, err)
		}
	}
}

func (r *Runner) processWithRetry(ctx context.Context, unit *Unit) error {
	var lastErr error
	for attempt := 0; attempt <= r.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := r.wait(ctx); err != nil {
				return err
			}
			r.logger.Warn().Int("attempt", attempt).Int64("block_id", unit.BlockID).Msg("retrying unit")
		}

		res, err := r.coord.Process(ctx, unit)
		if err == nil {
			r.record(unit, res)
			return nil
		}
		lastErr = err

		if attempt > 0 && storage.IsDuplicate(err) {
			var batchErr *storage.BatchError
			if errors.As(err, &batchErr) && batchErr.Op == storage.OpInsertEvents {
				// The ledger rows landed in a previous attempt; resume
				// with the remaining record kinds. A genuine producer
				// duplicate (two units sharing event ids) that races a
				// transient first-attempt failure is indistinguishable
				// here without row-level checks, so the constraint is
				// logged to keep that case visible.
				resumed := *unit
				resumed.Events = nil
				unit = &resumed
				r.logger.Warn().Int64("block_id", unit.BlockID).
					Str("constraint", constraintName(err)).
					Msg("events already persisted, resuming unit")
				continue
			}
			// Duplicate pool events on a retry mean the final write
			// committed before the failure was reported.
			r.logger.Warn().Int64("block_id", unit.BlockID).Msg("unit already persisted")
			r.record(unit, Result{})
			return nil
		}

		r.logger.Error().Err(err).Int64("block_id", unit.BlockID).Int("attempt", attempt).Msg("unit failed")
	}
	return lastErr
}

func (r *Runner) record(unit *Unit, res Result) {
	r.metrics.UnitsProcessed.Inc()
	r.metrics.RowsWritten.WithLabelValues("event").Add(float64(res.EventRows))
	r.metrics.RowsWritten.WithLabelValues("account").Add(float64(res.AccountRows))
	r.metrics.RowsWritten.WithLabelValues("pool_event").Add(float64(res.PoolEventRows))

	if res.EnrichErr != nil {
		r.metrics.EnrichmentFailures.Inc()
		r.logger.Warn().Err(res.EnrichErr).Int64("block_id", unit.BlockID).Msg("unit persisted without enrichment")
		return
	}

	event := r.logger.Info().Int64("block_id", unit.BlockID).
		Int("events", res.EventRows).
		Int("accounts", res.AccountRows).
		Int("pool_events", res.PoolEventRows)
	if res.Price.Valid {
		event = event.Str("price", res.Price.Decimal.String())
	}
	event.Msg("unit ingested")
}

func constraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}

func (r *Runner) wait(ctx context.Context) error {
	timer := time.NewTimer(r.opts.RetryBackoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *Runner) notify(ctx context.Context, unit *Unit, cause error) {
	if r.notifier == nil {
		return
	}

	op := "process unit"
	var batchErr *storage.BatchError
	if errors.As(cause, &batchErr) {
		op = batchErr.Op
	}

	note := alerting.Notification{
		BlockID:    unit.BlockID,
		Op:         op,
		Attempts:   r.opts.MaxRetries + 1,
		Cause:      cause.Error(),
		OccurredAt: time.Now().UTC(),
	}
	if err := r.notifier.Notify(ctx, note); err != nil {
		r.logger.Error().Err(err).Msg("failed to dispatch failure alert")
	}
}

package ingest

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"reef-ingest/internal/alerting"
	"reef-ingest/internal/model"
	"reef-ingest/internal/storage"
)

type sliceSource struct {
	units []*Unit
	next  int
}

func (s *sliceSource) Next(ctx context.Context) (*Unit, error) {
	if s.next >= len(s.units) {
		return nil, io.EOF
	}
	unit := s.units[s.next]
	s.next++
	return unit, nil
}

type captureNotifier struct {
	notes []alerting.Notification
}

func (c *captureNotifier) Notify(ctx context.Context, note alerting.Notification) error {
	c.notes = append(c.notes, note)
	return nil
}

func newTestRunner(src Source, writer BatchWriter, notifier alerting.Notifier) *Runner {
	coord := NewCoordinator(writer, &fakeResolver{price: decimal.NewFromInt(1)}, zerolog.Nop())
	return NewRunner(src, coord, notifier, nil, RunnerOptions{
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
	}, zerolog.Nop())
}

func TestRunnerDrainsSource(t *testing.T) {
	first := testUnit()
	second := testUnit()
	second.BlockID = 101
	second.Events = []model.EventRecord{{ID: 3, BlockID: 101}}

	writer := &fakeWriter{}
	runner := newTestRunner(&sliceSource{units: []*Unit{first, second}}, writer, nil)

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(writer.events) != 2 {
		t.Fatalf("expected 2 event batches, got %d", len(writer.events))
	}
}

// transientWriter fails InsertEvents a fixed number of times, then behaves.
type transientWriter struct {
	fakeWriter
	failures int
}

func (w *transientWriter) InsertEvents(ctx context.Context, events []model.EventRecord) error {
	if w.failures > 0 {
		w.failures--
		return &storage.BatchError{Op: storage.OpInsertEvents, Rows: len(events), Err: errors.New("connection reset")}
	}
	return w.fakeWriter.InsertEvents(ctx, events)
}

func TestRunnerRetriesTransientFailure(t *testing.T) {
	writer := &transientWriter{failures: 1}
	runner := newTestRunner(&sliceSource{units: []*Unit{testUnit()}}, writer, nil)

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("transient failure should be retried: %v", err)
	}
	if len(writer.events) != 1 {
		t.Fatalf("expected 1 event batch after retry, got %d", len(writer.events))
	}
}

func TestRunnerAbandonsAfterRetries(t *testing.T) {
	writer := &transientWriter{failures: 10}
	notifier := &captureNotifier{}
	runner := newTestRunner(&sliceSource{units: []*Unit{testUnit()}}, writer, notifier)

	if err := runner.Run(context.Background()); err == nil {
		t.Fatal("persistent failure should abandon the unit")
	}

	if len(notifier.notes) != 1 {
		t.Fatalf("expected 1 failure alert, got %d", len(notifier.notes))
	}
	note := notifier.notes[0]
	if note.BlockID != 100 {
		t.Fatalf("alert block id: %d", note.BlockID)
	}
	if note.Op != storage.OpInsertEvents {
		t.Fatalf("alert op: %s", note.Op)
	}
	if note.Attempts != 3 {
		t.Fatalf("alert attempts: %d", note.Attempts)
	}
}

// resumeWriter simulates a unit whose ledger rows committed before a later
// record kind failed: the first accounts call fails, and every events call
// after the first reports a duplicate key.
type resumeWriter struct {
	fakeWriter
	eventCalls   int
	accountCalls int
}

func (w *resumeWriter) InsertEvents(ctx context.Context, events []model.EventRecord) error {
	if len(events) == 0 {
		return nil
	}
	w.eventCalls++
	if w.eventCalls > 1 {
		return &storage.BatchError{Op: storage.OpInsertEvents, Rows: len(events), Err: &pgconn.PgError{Code: "23505"}}
	}
	return w.fakeWriter.InsertEvents(ctx, events)
}

func (w *resumeWriter) InsertAccounts(ctx context.Context, accounts []model.AccountRecord) error {
	w.accountCalls++
	if w.accountCalls == 1 {
		return &storage.BatchError{Op: storage.OpInsertAccounts, Rows: len(accounts), Err: errors.New("connection reset")}
	}
	return w.fakeWriter.InsertAccounts(ctx, accounts)
}

func TestRunnerResumesAfterDuplicateEvents(t *testing.T) {
	writer := &resumeWriter{}
	runner := newTestRunner(&sliceSource{units: []*Unit{testUnit()}}, writer, nil)

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("resume should succeed: %v", err)
	}

	if len(writer.events) != 1 {
		t.Fatalf("ledger rows must land exactly once, got %d batches", len(writer.events))
	}
	if len(writer.accounts) != 1 {
		t.Fatalf("accounts must land after resume, got %d batches", len(writer.accounts))
	}
	if len(writer.poolEvents) != 1 {
		t.Fatalf("pool events must land after resume, got %d batches", len(writer.poolEvents))
	}
}

func TestRunnerStopsOnSourceError(t *testing.T) {
	src := &failingSource{}
	runner := newTestRunner(src, &fakeWriter{}, nil)
	if err := runner.Run(context.Background()); err == nil {
		t.Fatal("source error should stop the loop")
	}
}

type failingSource struct{}

func (f *failingSource) Next(ctx context.Context) (*Unit, error) {
	return nil, errors.New("corrupt dump")
}

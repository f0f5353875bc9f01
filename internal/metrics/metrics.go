package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics aggregates the ingestion counters.
type Metrics struct {
	UnitsProcessed     prometheus.Counter
	UnitsFailed        prometheus.Counter
	RowsWritten        *prometheus.CounterVec
	EnrichmentFailures prometheus.Counter

	registry *prometheus.Registry
}

// New builds a Metrics set backed by its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		UnitsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "ingest_units_processed_total",
			Help: "Ingestion units fully persisted.",
		}),
		UnitsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "ingest_units_failed_total",
			Help: "Ingestion units abandoned after retries.",
		}),
		RowsWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_rows_written_total",
			Help: "Rows written to the store, by table.",
		}, []string{"table"}),
		EnrichmentFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "ingest_enrichment_failures_total",
			Help: "Units persisted without price enrichment.",
		}),
		registry: registry,
	}
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve runs a metrics HTTP listener until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics listener started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

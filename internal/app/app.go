package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"reef-ingest/internal/alerting"
	"reef-ingest/internal/config"
	"reef-ingest/internal/ingest"
	"reef-ingest/internal/metrics"
	"reef-ingest/internal/pricecache"
	"reef-ingest/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) openPool(ctx context.Context) (*pgxpool.Pool, func(), error) {
	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	return pool, pool.Close, nil
}

func (a *App) newPriceCache() (*pricecache.Cache, error) {
	provider := pricecache.NewCoingecko(pricecache.CoingeckoOptions{
		BaseURL:    a.Config.Coingecko.BaseURL,
		CoinID:     a.Config.Coingecko.CoinID,
		VsCurrency: a.Config.Coingecko.VsCurrency,
		Timeout:    a.Config.Coingecko.RequestTimeout,
		UserAgent:  a.Config.Coingecko.UserAgent,
	}, a.Logger)

	return pricecache.New(provider, pricecache.Options{
		Capacity:   a.Config.Coingecko.CacheSize,
		LiveWindow: a.Config.Coingecko.LiveWindow,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

// RunOptions configure the ingestion run.
type RunOptions struct {
	// Input overrides ingest.input from config.
	Input string
}

// Run executes the ingestion loop over a unit dump until drained.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	input := opts.Input
	if input == "" {
		input = a.Config.Ingest.Input
	}
	if input == "" {
		return errors.New("no input configured; set ingest.input or pass --input")
	}

	source, err := ingest.OpenJSONL(input)
	if err != nil {
		return err
	}
	defer source.Close()

	pool, closePool, err := a.openPool(ctx)
	if err != nil {
		return err
	}
	defer closePool()

	cache, err := a.newPriceCache()
	if err != nil {
		return err
	}

	writer := storage.NewWriter(pool, a.Logger)
	coord := ingest.NewCoordinator(writer, cache, a.Logger)

	m := metrics.New()
	if a.Config.Metrics.Enabled {
		go func() {
			if err := m.Serve(ctx, a.Config.Metrics.ListenAddr, a.Logger); err != nil {
				a.Logger.Error().Err(err).Msg("metrics listener failed")
			}
		}()
	}

	runner := ingest.NewRunner(source, coord, a.newNotifier(), m, ingest.RunnerOptions{
		MaxRetries:   a.Config.Ingest.MaxRetries,
		RetryBackoff: a.Config.Ingest.RetryBackoff,
	}, a.Logger)

	a.Logger.Info().Str("input", input).Msg("starting ingestion")
	err = runner.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("ingestion terminated with error")
		return err
	}

	hits, misses := cache.Stats()
	a.Logger.Info().Uint64("cache_hits", hits).Uint64("cache_misses", misses).Msg("ingestion finished")
	return nil
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit   int
	Address string
}

// ExportOptions hold parameters for exporting pool reserve history.
type ExportOptions struct {
	PoolID    int64
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// PricesOptions configure the prices command.
type PricesOptions struct {
	From time.Time
	To   time.Time
}

package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"reef-ingest/internal/model"
	"reef-ingest/internal/storage"
)

// Export renders a pool's Sync reserve history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.PoolID <= 0 {
		return errors.New("--pool is required")
	}

	maxPoints := opts.MaxPoints
	if maxPoints <= 0 {
		maxPoints = a.Config.Export.MaxDataPoints
	}

	pool, closePool, err := a.openPool(ctx)
	if err != nil {
		return err
	}
	defer closePool()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.AddDate(0, 0, -30)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	reader := storage.NewReader(pool)
	syncs, err := reader.PoolSyncsBetween(ctx, opts.PoolID, from, to)
	if err != nil {
		return err
	}
	if len(syncs) == 0 {
		a.Logger.Info().Int64("pool_id", opts.PoolID).Msg("no sync events in export window")
		return nil
	}

	downsampled := downsampleSyncs(syncs, maxPoints)
	a.Logger.Info().Int("total", len(syncs)).Int("exported", len(downsampled)).Msg("exporting reserve history")

	if opts.CSVPath != "" {
		if err := writeSyncsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSyncsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleSyncs(syncs []model.PoolEventRecord, max int) []model.PoolEventRecord {
	if max <= 0 || len(syncs) <= max {
		return syncs
	}

	result := make([]model.PoolEventRecord, 0, max)
	step := float64(len(syncs)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(syncs) {
			idx = len(syncs) - 1
		}
		result = append(result, syncs[idx])
	}
	return result
}

func writeSyncsCSV(path string, syncs []model.PoolEventRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"timestamp", "reserved_1", "reserved_2", "token_price"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, sync := range syncs {
		price := ""
		if sync.TokenPrice.Valid {
			price = sync.TokenPrice.Decimal.String()
		}
		record := []string{
			sync.Timestamp.Format(time.RFC3339),
			sync.Reserved1.String(),
			sync.Reserved2.String(),
			price,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeSyncsPNG(path string, syncs []model.PoolEventRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(syncs))
	reserved1 := make([]float64, len(syncs))
	reserved2 := make([]float64, len(syncs))

	for i, sync := range syncs {
		x[i] = sync.Timestamp
		reserved1[i] = sync.Reserved1.InexactFloat64()
		reserved2[i] = sync.Reserved2.InexactFloat64()
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Reserves",
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Reserved 1",
				XValues: x,
				YValues: reserved1,
			},
			chart.TimeSeries{
				Name:    "Reserved 2",
				XValues: x,
				YValues: reserved2,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

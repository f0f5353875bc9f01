package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"reef-ingest/internal/pricecache"
)

// Prices resolves one price per calendar day in the given range through
// the price cache and prints the result. Useful for checking provider
// connectivity and for eyeballing what enrichment would attach.
func (a *App) Prices(ctx context.Context, opts PricesOptions) error {
	from := opts.From.UTC()
	to := opts.To.UTC()
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	cache, err := a.newPriceCache()
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Date\tPrice\tError")

	resolved := 0
	failed := 0
	for day := from; day.Before(to); day = day.AddDate(0, 0, 1) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Midday keeps the lookup clear of the live window on past days.
		at := time.Date(day.Year(), day.Month(), day.Day(), 12, 0, 0, 0, time.UTC)
		price, err := cache.Price(ctx, at)
		if err != nil {
			failed++
			fmt.Fprintf(writer, "%s\t-\t%v\n", pricecache.DayBucket(at), err)
			continue
		}
		resolved++
		fmt.Fprintf(writer, "%s\t%s\t\n", pricecache.DayBucket(at), price)
	}

	if err := writer.Flush(); err != nil {
		return err
	}

	a.Logger.Info().Int("resolved", resolved).Int("failed", failed).Msg("price range resolved")
	if failed > 0 {
		return fmt.Errorf("%d day(s) failed to resolve", failed)
	}
	return nil
}

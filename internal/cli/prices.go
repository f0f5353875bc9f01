package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"reef-ingest/internal/app"
)

var (
	pricesFrom string
	pricesTo   string
)

var pricesCmd = &cobra.Command{
	Use:   "prices",
	Short: "Resolve daily prices for a date range through the cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		if pricesFrom == "" || pricesTo == "" {
			return fmt.Errorf("--from and --to are required")
		}

		from, err := time.Parse("2006-01-02", pricesFrom)
		if err != nil {
			return fmt.Errorf("invalid --from value: %w", err)
		}
		to, err := time.Parse("2006-01-02", pricesTo)
		if err != nil {
			return fmt.Errorf("invalid --to value: %w", err)
		}

		return getApp().Prices(cmd.Context(), app.PricesOptions{From: from, To: to})
	},
}

func init() {
	pricesCmd.Flags().StringVar(&pricesFrom, "from", "", "Start date (YYYY-MM-DD, inclusive)")
	pricesCmd.Flags().StringVar(&pricesTo, "to", "", "End date (YYYY-MM-DD, exclusive)")
}

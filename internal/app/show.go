package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/jackc/pgx/v5"

	"reef-ingest/internal/storage"
)

// Show prints recent ledger events, or one account when an address is given.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	pool, closePool, err := a.openPool(ctx)
	if err != nil {
		return err
	}
	defer closePool()

	reader := storage.NewReader(pool)

	if opts.Address != "" {
		return showAccount(ctx, reader, opts.Address)
	}
	return showEvents(ctx, reader, opts.Limit)
}

func showAccount(ctx context.Context, reader *storage.Reader, address string) error {
	acc, err := reader.Account(ctx, address)
	if errors.Is(err, pgx.ErrNoRows) {
		fmt.Fprintf(os.Stdout, "no account %s\n", address)
		return nil
	}
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Address\t%s\n", acc.Address)
	fmt.Fprintf(writer, "EVM address\t%s\n", acc.EVMAddress)
	fmt.Fprintf(writer, "Last block\t%d\n", acc.BlockID)
	fmt.Fprintf(writer, "Active\t%t\n", acc.Active)
	fmt.Fprintf(writer, "Free\t%s\n", acc.FreeBalance)
	fmt.Fprintf(writer, "Available\t%s\n", acc.AvailableBalance)
	fmt.Fprintf(writer, "Locked\t%s\n", acc.LockedBalance)
	fmt.Fprintf(writer, "Reserved\t%s\n", acc.ReservedBalance)
	fmt.Fprintf(writer, "Voting\t%s\n", acc.VotingBalance)
	fmt.Fprintf(writer, "Vested\t%s\n", acc.VestedBalance)
	fmt.Fprintf(writer, "Nonce\t%d\n", acc.Nonce)
	fmt.Fprintf(writer, "EVM nonce\t%d\n", acc.EVMNonce)
	return writer.Flush()
}

func showEvents(ctx context.Context, reader *storage.Reader, limit int) error {
	events, err := reader.RecentEvents(ctx, limit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(os.Stdout, "no events found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tBlock\tExtrinsic\tIndex\tSection\tMethod\tData")

	for _, ev := range events {
		fmt.Fprintf(
			writer,
			"%d\t%d\t%d\t%d\t%s\t%s\t%s\n",
			ev.ID,
			ev.BlockID,
			ev.ExtrinsicID,
			ev.Index,
			ev.Section,
			ev.Method,
			sanitizeInline(ev.Data),
		)
	}

	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	if len(cleaned) > 80 {
		cleaned = cleaned[:77] + "..."
	}
	return cleaned
}

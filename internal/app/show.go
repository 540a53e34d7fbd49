package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"text/tabwriter"
	"time"
)

// Show prints the most recent ledger snapshots from the store.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show ledger")
	}
	if closeStore != nil {
		defer closeStore()
	}

	rows, err := store.ListLedgerBetween(ctx, a.Config.App.Instrument, 0, math.MaxInt64)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(os.Stdout, "no ledger entries found")
		return nil
	}
	if opts.Limit > 0 && len(rows) > opts.Limit {
		rows = rows[len(rows)-opts.Limit:]
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Trigger (UTC)\tCumulative\tMultiplier\tDelta")

	var prev uint64
	for i, row := range rows {
		delta := "-"
		if i > 0 {
			delta = fmt.Sprintf("%d", row.Cumulative-prev)
		}
		fmt.Fprintf(
			writer,
			"%s\t%d\t%s\t%s\n",
			time.Unix(row.Timestamp, 0).UTC().Format(time.RFC3339),
			row.Cumulative,
			formatMultiplier(row.Cumulative, a.Config.Engine.Precision),
			delta,
		)
		prev = row.Cumulative
	}

	return writer.Flush()
}

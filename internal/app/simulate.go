package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"vol-funding-engine/internal/engine"
	"vol-funding-engine/internal/oracle"
)

// Simulate drives the engine with a synthetic oracle price walk and prints
// the resulting ledger. Nothing is persisted; the run is self-contained.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	if opts.Rounds <= 0 {
		return errors.New("rounds must be positive")
	}
	if opts.IntervalSeconds <= 0 {
		return errors.New("interval must be positive")
	}
	if opts.StartPrice <= 0 {
		return errors.New("start price must be positive")
	}

	fee, err := a.newFee()
	if err != nil {
		return err
	}

	feed := oracle.NewStatic()
	eng, err := engine.New(engine.Options{
		Instrument: a.Config.App.Instrument,
		Precision:  a.Config.Engine.Precision,
		Feed:       feed,
		Fee:        fee,
		Turbulence: a.Config.Engine.Turbulence,
		Logger:     a.Logger,
	})
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Trigger (UTC)\tIndex\tCumulative\tMultiplier\tTurbulence%")

	start := time.Now().UTC().Unix()
	price := opts.StartPrice
	for i := 0; i < opts.Rounds; i++ {
		now := start + int64(i)*opts.IntervalSeconds
		feed.Publish(oracle.Round{
			Price:     price,
			RoundID:   uint64(i + 1),
			Timestamp: now - 1,
		})

		cumulative, err := eng.OnTrigger(ctx, now)
		if err != nil {
			return fmt.Errorf("round %d: %w", i+1, err)
		}

		fmt.Fprintf(
			writer,
			"%s\t%d\t%d\t%s\t%s\n",
			time.Unix(now, 0).UTC().Format(time.RFC3339),
			price,
			cumulative,
			formatMultiplier(cumulative, a.Config.Engine.Precision),
			formatBasisPoints(eng.TurbulencePercent()),
		)

		price += opts.PriceStep
		if price <= 0 {
			price = 1
		}
	}

	return writer.Flush()
}

func formatMultiplier(cumulative, precision uint64) string {
	digits := 0
	for p := precision; p > 1; p /= 10 {
		digits++
	}
	return fmt.Sprintf("%d.%0*d", cumulative/precision, digits, cumulative%precision)
}

func formatBasisPoints(pct uint64) string {
	return fmt.Sprintf("%d.%02d", pct/100, pct%100)
}

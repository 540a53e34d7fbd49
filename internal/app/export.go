package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"vol-funding-engine/internal/storage"
)

// Export renders the persisted ledger as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := time.Unix(0, 0).UTC()
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	rows, err := store.ListLedgerBetween(ctx, a.Config.App.Instrument, from.Unix(), to.Unix())
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		a.Logger.Info().Msg("no ledger entries found for export window")
		return nil
	}

	downsampled := downsampleRows(rows, opts.MaxPoints)
	a.Logger.Info().Int("total", len(rows)).Int("exported", len(downsampled)).Msg("exporting ledger")

	if opts.CSVPath != "" {
		if err := a.writeLedgerCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := a.writeLedgerPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleRows(rows []storage.LedgerRow, max int) []storage.LedgerRow {
	if max <= 0 || len(rows) <= max {
		return rows
	}

	result := make([]storage.LedgerRow, 0, max)
	step := float64(len(rows)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(rows) {
			idx = len(rows) - 1
		}
		result = append(result, rows[idx])
	}
	return result
}

func (a *App) writeLedgerCSV(path string, rows []storage.LedgerRow) error {
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

	header := []string{"trigger_ts", "cumulative", "multiplier", "interval_fee"}
	if err := writer.Write(header); err != nil {
		return err
	}

	var prev uint64
	for i, row := range rows {
		interval := ""
		if i > 0 {
			interval = strconv.FormatUint(row.Cumulative-prev, 10)
		}
		record := []string{
			time.Unix(row.Timestamp, 0).UTC().Format(time.RFC3339),
			strconv.FormatUint(row.Cumulative, 10),
			formatMultiplier(row.Cumulative, a.Config.Engine.Precision),
			interval,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
		prev = row.Cumulative
	}

	return writer.Error()
}

func (a *App) writeLedgerPNG(path string, rows []storage.LedgerRow) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	precision := float64(a.Config.Engine.Precision)
	x := make([]time.Time, len(rows))
	multiplier := make([]float64, len(rows))
	interval := make([]float64, len(rows))

	var prev uint64
	for i, row := range rows {
		x[i] = time.Unix(row.Timestamp, 0).UTC()
		multiplier[i] = float64(row.Cumulative) / precision
		if i > 0 {
			interval[i] = float64(row.Cumulative-prev) / precision
		}
		prev = row.Cumulative
	}

	valueFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.6f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Cumulative multiplier",
			ValueFormatter: valueFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Interval fee",
			ValueFormatter: valueFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Cumulative",
				XValues: x,
				YValues: multiplier,
			},
			chart.TimeSeries{
				Name:    "Interval fee",
				XValues: x,
				YValues: interval,
				YAxis:   chart.YAxisSecondary,
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

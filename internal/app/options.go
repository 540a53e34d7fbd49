package app

import "time"

// ExportOptions hold parameters for exporting the persisted ledger.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// SimulateOptions drive a synthetic oracle walk through the engine.
type SimulateOptions struct {
	Rounds          int
	IntervalSeconds int64
	StartPrice      int64
	PriceStep       int64
}

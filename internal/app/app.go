package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"vol-funding-engine/internal/alerting"
	"vol-funding-engine/internal/cache"
	"vol-funding-engine/internal/config"
	"vol-funding-engine/internal/engine"
	"vol-funding-engine/internal/feemath"
	"vol-funding-engine/internal/ledger"
	"vol-funding-engine/internal/oracle"
	"vol-funding-engine/internal/storage"
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

func (a *App) newFeed() oracle.RoundFeed {
	return oracle.NewChainlink(oracle.ChainlinkOptions{
		RPCURL:            a.Config.Oracle.RPCURL,
		AggregatorAddress: a.Config.Oracle.AggregatorAddress,
		AnswerDecimals:    a.Config.Oracle.AnswerDecimals,
		Timeout:           a.Config.Oracle.RequestTimeout,
	}, a.Logger)
}

func (a *App) newFee() (feemath.FeeFunction, error) {
	return feemath.NewLinearPremium(
		a.Config.Engine.Precision,
		a.Config.Fee.MaxIndexValue,
		a.Config.Fee.DailyRatePPM,
	)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) newMirror(ctx context.Context) (*cache.RedisMirror, error) {
	if !a.Config.Cache.Enabled {
		return nil, nil
	}
	cfg := a.Config.Cache
	return cache.NewRedisMirror(ctx, cfg.Addr, cfg.Password, cfg.DB, cfg.TTL)
}

// openStore builds the configured checkpoint store, or returns nil when
// persistence is disabled.
func (a *App) openStore(ctx context.Context) (storage.CheckpointStore, func(), error) {
	switch a.Config.Database.Driver {
	case "":
		return nil, nil, nil
	case "sqlite":
		store, err := storage.NewSQLiteStore(a.Config.Database.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case "postgres":
		pool, err := storage.NewPool(ctx, a.Config.Database.Postgres)
		if err != nil {
			return nil, nil, err
		}
		store, err := storage.NewPostgresStore(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown database.driver %q", a.Config.Database.Driver)
	}
}

// newEngine restores the last checkpoint (when a store is configured) and
// constructs the funding engine on top of it.
func (a *App) newEngine(ctx context.Context, feed oracle.RoundFeed, store storage.CheckpointStore) (*engine.Engine, error) {
	fee, err := a.newFee()
	if err != nil {
		return nil, err
	}

	opts := engine.Options{
		Instrument: a.Config.App.Instrument,
		Precision:  a.Config.Engine.Precision,
		Feed:       feed,
		Fee:        fee,
		Turbulence: a.Config.Engine.Turbulence,
		Store:      store,
		Logger:     a.Logger,
	}

	if store != nil {
		cp, err := store.LoadLatest(ctx, a.Config.App.Instrument)
		if err != nil {
			return nil, fmt.Errorf("load checkpoint: %w", err)
		}
		if cp != nil {
			rows, err := store.ListLedgerBetween(ctx, a.Config.App.Instrument, 0, cp.Timestamp)
			if err != nil {
				return nil, fmt.Errorf("load ledger: %w", err)
			}
			entries := make([]ledger.Entry, 0, len(rows))
			for _, row := range rows {
				entries = append(entries, ledger.Entry{Timestamp: row.Timestamp, Cumulative: row.Cumulative})
			}
			turb := cp.Turbulence
			opts.PriorEntries = entries
			opts.PriorState = &engine.State{
				Initialized:       true,
				LastUpdate:        cp.Timestamp,
				PriceAtLastUpdate: cp.PriceAtLastUpdate,
				LastRoundID:       cp.LastRoundID,
			}
			opts.PriorTurbulence = &turb

			a.Logger.Info().
				Int64("last_update", cp.Timestamp).
				Int("ledger_entries", len(entries)).
				Msg("resumed from checkpoint")
		}
	}

	return engine.New(opts)
}

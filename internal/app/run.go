package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"vol-funding-engine/internal/server"
	"vol-funding-engine/internal/service"
)

// Run starts the HTTP API and serves triggers until interrupted.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.driver not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	eng, err := a.newEngine(ctx, a.newFeed(), store)
	if err != nil {
		return err
	}

	mirror, err := a.newMirror(ctx)
	if err != nil {
		return err
	}
	if mirror != nil {
		defer mirror.Close()
	}

	srv := server.New(server.Options{
		ListenAddr:      a.Config.Server.ListenAddr,
		ReadTimeout:     a.Config.Server.ReadTimeout,
		WriteTimeout:    a.Config.Server.WriteTimeout,
		ShutdownTimeout: a.Config.Server.ShutdownTimeout,
		Logger:          a.Logger,
	})

	svcOpts := service.Options{
		Engine:           eng,
		Broadcaster:      srv.Hub(),
		Notifier:         a.newNotifier(),
		AlertsOn:         a.Config.Alerting.Enabled,
		ThresholdPercent: a.Config.Alerting.ThresholdPercent,
		AlertCooldown:    a.Config.Alerting.Cooldown,
		Logger:           a.Logger,
	}
	if mirror != nil {
		svcOpts.Mirror = mirror
	}
	srv.SetService(service.New(svcOpts))

	a.Logger.Info().Str("instrument", a.Config.App.Instrument).Msg("starting funding engine")
	err = srv.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("server terminated with error")
		return err
	}

	a.Logger.Info().Msg("funding engine stopped")
	return nil
}

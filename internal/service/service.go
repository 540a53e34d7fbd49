package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"vol-funding-engine/internal/alerting"
	"vol-funding-engine/internal/cache"
	"vol-funding-engine/internal/engine"
)

// Broadcaster fans an applied snapshot out to live subscribers.
type Broadcaster interface {
	Broadcast(snap cache.FundingSnapshot)
}

// Mirror publishes the latest snapshot to an external cache.
type Mirror interface {
	SetLatest(ctx context.Context, snap cache.FundingSnapshot) error
}

// Options wire the trigger orchestration.
type Options struct {
	Engine           *engine.Engine
	Mirror           Mirror
	Broadcaster      Broadcaster
	Notifier         alerting.Notifier
	AlertsOn         bool
	ThresholdPercent uint64
	AlertCooldown    time.Duration
	Logger           zerolog.Logger
}

// Service runs a trigger through the engine and distributes the result:
// best-effort cache mirror, live broadcast, and turbulence alerting. Only
// the engine call itself can fail a trigger; distribution errors are logged
// and swallowed.
type Service struct {
	engine      *engine.Engine
	mirror      Mirror
	broadcaster Broadcaster
	notifier    alerting.Notifier
	alertsOn  bool
	threshold uint64
	cooldown  time.Duration
	logger    zerolog.Logger

	// alertMu guards the cooldown window; triggers arrive on concurrent
	// handler goroutines.
	alertMu     sync.Mutex
	lastAlertAt time.Time
}

// New constructs the orchestration service.
func New(opts Options) *Service {
	return &Service{
		engine:      opts.Engine,
		mirror:      opts.Mirror,
		broadcaster: opts.Broadcaster,
		notifier:    opts.Notifier,
		alertsOn:    opts.AlertsOn,
		threshold:   opts.ThresholdPercent,
		cooldown:    opts.AlertCooldown,
		logger:      opts.Logger.With().Str("component", "service").Logger(),
	}
}

// HandleTrigger applies the trigger and distributes the new snapshot.
func (s *Service) HandleTrigger(ctx context.Context, now int64) (cache.FundingSnapshot, error) {
	cumulative, err := s.engine.OnTrigger(ctx, now)
	if err != nil {
		return cache.FundingSnapshot{}, err
	}

	snap := cache.FundingSnapshot{
		Instrument:        s.engine.Instrument(),
		Timestamp:         now,
		Cumulative:        cumulative,
		TurbulencePercent: s.engine.TurbulencePercent(),
	}

	if s.mirror != nil {
		if err := s.mirror.SetLatest(ctx, snap); err != nil {
			s.logger.Error().Err(err).Int64("now", now).Msg("failed to mirror snapshot")
		}
	}

	if s.broadcaster != nil {
		s.broadcaster.Broadcast(snap)
	}

	s.maybeAlert(ctx, snap)

	return snap, nil
}

// Engine exposes the underlying engine for query handlers.
func (s *Service) Engine() *engine.Engine {
	return s.engine
}

func (s *Service) maybeAlert(ctx context.Context, snap cache.FundingSnapshot) {
	if !s.alertsOn || s.notifier == nil || snap.TurbulencePercent < s.threshold {
		return
	}

	s.alertMu.Lock()
	defer s.alertMu.Unlock()
	if s.cooldown > 0 && time.Since(s.lastAlertAt) < s.cooldown {
		return
	}

	note := alerting.Notification{
		Instrument:        snap.Instrument,
		Timestamp:         snap.Timestamp,
		TurbulencePercent: snap.TurbulencePercent,
		ThresholdPercent:  s.threshold,
		CumulativeFee:     snap.Cumulative,
		Price:             s.engine.State().PriceAtLastUpdate,
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Int64("now", snap.Timestamp).Msg("failed to dispatch turbulence alert")
		return
	}
	s.lastAlertAt = time.Now()
}

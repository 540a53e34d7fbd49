package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"vol-funding-engine/internal/alerting"
	"vol-funding-engine/internal/cache"
	"vol-funding-engine/internal/engine"
	"vol-funding-engine/internal/feemath"
	"vol-funding-engine/internal/oracle"
	"vol-funding-engine/internal/turbulence"
)

const precision = uint64(10_000_000_000)

func newTestEngine(t *testing.T, feed oracle.RoundFeed) *engine.Engine {
	t.Helper()

	fee, err := feemath.NewLinearPremium(precision, 20_000, 1_000)
	if err != nil {
		t.Fatalf("NewLinearPremium: %v", err)
	}
	eng, err := engine.New(engine.Options{
		Instrument: "CVI-PERP",
		Precision:  precision,
		Feed:       feed,
		Fee:        fee,
		Turbulence: turbulence.Config{
			HeartbeatSeconds: 55 * 60,
			GrowthStep:       100,
			DecayStep:        100,
			MaxPercent:       1_000,
			FloorPercent:     10,
		},
		Logger: zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return eng
}

type recordingMirror struct {
	mu    sync.Mutex
	snaps []cache.FundingSnapshot
	err   error
}

func (m *recordingMirror) SetLatest(ctx context.Context, snap cache.FundingSnapshot) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps = append(m.snaps, snap)
	return nil
}

type recordingBroadcaster struct {
	mu    sync.Mutex
	snaps []cache.FundingSnapshot
}

func (b *recordingBroadcaster) Broadcast(snap cache.FundingSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snaps = append(b.snaps, snap)
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
	err   error
}

func (n *recordingNotifier) Notify(ctx context.Context, note alerting.Notification) error {
	if n.err != nil {
		return n.err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notes)
}

func TestHandleTriggerDistributesSnapshot(t *testing.T) {
	feed := oracle.NewStatic()
	feed.Publish(oracle.Round{Price: 5_000, RoundID: 1, Timestamp: 900})

	mirror := &recordingMirror{}
	broadcaster := &recordingBroadcaster{}
	svc := New(Options{
		Engine:      newTestEngine(t, feed),
		Mirror:      mirror,
		Broadcaster: broadcaster,
		Logger:      zerolog.Nop(),
	})

	snap, err := svc.HandleTrigger(context.Background(), 1_000)
	if err != nil {
		t.Fatalf("HandleTrigger: %v", err)
	}
	if snap.Cumulative != precision {
		t.Fatalf("baseline cumulative = %d, want %d", snap.Cumulative, precision)
	}
	if snap.Instrument != "CVI-PERP" || snap.Timestamp != 1_000 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if len(mirror.snaps) != 1 || mirror.snaps[0] != snap {
		t.Fatalf("mirror received %+v, want [%+v]", mirror.snaps, snap)
	}
	if len(broadcaster.snaps) != 1 || broadcaster.snaps[0] != snap {
		t.Fatalf("broadcaster received %+v, want [%+v]", broadcaster.snaps, snap)
	}
}

func TestHandleTriggerEngineErrorStopsDistribution(t *testing.T) {
	feed := oracle.NewStatic()
	feed.Publish(oracle.Round{Price: 5_000, RoundID: 1, Timestamp: 900})

	mirror := &recordingMirror{}
	broadcaster := &recordingBroadcaster{}
	svc := New(Options{
		Engine:      newTestEngine(t, feed),
		Mirror:      mirror,
		Broadcaster: broadcaster,
		Logger:      zerolog.Nop(),
	})

	if _, err := svc.HandleTrigger(context.Background(), 1_000); err != nil {
		t.Fatalf("HandleTrigger: %v", err)
	}
	if _, err := svc.HandleTrigger(context.Background(), 500); !errors.Is(err, engine.ErrStaleTrigger) {
		t.Fatalf("stale trigger error = %v, want ErrStaleTrigger", err)
	}
	if len(mirror.snaps) != 1 || len(broadcaster.snaps) != 1 {
		t.Fatalf("rejected trigger was distributed: mirror=%d broadcaster=%d",
			len(mirror.snaps), len(broadcaster.snaps))
	}
}

func TestHandleTriggerMirrorFailureIsBestEffort(t *testing.T) {
	feed := oracle.NewStatic()
	feed.Publish(oracle.Round{Price: 5_000, RoundID: 1, Timestamp: 900})

	broadcaster := &recordingBroadcaster{}
	svc := New(Options{
		Engine:      newTestEngine(t, feed),
		Mirror:      &recordingMirror{err: errors.New("connection refused")},
		Broadcaster: broadcaster,
		Logger:      zerolog.Nop(),
	})

	if _, err := svc.HandleTrigger(context.Background(), 1_000); err != nil {
		t.Fatalf("HandleTrigger: %v", err)
	}
	if len(broadcaster.snaps) != 1 {
		t.Fatalf("broadcast skipped after mirror failure")
	}
}

func TestTurbulenceAlertHonorsThresholdAndCooldown(t *testing.T) {
	feed := oracle.NewStatic()
	notifier := &recordingNotifier{}
	svc := New(Options{
		Engine:           newTestEngine(t, feed),
		Notifier:         notifier,
		AlertsOn:         true,
		ThresholdPercent: 200,
		AlertCooldown:    time.Hour,
		Logger:           zerolog.Nop(),
	})

	// Rapid rounds push turbulence up by one growth step per trigger.
	base := int64(1_000_000)
	feed.Publish(oracle.Round{Price: 5_000, RoundID: 1, Timestamp: base})
	if _, err := svc.HandleTrigger(context.Background(), base+10); err != nil {
		t.Fatalf("trigger 1: %v", err)
	}
	for i := int64(2); i <= 4; i++ {
		feed.Publish(oracle.Round{Price: 5_000 + i, RoundID: uint64(i), Timestamp: base + (i-1)*60})
		if _, err := svc.HandleTrigger(context.Background(), base+(i-1)*60+10); err != nil {
			t.Fatalf("trigger %d: %v", i, err)
		}
	}

	// Growth reaches the 200 threshold on the third rapid round; the
	// fourth alert lands inside the cooldown window.
	if len(notifier.notes) != 1 {
		t.Fatalf("alert count = %d, want 1", len(notifier.notes))
	}
	note := notifier.notes[0]
	if note.TurbulencePercent < 200 || note.ThresholdPercent != 200 {
		t.Fatalf("unexpected alert: %+v", note)
	}
	if note.Instrument != "CVI-PERP" {
		t.Fatalf("alert instrument = %q", note.Instrument)
	}
}

func TestAlertFailureDoesNotFailTrigger(t *testing.T) {
	feed := oracle.NewStatic()
	feed.Publish(oracle.Round{Price: 5_000, RoundID: 1, Timestamp: 900})

	svc := New(Options{
		Engine:           newTestEngine(t, feed),
		Notifier:         &recordingNotifier{err: errors.New("telegram unreachable")},
		AlertsOn:         true,
		ThresholdPercent: 0,
		Logger:           zerolog.Nop(),
	})

	if _, err := svc.HandleTrigger(context.Background(), 1_000); err != nil {
		t.Fatalf("HandleTrigger: %v", err)
	}
}

func TestConcurrentTriggersRespectCooldown(t *testing.T) {
	feed := oracle.NewStatic()
	feed.Publish(oracle.Round{Price: 5_000, RoundID: 1, Timestamp: 900})

	notifier := &recordingNotifier{}
	mirror := &recordingMirror{}
	broadcaster := &recordingBroadcaster{}
	svc := New(Options{
		Engine:           newTestEngine(t, feed),
		Mirror:           mirror,
		Broadcaster:      broadcaster,
		Notifier:         notifier,
		AlertsOn:         true,
		ThresholdPercent: 0,
		AlertCooldown:    time.Hour,
		Logger:           zerolog.Nop(),
	})

	// Triggers arrive on concurrent handler goroutines. Out-of-order
	// arrivals are rejected as stale; whatever subset lands must share
	// one cooldown window and send exactly one alert.
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(now int64) {
			defer wg.Done()
			_, err := svc.HandleTrigger(context.Background(), now)
			if err != nil && !errors.Is(err, engine.ErrStaleTrigger) {
				t.Errorf("trigger at %d: %v", now, err)
			}
		}(1_000 + int64(i))
	}
	wg.Wait()

	if got := notifier.count(); got != 1 {
		t.Fatalf("alert count = %d, want 1", got)
	}
}

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"vol-funding-engine/internal/cache"
	"vol-funding-engine/internal/engine"
	"vol-funding-engine/internal/feemath"
	"vol-funding-engine/internal/oracle"
	"vol-funding-engine/internal/service"
	"vol-funding-engine/internal/turbulence"
)

const precision = uint64(10_000_000_000)

func newTestServer(t *testing.T) (*Server, *service.Service, *oracle.Static) {
	t.Helper()

	feed := oracle.NewStatic()
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

	srv := New(Options{ListenAddr: ":0", Logger: zerolog.Nop()})
	svc := service.New(service.Options{
		Engine:      eng,
		Broadcaster: srv.Hub(),
		Logger:      zerolog.Nop(),
	})
	srv.SetService(svc)
	return srv, svc, feed
}

func TestTriggerEndpoint(t *testing.T) {
	srv, _, feed := newTestServer(t)
	ts := httptest.NewServer(srv.router())
	defer ts.Close()

	feed.Publish(oracle.Round{Price: 5_000, RoundID: 1, Timestamp: 900})

	resp, err := http.Post(ts.URL+"/api/v1/trigger", "application/json",
		strings.NewReader(`{"timestamp": 1000}`))
	if err != nil {
		t.Fatalf("POST trigger: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var snap cache.FundingSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Cumulative != precision || snap.Timestamp != 1_000 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestTriggerEndpointStatusMapping(t *testing.T) {
	srv, _, feed := newTestServer(t)
	ts := httptest.NewServer(srv.router())
	defer ts.Close()

	feed.Publish(oracle.Round{Price: 5_000, RoundID: 5, Timestamp: 900})
	post := func(body string) int {
		resp, err := http.Post(ts.URL+"/api/v1/trigger", "application/json",
			strings.NewReader(body))
		if err != nil {
			t.Fatalf("POST trigger: %v", err)
		}
		defer resp.Body.Close()
		return resp.StatusCode
	}

	if status := post(`{"timestamp": 1000}`); status != http.StatusOK {
		t.Fatalf("first trigger status = %d", status)
	}

	// Stale: not after the last applied trigger.
	if status := post(`{"timestamp": 1000}`); status != http.StatusConflict {
		t.Fatalf("stale trigger status = %d, want 409", status)
	}

	// Corrupt oracle: round id regressed.
	feed.Publish(oracle.Round{Price: 5_000, RoundID: 4, Timestamp: 1_100})
	if status := post(`{"timestamp": 1200}`); status != http.StatusBadGateway {
		t.Fatalf("corrupt oracle status = %d, want 502", status)
	}

	if status := post(`not json`); status != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d, want 400", status)
	}
}

func TestLedgerAndTurbulenceEndpoints(t *testing.T) {
	srv, svc, feed := newTestServer(t)
	ts := httptest.NewServer(srv.router())
	defer ts.Close()

	feed.Publish(oracle.Round{Price: 5_000, RoundID: 1, Timestamp: 900})
	if _, err := svc.HandleTrigger(context.Background(), 1_000); err != nil {
		t.Fatalf("HandleTrigger: %v", err)
	}

	resp, err := http.Get(ts.URL + "/api/v1/ledger?ts=1000")
	if err != nil {
		t.Fatalf("GET ledger: %v", err)
	}
	var lr ledgerResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if lr.Cumulative != precision || lr.Instrument != "CVI-PERP" {
		t.Fatalf("unexpected ledger response: %+v", lr)
	}

	// No interpolation between trigger timestamps.
	resp, err = http.Get(ts.URL + "/api/v1/ledger?ts=999")
	if err != nil {
		t.Fatalf("GET ledger: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing timestamp status = %d, want 404", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/api/v1/turbulence")
	if err != nil {
		t.Fatalf("GET turbulence: %v", err)
	}
	var tr turbulenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if tr.Instrument != "CVI-PERP" {
		t.Fatalf("unexpected turbulence response: %+v", tr)
	}
}

func TestStateEndpoint(t *testing.T) {
	srv, svc, feed := newTestServer(t)
	ts := httptest.NewServer(srv.router())
	defer ts.Close()

	feed.Publish(oracle.Round{Price: 7_500, RoundID: 3, Timestamp: 900})
	if _, err := svc.HandleTrigger(context.Background(), 1_000); err != nil {
		t.Fatalf("HandleTrigger: %v", err)
	}

	resp, err := http.Get(ts.URL + "/api/v1/state")
	if err != nil {
		t.Fatalf("GET state: %v", err)
	}
	defer resp.Body.Close()

	var sr stateResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !sr.Initialized || sr.LastUpdate != 1_000 || sr.PriceAtLastUpdate != 7_500 ||
		sr.LastRoundID != 3 || sr.LedgerEntries != 1 {
		t.Fatalf("unexpected state: %+v", sr)
	}
}

func TestStreamBroadcastsAppliedTriggers(t *testing.T) {
	srv, svc, feed := newTestServer(t)
	ts := httptest.NewServer(srv.router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Registration happens on the server goroutine after the handshake.
	deadline := time.Now().Add(2 * time.Second)
	for {
		srv.hub.mx.RLock()
		n := len(srv.hub.active)
		srv.hub.mx.RUnlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("subscriber was never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	feed.Publish(oracle.Round{Price: 5_000, RoundID: 1, Timestamp: 900})
	if _, err := svc.HandleTrigger(context.Background(), 1_000); err != nil {
		t.Fatalf("HandleTrigger: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var snap cache.FundingSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if snap.Timestamp != 1_000 || snap.Cumulative != precision {
		t.Fatalf("unexpected broadcast: %+v", snap)
	}
}

func TestStreamUnresponsiveSubscriberReaped(t *testing.T) {
	srv, _, _ := newTestServer(t)
	srv.hub.pingInterval = 20 * time.Millisecond
	srv.hub.deadline = 100 * time.Millisecond
	ts := httptest.NewServer(srv.router())
	defer ts.Close()

	subscribers := func() int {
		srv.hub.mx.RLock()
		defer srv.hub.mx.RUnlock()
		return len(srv.hub.active)
	}

	baseline := runtime.NumGoroutine()

	// A client that never reads answers no pings, so the liveness
	// deadline must reap it.
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("unresponsive subscriber was not removed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Both the keeper and its reader goroutine wind down with it.
	deadline = time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > baseline {
		if time.Now().After(deadline) {
			t.Fatalf("goroutines did not settle: %d > %d", runtime.NumGoroutine(), baseline)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

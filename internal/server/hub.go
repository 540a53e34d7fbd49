package server

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"vol-funding-engine/internal/cache"
)

// hub tracks live websocket subscribers and fans applied snapshots out to
// them. Connections that fail a write or stop answering pings are dropped.
type hub struct {
	mx     sync.RWMutex
	active map[*websocket.Conn]struct{}
	logger zerolog.Logger

	pingInterval time.Duration
	deadline     time.Duration
}

func newHub(logger zerolog.Logger) *hub {
	return &hub{
		active:       make(map[*websocket.Conn]struct{}),
		logger:       logger.With().Str("component", "stream").Logger(),
		pingInterval: time.Second,
		deadline:     5 * time.Second,
	}
}

func (h *hub) addConn(conn *websocket.Conn) {
	h.mx.Lock()
	defer h.mx.Unlock()
	h.active[conn] = struct{}{}
}

func (h *hub) close(conn *websocket.Conn) {
	h.mx.Lock()
	defer h.mx.Unlock()
	_ = conn.Close()
	delete(h.active, conn)
}

// Broadcast sends the snapshot to every live subscriber.
func (h *hub) Broadcast(snap cache.FundingSnapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal snapshot")
		return
	}

	h.mx.RLock()
	conns := make([]*websocket.Conn, 0, len(h.active))
	for conn := range h.active {
		conns = append(conns, conn)
	}
	h.mx.RUnlock()

	for _, conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.logger.Debug().Err(err).Msg("dropping subscriber")
			h.close(conn)
		}
	}
}

// keep pings the connection and reads control frames until it dies. The
// pong handler runs on the reader goroutine, so liveness goes through an
// atomic; done lets the reader exit even when keep stopped receiving.
func (h *hub) keep(conn *websocket.Conn) {
	pinger := time.NewTicker(h.pingInterval)
	defer pinger.Stop()
	defer h.close(conn)

	var lastAlive atomic.Int64
	lastAlive.Store(time.Now().UnixNano())
	ponger := conn.PongHandler()
	conn.SetPongHandler(func(appData string) error {
		lastAlive.Store(time.Now().UnixNano())
		return ponger(appData)
	})

	read := make(chan struct{})
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(read)
		for {
			mt, _, err := conn.ReadMessage()
			if err != nil || mt == websocket.CloseMessage {
				return
			}
			select {
			case read <- struct{}{}:
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case <-pinger.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(time.Second)); err != nil {
				return
			}
			if time.Now().UnixNano()-lastAlive.Load() > int64(h.deadline) {
				return
			}
		case _, ok := <-read:
			if !ok {
				return
			}
			lastAlive.Store(time.Now().UnixNano())
		}
	}
}

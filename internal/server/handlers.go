package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"vol-funding-engine/internal/engine"
)

type triggerRequest struct {
	// Timestamp defaults to the current time when omitted.
	Timestamp int64 `json:"timestamp,omitempty"`
}

type ledgerResponse struct {
	Instrument string `json:"instrument"`
	Timestamp  int64  `json:"timestamp"`
	Cumulative uint64 `json:"cumulative"`
}

type turbulenceResponse struct {
	Instrument string `json:"instrument"`
	Percent    uint64 `json:"percent"`
}

type stateResponse struct {
	Instrument        string `json:"instrument"`
	Initialized       bool   `json:"initialized"`
	LastUpdate        int64  `json:"last_update"`
	PriceAtLastUpdate int64  `json:"price_at_last_update"`
	LastRoundID       uint64 `json:"last_round_id"`
	TurbulencePercent uint64 `json:"turbulence_percent"`
	LedgerEntries     int    `json:"ledger_entries"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.Timestamp == 0 {
		req.Timestamp = time.Now().Unix()
	}

	snap, err := s.svc.HandleTrigger(r.Context(), req.Timestamp)
	if err != nil {
		s.logger.Warn().Err(err).Int64("timestamp", req.Timestamp).Msg("trigger rejected")
		writeError(w, triggerStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleLedgerValue(w http.ResponseWriter, r *http.Request) {
	eng := s.svc.Engine()

	raw := r.URL.Query().Get("ts")
	if raw == "" {
		entry, ok := eng.Latest()
		if !ok {
			writeError(w, http.StatusNotFound, "ledger is empty")
			return
		}
		writeJSON(w, http.StatusOK, ledgerResponse{
			Instrument: eng.Instrument(),
			Timestamp:  entry.Timestamp,
			Cumulative: entry.Cumulative,
		})
		return
	}

	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "ts must be a unix timestamp")
		return
	}
	value, ok := eng.LedgerValueAt(ts)
	if !ok {
		writeError(w, http.StatusNotFound, "no ledger entry at that timestamp")
		return
	}
	writeJSON(w, http.StatusOK, ledgerResponse{
		Instrument: eng.Instrument(),
		Timestamp:  ts,
		Cumulative: value,
	})
}

func (s *Server) handleTurbulence(w http.ResponseWriter, r *http.Request) {
	eng := s.svc.Engine()
	writeJSON(w, http.StatusOK, turbulenceResponse{
		Instrument: eng.Instrument(),
		Percent:    eng.TurbulencePercent(),
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	eng := s.svc.Engine()
	state := eng.State()
	writeJSON(w, http.StatusOK, stateResponse{
		Instrument:        eng.Instrument(),
		Initialized:       state.Initialized,
		LastUpdate:        state.LastUpdate,
		PriceAtLastUpdate: state.PriceAtLastUpdate,
		LastRoundID:       state.LastRoundID,
		TurbulencePercent: eng.TurbulencePercent(),
		LedgerEntries:     len(eng.LedgerEntries()),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func triggerStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrStaleTrigger):
		return http.StatusConflict
	case errors.Is(err, engine.ErrCorruptOracleState):
		return http.StatusBadGateway
	case errors.Is(err, engine.ErrArithmeticOverflow):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

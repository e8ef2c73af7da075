// Package adminrpc exposes the orchestrator's five admin operations
// over a small JSON HTTP surface built on net/http.ServeMux and
// encoding/json — request/response admin calls only, no dashboard or
// websocket push.
package adminrpc

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/execengine/errs"
	"github.com/web3guy0/execengine/orchestrator"
)

// Server mounts the five admin handlers on one http.Server; metrics
// are served separately on their own listener.
type Server struct {
	orch   *orchestrator.Orchestrator
	server *http.Server
}

func NewServer(addr string, orch *orchestrator.Orchestrator) *Server {
	s := &Server{orch: orch}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/signals/process", s.handleProcessSignal)
	mux.HandleFunc("/trades/cancel", s.handleCancelTrade)
	mux.HandleFunc("/trades/status", s.handleExecutionStatus)
	mux.HandleFunc("/positions/active", s.handleActivePositions)
	mux.HandleFunc("/stats", s.handleStats)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("adminrpc: listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("adminrpc: encode response failed")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleProcessSignal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SignalID string `json:"signal_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	result, err := s.orch.ProcessSignal(r.Context(), req.SignalID)
	if err != nil {
		// Reflect err in result.Error when the orchestrator left it unset.
		if result.Error == nil {
			result.Error = &orchestrator.ResultError{Kind: errs.KindOf(err), Message: err.Error()}
		}
		writeJSON(w, http.StatusOK, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCancelTrade(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TradeID string `json:"trade_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	result, err := s.orch.CancelTrade(r.Context(), req.TradeID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleExecutionStatus(w http.ResponseWriter, r *http.Request) {
	tradeID := r.URL.Query().Get("trade_id")
	trade, err := s.orch.GetExecutionStatus(r.Context(), tradeID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, trade)
}

func (s *Server) handleActivePositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.orch.GetActivePositions(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.orch.GetExecutionStats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

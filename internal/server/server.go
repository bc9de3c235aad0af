// Package server exposes the triggering surface: health, the strategy
// toggle, and manual enqueueing of reconciliation and signal polling.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"crypto-trading-bot/internal/interfaces"
	"crypto-trading-bot/internal/logger"
	"crypto-trading-bot/internal/queue"
	"crypto-trading-bot/internal/scheduler"
)

// Server is the HTTP triggering surface.
type Server struct {
	evaluator interfaces.Evaluator
	q         *queue.Queue
	httpSrv   *http.Server
}

// New creates the server bound to addr.
func New(addr string, evaluator interfaces.Evaluator, q *queue.Queue) *Server {
	s := &Server{
		evaluator: evaluator,
		q:         q,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /strategy", s.handleStrategyStatus)
	mux.HandleFunc("POST /strategy/enable", s.handleStrategyEnable)
	mux.HandleFunc("POST /strategy/disable", s.handleStrategyDisable)
	mux.HandleFunc("POST /reconcile", s.handleReconcile)
	mux.HandleFunc("POST /poll", s.handlePoll)
	mux.HandleFunc("GET /queue", s.handleQueueDepth)

	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until Shutdown. Blocks.
func (s *Server) Start() error {
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStrategyStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": s.evaluator.Enabled()})
}

func (s *Server) handleStrategyEnable(w http.ResponseWriter, r *http.Request) {
	s.evaluator.SetEnabled(true)
	logger.Info(r.Context(), "Strategy enabled via API")
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": true})
}

func (s *Server) handleStrategyDisable(w http.ResponseWriter, r *http.Request) {
	s.evaluator.SetEnabled(false)
	logger.Info(r.Context(), "Strategy disabled via API")
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": false})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	id := s.q.Enqueue(r.Context(), queue.TopicReconcile, scheduler.PayloadReconcile)
	if id == "" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "queue full"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": id})
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	id := s.q.Enqueue(r.Context(), queue.TopicSignalPoll, nil)
	if id == "" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "queue full"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": id})
}

func (s *Server) handleQueueDepth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{
		queue.TopicSignalPoll:   s.q.Depth(queue.TopicSignalPoll),
		queue.TopicEvaluate:     s.q.Depth(queue.TopicEvaluate),
		queue.TopicExecuteOrder: s.q.Depth(queue.TopicExecuteOrder),
		queue.TopicReconcile:    s.q.Depth(queue.TopicReconcile),
	})
}

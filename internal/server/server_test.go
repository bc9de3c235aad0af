package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"crypto-trading-bot/internal/queue"
	"crypto-trading-bot/internal/types"
)

type stubEvaluator struct {
	enabled bool
}

func (s *stubEvaluator) Evaluate(ctx context.Context) ([]types.Decision, error)  { return nil, nil }
func (s *stubEvaluator) RiskExits(ctx context.Context) ([]types.Decision, error) { return nil, nil }
func (s *stubEvaluator) PollSignals(ctx context.Context) error                   { return nil }
func (s *stubEvaluator) SetEnabled(enabled bool)                                 { s.enabled = enabled }
func (s *stubEvaluator) Enabled() bool                                           { return s.enabled }

func newTestServer() (*Server, *stubEvaluator, *queue.Queue) {
	ev := &stubEvaluator{enabled: true}
	q := queue.New(8)
	return New(":0", ev, q), ev, q
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.httpSrv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
}

func TestStrategyToggle(t *testing.T) {
	s, ev, _ := newTestServer()

	req := httptest.NewRequest(http.MethodPost, "/strategy/disable", nil)
	rec := httptest.NewRecorder()
	s.httpSrv.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if ev.enabled {
		t.Error("Expected strategy disabled")
	}

	req = httptest.NewRequest(http.MethodPost, "/strategy/enable", nil)
	rec = httptest.NewRecorder()
	s.httpSrv.Handler.ServeHTTP(rec, req)
	if !ev.enabled {
		t.Error("Expected strategy re-enabled")
	}
}

func TestManualReconcileEnqueues(t *testing.T) {
	s, _, q := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/reconcile", nil)
	rec := httptest.NewRecorder()
	s.httpSrv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("Bad response body: %v", err)
	}
	if body["task_id"] == "" {
		t.Error("Expected a task id")
	}
	if d := q.Depth(queue.TopicReconcile); d != 1 {
		t.Errorf("Expected 1 queued reconcile task, got %d", d)
	}
}

func TestQueueDepthReport(t *testing.T) {
	s, _, q := newTestServer()
	q.Enqueue(context.Background(), queue.TopicEvaluate, nil)

	req := httptest.NewRequest(http.MethodGet, "/queue", nil)
	rec := httptest.NewRecorder()
	s.httpSrv.Handler.ServeHTTP(rec, req)

	var depths map[string]int
	if err := json.NewDecoder(rec.Body).Decode(&depths); err != nil {
		t.Fatalf("Bad response body: %v", err)
	}
	if depths[queue.TopicEvaluate] != 1 {
		t.Errorf("Expected evaluate depth 1, got %d", depths[queue.TopicEvaluate])
	}
}

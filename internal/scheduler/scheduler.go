// Package scheduler fires the cadence loops: signal polling and strategy
// evaluation on the configured cadence, hourly reconciliation, a frequent
// risk check, and the stale-order sweep. Everything is enqueued as a task;
// nothing runs inline on the timer goroutine.
package scheduler

import (
	"context"
	"time"

	"crypto-trading-bot/internal/logger"
	"crypto-trading-bot/internal/queue"
	"crypto-trading-bot/internal/store"
)

// Task payloads distinguishing sub-kinds within a topic.
const (
	PayloadEvaluateFull = "full"
	PayloadEvaluateRisk = "risk"
	PayloadReconcile    = "reconcile"
	PayloadStaleSweep   = "stale_sweep"
)

// Scheduler owns the timers. Construct once, Run on its own goroutine.
type Scheduler struct {
	q   *queue.Queue
	cfg *store.Config

	tick          time.Duration
	riskInterval  time.Duration
	sweepInterval time.Duration

	lastEval      time.Time
	lastReconcile time.Time
	lastRisk      time.Time
	lastSweep     time.Time

	now func() time.Time
}

// New creates a scheduler over the queue.
func New(q *queue.Queue, cfg *store.Config) *Scheduler {
	return &Scheduler{
		q:             q,
		cfg:           cfg,
		tick:          30 * time.Second,
		riskInterval:  15 * time.Minute,
		sweepInterval: 30 * time.Minute,
		now:           time.Now,
	}
}

// sameHour reports whether two times fall in the same wall-clock hour.
func sameHour(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay() && a.Hour() == b.Hour()
}

// evaluationDue fires at most once per hour, on hours aligned to the
// cadence.
func evaluationDue(now, last time.Time, cadenceHours int) bool {
	if cadenceHours <= 0 {
		return false
	}
	if now.Hour()%cadenceHours != 0 {
		return false
	}
	return last.IsZero() || !sameHour(now, last)
}

// reconcileDue fires at most once per hour, every hour.
func reconcileDue(now, last time.Time) bool {
	return last.IsZero() || !sameHour(now, last)
}

// Run loops until ctx is cancelled, checking due times every tick.
func (s *Scheduler) Run(ctx context.Context) {
	logger.Info(ctx, "Scheduler started",
		"cadence_hours", s.cfg.CadenceHours,
		"risk_interval", s.riskInterval,
		"sweep_interval", s.sweepInterval)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Scheduler stopped")
			return
		case <-ticker.C:
			s.step(ctx)
		}
	}
}

// step runs one due-time check. Split out for tests.
func (s *Scheduler) step(ctx context.Context) {
	now := s.now()

	if evaluationDue(now, s.lastEval, s.cfg.CadenceHours) {
		s.lastEval = now
		logger.Info(ctx, "Cadence reached, enqueueing evaluation cycle", "hour", now.Hour())
		s.q.Enqueue(ctx, queue.TopicSignalPoll, nil)
		s.q.Enqueue(ctx, queue.TopicEvaluate, PayloadEvaluateFull)
	}

	if reconcileDue(now, s.lastReconcile) {
		s.lastReconcile = now
		s.q.Enqueue(ctx, queue.TopicReconcile, PayloadReconcile)
	}

	if s.lastRisk.IsZero() || now.Sub(s.lastRisk) >= s.riskInterval {
		s.lastRisk = now
		s.q.Enqueue(ctx, queue.TopicEvaluate, PayloadEvaluateRisk)
	}

	if s.lastSweep.IsZero() || now.Sub(s.lastSweep) >= s.sweepInterval {
		s.lastSweep = now
		s.q.Enqueue(ctx, queue.TopicReconcile, PayloadStaleSweep)
	}
}

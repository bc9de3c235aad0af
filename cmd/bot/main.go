package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crypto-trading-bot/internal/alerts"
	"crypto-trading-bot/internal/allocator"
	"crypto-trading-bot/internal/execution"
	"crypto-trading-bot/internal/interfaces"
	"crypto-trading-bot/internal/ledger"
	"crypto-trading-bot/internal/logger"
	"crypto-trading-bot/internal/queue"
	"crypto-trading-bot/internal/reconciler"
	"crypto-trading-bot/internal/scheduler"
	"crypto-trading-bot/internal/server"
	"crypto-trading-bot/internal/signals"
	"crypto-trading-bot/internal/tradelog"
	"crypto-trading-bot/internal/trace"
	"crypto-trading-bot/internal/types"
)

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	must(initializeSystem())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer trace.Shutdown(ctx)

	cfg, err := loadConfig(ctx)
	must(err)

	compressOldLogs(ctx)

	store, err := ledger.Open(cfg.Ledger.Path, cfg.BotID)
	must(err)
	defer store.Close()

	ex := initializeExchange(ctx, cfg)
	alerter := alerts.New(alerts.LogSink{}, 30*time.Minute)
	journal := tradelog.Writer{}

	sigEngine := signals.NewEngine(ex, store, cfg.Universe, cfg.CadenceHours)
	evaluator := allocator.New(ex, store, sigEngine, cfg)
	executor := execution.New(ex, store, alerter, journal, cfg)
	reconcile := reconciler.New(ex, store, alerter, cfg)

	q := queue.New(64)
	subscribeWorkers(ctx, q, evaluator, executor, reconcile, alerter, journal)

	sched := scheduler.New(q, cfg)
	go sched.Run(ctx)

	srv := server.New(cfg.Server.Addr, evaluator, q)
	go func() {
		logger.Info(ctx, "HTTP server listening", "addr", cfg.Server.Addr)
		if err := srv.Start(); err != nil {
			logger.ErrorWithErr(ctx, "HTTP server failed", err)
		}
	}()

	logger.Info(ctx, "Bot started",
		"mode", cfg.Mode,
		"exchange", cfg.Exchange,
		"universe", cfg.Universe,
		"cadence_hours", cfg.CadenceHours)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc

	logger.Info(ctx, "Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	cancel()
	q.Wait()
}

// subscribeWorkers wires the four topics to their handlers. Evaluation and
// reconciliation are single-worker; execution runs two workers, one decision
// per symbol in flight by allocator targeting rules.
func subscribeWorkers(ctx context.Context, q *queue.Queue, evaluator interfaces.Evaluator, executor interfaces.Executor, reconcile interfaces.Reconciler, alerter interfaces.Alerter, journal tradelog.Writer) {
	q.Subscribe(ctx, queue.TopicSignalPoll, 1, func(ctx context.Context, task queue.Task) {
		if err := evaluator.PollSignals(ctx); err != nil {
			logger.ErrorWithErr(ctx, "Signal poll failed", err, "task_id", task.ID)
			alerter.Notify(ctx, interfaces.AlertJobFailure, "", "signal poll failed: "+err.Error())
		}
	})

	q.Subscribe(ctx, queue.TopicEvaluate, 1, func(ctx context.Context, task queue.Task) {
		var decisions []types.Decision
		var err error
		if task.Payload == scheduler.PayloadEvaluateRisk {
			decisions, err = evaluator.RiskExits(ctx)
		} else {
			decisions, err = evaluator.Evaluate(ctx)
		}
		if err != nil {
			logger.ErrorWithErr(ctx, "Evaluation failed", err, "task_id", task.ID)
			alerter.Notify(ctx, interfaces.AlertJobFailure, "", "evaluation failed: "+err.Error())
			return
		}
		for _, d := range decisions {
			journal.RecordDecision(d)
			q.Enqueue(ctx, queue.TopicExecuteOrder, d)
		}
	})

	q.Subscribe(ctx, queue.TopicExecuteOrder, 2, func(ctx context.Context, task queue.Task) {
		d, ok := task.Payload.(types.Decision)
		if !ok {
			logger.Error(ctx, "Execute task with invalid payload", "task_id", task.ID)
			return
		}
		// Executor alerts and logs its own failures; a later cycle re-decides.
		_ = executor.Execute(ctx, d)
	})

	q.Subscribe(ctx, queue.TopicReconcile, 1, func(ctx context.Context, task queue.Task) {
		if task.Payload == scheduler.PayloadStaleSweep {
			if err := reconcile.CancelStaleOrders(ctx); err != nil {
				logger.Warn(ctx, "Stale order sweep failed", "error", err, "task_id", task.ID)
			}
			return
		}
		if err := reconcile.Reconcile(ctx); err != nil {
			logger.ErrorWithErr(ctx, "Reconciliation failed", err, "task_id", task.ID)
		}
	})
}

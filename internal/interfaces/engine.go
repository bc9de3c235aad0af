package interfaces

import (
	"context"

	"crypto-trading-bot/internal/types"
)

// Evaluator runs the per-cycle strategy evaluation and the independent risk
// check, emitting execution decisions.
type Evaluator interface {
	Evaluate(ctx context.Context) ([]types.Decision, error)
	RiskExits(ctx context.Context) ([]types.Decision, error)
	PollSignals(ctx context.Context) error
	SetEnabled(enabled bool)
	Enabled() bool
}

// Executor drives one decision to a confirmed fill or a fatal error.
type Executor interface {
	Execute(ctx context.Context, d types.Decision) error
}

// Reconciler converges the ledger with exchange-reported balances.
type Reconciler interface {
	Reconcile(ctx context.Context) error
	CancelStaleOrders(ctx context.Context) error
}

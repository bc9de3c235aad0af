package interfaces

import "context"

// AlertType classifies a notification; each type cools down independently.
type AlertType string

const (
	AlertOrderFailure        AlertType = "ORDER_FAILURE"
	AlertExchangeUnreachable AlertType = "EXCHANGE_UNREACHABLE"
	AlertLowBalance          AlertType = "LOW_BALANCE"
	AlertDrawdown            AlertType = "DRAWDOWN"
	AlertJobFailure          AlertType = "JOB_FAILURE"
	AlertHealth              AlertType = "HEALTH"
)

// Alerter delivers fire-and-forget notifications. Implementations must never
// block or propagate delivery failures to the caller.
type Alerter interface {
	Notify(ctx context.Context, typ AlertType, symbol, message string)
}

package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"crypto-trading-bot/internal/interfaces"
	"crypto-trading-bot/internal/logger"
)

// Sink is a pluggable alert delivery channel.
type Sink interface {
	Send(ctx context.Context, message string) error
}

// LogSink writes alerts to the application log. Default delivery channel.
type LogSink struct{}

func (LogSink) Send(ctx context.Context, message string) error {
	logger.Warn(ctx, "ALERT", "message", message)
	return nil
}

// Alerter throttles notifications per alert type and hands them to a sink.
// Delivery is best-effort: failures are logged and swallowed.
type Alerter struct {
	sink     Sink
	cooldown time.Duration

	mu       sync.Mutex
	lastSent map[interfaces.AlertType]time.Time
}

var _ interfaces.Alerter = (*Alerter)(nil)

// New creates an alerter with the given per-type cooldown.
func New(sink Sink, cooldown time.Duration) *Alerter {
	if sink == nil {
		sink = LogSink{}
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Minute
	}
	return &Alerter{
		sink:     sink,
		cooldown: cooldown,
		lastSent: make(map[interfaces.AlertType]time.Time),
	}
}

// Notify delivers an alert unless the type is still cooling down.
func (a *Alerter) Notify(ctx context.Context, typ interfaces.AlertType, symbol, message string) {
	a.mu.Lock()
	last, seen := a.lastSent[typ]
	if seen && time.Since(last) < a.cooldown {
		a.mu.Unlock()
		logger.Debug(ctx, "Alert suppressed by cooldown", "alert_type", string(typ), "symbol", symbol)
		return
	}
	a.lastSent[typ] = time.Now()
	a.mu.Unlock()

	text := fmt.Sprintf("[%s] %s", typ, message)
	if symbol != "" {
		text = fmt.Sprintf("[%s] %s: %s", typ, symbol, message)
	}
	if err := a.sink.Send(ctx, text); err != nil {
		logger.ErrorWithErr(ctx, "Alert delivery failed", err, "alert_type", string(typ), "symbol", symbol)
	}
}

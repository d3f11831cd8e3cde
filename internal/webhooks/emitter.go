package webhooks

import (
	"context"
	"log/slog"
	"time"

	"github.com/mbd888/paybox/internal/idgen"
	"github.com/mbd888/paybox/internal/paybox"
)

// Emitter turns transaction changes into webhook events. It never returns
// errors; failures are logged and counted.
type Emitter struct {
	d      *Dispatcher
	logger *slog.Logger
	now    func() time.Time
}

// NewEmitter creates a new webhook emitter.
func NewEmitter(d *Dispatcher, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{d: d, logger: logger, now: time.Now}
}

// EmitTransactionChanged emits the event matching tx's new state to the
// subscriptions of tx's acquirer. It returns at once; the dispatcher's Wait
// covers the emission from this call on.
func (e *Emitter) EmitTransactionChanged(tx *paybox.Transaction) {
	if e == nil || e.d == nil || tx == nil {
		return
	}
	eventType, ok := EventForState(tx.State)
	if !ok {
		return
	}
	emitTotal.WithLabelValues(string(eventType)).Inc()

	event := &Event{
		ID:          idgen.WithPrefix("evt_"),
		Type:        eventType,
		Timestamp:   e.now().UTC(),
		Transaction: tx,
	}

	e.d.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		n, err := e.d.Dispatch(ctx, tx.AcquirerID, event)
		if err != nil {
			emitErrors.WithLabelValues(string(eventType)).Inc()
			e.logger.Warn("webhook emit failed",
				"event", eventType, "acquirer_id", tx.AcquirerID, "reference", tx.Reference, "error", err)
			return
		}
		e.logger.Debug("webhook event emitted",
			"event", eventType, "event_id", event.ID, "reference", tx.Reference, "subscribers", n)
	})
}

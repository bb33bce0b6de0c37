package events

import (
	"context"
	"log/slog"
)

// AsyncPublisher decouples event emission from broker latency. Emit enqueues
// onto a bounded inbox and returns immediately; a Worker drains the inbox
// into the delegate publisher. When the inbox is full the event is dropped
// rather than blocking debt math on the broker.
type AsyncPublisher struct {
	inbox  chan Event
	logger *slog.Logger
}

func NewAsync(buffer int, logger *slog.Logger) *AsyncPublisher {
	if buffer <= 0 {
		buffer = 256
	}
	return &AsyncPublisher{
		inbox:  make(chan Event, buffer),
		logger: logger,
	}
}

func (p *AsyncPublisher) Emit(ctx context.Context, event Event) error {
	select {
	case p.inbox <- event:
		return nil
	default:
		if p.logger != nil {
			p.logger.WarnContext(ctx, "event inbox full, dropping event",
				"type", event.Type,
				"ledger_id", event.LedgerID,
			)
		}
		return nil
	}
}

// Worker forwards queued events to the delegate publisher.
type Worker struct {
	inbox    <-chan Event
	delegate Publisher
	logger   *slog.Logger
}

func NewWorker(p *AsyncPublisher, delegate Publisher) *Worker {
	return &Worker{inbox: p.inbox, delegate: delegate, logger: p.logger}
}

// Run drains the inbox until ctx is cancelled. Delivery failures are logged
// and skipped; one broken event must not stall the stream behind it.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.delegate.Emit(ctx, event); err != nil && w.logger != nil {
				w.logger.ErrorContext(ctx, "failed to deliver ledger event",
					"type", event.Type,
					"ledger_id", event.LedgerID,
					"error", err,
				)
			}
		}
	}
}

package reconcile

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Cycle runs one ingest+sweep pass. Each cycle carries a correlation ID
// so interleaved log lines from the bot loop stay attributable.
func (e *Engine) Cycle(ctx context.Context) error {
	log := e.logger.With("cycle", uuid.NewString()[:8])

	ingested, err := e.Ingest(ctx)
	if err != nil {
		log.Error("ingest failed", "err", err)
		return err
	}
	promoted, err := e.Sweep(ctx)
	if err != nil {
		log.Error("sweep failed", "err", err)
		return err
	}
	log.Info("cycle done", "ingested", ingested, "promoted", promoted)
	return nil
}

// Run cycles until ctx is cancelled, sleeping interval between passes.
// A failed cycle is logged and retried on the next tick.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := e.Cycle(ctx); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

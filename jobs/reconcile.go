package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ledgerline-erp/ledgerline/internal/clients"
	"github.com/ledgerline-erp/ledgerline/internal/shared"
)

// Processed idempotency keys older than this are safe to purge.
const idempotencyRetention = 48 * time.Hour

// NewReconcileHandler repairs client aggregates that drifted from the
// document and payment ledger, then purges stale idempotency keys.
func NewReconcileHandler(svc *clients.Service, idem *shared.IdempotencyStore, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ReconcilePayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}

		ctx = shared.ContextWithActor(ctx, shared.System)
		if payload.ClientID > 0 {
			result, err := svc.Reconcile(ctx, payload.ClientID)
			if err != nil {
				logger.ErrorContext(ctx, "client reconcile failed",
					slog.Int64("client_id", payload.ClientID), slog.Any("error", err))
				return err
			}
			logger.InfoContext(ctx, "client reconciled",
				slog.Int64("client_id", payload.ClientID), slog.Bool("drifted", result.Drifted))
			return nil
		}

		repaired, err := svc.ReconcileAll(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "reconcile sweep failed", slog.Any("error", err))
			return err
		}
		if err := idem.Cleanup(ctx, idempotencyRetention); err != nil {
			logger.WarnContext(ctx, "idempotency cleanup failed", slog.Any("error", err))
		}
		logger.InfoContext(ctx, "reconcile sweep finished", slog.Int("repaired", repaired))
		return nil
	}
}

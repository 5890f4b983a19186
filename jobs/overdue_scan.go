package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/ledgerline-erp/ledgerline/internal/documents"
	"github.com/ledgerline-erp/ledgerline/internal/shared"
)

// NewOverdueScanHandler sweeps invoices past their due date. The stored
// status never changes; the sweep records the financial trail and refreshes
// the overdue gauge.
func NewOverdueScanHandler(svc *documents.Service, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload OverdueScanPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}

		ctx = shared.ContextWithActor(ctx, shared.System)
		count, err := svc.MarkOverdue(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "overdue scan failed", slog.Any("error", err))
			return err
		}
		logger.InfoContext(ctx, "overdue scan finished",
			slog.Int("overdue", count), slog.String("requested_by", payload.RequestedBy))
		return nil
	}
}

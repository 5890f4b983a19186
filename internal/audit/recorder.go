package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/ledgerline-erp/ledgerline/internal/shared"
)

// DBTX is the query surface shared by pgxpool.Pool and pgx.Tx, so events can
// be recorded both standalone and inside a caller's transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Recorder persists audit events.
type Recorder struct {
	logger  *slog.Logger
	printer *message.Printer
}

// NewRecorder constructs a recorder.
func NewRecorder(logger *slog.Logger) *Recorder {
	return &Recorder{
		logger:  logger,
		printer: message.NewPrinter(language.English),
	}
}

// Record writes one event through q. When q is a transaction, a write failure
// propagates as ErrWriteFailed and the enclosing unit must roll back.
//
// Actor identity is taken from the event when set, otherwise from ctx; events
// with neither are rejected before hitting the store.
func (r *Recorder) Record(ctx context.Context, q DBTX, event Event) error {
	if event.ActorName == "" {
		actor, ok := shared.ActorFromContext(ctx)
		if !ok {
			return fmt.Errorf("%w: %v", ErrWriteFailed, shared.ErrMissingActor)
		}
		event.ActorID = actor.ID
		event.ActorName = actor.Name
	}
	if event.Category == "" {
		event.Category = CategorySystem
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	_, err := q.Exec(ctx, `
		INSERT INTO audit_logs
			(action, category, severity, entity_type, entity_id, document_number,
			 actor_id, actor_name, amount, description, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, event.Action, event.Category, event.Severity, event.EntityType, event.EntityID,
		nullable(event.DocumentNumber), event.ActorID, event.ActorName, event.Amount,
		event.Description, event.Metadata, event.CreatedAt)
	if err != nil {
		r.logger.ErrorContext(ctx, "audit write failed",
			slog.String("action", event.Action),
			slog.String("entity_type", event.EntityType),
			slog.Int64("entity_id", event.EntityID),
			slog.Any("error", err))
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}

// FormatAmount renders a money amount for event descriptions, with thousands
// separators ("1,234.50").
func (r *Recorder) FormatAmount(amount float64) string {
	return r.printer.Sprintf("%.2f", amount)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

package clients

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/ledgerline-erp/ledgerline/internal/audit"
	"github.com/ledgerline-erp/ledgerline/internal/money"
	"github.com/ledgerline-erp/ledgerline/internal/platform/db"
	"github.com/ledgerline-erp/ledgerline/internal/sequence"
	"github.com/ledgerline-erp/ledgerline/internal/shared"
)

// RepositoryPort defines data access methods for clients.
type RepositoryPort interface {
	Create(ctx context.Context, q DBTX, number string, req CreateClientRequest) (*Client, error)
	Get(ctx context.Context, id int64) (*Client, error)
	List(ctx context.Context, p shared.PageRequest) ([]Client, error)
	Update(ctx context.Context, id int64, req UpdateClientRequest) (*Client, error)
	Aggregates(ctx context.Context, q DBTX, id int64) (totalInvoiced, totalPaid, balance float64, err error)
	ComputeAggregates(ctx context.Context, q DBTX, id int64) (totalInvoiced, totalPaid float64, err error)
	SetAggregates(ctx context.Context, q DBTX, id int64, totalInvoiced, totalPaid, balance float64) error
	IDs(ctx context.Context) ([]int64, error)
}

// NumberIssuer allocates entity numbers inside the caller's transaction.
type NumberIssuer interface {
	IssueTx(ctx context.Context, q sequence.DBTX, kind string, period int) (sequence.IssuedNumber, error)
}

// AuditRecorder persists audit events.
type AuditRecorder interface {
	Record(ctx context.Context, q audit.DBTX, event audit.Event) error
	FormatAmount(amount float64) string
}

// TxFunc runs fn inside one transaction; the DBTX it hands over is the
// transaction itself.
type TxFunc func(ctx context.Context, fn func(q DBTX) error) error

// PoolTx adapts a pgx pool into a TxFunc with bounded conflict retry.
func PoolTx(pool *pgxpool.Pool) TxFunc {
	return func(ctx context.Context, fn func(q DBTX) error) error {
		return db.WithTxRetry(ctx, pool, func(tx pgx.Tx) error {
			return fn(tx)
		})
	}
}

// Service handles client business logic.
type Service struct {
	logger    *slog.Logger
	repo      RepositoryPort
	sequences NumberIssuer
	recorder  AuditRecorder
	validate  *validator.Validate
	inTx      TxFunc
}

// NewService builds Service instance.
func NewService(logger *slog.Logger, repo RepositoryPort, sequences NumberIssuer, recorder AuditRecorder, inTx TxFunc) *Service {
	return &Service{
		logger:    logger,
		repo:      repo,
		sequences: sequences,
		recorder:  recorder,
		validate:  validator.New(),
		inTx:      inTx,
	}
}

// Create registers a client, issuing its number in the same transaction so no
// number is burned when the insert fails.
func (s *Service) Create(ctx context.Context, req CreateClientRequest) (*Client, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("clients: validate: %w", err)
	}

	var created *Client
	err := s.inTx(ctx, func(q DBTX) error {
		issued, err := s.sequences.IssueTx(ctx, q, sequence.KindClient, 0)
		if err != nil {
			return err
		}
		created, err = s.repo.Create(ctx, q, issued.Formatted, req)
		if err != nil {
			return err
		}
		return s.recorder.Record(ctx, q, audit.Event{
			Action:      audit.ActionClientCreated,
			Category:    audit.CategoryClient,
			EntityType:  "client",
			EntityID:    created.ID,
			Description: fmt.Sprintf("Client %s (%s) registered", created.Name, created.Number),
		})
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Get returns one client.
func (s *Service) Get(ctx context.Context, id int64) (*Client, error) {
	return s.repo.Get(ctx, id)
}

// List returns a page of clients.
func (s *Service) List(ctx context.Context, p shared.PageRequest) ([]Client, error) {
	return s.repo.List(ctx, p)
}

// Update applies a partial update.
func (s *Service) Update(ctx context.Context, id int64, req UpdateClientRequest) (*Client, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("clients: validate: %w", err)
	}
	return s.repo.Update(ctx, id, req)
}

// Reconcile recomputes one client's running totals from the document and
// payment ledger and repairs the stored aggregate when it drifted. Drift is
// measured against the money tolerance so float representation noise does not
// trigger repairs.
func (s *Service) Reconcile(ctx context.Context, id int64) (ReconcileResult, error) {
	var result ReconcileResult
	err := s.inTx(ctx, func(q DBTX) error {
		storedInvoiced, storedPaid, storedBalance, err := s.repo.Aggregates(ctx, q, id)
		if err != nil {
			return err
		}
		invoiced, paid, err := s.repo.ComputeAggregates(ctx, q, id)
		if err != nil {
			return err
		}
		balance := money.Sub(invoiced, paid)

		result = ReconcileResult{
			ClientID:      id,
			TotalInvoiced: invoiced,
			TotalPaid:     paid,
			Balance:       balance,
		}
		if money.Equal(storedInvoiced, invoiced) && money.Equal(storedPaid, paid) && money.Equal(storedBalance, balance) {
			return nil
		}
		result.Drifted = true

		if err := s.repo.SetAggregates(ctx, q, id, invoiced, paid, balance); err != nil {
			return err
		}
		return s.recorder.Record(ctx, q, audit.Event{
			Action:     audit.ActionClientReconciled,
			Category:   audit.CategoryClient,
			Severity:   audit.SeverityWarning,
			EntityType: "client",
			EntityID:   id,
			Description: fmt.Sprintf("Aggregates repaired: invoiced %s, paid %s, balance %s",
				s.recorder.FormatAmount(invoiced), s.recorder.FormatAmount(paid), s.recorder.FormatAmount(balance)),
			Metadata: map[string]any{
				"storedInvoiced": storedInvoiced,
				"storedPaid":     storedPaid,
				"storedBalance":  storedBalance,
			},
		})
	})
	if err != nil {
		return ReconcileResult{}, err
	}
	return result, nil
}

// reconcileWorkers caps concurrent reconciliations so the sweep cannot
// exhaust the connection pool.
const reconcileWorkers = 4

// ReconcileAll sweeps every client, logging and continuing on per-client
// failures so one broken row does not stall the sweep. Each client runs in
// its own transaction, so sweeping a few at a time is safe.
func (s *Service) ReconcileAll(ctx context.Context) (int, error) {
	ids, err := s.repo.IDs(ctx)
	if err != nil {
		return 0, err
	}

	var repaired atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reconcileWorkers)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			result, err := s.Reconcile(gctx, id)
			if err != nil {
				s.logger.ErrorContext(gctx, "client reconcile failed",
					slog.Int64("client_id", id), slog.Any("error", err))
				return nil
			}
			if result.Drifted {
				repaired.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(repaired.Load()), err
	}
	return int(repaired.Load()), nil
}

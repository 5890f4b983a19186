package payments

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerline-erp/ledgerline/internal/audit"
	"github.com/ledgerline-erp/ledgerline/internal/documents"
	"github.com/ledgerline-erp/ledgerline/internal/money"
	"github.com/ledgerline-erp/ledgerline/internal/observability"
	"github.com/ledgerline-erp/ledgerline/internal/platform/db"
	"github.com/ledgerline-erp/ledgerline/internal/sequence"
	"github.com/ledgerline-erp/ledgerline/internal/shared"
)

// RepositoryPort defines data access methods for the ledger.
type RepositoryPort interface {
	LockInvoice(ctx context.Context, q DBTX, documentID int64) (*invoiceState, error)
	DebitInvoice(ctx context.Context, q DBTX, documentID int64, amount float64) (paid, balance float64, ok bool, err error)
	MarkPaid(ctx context.Context, q DBTX, documentID int64) (bool, error)
	Insert(ctx context.Context, q DBTX, p *Payment) error
	CreditClient(ctx context.Context, q DBTX, clientID int64, amount float64) error
	ListByDocument(ctx context.Context, documentID int64) ([]Payment, error)
	List(ctx context.Context, filter ListFilter, p shared.PageRequest) ([]Payment, int, error)
	TotalsByMethod(ctx context.Context, from, to time.Time) ([]MethodTotal, error)
}

// NumberIssuer allocates payment numbers inside the caller's transaction.
type NumberIssuer interface {
	IssueTx(ctx context.Context, q sequence.DBTX, kind string, period int) (sequence.IssuedNumber, error)
}

// AuditRecorder persists audit events.
type AuditRecorder interface {
	Record(ctx context.Context, q audit.DBTX, event audit.Event) error
	FormatAmount(amount float64) string
}

// TxFunc runs fn inside one transaction.
type TxFunc func(ctx context.Context, fn func(q DBTX) error) error

// PoolTx adapts a pgx pool into a TxFunc with bounded conflict retry.
func PoolTx(pool *pgxpool.Pool) TxFunc {
	return func(ctx context.Context, fn func(q DBTX) error) error {
		return db.WithTxRetry(ctx, pool, func(tx pgx.Tx) error {
			return fn(tx)
		})
	}
}

// Service handles the payment ledger.
type Service struct {
	logger    *slog.Logger
	repo      RepositoryPort
	sequences NumberIssuer
	recorder  AuditRecorder
	metrics   *observability.Metrics
	locker    *shared.Locker
	validate  *validator.Validate
	inTx      TxFunc
	now       func() time.Time
}

// NewService builds Service instance. The locker is optional; without it the
// row lock in the transaction still guarantees correctness.
func NewService(logger *slog.Logger, repo RepositoryPort, sequences NumberIssuer, recorder AuditRecorder, metrics *observability.Metrics, locker *shared.Locker, inTx TxFunc) *Service {
	return &Service{
		logger:    logger,
		repo:      repo,
		sequences: sequences,
		recorder:  recorder,
		metrics:   metrics,
		locker:    locker,
		validate:  validator.New(),
		inTx:      inTx,
		now:       time.Now,
	}
}

// Apply settles an amount against an issued invoice. Payment row, invoice
// debit, client aggregate and audit trail commit in one transaction; a failed
// audit write rolls everything back. An invoice whose balance reaches zero is
// marked PAID here and nowhere else.
func (s *Service) Apply(ctx context.Context, req ApplyPaymentRequest) (*ApplyResult, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: %.2f", ErrInvalidAmount, req.Amount)
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("payments: validate: %w", err)
	}

	paidAt := s.now().UTC()
	if req.PaidAt != nil {
		paidAt = *req.PaidAt
	}

	lockKey := shared.DocumentLockKey(req.DocumentID)
	acquired, err := s.locker.Acquire(ctx, lockKey, 5*time.Second)
	if err != nil {
		s.logger.WarnContext(ctx, "payment lock unavailable", slog.Any("error", err))
	} else if !acquired {
		return nil, fmt.Errorf("%w: document %d", ErrConcurrentApplication, req.DocumentID)
	} else {
		defer func() {
			if err := s.locker.Release(ctx, lockKey); err != nil {
				s.logger.WarnContext(ctx, "payment lock release", slog.Any("error", err))
			}
		}()
	}

	var result *ApplyResult
	err = s.inTx(ctx, func(q DBTX) error {
		inv, err := s.repo.LockInvoice(ctx, q, req.DocumentID)
		if err != nil {
			return err
		}
		if inv.Type != documents.TypeInvoice || inv.Status == documents.StatusDraft || inv.Status == documents.StatusCancelled {
			return fmt.Errorf("%w: %s %s is %s", ErrNotPayable, inv.Type, inv.Number, inv.Status)
		}
		if req.Amount > money.Add(inv.Balance, money.Tolerance) {
			return fmt.Errorf("%w: %s of %s outstanding on %s",
				ErrOverpaymentRejected, s.recorder.FormatAmount(req.Amount),
				s.recorder.FormatAmount(inv.Balance), inv.Number)
		}

		paid, balance, ok, err := s.repo.DebitInvoice(ctx, q, inv.ID, req.Amount)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: concurrent debit on %s", ErrOverpaymentRejected, inv.Number)
		}

		issued, err := s.sequences.IssueTx(ctx, q, sequence.KindPayment, paidAt.Year())
		if err != nil {
			return err
		}
		payment := Payment{
			Number:     issued.Formatted,
			DocumentID: inv.ID,
			Amount:     req.Amount,
			Method:     req.Method,
			Reference:  req.Reference,
			Status:     StatusCompleted,
			Notes:      req.Notes,
			PaidAt:     paidAt,
		}
		if err := s.repo.Insert(ctx, q, &payment); err != nil {
			return err
		}
		if err := s.repo.CreditClient(ctx, q, inv.ClientID, req.Amount); err != nil {
			return err
		}

		status := inv.Status
		if money.IsZero(balance) {
			becamePaid, err := s.repo.MarkPaid(ctx, q, inv.ID)
			if err != nil {
				return err
			}
			status = documents.StatusPaid
			if becamePaid {
				if err := s.recorder.Record(ctx, q, audit.Event{
					Action:         audit.ActionInvoicePaid,
					Category:       audit.CategoryFinancial,
					EntityType:     "document",
					EntityID:       inv.ID,
					DocumentNumber: inv.Number,
					Amount:         &inv.Total,
					Description:    fmt.Sprintf("Invoice %s fully settled", inv.Number),
				}); err != nil {
					return err
				}
			}
		}

		if err := s.recorder.Record(ctx, q, audit.Event{
			Action:         audit.ActionPaymentApplied,
			Category:       audit.CategoryFinancial,
			EntityType:     "document",
			EntityID:       inv.ID,
			DocumentNumber: inv.Number,
			Amount:         &payment.Amount,
			Description: fmt.Sprintf("Payment %s of %s applied to %s via %s",
				payment.Number, s.recorder.FormatAmount(payment.Amount), inv.Number, payment.Method),
			Metadata: map[string]any{"paymentId": payment.ID, "method": payment.Method, "reference": payment.Reference},
		}); err != nil {
			return err
		}

		s.metrics.ObservePayment(payment.Method)
		result = &ApplyResult{
			Payment:        payment,
			DocumentNumber: inv.Number,
			PaidAmount:     paid,
			Balance:        balance,
			DocumentStatus: status,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListByDocument returns the payments applied to one document.
func (s *Service) ListByDocument(ctx context.Context, documentID int64) ([]Payment, error) {
	return s.repo.ListByDocument(ctx, documentID)
}

// List returns one page of payments and the unpaged total.
func (s *Service) List(ctx context.Context, filter ListFilter, p shared.PageRequest) ([]Payment, int, error) {
	return s.repo.List(ctx, filter, p)
}

// TotalsByMethod aggregates settled amounts per method over a window.
func (s *Service) TotalsByMethod(ctx context.Context, from, to time.Time) ([]MethodTotal, error) {
	return s.repo.TotalsByMethod(ctx, from, to)
}

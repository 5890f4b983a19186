package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerline-erp/ledgerline/internal/money"
	"github.com/ledgerline-erp/ledgerline/internal/shared"
)

// DBTX is the query surface shared by pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides PostgreSQL backed persistence for the payment ledger.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LockInvoice locks and returns the invoice snapshot the application decides
// on.
func (r *Repository) LockInvoice(ctx context.Context, q DBTX, documentID int64) (*invoiceState, error) {
	var s invoiceState
	err := q.QueryRow(ctx, `
		SELECT id, number, doc_type, status, client_id, total, paid_amount, balance
		FROM documents WHERE id = $1
		FOR UPDATE
	`, documentID).Scan(&s.ID, &s.Number, &s.Type, &s.Status, &s.ClientID,
		&s.Total, &s.PaidAmount, &s.Balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("payments: lock invoice: %w", err)
	}
	return &s, nil
}

// DebitInvoice adds the amount to the invoice's paid total, guarded in SQL so
// the balance can never go below zero even if the caller's snapshot is stale.
// Returns the post-debit paid amount and balance; false when the guard
// rejected the debit.
func (r *Repository) DebitInvoice(ctx context.Context, q DBTX, documentID int64, amount float64) (paid, balance float64, ok bool, err error) {
	err = q.QueryRow(ctx, `
		UPDATE documents
		SET paid_amount = paid_amount + $2, balance = balance - $2, updated_at = NOW()
		WHERE id = $1
		  AND doc_type = 'INVOICE'
		  AND status NOT IN ('DRAFT', 'CANCELLED')
		  AND balance >= $2 - $3
		RETURNING paid_amount, balance
	`, documentID, amount, money.Tolerance).Scan(&paid, &balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, false, nil
		}
		return 0, 0, false, fmt.Errorf("payments: debit invoice: %w", err)
	}
	return paid, balance, true, nil
}

// MarkPaid flips the invoice to PAID. Idempotent: an already paid invoice is
// left alone and reported as unchanged.
func (r *Repository) MarkPaid(ctx context.Context, q DBTX, documentID int64) (bool, error) {
	tag, err := q.Exec(ctx, `
		UPDATE documents SET status = 'PAID', updated_at = NOW()
		WHERE id = $1 AND status <> 'PAID'
	`, documentID)
	if err != nil {
		return false, fmt.Errorf("payments: mark paid: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Insert appends one payment row through q.
func (r *Repository) Insert(ctx context.Context, q DBTX, p *Payment) error {
	err := q.QueryRow(ctx, `
		INSERT INTO payments (number, document_id, amount, method, reference, status, notes, paid_at, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, NULLIF($7, ''), $8, NOW())
		RETURNING id, created_at
	`, p.Number, p.DocumentID, p.Amount, p.Method, p.Reference, p.Status, p.Notes, p.PaidAt).
		Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("payments: insert: %w", err)
	}
	return nil
}

// CreditClient shifts the client's paid total and balance by the settled
// amount through q.
func (r *Repository) CreditClient(ctx context.Context, q DBTX, clientID int64, amount float64) error {
	tag, err := q.Exec(ctx, `
		UPDATE clients
		SET total_paid = total_paid + $2, balance = balance - $2, updated_at = NOW()
		WHERE id = $1
	`, clientID, amount)
	if err != nil {
		return fmt.Errorf("payments: credit client: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

const paymentColumns = `
	id, number, document_id, amount, method, COALESCE(reference, ''), status,
	COALESCE(notes, ''), paid_at, created_at`

// ListByDocument returns every payment against one document, oldest first.
func (r *Repository) ListByDocument(ctx context.Context, documentID int64) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM payments WHERE document_id = $1
		ORDER BY paid_at, id
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("payments: list by document: %w", err)
	}
	return scanPayments(rows)
}

// List returns one page of payments matching the filter, newest first, with
// the unpaged total.
func (r *Repository) List(ctx context.Context, filter ListFilter, p shared.PageRequest) ([]Payment, int, error) {
	where := " WHERE 1=1"
	args := []any{}
	if filter.DocumentID > 0 {
		args = append(args, filter.DocumentID)
		where += fmt.Sprintf(" AND document_id = $%d", len(args))
	}
	if filter.ClientID > 0 {
		args = append(args, filter.ClientID)
		where += fmt.Sprintf(" AND document_id IN (SELECT id FROM documents WHERE client_id = $%d)", len(args))
	}
	if filter.Method != "" {
		args = append(args, filter.Method)
		where += fmt.Sprintf(" AND method = $%d", len(args))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		where += fmt.Sprintf(" AND paid_at >= $%d", len(args))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		where += fmt.Sprintf(" AND paid_at <= $%d", len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM payments"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("payments: count: %w", err)
	}

	query := fmt.Sprintf("SELECT %s FROM payments%s ORDER BY paid_at DESC, id DESC LIMIT $%d OFFSET $%d",
		paymentColumns, where, len(args)+1, len(args)+2)
	args = append(args, p.Limit(), p.Offset())

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("payments: list: %w", err)
	}
	list, err := scanPayments(rows)
	return list, total, err
}

// TotalsByMethod aggregates settled amounts per method over [from, to].
func (r *Repository) TotalsByMethod(ctx context.Context, from, to time.Time) ([]MethodTotal, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT method, COUNT(*), COALESCE(SUM(amount), 0)
		FROM payments
		WHERE paid_at >= $1 AND paid_at <= $2
		GROUP BY method
		ORDER BY method
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("payments: totals by method: %w", err)
	}
	defer rows.Close()

	totals := make([]MethodTotal, 0)
	for rows.Next() {
		var t MethodTotal
		if err := rows.Scan(&t.Method, &t.Count, &t.Sum); err != nil {
			return nil, fmt.Errorf("payments: scan totals: %w", err)
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

func scanPayments(rows pgx.Rows) ([]Payment, error) {
	defer rows.Close()
	list := make([]Payment, 0)
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.Number, &p.DocumentID, &p.Amount, &p.Method,
			&p.Reference, &p.Status, &p.Notes, &p.PaidAt, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("payments: scan: %w", err)
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

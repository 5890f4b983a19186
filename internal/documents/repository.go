package documents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerline-erp/ledgerline/internal/audit"
	"github.com/ledgerline-erp/ledgerline/internal/money"
	"github.com/ledgerline-erp/ledgerline/internal/shared"
)

// DBTX is the query surface shared by pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides PostgreSQL backed persistence for documents.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const documentColumns = `
	id, number, doc_type, status, client_id, parent_id, issue_date, due_date,
	subtotal, tax_amount, total, paid_amount, balance,
	COALESCE(notes, ''), COALESCE(cancellation_reason, ''),
	confirmed_at, cancelled_at, created_at, updated_at`

// Create inserts the document and its lines through q.
func (r *Repository) Create(ctx context.Context, q DBTX, doc *Document) error {
	err := q.QueryRow(ctx, `
		INSERT INTO documents (
			number, doc_type, status, client_id, parent_id, issue_date, due_date,
			subtotal, tax_amount, total, paid_amount, balance, notes,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, $10, NULLIF($11, ''), NOW(), NOW())
		RETURNING id, created_at, updated_at
	`, doc.Number, doc.Type, doc.Status, doc.ClientID, doc.ParentID, doc.IssueDate,
		doc.DueDate, doc.Subtotal, doc.TaxAmount, doc.Total, doc.Notes).
		Scan(&doc.ID, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return fmt.Errorf("%w: client %d", shared.ErrNotFound, doc.ClientID)
		}
		return fmt.Errorf("documents: create: %w", err)
	}
	doc.Balance = doc.Total
	return r.insertLines(ctx, q, doc)
}

func (r *Repository) insertLines(ctx context.Context, q DBTX, doc *Document) error {
	for i := range doc.Lines {
		line := &doc.Lines[i]
		line.DocumentID = doc.ID
		line.Position = i + 1
		err := q.QueryRow(ctx, `
			INSERT INTO document_lines (
				document_id, position, description, quantity, unit_price, tax_rate,
				net, tax, total
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id
		`, doc.ID, line.Position, line.Description, line.Quantity, line.UnitPrice,
			line.TaxRate, line.Net, line.Tax, line.Total).Scan(&line.ID)
		if err != nil {
			return fmt.Errorf("documents: insert line: %w", err)
		}
	}
	return nil
}

// Get returns one document with its lines.
func (r *Repository) Get(ctx context.Context, id int64) (*Document, error) {
	doc, err := scanDocument(r.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	doc.Lines, err = r.lines(ctx, r.pool, id)
	return doc, err
}

// GetForUpdate locks and returns one document with its lines through q.
func (r *Repository) GetForUpdate(ctx context.Context, q DBTX, id int64) (*Document, error) {
	doc, err := scanDocument(q.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	doc.Lines, err = r.lines(ctx, q, id)
	return doc, err
}

// GetManyForUpdate locks a batch in id order to keep lock acquisition
// deadlock-free across concurrent bulk calls. Lines are not loaded.
func (r *Repository) GetManyForUpdate(ctx context.Context, q DBTX, ids []int64) ([]Document, error) {
	rows, err := q.Query(ctx, `
		SELECT `+documentColumns+`
		FROM documents WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("documents: lock batch: %w", err)
	}
	defer rows.Close()

	docs := make([]Document, 0, len(ids))
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// List returns one page of documents matching the filter, newest first, with
// the unpaged total.
func (r *Repository) List(ctx context.Context, filter ListFilter, p shared.PageRequest) ([]Document, int, error) {
	where := " WHERE 1=1"
	args := []any{}
	if filter.Type != "" {
		args = append(args, filter.Type)
		where += fmt.Sprintf(" AND doc_type = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.ClientID > 0 {
		args = append(args, filter.ClientID)
		where += fmt.Sprintf(" AND client_id = $%d", len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM documents"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("documents: count: %w", err)
	}

	query := fmt.Sprintf("SELECT %s FROM documents%s ORDER BY issue_date DESC, id DESC LIMIT $%d OFFSET $%d",
		documentColumns, where, len(args)+1, len(args)+2)
	args = append(args, p.Limit(), p.Offset())

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("documents: list: %w", err)
	}
	defer rows.Close()

	docs := make([]Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, 0, err
		}
		docs = append(docs, *doc)
	}
	return docs, total, rows.Err()
}

// UpdateDraft rewrites the mutable fields and replaces the lines through q.
func (r *Repository) UpdateDraft(ctx context.Context, q DBTX, doc *Document) error {
	tag, err := q.Exec(ctx, `
		UPDATE documents SET
			issue_date = $2, due_date = $3, subtotal = $4, tax_amount = $5,
			total = $6, balance = $6 - paid_amount, notes = NULLIF($7, ''), updated_at = NOW()
		WHERE id = $1
	`, doc.ID, doc.IssueDate, doc.DueDate, doc.Subtotal, doc.TaxAmount, doc.Total, doc.Notes)
	if err != nil {
		return fmt.Errorf("documents: update draft: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	if _, err := q.Exec(ctx, `DELETE FROM document_lines WHERE document_id = $1`, doc.ID); err != nil {
		return fmt.Errorf("documents: replace lines: %w", err)
	}
	return r.insertLines(ctx, q, doc)
}

// UpdateStatus moves one document to a new stored status through q, stamping
// confirmed_at and cancelled_at on the way past those states.
func (r *Repository) UpdateStatus(ctx context.Context, q DBTX, id int64, status, reason string) error {
	tag, err := q.Exec(ctx, `
		UPDATE documents
		SET status = $2,
			cancellation_reason = NULLIF($3, ''),
			confirmed_at = CASE WHEN $2 = 'CONFIRMED' THEN NOW() ELSE confirmed_at END,
			cancelled_at = CASE WHEN $2 = 'CANCELLED' THEN NOW() ELSE cancelled_at END,
			updated_at = NOW()
		WHERE id = $1
	`, id, status, reason)
	if err != nil {
		return fmt.Errorf("documents: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Delete removes one document and its lines through q.
func (r *Repository) Delete(ctx context.Context, q DBTX, id int64) error {
	if _, err := q.Exec(ctx, `DELETE FROM document_lines WHERE document_id = $1`, id); err != nil {
		return fmt.Errorf("documents: delete lines: %w", err)
	}
	tag, err := q.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("documents: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// DeleteMany removes a batch and its lines through q.
func (r *Repository) DeleteMany(ctx context.Context, q DBTX, ids []int64) error {
	if _, err := q.Exec(ctx, `DELETE FROM document_lines WHERE document_id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("documents: bulk delete lines: %w", err)
	}
	if _, err := q.Exec(ctx, `DELETE FROM documents WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("documents: bulk delete: %w", err)
	}
	return nil
}

// HasActiveChild reports whether the document already spawned a successor
// that is not cancelled. Cancelled children do not block re-conversion.
func (r *Repository) HasActiveChild(ctx context.Context, q DBTX, parentID int64) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM documents WHERE parent_id = $1 AND status <> $2
		)
	`, parentID, StatusCancelled).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("documents: active child: %w", err)
	}
	return exists, nil
}

// CreditClient shifts a client's invoiced total and balance by delta through
// q. Negative deltas unwind cancelled or deleted invoices.
func (r *Repository) CreditClient(ctx context.Context, q DBTX, clientID int64, delta float64) error {
	tag, err := q.Exec(ctx, `
		UPDATE clients
		SET total_invoiced = total_invoiced + $2, balance = balance + $2, updated_at = NOW()
		WHERE id = $1
	`, clientID, delta)
	if err != nil {
		return fmt.Errorf("documents: credit client: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ListOverdue returns issued invoices past their due date with money
// outstanding as of now.
func (r *Repository) ListOverdue(ctx context.Context, now time.Time) ([]Document, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE doc_type = $1
		  AND status NOT IN ($2, $3, $4)
		  AND due_date IS NOT NULL AND due_date < $5
		  AND balance > $6
		ORDER BY due_date
	`, TypeInvoice, StatusDraft, StatusPaid, StatusCancelled, now, money.Tolerance)
	if err != nil {
		return nil, fmt.Errorf("documents: list overdue: %w", err)
	}
	defer rows.Close()

	docs := make([]Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// HasOverdueEvent reports whether an overdue trail record already exists for
// the invoice since the given moment, typically its due date.
func (r *Repository) HasOverdueEvent(ctx context.Context, documentID int64, since time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM audit_logs
			WHERE action = $2 AND entity_id = $1 AND created_at >= $3
		)
	`, documentID, audit.ActionInvoiceOverdue, since).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("documents: overdue event lookup: %w", err)
	}
	return exists, nil
}

func (r *Repository) lines(ctx context.Context, q DBTX, documentID int64) ([]LineItem, error) {
	rows, err := q.Query(ctx, `
		SELECT id, document_id, position, description, quantity, unit_price, tax_rate, net, tax, total
		FROM document_lines
		WHERE document_id = $1
		ORDER BY position
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("documents: lines: %w", err)
	}
	defer rows.Close()

	lines := make([]LineItem, 0)
	for rows.Next() {
		var l LineItem
		if err := rows.Scan(&l.ID, &l.DocumentID, &l.Position, &l.Description,
			&l.Quantity, &l.UnitPrice, &l.TaxRate, &l.Net, &l.Tax, &l.Total); err != nil {
			return nil, fmt.Errorf("documents: scan line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func scanDocument(row pgx.Row) (*Document, error) {
	var d Document
	err := row.Scan(&d.ID, &d.Number, &d.Type, &d.Status, &d.ClientID, &d.ParentID,
		&d.IssueDate, &d.DueDate, &d.Subtotal, &d.TaxAmount, &d.Total,
		&d.PaidAmount, &d.Balance, &d.Notes, &d.CancellationReason,
		&d.ConfirmedAt, &d.CancelledAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("documents: scan: %w", err)
	}
	return &d, nil
}

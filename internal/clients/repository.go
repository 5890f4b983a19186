package clients

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerline-erp/ledgerline/internal/shared"
)

// DBTX is the query surface shared by pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides PostgreSQL backed persistence for clients.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const clientColumns = `
	id, number, name, email, COALESCE(phone, ''), COALESCE(address, ''),
	COALESCE(tax_id, ''), total_invoiced, total_paid, balance, created_at, updated_at`

// Create inserts a client through q so the row commits together with its
// issued number.
func (r *Repository) Create(ctx context.Context, q DBTX, number string, req CreateClientRequest) (*Client, error) {
	var c Client
	err := q.QueryRow(ctx, `
		INSERT INTO clients (number, name, email, phone, address, tax_id, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NOW(), NOW())
		RETURNING id, created_at, updated_at
	`, number, req.Name, req.Email, req.Phone, req.Address, req.TaxID).
		Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "clients_email_key" {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("clients: create: %w", err)
	}
	c.Number = number
	c.Name = req.Name
	c.Email = req.Email
	c.Phone = req.Phone
	c.Address = req.Address
	c.TaxID = req.TaxID
	return &c, nil
}

// Get returns one client by id.
func (r *Repository) Get(ctx context.Context, id int64) (*Client, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = $1`, id)
	return scanClient(row)
}

// List returns clients ordered by number.
func (r *Repository) List(ctx context.Context, p shared.PageRequest) ([]Client, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+clientColumns+`
		FROM clients
		ORDER BY number
		LIMIT $1 OFFSET $2
	`, p.Limit(), p.Offset())
	if err != nil {
		return nil, fmt.Errorf("clients: list: %w", err)
	}
	defer rows.Close()

	list := make([]Client, 0)
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *c)
	}
	return list, rows.Err()
}

// Update applies a partial update and returns the fresh row.
func (r *Repository) Update(ctx context.Context, id int64, req UpdateClientRequest) (*Client, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE clients SET
			name = COALESCE($2, name),
			email = COALESCE($3, email),
			phone = COALESCE($4, phone),
			address = COALESCE($5, address),
			tax_id = COALESCE($6, tax_id),
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+clientColumns+`
	`, id, req.Name, req.Email, req.Phone, req.Address, req.TaxID)
	return scanClient(row)
}

// Aggregates returns the stored running totals for a client.
func (r *Repository) Aggregates(ctx context.Context, q DBTX, id int64) (totalInvoiced, totalPaid, balance float64, err error) {
	err = q.QueryRow(ctx, `
		SELECT total_invoiced, total_paid, balance FROM clients WHERE id = $1
	`, id).Scan(&totalInvoiced, &totalPaid, &balance)
	if errors.Is(err, pgx.ErrNoRows) {
		err = shared.ErrNotFound
	}
	return
}

// ComputeAggregates derives the true totals from the document and payment
// ledger: invoiced sums non-cancelled invoices, paid sums completed payments
// against those invoices.
func (r *Repository) ComputeAggregates(ctx context.Context, q DBTX, id int64) (totalInvoiced, totalPaid float64, err error) {
	err = q.QueryRow(ctx, `
		SELECT
			COALESCE((SELECT SUM(total) FROM documents
				WHERE client_id = $1 AND doc_type = 'INVOICE' AND status <> 'CANCELLED'), 0),
			COALESCE((SELECT SUM(p.amount) FROM payments p
				JOIN documents d ON d.id = p.document_id
				WHERE d.client_id = $1 AND p.status = 'COMPLETED'), 0)
	`, id).Scan(&totalInvoiced, &totalPaid)
	if err != nil {
		err = fmt.Errorf("clients: compute aggregates: %w", err)
	}
	return
}

// SetAggregates overwrites the stored totals through q.
func (r *Repository) SetAggregates(ctx context.Context, q DBTX, id int64, totalInvoiced, totalPaid, balance float64) error {
	tag, err := q.Exec(ctx, `
		UPDATE clients
		SET total_invoiced = $2, total_paid = $3, balance = $4, updated_at = NOW()
		WHERE id = $1
	`, id, totalInvoiced, totalPaid, balance)
	if err != nil {
		return fmt.Errorf("clients: set aggregates: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// IDs returns every client id, for the reconciliation sweep.
func (r *Repository) IDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM clients ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("clients: ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanClient(row pgx.Row) (*Client, error) {
	var c Client
	err := row.Scan(&c.ID, &c.Number, &c.Name, &c.Email, &c.Phone, &c.Address,
		&c.TaxID, &c.TotalInvoiced, &c.TotalPaid, &c.Balance, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("clients: scan: %w", err)
	}
	return &c, nil
}

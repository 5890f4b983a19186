package sequence

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is the subset of pgxpool.Pool / pgx.Tx the repository needs, so the
// same increment can run standalone or inside a caller's transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides PostgreSQL backed persistence for sequence rows.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Increment performs the atomic upsert-increment for (kind, period) and
// returns the post-increment value. The row is created at 1 on first use and
// never deleted. This is the single read-increment-return the whole engine
// relies on; callers must never reimplement it as read-then-write.
func Increment(ctx context.Context, q DBTX, kind string, period int, prefix string) (int64, error) {
	var value int64
	err := q.QueryRow(ctx, `
		INSERT INTO document_sequences (doc_type, period, prefix, last_number)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (doc_type, period)
		DO UPDATE SET last_number = document_sequences.last_number + 1, updated_at = NOW()
		RETURNING last_number
	`, kind, period, prefix).Scan(&value)
	if err != nil {
		return 0, err
	}
	return value, nil
}

// Increment runs the atomic increment against the pool.
func (r *Repository) Increment(ctx context.Context, kind string, period int, prefix string) (int64, error) {
	return Increment(ctx, r.pool, kind, period, prefix)
}

// Last returns the last issued value for (kind, period), zero when the row
// does not exist yet. Read-only.
func (r *Repository) Last(ctx context.Context, kind string, period int) (int64, error) {
	var value int64
	err := r.pool.QueryRow(ctx, `
		SELECT last_number FROM document_sequences WHERE doc_type = $1 AND period = $2
	`, kind, period).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return value, nil
}

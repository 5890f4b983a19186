package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Repository provides read access to the audit trail. Events are append-only;
// nothing here updates or deletes.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Search returns one page of events matching the filter, newest first,
// together with the unpaged total.
func (r *Repository) Search(ctx context.Context, filter SearchFilter) (SearchResult, error) {
	where, args := buildWhere(filter)

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	var total int64
	countQuery := "SELECT COUNT(*) FROM audit_logs" + where
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return SearchResult{}, fmt.Errorf("audit: count: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, action, category, severity, entity_type, entity_id,
		       COALESCE(document_number, ''), actor_id, actor_name, amount,
		       description, metadata, created_at
		FROM audit_logs%s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return SearchResult{}, fmt.Errorf("audit: search: %w", err)
	}
	defer rows.Close()

	records, err := scanEvents(rows)
	if err != nil {
		return SearchResult{}, fmt.Errorf("audit: search: %w", err)
	}

	return SearchResult{
		Records: records,
		Total:   total,
		HasMore: int64(offset+len(records)) < total,
	}, nil
}

// FinancialTrail returns the financial events in [from, to], oldest first,
// with per-action count and sum. Pass entityID > 0 to scope to one client.
func (r *Repository) FinancialTrail(ctx context.Context, from, to time.Time, entityID int64) (FinancialTrail, error) {
	where := " WHERE category = $1 AND created_at >= $2 AND created_at <= $3"
	args := []any{CategoryFinancial, from, to}
	if entityID > 0 {
		where += fmt.Sprintf(" AND entity_id = $%d", len(args)+1)
		args = append(args, entityID)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, action, category, severity, entity_type, entity_id,
		       COALESCE(document_number, ''), actor_id, actor_name, amount,
		       description, metadata, created_at
		FROM audit_logs`+where+`
		ORDER BY created_at ASC, id ASC
	`, args...)
	if err != nil {
		return FinancialTrail{}, fmt.Errorf("audit: trail: %w", err)
	}
	defer rows.Close()

	records, err := scanEvents(rows)
	if err != nil {
		return FinancialTrail{}, fmt.Errorf("audit: trail: %w", err)
	}

	sumRows, err := r.pool.Query(ctx, `
		SELECT action, COUNT(*), COALESCE(SUM(amount), 0)
		FROM audit_logs`+where+`
		GROUP BY action
		ORDER BY action
	`, args...)
	if err != nil {
		return FinancialTrail{}, fmt.Errorf("audit: trail summary: %w", err)
	}
	defer sumRows.Close()

	var summary []TrailSummary
	for sumRows.Next() {
		var s TrailSummary
		if err := sumRows.Scan(&s.Action, &s.Count, &s.Sum); err != nil {
			return FinancialTrail{}, fmt.Errorf("audit: trail summary: %w", err)
		}
		summary = append(summary, s)
	}
	if err := sumRows.Err(); err != nil {
		return FinancialTrail{}, fmt.Errorf("audit: trail summary: %w", err)
	}

	return FinancialTrail{Records: records, Summary: summary}, nil
}

func buildWhere(filter SearchFilter) (string, []any) {
	var clauses []string
	var args []any

	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if filter.From != nil {
		add("created_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("created_at <= $%d", *filter.To)
	}
	if filter.Action != "" {
		add("action = $%d", filter.Action)
	}
	if filter.Category != "" {
		add("category = $%d", filter.Category)
	}
	if filter.Severity != "" {
		add("severity = $%d", filter.Severity)
	}
	if filter.EntityType != "" {
		add("entity_type = $%d", filter.EntityType)
	}
	if filter.EntityID > 0 {
		add("entity_id = $%d", filter.EntityID)
	}
	if filter.ActorID > 0 {
		add("actor_id = $%d", filter.ActorID)
	}
	if filter.DocumentNumber != "" {
		add("document_number ILIKE $%d", "%"+filter.DocumentNumber+"%")
	}
	if filter.Query != "" {
		add("description ILIKE $%d", "%"+filter.Query+"%")
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanEvents(rows pgx.Rows) ([]Event, error) {
	events := make([]Event, 0)
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Action, &e.Category, &e.Severity, &e.EntityType,
			&e.EntityID, &e.DocumentNumber, &e.ActorID, &e.ActorName, &e.Amount,
			&e.Description, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

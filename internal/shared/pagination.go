package shared

import "math"

// Pagination contains metadata for paginated listings.
type Pagination struct {
	Page       int
	PerPage    int
	Total      int
	TotalPages int
}

// NewPagination computes pagination metadata.
func NewPagination(page, perPage, total int) Pagination {
	if perPage <= 0 {
		perPage = 20
	}
	if page <= 0 {
		page = 1
	}
	totalPages := int(math.Ceil(float64(total) / float64(perPage)))
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: totalPages}
}

// PageRequest is the caller-side page selection for listings.
type PageRequest struct {
	Page    int
	PerPage int
}

// NewPageRequest normalises a page selection; the page size is capped at 100.
func NewPageRequest(page, perPage int) PageRequest {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}
	return PageRequest{Page: page, PerPage: perPage}
}

// Limit returns the SQL LIMIT for the request.
func (p PageRequest) Limit() int { return p.PerPage }

// Offset returns the SQL OFFSET for the request.
func (p PageRequest) Offset() int { return (p.Page - 1) * p.PerPage }

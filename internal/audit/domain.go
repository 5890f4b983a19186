package audit

import (
	"errors"
	"time"
)

// ErrWriteFailed indicates an audit event could not be persisted. Callers
// recording inside a transaction must treat this as fatal and roll the whole
// unit back; a mutation without its trail never commits.
var ErrWriteFailed = errors.New("audit: write failed")

// Categories group events by domain.
const (
	CategoryFinancial = "financial"
	CategoryDocument  = "document"
	CategoryClient    = "client"
	CategorySystem    = "system"
)

// Severities rank events for filtering and alerting.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Actions recorded by the engine.
const (
	ActionDocumentCreated   = "document.created"
	ActionDocumentUpdated   = "document.updated"
	ActionDocumentDeleted   = "document.deleted"
	ActionStatusChanged     = "document.status_changed"
	ActionDocumentConverted = "document.converted"
	ActionBulkStatusChanged = "document.bulk_status_changed"
	ActionBulkDeleted       = "document.bulk_deleted"
	ActionPaymentApplied    = "payment.applied"
	ActionInvoicePaid       = "invoice.paid"
	ActionInvoiceOverdue    = "invoice.overdue"
	ActionClientCreated     = "client.created"
	ActionClientReconciled  = "client.reconciled"
	ActionSequenceGap       = "sequence.gap_observed"
)

// Event is one immutable audit record.
type Event struct {
	ID             int64          `json:"id"`
	Action         string         `json:"action"`
	Category       string         `json:"category"`
	Severity       string         `json:"severity"`
	EntityType     string         `json:"entityType"`
	EntityID       int64          `json:"entityId"`
	DocumentNumber string         `json:"documentNumber,omitempty"`
	ActorID        int64          `json:"actorId"`
	ActorName      string         `json:"actorName"`
	Amount         *float64       `json:"amount,omitempty"`
	Description    string         `json:"description"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// SearchFilter narrows an audit query. Zero values mean "no constraint".
type SearchFilter struct {
	From           *time.Time
	To             *time.Time
	Action         string
	Category       string
	Severity       string
	EntityType     string
	EntityID       int64
	ActorID        int64
	DocumentNumber string
	Query          string
	Limit          int
	Offset         int
}

// SearchResult is one page of matching events.
type SearchResult struct {
	Records []Event `json:"records"`
	Total   int64   `json:"total"`
	HasMore bool    `json:"hasMore"`
}

// TrailSummary aggregates financial events per action.
type TrailSummary struct {
	Action string  `json:"action"`
	Count  int64   `json:"count"`
	Sum    float64 `json:"sum"`
}

// FinancialTrail is the chronological money movement for a window, with
// per-action totals.
type FinancialTrail struct {
	Records []Event        `json:"records"`
	Summary []TrailSummary `json:"summary"`
}

package documents

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ledgerline-erp/ledgerline/internal/money"
)

var (
	// ErrIllegalTransition indicates the requested status is not reachable
	// from the document's current status.
	ErrIllegalTransition = errors.New("documents: illegal transition")
	// ErrImmutableDocument indicates a mutation was attempted on a document
	// that left DRAFT.
	ErrImmutableDocument = errors.New("documents: document is immutable")
	// ErrAlreadyConverted indicates the source already has a live child
	// document.
	ErrAlreadyConverted = errors.New("documents: already converted")
	// ErrInvalidConversionPath indicates the requested target type does not
	// follow the source type in the document chain.
	ErrInvalidConversionPath = errors.New("documents: invalid conversion path")
	// ErrCancellationReason indicates a cancellation outside DRAFT was
	// requested without a reason.
	ErrCancellationReason = errors.New("documents: cancellation reason required")
)

// BulkRejectionError carries the numbers of the documents blocking an
// all-or-nothing batch, so callers get them as data rather than prose. It
// unwraps to ErrImmutableDocument.
type BulkRejectionError struct {
	Numbers []string
}

func (e *BulkRejectionError) Error() string {
	return fmt.Sprintf("%v: %s not in DRAFT", ErrImmutableDocument, strings.Join(e.Numbers, ", "))
}

func (e *BulkRejectionError) Unwrap() error { return ErrImmutableDocument }

// Document types, in chain order.
const (
	TypeQuotation        = "QUOTATION"
	TypePurchaseOrder    = "PURCHASE_ORDER"
	TypeDeliveryNote     = "DELIVERY_NOTE"
	TypeAcceptanceReport = "ACCEPTANCE_REPORT"
	TypeInvoice          = "INVOICE"
	TypeCreditNote       = "CREDIT_NOTE"
)

// Stored statuses. StatusOverdue is derived at read time and never persisted.
const (
	StatusDraft     = "DRAFT"
	StatusConfirmed = "CONFIRMED"
	StatusSent      = "SENT"
	StatusViewed    = "VIEWED"
	StatusAccepted  = "ACCEPTED"
	StatusRejected  = "REJECTED"
	StatusDelivered = "DELIVERED"
	StatusSigned    = "SIGNED"
	StatusPaid      = "PAID"
	StatusCancelled = "CANCELLED"

	StatusOverdue = "OVERDUE"
)

// LineItem is one priced row of a document. Net, Tax and Total are always
// recomputed from Quantity, UnitPrice and TaxRate on write.
type LineItem struct {
	ID          int64   `json:"id"`
	DocumentID  int64   `json:"documentId"`
	Position    int     `json:"position"`
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
	TaxRate     float64 `json:"taxRate"`
	Net         float64 `json:"net"`
	Tax         float64 `json:"tax"`
	Total       float64 `json:"total"`
}

// Document is one commercial document in the chain. PaidAmount and Balance
// are maintained exclusively by the payment ledger.
type Document struct {
	ID                 int64      `json:"id"`
	Number             string     `json:"number"`
	Type               string     `json:"type"`
	Status             string     `json:"status"`
	ClientID           int64      `json:"clientId"`
	ParentID           *int64     `json:"parentId,omitempty"`
	IssueDate          time.Time  `json:"issueDate"`
	DueDate            *time.Time `json:"dueDate,omitempty"`
	Subtotal           float64    `json:"subtotal"`
	TaxAmount          float64    `json:"taxAmount"`
	Total              float64    `json:"total"`
	PaidAmount         float64    `json:"paidAmount"`
	Balance            float64    `json:"balance"`
	Notes              string     `json:"notes,omitempty"`
	CancellationReason string     `json:"cancellationReason,omitempty"`
	ConfirmedAt        *time.Time `json:"confirmedAt,omitempty"`
	CancelledAt        *time.Time `json:"cancelledAt,omitempty"`
	Lines              []LineItem `json:"lines,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// IsOverdue reports whether an invoice is past due with money outstanding.
// Only issued invoices age: drafts, paid and cancelled ones never do.
func (d *Document) IsOverdue(now time.Time) bool {
	if d.Type != TypeInvoice || d.DueDate == nil {
		return false
	}
	switch d.Status {
	case StatusDraft, StatusPaid, StatusCancelled:
		return false
	}
	return now.After(*d.DueDate) && d.Balance > money.Tolerance
}

// EffectiveStatus is the stored status, or OVERDUE when the invoice has aged
// past its due date.
func (d *Document) EffectiveStatus(now time.Time) string {
	if d.IsOverdue(now) {
		return StatusOverdue
	}
	return d.Status
}

// LineInput is one requested line.
type LineInput struct {
	Description string  `json:"description" validate:"required,max=500"`
	Quantity    float64 `json:"quantity" validate:"required,gt=0"`
	UnitPrice   float64 `json:"unitPrice" validate:"gte=0"`
	TaxRate     float64 `json:"taxRate" validate:"gte=0,lte=100"`
}

// CreateDocumentRequest carries the payload for creating a document directly.
type CreateDocumentRequest struct {
	Type      string      `json:"type" validate:"required,oneof=QUOTATION PURCHASE_ORDER DELIVERY_NOTE ACCEPTANCE_REPORT INVOICE CREDIT_NOTE"`
	ClientID  int64       `json:"clientId" validate:"required,gt=0"`
	IssueDate *time.Time  `json:"issueDate"`
	DueDate   *time.Time  `json:"dueDate"`
	Notes     string      `json:"notes" validate:"max=2000"`
	Lines     []LineInput `json:"lines" validate:"required,min=1,dive"`
}

// UpdateDocumentRequest carries a draft update; nil fields stay untouched.
type UpdateDocumentRequest struct {
	IssueDate *time.Time   `json:"issueDate"`
	DueDate   *time.Time   `json:"dueDate"`
	Notes     *string      `json:"notes" validate:"omitempty,max=2000"`
	Lines     *[]LineInput `json:"lines" validate:"omitempty,min=1,dive"`
}

// TransitionRequest moves a document to a new status. Reason is required when
// cancelling a document that left DRAFT.
type TransitionRequest struct {
	Status string `json:"status" validate:"required"`
	Reason string `json:"reason" validate:"max=500"`
}

// ConvertRequest derives the next document in the chain from a source.
type ConvertRequest struct {
	TargetType string     `json:"targetType" validate:"required"`
	IssueDate  *time.Time `json:"issueDate"`
	DueDate    *time.Time `json:"dueDate"`
}

// BulkStatusRequest stamps one status onto a batch, all or nothing. The target
// vocabulary excludes PAID (ledger-only) and OVERDUE (derived, never stored);
// beyond that the per-type transition tables do not apply here.
type BulkStatusRequest struct {
	IDs    []int64 `json:"ids" validate:"required,min=1,max=100"`
	Status string  `json:"status" validate:"required,oneof=DRAFT CONFIRMED SENT VIEWED ACCEPTED REJECTED DELIVERED SIGNED CANCELLED"`
	Reason string  `json:"reason" validate:"max=500"`
}

// BulkDeleteRequest deletes a batch of drafts, all or nothing.
type BulkDeleteRequest struct {
	IDs []int64 `json:"ids" validate:"required,min=1,max=100"`
}

// ListFilter narrows a document listing.
type ListFilter struct {
	Type     string
	Status   string
	ClientID int64
}

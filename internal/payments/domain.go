package payments

import (
	"errors"
	"time"
)

var (
	// ErrInvalidAmount indicates a non-positive payment amount.
	ErrInvalidAmount = errors.New("payments: amount must be positive")
	// ErrOverpaymentRejected indicates the amount exceeds the invoice's
	// outstanding balance.
	ErrOverpaymentRejected = errors.New("payments: amount exceeds outstanding balance")
	// ErrNotPayable indicates the target is not an issued invoice.
	ErrNotPayable = errors.New("payments: document does not accept payments")
	// ErrConcurrentApplication indicates another payment against the same
	// invoice is in flight.
	ErrConcurrentApplication = errors.New("payments: concurrent application in progress")
)

// Payment methods.
const (
	MethodCash     = "CASH"
	MethodTransfer = "TRANSFER"
	MethodCheck    = "CHECK"
	MethodCard     = "CARD"
	MethodMobile   = "MOBILE"
	MethodOther    = "OTHER"
)

// StatusCompleted is the only stored payment status; failed applications
// never produce a row.
const StatusCompleted = "COMPLETED"

// Payment is one settled amount against an invoice. Rows are append-only.
type Payment struct {
	ID         int64     `json:"id"`
	Number     string    `json:"number"`
	DocumentID int64     `json:"documentId"`
	Amount     float64   `json:"amount"`
	Method     string    `json:"method"`
	Reference  string    `json:"reference,omitempty"`
	Status     string    `json:"status"`
	Notes      string    `json:"notes,omitempty"`
	PaidAt     time.Time `json:"paidAt"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ApplyPaymentRequest carries one payment application.
type ApplyPaymentRequest struct {
	DocumentID int64      `json:"documentId" validate:"required,gt=0"`
	Amount     float64    `json:"amount" validate:"required"`
	Method     string     `json:"method" validate:"required,oneof=CASH TRANSFER CHECK CARD MOBILE OTHER"`
	Reference  string     `json:"reference" validate:"max=100"`
	Notes      string     `json:"notes" validate:"max=1000"`
	PaidAt     *time.Time `json:"paidAt"`
}

// ApplyResult reports the payment together with the invoice state it left
// behind.
type ApplyResult struct {
	Payment        Payment `json:"payment"`
	DocumentNumber string  `json:"documentNumber"`
	PaidAmount     float64 `json:"paidAmount"`
	Balance        float64 `json:"balance"`
	DocumentStatus string  `json:"documentStatus"`
}

// ListFilter narrows a payment listing.
type ListFilter struct {
	DocumentID int64
	ClientID   int64
	Method     string
	From       *time.Time
	To         *time.Time
}

// MethodTotal aggregates payments per method over a window.
type MethodTotal struct {
	Method string  `json:"method"`
	Count  int64   `json:"count"`
	Sum    float64 `json:"sum"`
}

// invoiceState is the locked snapshot the ledger decides on.
type invoiceState struct {
	ID         int64
	Number     string
	Type       string
	Status     string
	ClientID   int64
	Total      float64
	PaidAmount float64
	Balance    float64
}

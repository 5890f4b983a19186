package clients

import (
	"errors"
	"time"
)

// ErrDuplicateEmail indicates another client already uses the email.
var ErrDuplicateEmail = errors.New("clients: email already registered")

// Client is a billed party. TotalInvoiced, TotalPaid and Balance are running
// aggregates maintained transactionally by invoice creation and payment
// application; Reconcile recomputes them from the ledger when they drift.
type Client struct {
	ID            int64     `json:"id"`
	Number        string    `json:"number"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	Phone         string    `json:"phone,omitempty"`
	Address       string    `json:"address,omitempty"`
	TaxID         string    `json:"taxId,omitempty"`
	TotalInvoiced float64   `json:"totalInvoiced"`
	TotalPaid     float64   `json:"totalPaid"`
	Balance       float64   `json:"balance"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// CreateClientRequest carries the payload for registering a client.
type CreateClientRequest struct {
	Name    string `json:"name" validate:"required,min=2,max=200"`
	Email   string `json:"email" validate:"required,email"`
	Phone   string `json:"phone" validate:"omitempty,max=40"`
	Address string `json:"address" validate:"omitempty,max=500"`
	TaxID   string `json:"taxId" validate:"omitempty,max=40"`
}

// UpdateClientRequest carries a partial update; nil fields stay untouched.
type UpdateClientRequest struct {
	Name    *string `json:"name" validate:"omitempty,min=2,max=200"`
	Email   *string `json:"email" validate:"omitempty,email"`
	Phone   *string `json:"phone" validate:"omitempty,max=40"`
	Address *string `json:"address" validate:"omitempty,max=500"`
	TaxID   *string `json:"taxId" validate:"omitempty,max=40"`
}

// ReconcileResult reports one aggregate repair.
type ReconcileResult struct {
	ClientID      int64   `json:"clientId"`
	TotalInvoiced float64 `json:"totalInvoiced"`
	TotalPaid     float64 `json:"totalPaid"`
	Balance       float64 `json:"balance"`
	Drifted       bool    `json:"drifted"`
}

package documents

import "fmt"

// transitions lists, per document type, the statuses reachable from each
// stored status. PAID appears nowhere: it is entered only by the payment
// ledger when an invoice balance reaches zero. Statuses absent from a table
// are terminal.
var transitions = map[string]map[string][]string{
	TypeQuotation: {
		StatusDraft:     {StatusConfirmed, StatusCancelled},
		StatusConfirmed: {StatusSent, StatusCancelled},
		StatusSent:      {StatusViewed, StatusAccepted, StatusRejected, StatusCancelled},
		StatusViewed:    {StatusAccepted, StatusRejected, StatusCancelled},
		StatusAccepted:  {StatusCancelled},
	},
	TypePurchaseOrder: {
		StatusDraft:     {StatusConfirmed, StatusCancelled},
		StatusConfirmed: {StatusSent, StatusCancelled},
		StatusSent:      {StatusAccepted, StatusRejected, StatusCancelled},
		StatusAccepted:  {StatusCancelled},
	},
	TypeDeliveryNote: {
		StatusDraft:     {StatusConfirmed, StatusCancelled},
		StatusConfirmed: {StatusDelivered, StatusCancelled},
	},
	TypeAcceptanceReport: {
		StatusDraft: {StatusSigned, StatusCancelled},
	},
	TypeInvoice: {
		StatusDraft:     {StatusConfirmed, StatusCancelled},
		StatusConfirmed: {StatusSent, StatusCancelled},
		StatusSent:      {StatusViewed, StatusCancelled},
		StatusViewed:    {StatusCancelled},
	},
	TypeCreditNote: {
		StatusDraft:     {StatusConfirmed, StatusCancelled},
		StatusConfirmed: {StatusSent, StatusCancelled},
	},
}

// CanTransition reports whether a document of the given type may move from
// one stored status to another.
func CanTransition(docType, from, to string) bool {
	table, ok := transitions[docType]
	if !ok {
		return false
	}
	for _, next := range table[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition checks one requested move and returns the taxonomy error
// with enough detail to act on.
func ValidateTransition(doc *Document, to, reason string) error {
	if to == StatusPaid {
		return fmt.Errorf("%w: %s is set by the payment ledger, not by transition", ErrIllegalTransition, StatusPaid)
	}
	if to == StatusOverdue {
		return fmt.Errorf("%w: %s is derived, not stored", ErrIllegalTransition, StatusOverdue)
	}
	if !CanTransition(doc.Type, doc.Status, to) {
		return fmt.Errorf("%w: %s %s -> %s", ErrIllegalTransition, doc.Type, doc.Status, to)
	}
	if to == StatusCancelled {
		if doc.Status != StatusDraft && reason == "" {
			return ErrCancellationReason
		}
		if doc.Type == TypeInvoice && doc.PaidAmount > 0 {
			return fmt.Errorf("%w: invoice %s has recorded payments", ErrIllegalTransition, doc.Number)
		}
	}
	return nil
}

// IsTerminal reports whether no transition leaves the status for the type.
func IsTerminal(docType, status string) bool {
	table, ok := transitions[docType]
	if !ok {
		return true
	}
	return len(table[status]) == 0
}

package documents

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDate(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestConversionChainIsStrict(t *testing.T) {
	target, ok := ConversionTarget(TypeQuotation)
	require.True(t, ok)
	assert.Equal(t, TypePurchaseOrder, target)

	target, ok = ConversionTarget(TypeInvoice)
	require.True(t, ok)
	assert.Equal(t, TypeCreditNote, target)

	_, ok = ConversionTarget(TypeCreditNote)
	assert.False(t, ok, "credit note ends the chain")
}

func TestValidateConversionSkippingStep(t *testing.T) {
	source := &Document{Type: TypeQuotation, Status: StatusAccepted}
	err := ValidateConversion(source, TypeInvoice)
	require.ErrorIs(t, err, ErrInvalidConversionPath)
}

func TestValidateConversionEndOfChain(t *testing.T) {
	source := &Document{Type: TypeCreditNote, Status: StatusSent}
	err := ValidateConversion(source, TypeInvoice)
	require.ErrorIs(t, err, ErrInvalidConversionPath)
}

func TestValidateConversionSourceStatus(t *testing.T) {
	accepted := &Document{Type: TypeQuotation, Status: StatusAccepted}
	require.NoError(t, ValidateConversion(accepted, TypePurchaseOrder))

	draft := &Document{Type: TypeQuotation, Status: StatusDraft}
	require.ErrorIs(t, ValidateConversion(draft, TypePurchaseOrder), ErrIllegalTransition)

	sentInvoice := &Document{Type: TypeInvoice, Status: StatusSent}
	require.NoError(t, ValidateConversion(sentInvoice, TypeCreditNote))

	paidInvoice := &Document{Type: TypeInvoice, Status: StatusPaid}
	require.NoError(t, ValidateConversion(paidInvoice, TypeCreditNote), "paid invoices may be credited back")

	delivered := &Document{Type: TypeDeliveryNote, Status: StatusDelivered}
	require.NoError(t, ValidateConversion(delivered, TypeAcceptanceReport))

	undelivered := &Document{Type: TypeDeliveryNote, Status: StatusConfirmed}
	require.ErrorIs(t, ValidateConversion(undelivered, TypeAcceptanceReport), ErrIllegalTransition)
}

package documents

import "fmt"

// conversionTargets maps each document type to the single type that may be
// derived from it. The chain is strict: skipping a step is not a conversion.
var conversionTargets = map[string]string{
	TypeQuotation:        TypePurchaseOrder,
	TypePurchaseOrder:    TypeDeliveryNote,
	TypeDeliveryNote:     TypeAcceptanceReport,
	TypeAcceptanceReport: TypeInvoice,
	TypeInvoice:          TypeCreditNote,
}

// convertibleStatuses lists, per source type, the stored statuses in which the
// source may spawn its successor. An invoice may be credited back once it is
// out the door, paid or not.
var convertibleStatuses = map[string][]string{
	TypeQuotation:        {StatusAccepted},
	TypePurchaseOrder:    {StatusAccepted},
	TypeDeliveryNote:     {StatusDelivered},
	TypeAcceptanceReport: {StatusSigned},
	TypeInvoice:          {StatusSent, StatusViewed, StatusPaid},
}

// ConversionTarget returns the type derivable from a source type, false for
// end-of-chain types.
func ConversionTarget(sourceType string) (string, bool) {
	target, ok := conversionTargets[sourceType]
	return target, ok
}

// ValidateConversion checks that the source may be converted into the
// requested target type right now. The already-converted guard needs store
// access and lives in the service.
func ValidateConversion(source *Document, targetType string) error {
	expected, ok := conversionTargets[source.Type]
	if !ok {
		return fmt.Errorf("%w: %s is the end of the chain", ErrInvalidConversionPath, source.Type)
	}
	if targetType != expected {
		return fmt.Errorf("%w: %s converts to %s, not %s", ErrInvalidConversionPath, source.Type, expected, targetType)
	}
	for _, status := range convertibleStatuses[source.Type] {
		if source.Status == status {
			return nil
		}
	}
	return fmt.Errorf("%w: %s in status %s cannot be converted", ErrIllegalTransition, source.Type, source.Status)
}

package sequence

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrUnknownKind indicates a number was requested for an unconfigured kind.
	ErrUnknownKind = errors.New("sequence: unknown kind")
	// ErrContention indicates the atomic increment could not be guaranteed
	// after bounded retries.
	ErrContention = errors.New("sequence: contention, retry exhausted")
)

// Kind configures numbering for one document or entity type. Continuous kinds
// never reset and carry no period in the formatted number; the rest reset
// yearly.
type Kind struct {
	Prefix     string
	Continuous bool
	PadLength  int
}

// Document-chain and B2B entity kinds. The document chain shares one atomicity
// contract with the entity numbers; only the format differs.
const (
	KindQuotation        = "QUOTATION"
	KindPurchaseOrder    = "PURCHASE_ORDER"
	KindDeliveryNote     = "DELIVERY_NOTE"
	KindAcceptanceReport = "ACCEPTANCE_REPORT"
	KindInvoice          = "INVOICE"
	KindCreditNote       = "CREDIT_NOTE"

	KindClient  = "CLIENT"
	KindLead    = "LEAD"
	KindProject = "PROJECT"
	KindPayment = "PAYMENT"
)

var kinds = map[string]Kind{
	KindQuotation:        {Prefix: "QT", PadLength: 6},
	KindPurchaseOrder:    {Prefix: "PO", PadLength: 6},
	KindDeliveryNote:     {Prefix: "DN", PadLength: 6},
	KindAcceptanceReport: {Prefix: "AR", PadLength: 6},
	KindInvoice:          {Prefix: "INV", PadLength: 6},
	KindCreditNote:       {Prefix: "CN", PadLength: 6},

	KindClient:  {Prefix: "CLI", Continuous: true, PadLength: 6},
	KindLead:    {Prefix: "LD", PadLength: 6},
	KindProject: {Prefix: "PRJ", PadLength: 6},
	KindPayment: {Prefix: "PAY", PadLength: 6},
}

// KindConfig returns the numbering configuration for a kind.
func KindConfig(kind string) (Kind, error) {
	cfg, ok := kinds[kind]
	if !ok {
		return Kind{}, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return cfg, nil
}

// IssuedNumber is the result of one atomic issuance.
type IssuedNumber struct {
	Kind      string
	Prefix    string
	Period    int
	Value     int64
	Formatted string
}

// Format renders the canonical number: {prefix}-{period}-{zero-padded value},
// or {prefix}-{zero-padded value} for continuous kinds.
func Format(cfg Kind, period int, value int64) string {
	padded := fmt.Sprintf("%0*d", cfg.PadLength, value)
	if cfg.Continuous {
		return fmt.Sprintf("%s-%s", cfg.Prefix, padded)
	}
	return fmt.Sprintf("%s-%d-%s", cfg.Prefix, period, padded)
}

// Parsed holds the components recovered from a formatted number.
type Parsed struct {
	Kind   string
	Prefix string
	Period int
	Value  int64
}

// Parse recovers kind, period and value from a formatted number. It returns
// false when the input matches no configured kind or format.
func Parse(number string) (Parsed, bool) {
	parts := strings.Split(number, "-")
	if len(parts) < 2 || len(parts) > 3 {
		return Parsed{}, false
	}
	for kind, cfg := range kinds {
		if cfg.Prefix != parts[0] {
			continue
		}
		if cfg.Continuous {
			if len(parts) != 2 {
				return Parsed{}, false
			}
			value, err := strconv.ParseInt(parts[1], 10, 64)
			if err != nil {
				return Parsed{}, false
			}
			return Parsed{Kind: kind, Prefix: cfg.Prefix, Value: value}, true
		}
		if len(parts) != 3 {
			return Parsed{}, false
		}
		period, err := strconv.Atoi(parts[1])
		if err != nil || period < 2000 || period > 2099 {
			return Parsed{}, false
		}
		value, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return Parsed{}, false
		}
		return Parsed{Kind: kind, Prefix: cfg.Prefix, Period: period, Value: value}, true
	}
	return Parsed{}, false
}

package enums

import "fmt"

// InvoiceStatus tracks an invoice through its settlement lifecycle.
type InvoiceStatus string

const (
	InvoiceStatusPending    InvoiceStatus = "pending"
	InvoiceStatusProcessing InvoiceStatus = "processing"
	InvoiceStatusSettled    InvoiceStatus = "settled"
	InvoiceStatusFailed     InvoiceStatus = "failed"
	InvoiceStatusRefunded   InvoiceStatus = "refunded"
	InvoiceStatusCanceled   InvoiceStatus = "canceled"
)

var validInvoiceStatuses = []InvoiceStatus{
	InvoiceStatusPending,
	InvoiceStatusProcessing,
	InvoiceStatusSettled,
	InvoiceStatusFailed,
	InvoiceStatusRefunded,
	InvoiceStatusCanceled,
}

// String implements fmt.Stringer.
func (s InvoiceStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s InvoiceStatus) IsValid() bool {
	for _, candidate := range validInvoiceStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseInvoiceStatus converts raw input into an InvoiceStatus.
func ParseInvoiceStatus(value string) (InvoiceStatus, error) {
	for _, candidate := range validInvoiceStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid invoice status %q", value)
}

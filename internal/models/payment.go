package models

import "fmt"

// PaymentStatus tracks the financial state of a reservation independently of its booking status.
// No payment is processed here.
type PaymentStatus string

const (
	PaymentPending       PaymentStatus = "pending"
	PaymentPaid          PaymentStatus = "paid"
	PaymentOverdue       PaymentStatus = "overdue"
	PaymentRefunded      PaymentStatus = "refunded"
	PaymentNotApplicable PaymentStatus = "not_applicable"
)

func ParsePaymentStatus(s string) (PaymentStatus, error) {
	switch PaymentStatus(s) {
	case PaymentPending, PaymentPaid, PaymentOverdue, PaymentRefunded, PaymentNotApplicable:
		return PaymentStatus(s), nil
	}
	return "", fmt.Errorf("unknown payment status %q", s)
}

type PaymentUpdateRequest struct {
	Status PaymentStatus `json:"status"`
	Note   string        `json:"note,omitempty"`
}

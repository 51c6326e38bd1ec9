package enums

import "fmt"

// PaymentPlanStatus tracks whether a plan is still generating installments.
type PaymentPlanStatus string

const (
	PaymentPlanStatusActive    PaymentPlanStatus = "active"
	PaymentPlanStatusPaused    PaymentPlanStatus = "paused"
	PaymentPlanStatusCompleted PaymentPlanStatus = "completed"
	PaymentPlanStatusCancelled PaymentPlanStatus = "cancelled"
)

var validPaymentPlanStatuses = []PaymentPlanStatus{
	PaymentPlanStatusActive,
	PaymentPlanStatusPaused,
	PaymentPlanStatusCompleted,
	PaymentPlanStatusCancelled,
}

// String implements fmt.Stringer.
func (p PaymentPlanStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentPlanStatus.
func (p PaymentPlanStatus) IsValid() bool {
	for _, candidate := range validPaymentPlanStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePaymentPlanStatus converts raw input into a PaymentPlanStatus.
func ParsePaymentPlanStatus(value string) (PaymentPlanStatus, error) {
	for _, candidate := range validPaymentPlanStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment plan status %q", value)
}

package enums

import "fmt"

// PaymentStatus tracks the lifecycle of a pledge payment.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusExpected   PaymentStatus = "expected"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusCancelled  PaymentStatus = "cancelled"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

var validPaymentStatuses = []PaymentStatus{
	PaymentStatusPending,
	PaymentStatusExpected,
	PaymentStatusProcessing,
	PaymentStatusCompleted,
	PaymentStatusFailed,
	PaymentStatusCancelled,
	PaymentStatusRefunded,
}

// String implements fmt.Stringer.
func (p PaymentStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentStatus.
func (p PaymentStatus) IsValid() bool {
	for _, candidate := range validPaymentStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// CountsTowardTotal reports whether money in this status is credited to a pledge.
func (p PaymentStatus) CountsTowardTotal() bool {
	return p == PaymentStatusCompleted
}

// IsScheduled reports whether the status represents money promised but not yet confirmed.
func (p PaymentStatus) IsScheduled() bool {
	switch p {
	case PaymentStatusPending, PaymentStatusExpected, PaymentStatusProcessing:
		return true
	}
	return false
}

// ScheduledPaymentStatuses lists the statuses counted by the scheduled projection.
func ScheduledPaymentStatuses() []PaymentStatus {
	return []PaymentStatus{
		PaymentStatusPending,
		PaymentStatusExpected,
		PaymentStatusProcessing,
	}
}

// ParsePaymentStatus converts raw input into a PaymentStatus.
func ParsePaymentStatus(value string) (PaymentStatus, error) {
	for _, candidate := range validPaymentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment status %q", value)
}

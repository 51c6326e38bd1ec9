package enums

import "fmt"

// InstallmentStatus tracks a single scheduled installment.
type InstallmentStatus string

const (
	InstallmentStatusPending   InstallmentStatus = "pending"
	InstallmentStatusPaid      InstallmentStatus = "paid"
	InstallmentStatusOverdue   InstallmentStatus = "overdue"
	InstallmentStatusCancelled InstallmentStatus = "cancelled"
)

var validInstallmentStatuses = []InstallmentStatus{
	InstallmentStatusPending,
	InstallmentStatusPaid,
	InstallmentStatusOverdue,
	InstallmentStatusCancelled,
}

// String implements fmt.Stringer.
func (i InstallmentStatus) String() string {
	return string(i)
}

// IsValid reports whether the value is a known InstallmentStatus.
func (i InstallmentStatus) IsValid() bool {
	for _, candidate := range validInstallmentStatuses {
		if candidate == i {
			return true
		}
	}
	return false
}

// ParseInstallmentStatus converts raw input into an InstallmentStatus.
func ParseInstallmentStatus(value string) (InstallmentStatus, error) {
	for _, candidate := range validInstallmentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid installment status %q", value)
}

package enums

import "fmt"

// PlanFrequency is the cadence of a payment plan's installments.
type PlanFrequency string

const (
	PlanFrequencyWeekly    PlanFrequency = "weekly"
	PlanFrequencyMonthly   PlanFrequency = "monthly"
	PlanFrequencyQuarterly PlanFrequency = "quarterly"
	PlanFrequencyAnnually  PlanFrequency = "annually"
)

var validPlanFrequencies = []PlanFrequency{
	PlanFrequencyWeekly,
	PlanFrequencyMonthly,
	PlanFrequencyQuarterly,
	PlanFrequencyAnnually,
}

// String implements fmt.Stringer.
func (p PlanFrequency) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PlanFrequency.
func (p PlanFrequency) IsValid() bool {
	for _, candidate := range validPlanFrequencies {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePlanFrequency converts raw input into a PlanFrequency.
func ParsePlanFrequency(value string) (PlanFrequency, error) {
	for _, candidate := range validPlanFrequencies {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid plan frequency %q", value)
}

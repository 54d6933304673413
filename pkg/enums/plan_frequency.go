package enums

import "fmt"

// PlanFrequency is the billing cadence of a plan.
type PlanFrequency string

const (
	PlanFrequencyDaily   PlanFrequency = "daily"
	PlanFrequencyWeekly  PlanFrequency = "weekly"
	PlanFrequencyMonthly PlanFrequency = "monthly"
	PlanFrequencyYearly  PlanFrequency = "yearly"
)

var validPlanFrequencies = []PlanFrequency{
	PlanFrequencyDaily,
	PlanFrequencyWeekly,
	PlanFrequencyMonthly,
	PlanFrequencyYearly,
}

// String implements fmt.Stringer.
func (f PlanFrequency) String() string {
	return string(f)
}

// IsValid reports whether the value is known.
func (f PlanFrequency) IsValid() bool {
	for _, candidate := range validPlanFrequencies {
		if candidate == f {
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

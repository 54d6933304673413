package enums

import "fmt"

// PlanType distinguishes charge plans (debit the customer) from payout plans
// (credit the customer's instrument).
type PlanType string

const (
	PlanTypeCharge PlanType = "charge"
	PlanTypePayout PlanType = "payout"
)

var validPlanTypes = []PlanType{
	PlanTypeCharge,
	PlanTypePayout,
}

// String implements fmt.Stringer.
func (t PlanType) String() string {
	return string(t)
}

// IsValid reports whether the value is known.
func (t PlanType) IsValid() bool {
	for _, candidate := range validPlanTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParsePlanType converts raw input into a PlanType.
func ParsePlanType(value string) (PlanType, error) {
	for _, candidate := range validPlanTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid plan type %q", value)
}

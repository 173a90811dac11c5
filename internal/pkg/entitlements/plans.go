package entitlements

import "strings"

// Plan names are the closed set of internal plan identifiers. Provider plan
// references are mapped onto these by the billing normalizers.
const (
	PlanBasic    = "basic"
	PlanStandard = "standard"
	PlanPremium  = "premium"
)

// Entitlement is the quota/feature tuple a plan grants. The zero value is
// the no-plan entitlement: nothing is allowed.
type Entitlement struct {
	PlanName           string `json:"plan_name"`
	FormLimit          int    `json:"form_limit"`
	SubmissionLimit    int    `json:"submission_limit"`
	ImageUpload        bool   `json:"image_upload"`
	EmployeeManagement bool   `json:"employee_management"`
}

type planSpec struct {
	tier        int
	entitlement Entitlement
}

// registry maps plan name to ordinal tier and limits. Plan comparison is an
// integer tier comparison, never a string heuristic.
var registry = map[string]planSpec{
	PlanBasic: {
		tier: 1,
		entitlement: Entitlement{
			PlanName:        PlanBasic,
			FormLimit:       1,
			SubmissionLimit: 100,
		},
	},
	PlanStandard: {
		tier: 2,
		entitlement: Entitlement{
			PlanName:        PlanStandard,
			FormLimit:       5,
			SubmissionLimit: 1000,
			ImageUpload:     true,
		},
	},
	PlanPremium: {
		tier: 3,
		entitlement: Entitlement{
			PlanName:           PlanPremium,
			FormLimit:          20,
			SubmissionLimit:    10000,
			ImageUpload:        true,
			EmployeeManagement: true,
		},
	},
}

// NormalizePlan returns the canonical plan name, or "" if unknown.
func NormalizePlan(plan string) string {
	name := strings.ToLower(strings.TrimSpace(plan))
	if _, ok := registry[name]; ok {
		return name
	}
	return ""
}

// IsKnownPlan reports whether plan resolves to a registered plan.
func IsKnownPlan(plan string) bool {
	return NormalizePlan(plan) != ""
}

// Tier returns the ordinal rank of a plan; unknown plans rank below every
// registered plan.
func Tier(plan string) int {
	if spec, ok := registry[NormalizePlan(plan)]; ok {
		return spec.tier
	}
	return 0
}

// LimitsFor returns the registered entitlement tuple for a plan. Unknown
// plans yield the zero entitlement and ok=false; callers must not default
// silently to an implicit plan.
func LimitsFor(plan string) (Entitlement, bool) {
	spec, ok := registry[NormalizePlan(plan)]
	if !ok {
		return Entitlement{}, false
	}
	return spec.entitlement, true
}

// Change classifies a plan transition.
type Change int

const (
	// ChangeUnknown means no baseline exists; no safe action can be taken.
	ChangeUnknown Change = iota
	ChangeSame
	ChangeUpgrade
	ChangeDowngrade
)

func (c Change) String() string {
	switch c {
	case ChangeSame:
		return "same"
	case ChangeUpgrade:
		return "upgrade"
	case ChangeDowngrade:
		return "downgrade"
	default:
		return "unknown"
	}
}

// Compare classifies the transition from a previous plan to a new one by
// tier ordinal. An unknown previous plan yields ChangeUnknown.
func Compare(previousPlan, newPlan string) Change {
	prev := NormalizePlan(previousPlan)
	next := NormalizePlan(newPlan)
	if prev == "" || next == "" {
		return ChangeUnknown
	}
	switch {
	case Tier(next) > Tier(prev):
		return ChangeUpgrade
	case Tier(next) < Tier(prev):
		return ChangeDowngrade
	default:
		return ChangeSame
	}
}

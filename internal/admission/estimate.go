package admission

import "github.com/stemrun/stemcore/internal/ids"

// Estimate is the materialized cost of admitting an attempt under a
// given multiplier (spec §4.2 step 5).
type Estimate struct {
	RequiredTimeMS     int64
	RequiredIOUnits    int64
	RequiredTokenUnits int64
	RequiredSurvival   int64
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}

	return b
}

// estimateCost reproduces the §4.2 step-5 formula exactly:
//
//	required_X      = max(profile.base.X, requested.X)
//	base_survival    = max(0, profile.base.survival_micro) + max(0, requested.survival_micro)
//	conversion       = required_time_ms*time_to_survival + required_io_units*io_to_survival + required_token_units*token_to_survival
//	scaled           = (base_survival + conversion) * multiplier_milli / 1000
func estimateCost(base, requested ids.ResourceVector, policy CostPolicy, multiplierPPT int64) Estimate {
	requiredTime := max64(base.TimeMS, requested.TimeMS)
	requiredIO := max64(base.IOUnits, requested.IOUnits)
	requiredToken := max64(base.TokenUnits, requested.TokenUnits)

	baseSurvival := max64(0, base.SurvivalMicro) + max64(0, requested.SurvivalMicro)

	conversion := requiredTime*policy.TimeToSurvival + requiredIO*policy.IOToSurvival + requiredToken*policy.TokenToSurvival

	scaled := (baseSurvival + conversion) * multiplierPPT / 1000

	return Estimate{
		RequiredTimeMS:     requiredTime,
		RequiredIOUnits:    requiredIO,
		RequiredTokenUnits: requiredToken,
		RequiredSurvival:   scaled,
	}
}

// AffordabilitySnapshot is built to decide whether an estimate fits
// within runtime limits and the available survival budget (spec §4.2
// step 6).
type AffordabilitySnapshot struct {
	AvailableSurvival int64
	RequiredSurvival  int64
	Required          ids.ResourceVector // time/io/token populated, survival ignored
	Max               ids.ResourceVector // time/io/token populated from cost policy
}

func (s AffordabilitySnapshot) withinRuntimeLimits() bool {
	return s.Required.TimeMS <= s.Max.TimeMS &&
		s.Required.IOUnits <= s.Max.IOUnits &&
		s.Required.TokenUnits <= s.Max.TokenUnits
}

func (s AffordabilitySnapshot) survivalAffordable() bool {
	return s.RequiredSurvival <= s.AvailableSurvival
}

func (s AffordabilitySnapshot) fits() bool {
	return s.withinRuntimeLimits() && s.survivalAffordable()
}

func buildSnapshot(available int64, est Estimate, policy CostPolicy) AffordabilitySnapshot {
	return AffordabilitySnapshot{
		AvailableSurvival: available,
		RequiredSurvival:  est.RequiredSurvival,
		Required: ids.ResourceVector{
			TimeMS:     est.RequiredTimeMS,
			IOUnits:    est.RequiredIOUnits,
			TokenUnits: est.RequiredTokenUnits,
		},
		Max: ids.ResourceVector{
			TimeMS:     policy.MaxTimeMS,
			IOUnits:    policy.MaxIOUnits,
			TokenUnits: policy.MaxTokenUnits,
		},
	}
}

// firstExceededCode returns the first violated budget code in the §4.2
// step-8 fixed order.
func firstExceededCode(s AffordabilitySnapshot) string {
	switch {
	case s.Required.TimeMS > s.Max.TimeMS:
		return "time_budget_exceeded"
	case s.Required.IOUnits > s.Max.IOUnits:
		return "io_budget_exceeded"
	case s.Required.TokenUnits > s.Max.TokenUnits:
		return "token_budget_exceeded"
	default:
		return "insufficient_survival_budget"
	}
}

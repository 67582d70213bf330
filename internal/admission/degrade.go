package admission

import "sort"

// degradationCandidate pairs a degradation profile's estimate with the
// bookkeeping needed for deterministic tie-breaking (spec §4.2, §8).
type degradationCandidate struct {
	profile      DegradationProfile
	originalIdx  int
	estimate     Estimate
	snapshot     AffordabilitySnapshot
}

// rankCandidates sorts degradation candidates per the chosen
// preference, breaking ties by profile id then original input index
// (spec §4.2 "Degradation preference ordering" and §8 tie-break test).
func rankCandidates(cands []degradationCandidate, pref Preference) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]

		switch pref {
		case LeastCapabilityLossFirst:
			if a.profile.CapabilityLossScore != b.profile.CapabilityLossScore {
				return a.profile.CapabilityLossScore < b.profile.CapabilityLossScore
			}

			if a.estimate.RequiredSurvival != b.estimate.RequiredSurvival {
				return a.estimate.RequiredSurvival < b.estimate.RequiredSurvival
			}
		case CheapestFirst:
			if a.estimate.RequiredSurvival != b.estimate.RequiredSurvival {
				return a.estimate.RequiredSurvival < b.estimate.RequiredSurvival
			}

			if a.profile.CapabilityLossScore != b.profile.CapabilityLossScore {
				return a.profile.CapabilityLossScore < b.profile.CapabilityLossScore
			}
		}

		if a.profile.ProfileID != b.profile.ProfileID {
			return a.profile.ProfileID < b.profile.ProfileID
		}

		return a.originalIdx < b.originalIdx
	})
}

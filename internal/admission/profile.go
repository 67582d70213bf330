package admission

import "github.com/stemrun/stemcore/internal/ids"

// DegradationProfile is one fallback capability variant for an
// affordance (spec §3).
type DegradationProfile struct {
	ProfileID            string
	Depth                int
	CapabilityLossScore  int
	MultiplierPPT         int64 // parts-per-thousand
	CapabilityHandleOverride string
}

// AffordanceProfile is the policy + cost description keyed by
// affordance key (spec §3).
type AffordanceProfile struct {
	AffordanceKey       string
	CanonicalCapability string
	MaxPayloadBytes     int
	Base                ids.ResourceVector
	Degradations        []DegradationProfile // in declared (original_index) order
	CostPolicy          *CostPolicy
}

// CostPolicy carries the runtime limits and conversion rates used to
// estimate and bound cost (spec §4.2).
type CostPolicy struct {
	TimeToSurvival  int64
	IOToSurvival    int64
	TokenToSurvival int64

	MaxTimeMS     int64
	MaxIOUnits    int64
	MaxTokenUnits int64

	ReserveRatioPPT int64 // reserve_ratio_milli in spec text
	MaxDegradeDepth int
	MaxVariants     int
}

// Preference selects how degradation candidates are ordered (spec
// §4.2).
type Preference int

const (
	LeastCapabilityLossFirst Preference = iota
	CheapestFirst
)

// ProfileRegistry resolves affordance keys to their profile.
type ProfileRegistry interface {
	Lookup(affordanceKey string) (AffordanceProfile, bool)
}

// MapProfileRegistry is a simple in-memory ProfileRegistry.
type MapProfileRegistry map[string]AffordanceProfile

func (m MapProfileRegistry) Lookup(affordanceKey string) (AffordanceProfile, bool) {
	p, ok := m[affordanceKey]
	return p, ok
}

// Package admission implements the Admission Resolver: the fixed
// 8-step algorithm that turns a batch of candidate attempts into
// admitted (possibly degraded) actions or recorded denials, against a
// survival-budget ledger (spec §4.2).
package admission

import (
	"sort"

	"github.com/stemrun/stemcore/internal/errs"
	"github.com/stemrun/stemcore/internal/ids"
	"github.com/stemrun/stemcore/internal/ledger"
)

// Attempt is one candidate action surfaced by the Cognition Reactor
// for admission (spec §3, §4.2).
type Attempt struct {
	AttemptID         string
	Cycle             int64
	Commitment        string
	Goal              string
	PlannerSlot       string
	AffordanceKey     string
	CapabilityHandle  string
	NormalizedPayload any
	PayloadBytes      int
	Requested         ids.ResourceVector
	CostAttributionID string
}

// DenialKind distinguishes denials that never reach cost estimation
// from denials on economic grounds (spec §4.2).
type DenialKind string

const (
	DeniedHard     DenialKind = "DeniedHard"
	DeniedEconomic DenialKind = "DeniedEconomic"
)

// Denial records why an attempt was not admitted.
type Denial struct {
	AttemptID string
	Kind      DenialKind
	Code      string
}

// AdmittedAction is a materialized, ledger-backed action ready for
// dispatch (spec §4.2 "Materialization of an admitted action").
type AdmittedAction struct {
	ActionID          string
	AttemptID         string
	AffordanceKey     string
	CapabilityHandle  string
	NormalizedPayload any
	Degraded          bool
	ProfileID         string
	ReservationID     string
	ReservedAmount    int64
	CostAttributionID string
}

// Decision is the outcome of resolving one batch of attempts.
type Decision struct {
	Admitted []AdmittedAction
	Denied   []Denial
}

// Resolve runs the fixed 8-step admission algorithm against attempts,
// reserving survival budget on the ledger for everything it admits
// (spec §4.2):
//
//  1. sort attempts by attempt id (deterministic processing order)
//  2. look up the affordance profile; unknown -> DeniedHard
//  3. check the capability handle equals the profile's canonical
//     capability handle exactly; unsupported -> DeniedHard (a
//     degradation's capability handle override is applied only by the
//     resolver itself during materialization, never accepted as input)
//  4. check payload size against the profile's limit; too large ->
//     DeniedHard
//  5. estimate base cost
//  6. build an affordability snapshot and check it fits
//  7. if it doesn't fit, enumerate degradation profiles (bounded by
//     MaxDegradeDepth/MaxVariants), rank them by pref, and admit the
//     first that fits
//  8. otherwise DeniedEconomic with the first exceeded budget code
func Resolve(l *ledger.Ledger, registry ProfileRegistry, attempts []Attempt, pref Preference, ttlCycles int64, versions ledger.PolicyVersions) (Decision, error) {
	sorted := make([]Attempt, len(attempts))
	copy(sorted, attempts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].AttemptID < sorted[j].AttemptID })

	var decision Decision

	for _, a := range sorted {
		profile, ok := registry.Lookup(a.AffordanceKey)
		if !ok {
			decision.Denied = append(decision.Denied, Denial{AttemptID: a.AttemptID, Kind: DeniedHard, Code: "unknown_affordance"})
			continue
		}

		if a.CapabilityHandle != profile.CanonicalCapability {
			decision.Denied = append(decision.Denied, Denial{AttemptID: a.AttemptID, Kind: DeniedHard, Code: "unsupported_capability_handle"})
			continue
		}

		if a.PayloadBytes > profile.MaxPayloadBytes {
			decision.Denied = append(decision.Denied, Denial{AttemptID: a.AttemptID, Kind: DeniedHard, Code: "payload_too_large"})
			continue
		}

		policy, ok := policyFor(profile)
		if !ok {
			decision.Denied = append(decision.Denied, Denial{AttemptID: a.AttemptID, Kind: DeniedHard, Code: "unknown_affordance"})
			continue
		}

		available := l.Balance()

		est := estimateCost(profile.Base, a.Requested, policy, 1000)
		snap := buildSnapshot(available, est, policy)

		if snap.fits() {
			admitted, err := materialize(l, a, profile.AffordanceKey, a.CapabilityHandle, false, "", est.RequiredSurvival, policy, ttlCycles, versions)
			if err != nil {
				return decision, err
			}

			decision.Admitted = append(decision.Admitted, admitted)

			continue
		}

		admitted, denial, err := tryDegrade(l, registry, profile, policy, a, pref, ttlCycles, versions)
		if err != nil {
			return decision, err
		}

		if denial != nil {
			decision.Denied = append(decision.Denied, *denial)
			continue
		}

		decision.Admitted = append(decision.Admitted, *admitted)
	}

	return decision, nil
}

// tryDegrade enumerates every depth-valid degradation in
// profile.Degradations, ranks all of them by pref, takes the first
// policy.MaxVariants of that ranking, and materializes the first of
// those that fits (spec §4.2 step 7; original_source
// find_degraded_candidate: filter by depth -> estimate -> sort by
// preference -> take(max_variants) -> pick first affordable). Ranking
// before truncating matters: under a preference ordering where the
// best variant isn't first in profile.Degradations' input order,
// truncating by MaxVariants before ranking could discard it.
func tryDegrade(l *ledger.Ledger, _ ProfileRegistry, profile AffordanceProfile, policy CostPolicy, a Attempt, pref Preference, ttlCycles int64, versions ledger.PolicyVersions) (*AdmittedAction, *Denial, error) {
	available := l.Balance()

	var candidates []degradationCandidate

	for i, d := range profile.Degradations {
		if d.Depth > policy.MaxDegradeDepth {
			continue
		}

		est := estimateCost(profile.Base, a.Requested, policy, d.MultiplierPPT)
		snap := buildSnapshot(available, est, policy)

		candidates = append(candidates, degradationCandidate{profile: d, originalIdx: i, estimate: est, snapshot: snap})
	}

	if len(candidates) == 0 {
		worstSnap := buildSnapshot(available, estimateCost(profile.Base, a.Requested, policy, 1000), policy)
		return nil, &Denial{AttemptID: a.AttemptID, Kind: DeniedEconomic, Code: firstExceededCode(worstSnap)}, nil
	}

	rankCandidates(candidates, pref)

	if len(candidates) > policy.MaxVariants {
		candidates = candidates[:policy.MaxVariants]
	}

	var chosen *degradationCandidate

	for i := range candidates {
		if candidates[i].snapshot.fits() {
			chosen = &candidates[i]
			break
		}
	}

	if chosen == nil {
		worstSnap := buildSnapshot(available, estimateCost(profile.Base, a.Requested, policy, 1000), policy)
		return nil, &Denial{AttemptID: a.AttemptID, Kind: DeniedEconomic, Code: firstExceededCode(worstSnap)}, nil
	}

	handle := chosen.profile.CapabilityHandleOverride

	if handle == "" {
		handle = a.CapabilityHandle
	}

	admitted, err := materialize(l, a, profile.AffordanceKey, handle, true, chosen.profile.ProfileID, chosen.estimate.RequiredSurvival, policy, ttlCycles, versions)
	if err != nil {
		return nil, nil, err
	}

	return &admitted, nil, nil
}

// materialize reserves ReserveRatioPPT of requiredSurvival against the
// ledger, derives the action id, binds it to the reservation, and
// returns the admitted action (spec §4.2 "Materialization").
func materialize(l *ledger.Ledger, a Attempt, affordanceKey, capabilityHandle string, degraded bool, profileID string, requiredSurvival int64, policy CostPolicy, ttlCycles int64, versions ledger.PolicyVersions) (AdmittedAction, error) {
	reserveAmount := requiredSurvival * policy.ReserveRatioPPT / 1000

	reservationID, err := l.Reserve(a.Cycle, reserveAmount, ttlCycles, a.CostAttributionID, a.AttemptID, versions)
	if err != nil {
		return AdmittedAction{}, err
	}

	actionID, err := ids.ActionID(ids.ActionKey{Cycle: a.Cycle, SourceAttemptID: a.AttemptID, ReservationID: reservationID})
	if err != nil {
		return AdmittedAction{}, errs.InvariantViolationError{Code: "action_id_derivation_failed", Message: "could not derive action id", Err: err}
	}

	if err := l.AttachActionID(reservationID, actionID); err != nil {
		return AdmittedAction{}, err
	}

	return AdmittedAction{
		ActionID:          actionID,
		AttemptID:         a.AttemptID,
		AffordanceKey:     affordanceKey,
		CapabilityHandle:  capabilityHandle,
		NormalizedPayload: a.NormalizedPayload,
		Degraded:          degraded,
		ProfileID:         profileID,
		ReservationID:     reservationID,
		ReservedAmount:    reserveAmount,
		CostAttributionID: a.CostAttributionID,
	}, nil
}

// policyFor extracts the CostPolicy carried alongside an
// AffordanceProfile through its CostPolicy field. A profile whose
// CostPolicy is nil fails lookup here, which surfaces as
// unknown_affordance.
func policyFor(profile AffordanceProfile) (CostPolicy, bool) {
	if profile.CostPolicy == nil {
		return CostPolicy{}, false
	}

	return *profile.CostPolicy, true
}

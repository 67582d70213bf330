// Package continuity implements the continuity pre-dispatch guard and
// post-event hook: a pluggable revocation check consulted before each
// dispatch, and an observer of the resulting spine event (spec §4.6
// step 6b, supplemented from original_source core/src/continuity).
//
// No persistent continuity store is implemented (a Non-goal); the
// default Guard is an in-memory, always-allow implementation that
// still exercises every hook point the stem loop calls.
package continuity

import (
	"github.com/stemrun/stemcore/internal/admission"
	"github.com/stemrun/stemcore/internal/cognition"
	"github.com/stemrun/stemcore/internal/spine"
)

// Verdict is the outcome of a pre-dispatch continuity check.
type Verdict struct {
	Allowed bool
	Reason  string
}

// Guard is consulted once per admitted action, immediately after the
// ledger reservation succeeds and before the spine is called (spec
// §4.6 step 6b).
type Guard interface {
	PreDispatch(snapshot cognition.Snapshot, action admission.AdmittedAction) Verdict
	PostEvent(snapshot cognition.Snapshot, action admission.AdmittedAction, event spine.OrderedSpineEvent)
}

// AlwaysAllowGuard is the default Guard: it never revokes and its
// PostEvent hook is a no-op observer point for future continuity
// state (spec §11).
type AlwaysAllowGuard struct{}

func (AlwaysAllowGuard) PreDispatch(cognition.Snapshot, admission.AdmittedAction) Verdict {
	return Verdict{Allowed: true}
}

func (AlwaysAllowGuard) PostEvent(cognition.Snapshot, admission.AdmittedAction, spine.OrderedSpineEvent) {
}

// RevocationGuard tracks a set of revoked affordance keys and denies
// dispatch of any admitted action targeting one, synthesizing the
// wire-level continuity_break reason code (spec §6.2, §4.6 step 6b).
type RevocationGuard struct {
	revoked map[string]bool
}

// NewRevocationGuard constructs a guard with the given revoked
// affordance keys.
func NewRevocationGuard(revokedAffordanceKeys ...string) *RevocationGuard {
	revoked := make(map[string]bool, len(revokedAffordanceKeys))
	for _, k := range revokedAffordanceKeys {
		revoked[k] = true
	}

	return &RevocationGuard{revoked: revoked}
}

func (g *RevocationGuard) Revoke(affordanceKey string) {
	g.revoked[affordanceKey] = true
}

func (g *RevocationGuard) PreDispatch(_ cognition.Snapshot, action admission.AdmittedAction) Verdict {
	if g.revoked[action.AffordanceKey] {
		return Verdict{Allowed: false, Reason: "continuity_break"}
	}

	return Verdict{Allowed: true}
}

func (g *RevocationGuard) PostEvent(cognition.Snapshot, admission.AdmittedAction, spine.OrderedSpineEvent) {}

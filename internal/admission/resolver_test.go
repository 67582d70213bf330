package admission_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stemrun/stemcore/internal/admission"
	"github.com/stemrun/stemcore/internal/ids"
	"github.com/stemrun/stemcore/internal/ledger"
)

func versions() ledger.PolicyVersions {
	return ledger.PolicyVersions{Affordance: "v1", CostPolicy: "v1", Ruleset: "v1"}
}

func policy() admission.CostPolicy {
	return admission.CostPolicy{
		TimeToSurvival:  1,
		IOToSurvival:    1,
		TokenToSurvival: 1,
		MaxTimeMS:       10_000,
		MaxIOUnits:      10_000,
		MaxTokenUnits:   10_000,
		ReserveRatioPPT: 1000,
		MaxDegradeDepth: 3,
		MaxVariants:     10,
	}
}

func registryWithDegradation() admission.MapProfileRegistry {
	p := policy()

	return admission.MapProfileRegistry{
		"send_email": admission.AffordanceProfile{
			AffordanceKey:       "send_email",
			CanonicalCapability: "cap:email.rich",
			MaxPayloadBytes:     4096,
			Base:                ids.ResourceVector{SurvivalMicro: 800},
			CostPolicy:          &p,
			Degradations: []admission.DegradationProfile{
				{ProfileID: "plain_text", Depth: 1, CapabilityLossScore: 2, MultiplierPPT: 500, CapabilityHandleOverride: "cap:email.plain"},
			},
		},
	}
}

func attempt(id, affordance, handle string, survival int64) admission.Attempt {
	return admission.Attempt{
		AttemptID:        id,
		Cycle:            1,
		AffordanceKey:    affordance,
		CapabilityHandle: handle,
		Requested:        ids.ResourceVector{SurvivalMicro: survival},
		CostAttributionID: "cat:x",
	}
}

func TestUnknownAffordanceIsDeniedHard(t *testing.T) {
	l := ledger.New(10_000)
	decision, err := admission.Resolve(l, registryWithDegradation(), []admission.Attempt{
		attempt("att:1", "unknown_thing", "cap:x", 10),
	}, admission.LeastCapabilityLossFirst, 5, versions())

	require.NoError(t, err)
	require.Empty(t, decision.Admitted)
	require.Len(t, decision.Denied, 1)
	require.Equal(t, admission.DeniedHard, decision.Denied[0].Kind)
	require.Equal(t, "unknown_affordance", decision.Denied[0].Code)
}

func TestAffordableAttemptAdmitsAtBase(t *testing.T) {
	l := ledger.New(10_000)
	decision, err := admission.Resolve(l, registryWithDegradation(), []admission.Attempt{
		attempt("att:1", "send_email", "cap:email.rich", 0),
	}, admission.LeastCapabilityLossFirst, 5, versions())

	require.NoError(t, err)
	require.Empty(t, decision.Denied)
	require.Len(t, decision.Admitted, 1)
	require.False(t, decision.Admitted[0].Degraded)
	require.Equal(t, int64(800), l.InitialBudget()-l.Balance())
}

func TestTooExpensiveDegradesToFittingProfile(t *testing.T) {
	l := ledger.New(500) // base cost 800 doesn't fit, degraded (x0.5) = 400 fits
	decision, err := admission.Resolve(l, registryWithDegradation(), []admission.Attempt{
		attempt("att:1", "send_email", "cap:email.rich", 0),
	}, admission.LeastCapabilityLossFirst, 5, versions())

	require.NoError(t, err)
	require.Empty(t, decision.Denied)
	require.Len(t, decision.Admitted, 1)
	require.True(t, decision.Admitted[0].Degraded)
	require.Equal(t, "plain_text", decision.Admitted[0].ProfileID)
}

func TestNothingFitsIsDeniedEconomic(t *testing.T) {
	l := ledger.New(1) // not even the degraded profile fits
	decision, err := admission.Resolve(l, registryWithDegradation(), []admission.Attempt{
		attempt("att:1", "send_email", "cap:email.rich", 0),
	}, admission.LeastCapabilityLossFirst, 5, versions())

	require.NoError(t, err)
	require.Empty(t, decision.Admitted)
	require.Len(t, decision.Denied, 1)
	require.Equal(t, admission.DeniedEconomic, decision.Denied[0].Kind)
	require.Equal(t, "insufficient_survival_budget", decision.Denied[0].Code)
}

func TestUnsupportedCapabilityHandleIsDeniedHard(t *testing.T) {
	l := ledger.New(10_000)
	decision, err := admission.Resolve(l, registryWithDegradation(), []admission.Attempt{
		attempt("att:1", "send_email", "cap:email.carrier_pigeon", 0),
	}, admission.LeastCapabilityLossFirst, 5, versions())

	require.NoError(t, err)
	require.Empty(t, decision.Admitted)
	require.Len(t, decision.Denied, 1)
	require.Equal(t, "unsupported_capability_handle", decision.Denied[0].Code)
}

func TestCapabilityHandleCheckPrecedesPayloadSizeCheck(t *testing.T) {
	l := ledger.New(10_000)

	a := attempt("att:1", "send_email", "cap:email.carrier_pigeon", 0)
	a.PayloadBytes = 999_999 // also oversized: handle check must win

	decision, err := admission.Resolve(l, registryWithDegradation(), []admission.Attempt{a}, admission.LeastCapabilityLossFirst, 5, versions())

	require.NoError(t, err)
	require.Len(t, decision.Denied, 1)
	require.Equal(t, "unsupported_capability_handle", decision.Denied[0].Code)
}

func TestDegradationCapabilityHandleOverrideRejectedAsAttemptInput(t *testing.T) {
	l := ledger.New(10_000)

	// "cap:email.plain" is only a degradation's CapabilityHandleOverride,
	// never an attempt-supplied handle the resolver accepts directly.
	decision, err := admission.Resolve(l, registryWithDegradation(), []admission.Attempt{
		attempt("att:1", "send_email", "cap:email.plain", 0),
	}, admission.LeastCapabilityLossFirst, 5, versions())

	require.NoError(t, err)
	require.Empty(t, decision.Admitted)
	require.Len(t, decision.Denied, 1)
	require.Equal(t, admission.DeniedHard, decision.Denied[0].Kind)
	require.Equal(t, "unsupported_capability_handle", decision.Denied[0].Code)
}

func TestDegradeRanksBeforeTruncatingToMaxVariants(t *testing.T) {
	p := policy()
	p.MaxVariants = 2

	registry := admission.MapProfileRegistry{
		"send_email": admission.AffordanceProfile{
			AffordanceKey:       "send_email",
			CanonicalCapability: "cap:email.rich",
			MaxPayloadBytes:     4096,
			Base:                ids.ResourceVector{SurvivalMicro: 1000},
			CostPolicy:          &p,
			Degradations: []admission.DegradationProfile{
				{ProfileID: "too_pricey_a", Depth: 1, CapabilityLossScore: 1, MultiplierPPT: 900, CapabilityHandleOverride: "cap:email.a"},
				{ProfileID: "too_pricey_b", Depth: 1, CapabilityLossScore: 1, MultiplierPPT: 950, CapabilityHandleOverride: "cap:email.b"},
				{ProfileID: "cheap_fit", Depth: 1, CapabilityLossScore: 3, MultiplierPPT: 100, CapabilityHandleOverride: "cap:email.c"},
			},
		},
	}

	// budget 150: only the 100ppt degradation (index 2 in input order)
	// fits; truncating to MaxVariants=2 *before* ranking would only ever
	// look at the two indices that don't fit.
	l := ledger.New(150)
	decision, err := admission.Resolve(l, registry, []admission.Attempt{
		attempt("att:1", "send_email", "cap:email.rich", 0),
	}, admission.CheapestFirst, 5, versions())

	require.NoError(t, err)
	require.Empty(t, decision.Denied)
	require.Len(t, decision.Admitted, 1)
	require.Equal(t, "cheap_fit", decision.Admitted[0].ProfileID)
}

func TestAttemptsProcessedInSortedAttemptIDOrder(t *testing.T) {
	l := ledger.New(10_000)
	decision, err := admission.Resolve(l, registryWithDegradation(), []admission.Attempt{
		attempt("att:z", "send_email", "cap:email.rich", 0),
		attempt("att:a", "send_email", "cap:email.rich", 0),
	}, admission.LeastCapabilityLossFirst, 5, versions())

	require.NoError(t, err)
	require.Len(t, decision.Admitted, 2)
	require.Equal(t, "att:a", decision.Admitted[0].AttemptID)
	require.Equal(t, "att:z", decision.Admitted[1].AttemptID)
}

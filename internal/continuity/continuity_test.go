package continuity_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stemrun/stemcore/internal/admission"
	"github.com/stemrun/stemcore/internal/cognition"
	"github.com/stemrun/stemcore/internal/continuity"
)

func TestAlwaysAllowGuardAllows(t *testing.T) {
	g := continuity.AlwaysAllowGuard{}
	v := g.PreDispatch(cognition.Snapshot{}, admission.AdmittedAction{AffordanceKey: "send_email"})
	require.True(t, v.Allowed)
}

func TestRevocationGuardDeniesRevokedAffordance(t *testing.T) {
	g := continuity.NewRevocationGuard("send_email")

	denied := g.PreDispatch(cognition.Snapshot{}, admission.AdmittedAction{AffordanceKey: "send_email"})
	require.False(t, denied.Allowed)
	require.Equal(t, "continuity_break", denied.Reason)

	allowed := g.PreDispatch(cognition.Snapshot{}, admission.AdmittedAction{AffordanceKey: "send_sms"})
	require.True(t, allowed.Allowed)
}

func TestRevocationGuardRevokeAtRuntime(t *testing.T) {
	g := continuity.NewRevocationGuard()
	require.True(t, g.PreDispatch(cognition.Snapshot{}, admission.AdmittedAction{AffordanceKey: "send_sms"}).Allowed)

	g.Revoke("send_sms")
	require.False(t, g.PreDispatch(cognition.Snapshot{}, admission.AdmittedAction{AffordanceKey: "send_sms"}).Allowed)
}

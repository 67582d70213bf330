package registry_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stemrun/stemcore/internal/registry"
)

func descriptor(endpointID, capabilityID string) registry.Descriptor {
	return registry.Descriptor{
		EndpointID:      endpointID,
		CapabilityID:    capabilityID,
		PayloadSchema:   "schema:v1",
		MaxPayloadBytes: 4096,
	}
}

func TestRegisterInlineThenLookup(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.RegisterInline(descriptor("ep.a", "cap.send")))

	d, kind, ok := r.Lookup(registry.RouteKey{EndpointID: "ep.a", CapabilityID: "cap.send"})
	require.True(t, ok)
	require.Equal(t, registry.TransportInline, kind)
	require.Equal(t, "schema:v1", d.PayloadSchema)
}

func TestReRegisteringInconsistentDescriptorFails(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.RegisterInline(descriptor("ep.a", "cap.send")))

	bad := descriptor("ep.a", "cap.send")
	bad.MaxPayloadBytes = 1

	require.Error(t, r.RegisterInline(bad))
}

func TestEndpointCannotSwitchTransport(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.RegisterInline(descriptor("ep.a", "cap.send")))

	channelID := r.OpenSession(1)
	err := r.RegisterAdapter(descriptor("ep.a", "cap.recv"), channelID)
	require.Error(t, err)
}

func TestRegisterAdapterRequiresOpenSession(t *testing.T) {
	r := registry.New()
	err := r.RegisterAdapter(descriptor("ep.b", "cap.send"), 999)
	require.Error(t, err)
}

func TestOpenSessionChannelIDFormula(t *testing.T) {
	r := registry.New()

	first := r.OpenSession(7)
	second := r.OpenSession(7)

	require.Equal(t, int64(7)<<32|1, first)
	require.Equal(t, int64(7)<<32|2, second)
}

func TestCloseSessionDropsOwnedRoutesAndBumpsVersion(t *testing.T) {
	r := registry.New()
	channelID := r.OpenSession(1)
	require.NoError(t, r.RegisterAdapter(descriptor("ep.c", "cap.a"), channelID))
	require.NoError(t, r.RegisterAdapter(descriptor("ep.c", "cap.b"), channelID))

	versionBefore := r.Version()
	dropped := r.CloseSession(channelID)
	require.Len(t, dropped, 2)
	require.Greater(t, r.Version(), versionBefore)

	_, _, ok := r.Lookup(registry.RouteKey{EndpointID: "ep.c", CapabilityID: "cap.a"})
	require.False(t, ok)
}

func TestSnapshotIsSortedByEndpointThenCapability(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.RegisterInline(descriptor("ep.b", "cap.z")))
	require.NoError(t, r.RegisterInline(descriptor("ep.a", "cap.y")))
	require.NoError(t, r.RegisterInline(descriptor("ep.a", "cap.x")))

	_, snap := r.Snapshot()
	require.Len(t, snap, 3)
	require.Equal(t, "ep.a", snap[0].EndpointID)
	require.Equal(t, "cap.x", snap[0].CapabilityID)
	require.Equal(t, "cap.y", snap[1].CapabilityID)
	require.Equal(t, "ep.b", snap[2].EndpointID)
}

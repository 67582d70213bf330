package spine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stemrun/stemcore/internal/spine"
)

type fakeEndpoint struct {
	outcome spine.Outcome
	err     error
}

func (f fakeEndpoint) Invoke(context.Context, spine.Action) (spine.Outcome, error) {
	return f.outcome, f.err
}

func TestDispatchMapsOutcomesInOrder(t *testing.T) {
	router := spine.MapRouter{
		spine.RouteKey{EndpointID: "ep", CapabilityID: "applied"}:  fakeEndpoint{outcome: spine.Outcome{Kind: spine.OutcomeApplied, ActualCost: 10, Reference: "ref1"}},
		spine.RouteKey{EndpointID: "ep", CapabilityID: "rejected"}: fakeEndpoint{outcome: spine.Outcome{Kind: spine.OutcomeRejected, ReasonCode: "nope"}},
		spine.RouteKey{EndpointID: "ep", CapabilityID: "deferred"}: fakeEndpoint{outcome: spine.Outcome{Kind: spine.OutcomeDeferred, ReasonCode: "later"}},
	}

	d := spine.New(router)
	report := d.Dispatch(context.Background(), 3, 1, []spine.Action{
		{ActionID: "act1", EndpointID: "ep", CapabilityID: "applied"},
		{ActionID: "act2", EndpointID: "ep", CapabilityID: "rejected"},
		{ActionID: "act3", EndpointID: "ep", CapabilityID: "deferred"},
	})

	require.Equal(t, "SerializedDeterministic", report.Mode)
	require.Equal(t, "route:3:3:1", report.ReplayCursor)
	require.Len(t, report.Events, 3)

	require.Equal(t, spine.EventActionApplied, report.Events[0].Kind)
	require.Equal(t, int64(10), report.Events[0].ActualCostMicro)
	require.Equal(t, 1, report.Events[0].SeqNo)

	require.Equal(t, spine.EventActionRejected, report.Events[1].Kind)
	require.Equal(t, "nope", report.Events[1].ReasonCode)

	require.Equal(t, spine.EventActionDeferred, report.Events[2].Kind)
}

func TestDispatchUnknownRouteRejects(t *testing.T) {
	d := spine.New(spine.MapRouter{})
	report := d.Dispatch(context.Background(), 1, 1, []spine.Action{{ActionID: "act1", EndpointID: "ep", CapabilityID: "missing"}})

	require.Len(t, report.Events, 1)
	require.Equal(t, spine.EventActionRejected, report.Events[0].Kind)
	require.Equal(t, "route_not_found", report.Events[0].ReasonCode)
}

func TestDispatchEndpointErrorRejects(t *testing.T) {
	router := spine.MapRouter{
		spine.RouteKey{EndpointID: "ep", CapabilityID: "boom"}: fakeEndpoint{err: errors.New("down")},
	}

	d := spine.New(router)
	report := d.Dispatch(context.Background(), 1, 1, []spine.Action{{ActionID: "act1", EndpointID: "ep", CapabilityID: "boom"}})

	require.Len(t, report.Events, 1)
	require.Equal(t, spine.EventActionRejected, report.Events[0].Kind)
	require.Equal(t, "endpoint_error", report.Events[0].ReasonCode)
}

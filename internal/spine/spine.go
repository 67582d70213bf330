// Package spine implements the Spine Dispatcher: a SerializedDeterministic
// mapping from admitted actions to endpoint invocations and ordered
// events (spec §4.3).
package spine

import (
	"context"
	"fmt"

	"github.com/stemrun/stemcore/internal/registry"
)

// Outcome is what an endpoint reports back for one invocation (spec
// §6.2).
type Outcome struct {
	Kind        OutcomeKind
	ActualCost  int64
	Reference   string
	ReasonCode  string
}

type OutcomeKind string

const (
	OutcomeApplied  OutcomeKind = "Applied"
	OutcomeRejected OutcomeKind = "Rejected"
	OutcomeDeferred OutcomeKind = "Deferred"
)

// Endpoint is anything the spine can invoke for a route. Inline
// endpoints implement this directly; adapter-channel endpoints are
// adapted to it by the transport layer.
type Endpoint interface {
	Invoke(ctx context.Context, action Action) (Outcome, error)
}

// Action is one admitted action ready for dispatch.
type Action struct {
	ActionID          string
	EndpointID        string
	CapabilityID      string
	CapabilityInstanceID string
	NormalizedPayload any
	ReservedCostMicro int64
}

// EventKind enumerates the spine's ordered event kinds (spec §4.3).
type EventKind string

const (
	EventActionApplied  EventKind = "ActionApplied"
	EventActionRejected EventKind = "ActionRejected"
	EventActionDeferred EventKind = "ActionDeferred"
)

// OrderedSpineEvent is one dispatch outcome tagged with its 1-based
// position in the cycle.
type OrderedSpineEvent struct {
	SeqNo           int
	ActionID        string
	Kind            EventKind
	ActualCostMicro int64
	Reference       string
	ReasonCode      string
}

// SpineExecutionReport is returned once per cycle's worth of dispatch
// (spec §4.3).
type SpineExecutionReport struct {
	Mode         string
	ReplayCursor string
	Events       []OrderedSpineEvent
}

// Router resolves a (endpoint_id, capability_id) route to its
// Endpoint. The registry's Lookup plus a transport adapter implements
// this in practice.
type Router interface {
	Resolve(key registry.RouteKey) (Endpoint, bool)
}

// MapRouter is a direct endpoint_id/capability_id -> Endpoint binding,
// used to wire inline handlers and adapter-channel endpoints (e.g.
// internal/eventbus.Endpoint) without re-deriving routing from the
// registry on every dispatch.
type MapRouter map[RouteKey]Endpoint

func (m MapRouter) Resolve(key registry.RouteKey) (Endpoint, bool) {
	ep, ok := m[RouteKey(key)]
	return ep, ok
}

// RouteKey mirrors registry.RouteKey so callers building a MapRouter
// don't need to import the registry package just to key it.
type RouteKey = registry.RouteKey

// Dispatcher drives the SerializedDeterministic mode: one action at a
// time, in input order, never concurrently.
type Dispatcher struct {
	router Router
}

// New constructs a Dispatcher bound to router.
func New(router Router) *Dispatcher {
	return &Dispatcher{router: router}
}

// Dispatch invokes each action in order and records exactly one event
// per action (spec §4.3). It never returns an error itself; per-action
// failures are mapped into ActionRejected events.
func (d *Dispatcher) Dispatch(ctx context.Context, cycle int64, registryVersion int64, actions []Action) SpineExecutionReport {
	events := make([]OrderedSpineEvent, 0, len(actions))

	for i, a := range actions {
		seqNo := i + 1

		ep, ok := d.router.Resolve(registry.RouteKey{EndpointID: a.EndpointID, CapabilityID: a.CapabilityID})
		if !ok {
			events = append(events, OrderedSpineEvent{SeqNo: seqNo, ActionID: a.ActionID, Kind: EventActionRejected, ReasonCode: "route_not_found"})
			continue
		}

		outcome, err := ep.Invoke(ctx, a)
		if err != nil {
			events = append(events, OrderedSpineEvent{SeqNo: seqNo, ActionID: a.ActionID, Kind: EventActionRejected, ReasonCode: "endpoint_error"})
			continue
		}

		events = append(events, mapOutcome(seqNo, a.ActionID, outcome))
	}

	return SpineExecutionReport{
		Mode:         "SerializedDeterministic",
		ReplayCursor: fmt.Sprintf("route:%d:%d:%d", cycle, len(events), registryVersion),
		Events:       events,
	}
}

func mapOutcome(seqNo int, actionID string, o Outcome) OrderedSpineEvent {
	switch o.Kind {
	case OutcomeApplied:
		return OrderedSpineEvent{SeqNo: seqNo, ActionID: actionID, Kind: EventActionApplied, ActualCostMicro: o.ActualCost, Reference: o.Reference}
	case OutcomeRejected:
		return OrderedSpineEvent{SeqNo: seqNo, ActionID: actionID, Kind: EventActionRejected, ReasonCode: o.ReasonCode, Reference: o.Reference}
	case OutcomeDeferred:
		return OrderedSpineEvent{SeqNo: seqNo, ActionID: actionID, Kind: EventActionDeferred, ReasonCode: o.ReasonCode}
	default:
		return OrderedSpineEvent{SeqNo: seqNo, ActionID: actionID, Kind: EventActionRejected, ReasonCode: "endpoint_error"}
	}
}

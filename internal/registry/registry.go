// Package registry implements the Endpoint Registry: the catalog of
// invocable endpoints and their capability descriptors, plus the
// session bookkeeping for adapter-channel transports (spec §4.3).
package registry

import (
	"sort"
	"sync"

	"github.com/stemrun/stemcore/internal/errs"
	"github.com/stemrun/stemcore/internal/ids"
)

// TransportKind distinguishes directly-invoked endpoints from ones
// reached over an owned adapter-channel session.
type TransportKind string

const (
	TransportInline        TransportKind = "inline"
	TransportAdapterChannel TransportKind = "adapter_channel"
)

// RouteKey identifies one (endpoint, capability) pair.
type RouteKey struct {
	EndpointID   string
	CapabilityID string
}

// Descriptor is one registered capability on an endpoint (spec §4.3).
type Descriptor struct {
	EndpointID      string
	CapabilityID    string
	PayloadSchema   string // opaque to the registry, surfaced to callers
	MaxPayloadBytes int
	DefaultCost     ids.ResourceVector
	Metadata        map[string]string
}

// endpointBinding is the transport an endpoint is committed to, plus
// the channel that owns its adapter-backed descriptors (if any).
type endpointBinding struct {
	transport TransportKind
	channelID int64
}

// Registry is the mutable endpoint/capability catalog. Reads are
// cheap and concurrent; writes take the exclusive lock and bump
// Version (spec §4.3, §5 "reader-heavy with a reader-writer lock").
type Registry struct {
	mu sync.RWMutex

	version     int64
	descriptors map[RouteKey]Descriptor
	endpoints   map[string]*endpointBinding
	bySession   map[int64]map[RouteKey]struct{}

	nextSeqPerAdapter map[int64]int64
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		descriptors:       make(map[RouteKey]Descriptor),
		endpoints:         make(map[string]*endpointBinding),
		bySession:         make(map[int64]map[RouteKey]struct{}),
		nextSeqPerAdapter: make(map[int64]int64),
	}
}

// Version returns the current monotonic registry version.
func (r *Registry) Version() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.version
}

// OpenSession allocates a channel id of the form
// (adapter_id<<32)|sequence for a newly-connected adapter-channel
// transport (spec §4.3 "Session lifecycle").
func (r *Registry) OpenSession(adapterID int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	seq := r.nextSeqPerAdapter[adapterID] + 1
	r.nextSeqPerAdapter[adapterID] = seq

	channelID := (adapterID << 32) | seq
	r.bySession[channelID] = make(map[RouteKey]struct{})

	return channelID
}

// RegisterInline registers a descriptor bound to an inline (direct
// handler) endpoint.
func (r *Registry) RegisterInline(d Descriptor) error {
	return r.register(d, TransportInline, 0)
}

// RegisterAdapter registers a descriptor owned by an open
// adapter-channel session.
func (r *Registry) RegisterAdapter(d Descriptor, channelID int64) error {
	r.mu.Lock()
	if _, ok := r.bySession[channelID]; !ok {
		r.mu.Unlock()
		return errs.InvalidRequestError{Code: "unknown_session", Message: "adapter channel session not open"}
	}
	r.mu.Unlock()

	return r.register(d, TransportAdapterChannel, channelID)
}

func (r *Registry) register(d Descriptor, transport TransportKind, channelID int64) error {
	key := RouteKey{EndpointID: d.EndpointID, CapabilityID: d.CapabilityID}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.descriptors[key]; ok {
		return errs.InvalidRequestError{Code: "registration_invalid", Message: "route already registered: " + key.EndpointID + "/" + key.CapabilityID}
	}

	for existingKey, existing := range r.descriptors {
		if existingKey.EndpointID == d.EndpointID && !descriptorsConsistent(existing, d) {
			return errs.InvalidRequestError{Code: "registration_invalid", Message: "descriptor inconsistent with existing registrations for endpoint " + d.EndpointID}
		}
	}

	binding, ok := r.endpoints[d.EndpointID]
	if ok {
		if binding.transport != transport || (transport == TransportAdapterChannel && binding.channelID != channelID) {
			return errs.InvalidRequestError{Code: "registration_invalid", Message: "endpoint already bound to an incompatible transport: " + d.EndpointID}
		}
	} else {
		binding = &endpointBinding{transport: transport, channelID: channelID}
		r.endpoints[d.EndpointID] = binding
	}

	r.descriptors[key] = d
	r.version++

	if transport == TransportAdapterChannel {
		r.bySession[channelID][key] = struct{}{}
	}

	return nil
}

func descriptorsConsistent(a, b Descriptor) bool {
	return a.PayloadSchema == b.PayloadSchema &&
		a.MaxPayloadBytes == b.MaxPayloadBytes &&
		a.DefaultCost == b.DefaultCost
}

// CloseSession drops every descriptor owned by channelID, returning
// the routes that were dropped (spec §4.3).
func (r *Registry) CloseSession(channelID int64) []RouteKey {
	r.mu.Lock()
	defer r.mu.Unlock()

	owned, ok := r.bySession[channelID]
	if !ok {
		return nil
	}

	dropped := make([]RouteKey, 0, len(owned))

	for key := range owned {
		dropped = append(dropped, key)
		delete(r.descriptors, key)

		if binding, ok := r.endpoints[key.EndpointID]; ok && binding.transport == TransportAdapterChannel && binding.channelID == channelID {
			delete(r.endpoints, key.EndpointID)
		}
	}

	delete(r.bySession, channelID)
	sort.Slice(dropped, func(i, j int) bool {
		if dropped[i].EndpointID != dropped[j].EndpointID {
			return dropped[i].EndpointID < dropped[j].EndpointID
		}

		return dropped[i].CapabilityID < dropped[j].CapabilityID
	})

	if len(dropped) > 0 {
		r.version++
	}

	return dropped
}

// Lookup resolves a route key to its descriptor and transport.
func (r *Registry) Lookup(key RouteKey) (Descriptor, TransportKind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.descriptors[key]
	if !ok {
		return Descriptor{}, "", false
	}

	binding := r.endpoints[key.EndpointID]

	return d, binding.transport, true
}

// Snapshot returns every descriptor currently registered, along with
// the registry version it was taken at (spec §4.3 "catalog snapshots
// carry that version").
func (r *Registry) Snapshot() (int64, []Descriptor) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		out = append(out, d)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].EndpointID != out[j].EndpointID {
			return out[i].EndpointID < out[j].EndpointID
		}

		return out[i].CapabilityID < out[j].CapabilityID
	})

	return r.version, out
}

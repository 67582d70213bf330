// Package stem implements the Stem Loop: the per-cycle orchestration
// that drives sense intake, cognition, admission, dispatch,
// reconciliation, expiry, and external-debit settlement (spec §4.6).
package stem

import (
	"context"
	"sort"
	"strconv"

	"github.com/stemrun/stemcore/internal/admission"
	"github.com/stemrun/stemcore/internal/cognition"
	"github.com/stemrun/stemcore/internal/continuity"
	"github.com/stemrun/stemcore/internal/ledger"
	"github.com/stemrun/stemcore/internal/mlog"
	"github.com/stemrun/stemcore/internal/registry"
	"github.com/stemrun/stemcore/internal/spine"
)

// CapabilityPatch adds or removes an affordance from the in-memory
// advertised catalog (spec §4.6 step 2).
type CapabilityPatch struct {
	Add           bool
	AffordanceKey string
}

// Sense is one item pulled off the ingress queue. A Sleep sense
// terminates the loop after the current cycle finishes (spec §4.6
// step 1).
type Sense struct {
	cognition.SenseItem
	CapabilityPatches []CapabilityPatch
	Sleep             bool
}

// Ingress supplies senses to the loop. Real transports (the NDJSON
// wire listener) implement this; tests can use a simple slice-backed
// stub.
type Ingress interface {
	// Recv blocks until at least one sense is ready, or ctx is
	// cancelled, then returns every sense ready without further
	// blocking (spec §4.6 step 1 "coalesce all ready senses into a
	// batch without blocking").
	Recv(ctx context.Context) ([]Sense, error)
}

// ExternalDebitSource yields externally-reported debit observations
// to drain at the end of a cycle (spec §4.6 step 8).
type ExternalDebitSource interface {
	Drain(ctx context.Context) ([]ledger.ExternalDebitObservation, error)
}

// Loop wires together the ledger, registry, reactor, spine, and
// continuity guard into the fixed per-cycle control flow (spec §4.6).
type Loop struct {
	Ledger     *ledger.Ledger
	Registry   *registry.Registry
	Profiles   admission.ProfileRegistry
	Reactor    *cognition.Reactor
	Dispatcher *spine.Dispatcher
	Guard      continuity.Guard
	Ingress    Ingress
	Debits     ExternalDebitSource
	Logger     mlog.Logger

	Versions        ledger.PolicyVersions
	ReservationTTL  int64

	catalog     map[string]bool
	snapshot    cognition.Snapshot
	cycle       int64
	seenDebits  map[string]bool
}

// New constructs a Loop ready to run from cycle 1.
func New(l *ledger.Ledger, reg *registry.Registry, profiles admission.ProfileRegistry, reactor *cognition.Reactor, dispatcher *spine.Dispatcher, guard continuity.Guard, ingress Ingress, debits ExternalDebitSource, logger mlog.Logger, versions ledger.PolicyVersions, reservationTTL int64) *Loop {
	if guard == nil {
		guard = continuity.AlwaysAllowGuard{}
	}

	if logger == nil {
		logger = &mlog.NoneLogger{}
	}

	if profiles == nil {
		profiles = admission.MapProfileRegistry{}
	}

	return &Loop{
		Ledger:         l,
		Registry:       reg,
		Profiles:       profiles,
		Reactor:        reactor,
		Dispatcher:     dispatcher,
		Guard:          guard,
		Ingress:        ingress,
		Debits:         debits,
		Logger:         logger,
		Versions:       versions,
		ReservationTTL: reservationTTL,
		catalog:        make(map[string]bool),
		snapshot:       cognition.NewSnapshot(),
		cycle:          0,
		seenDebits:     make(map[string]bool),
	}
}

// CycleReport summarizes one completed cycle, for logging/tests.
type CycleReport struct {
	Cycle           int64
	Admitted        []admission.AdmittedAction
	Denied          []admission.Denial
	SpineReport     spine.SpineExecutionReport
	ExpiredReservations []string
	StemBreak       bool
}

// Run drives cycles until a Sleep sense arrives or ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		report, sleep, err := l.RunOne(ctx)
		if err != nil {
			return err
		}

		l.Logger.Infof("stem: cycle %d complete: admitted=%d denied=%d stem_break=%v", report.Cycle, len(report.Admitted), len(report.Denied), report.StemBreak)

		if sleep {
			return nil
		}
	}
}

// RunOne runs exactly one cycle (spec §4.6).
func (l *Loop) RunOne(ctx context.Context) (CycleReport, bool, error) {
	l.cycle++
	cycle := l.cycle

	senses, err := l.Ingress.Recv(ctx)
	if err != nil {
		return CycleReport{Cycle: cycle}, false, err
	}

	sleep := false
	sensesForReactor := make([]cognition.SenseItem, 0, len(senses))

	for _, s := range senses {
		for _, p := range s.CapabilityPatches {
			if p.Add {
				l.catalog[p.AffordanceKey] = true
			} else {
				delete(l.catalog, p.AffordanceKey)
			}
		}

		if s.Sleep {
			sleep = true
			continue
		}

		sensesForReactor = append(sensesForReactor, s.SenseItem)
	}

	phys := cognition.PhysicalSnapshot{
		Cycle:             cycle,
		AvailableSurvival: l.Ledger.Balance(),
		AdvertisedCatalog: l.catalogKeys(),
	}

	result := l.Reactor.Tick(ctx, sensesForReactor, l.snapshot, phys)
	l.snapshot = result.Next

	report := CycleReport{Cycle: cycle}

	if len(result.Attempts) > 0 {
		decision, err := admission.Resolve(l.Ledger, l.Profiles, result.Attempts, admission.LeastCapabilityLossFirst, l.ReservationTTL, l.Versions)
		if err != nil {
			l.Logger.Errorf("stem: admission resolution failed on cycle %d: %v", cycle, err)
		} else {
			report.Admitted = decision.Admitted
			report.Denied = decision.Denied
		}
	}

	byActionID := make(map[string]admission.AdmittedAction, len(report.Admitted))
	for _, a := range report.Admitted {
		byActionID[a.ActionID] = a
	}

	admittedInDispatchOrder, continuityBreaks := l.applyContinuity(cycle, report.Admitted)

	dispatchActions := make([]spine.Action, 0, len(admittedInDispatchOrder))
	for _, a := range admittedInDispatchOrder {
		dispatchActions = append(dispatchActions, spine.Action{
			ActionID:          a.ActionID,
			EndpointID:        endpointFromCapability(a.AffordanceKey),
			CapabilityID:      a.CapabilityHandle,
			NormalizedPayload: a.NormalizedPayload,
			ReservedCostMicro: a.ReservedAmount,
		})
	}

	registryVersion := l.Registry.Version()
	report.SpineReport = l.Dispatcher.Dispatch(ctx, cycle, registryVersion, dispatchActions)

	for _, ev := range report.SpineReport.Events {
		admitted, ok := byActionID[ev.ActionID]
		if !ok {
			continue
		}

		l.reconcile(cycle, admitted, ev)
		l.Guard.PostEvent(l.snapshot, admitted, ev)
	}

	for _, brk := range continuityBreaks {
		report.SpineReport.Events = append(report.SpineReport.Events, brk)
	}

	expired, err := l.Ledger.ExpireOpen(cycle, "exp:"+strconv.FormatInt(cycle, 10), l.Versions)
	if err != nil {
		l.Logger.Errorf("stem: expiry sweep failed on cycle %d: %v", cycle, err)
	}

	report.ExpiredReservations = expired

	if l.Debits != nil {
		observations, err := l.Debits.Drain(ctx)
		if err != nil {
			l.Logger.Errorf("stem: external debit drain failed on cycle %d: %v", cycle, err)
		} else {
			l.applyExternalDebits(cycle, observations)
		}
	}

	if err := l.Ledger.AssertConsistent(); err != nil {
		l.Logger.Errorf("stem: invariant violation on cycle %d: %v", cycle, err)
	}

	return report, sleep, nil
}

// applyContinuity runs the continuity pre-dispatch guard against each
// admitted action (spec §4.6 step 6b). Actions that break continuity
// are refunded immediately and excluded from dispatch; a synthetic
// ActionRejected event is returned for each.
func (l *Loop) applyContinuity(cycle int64, admitted []admission.AdmittedAction) ([]admission.AdmittedAction, []spine.OrderedSpineEvent) {
	var kept []admission.AdmittedAction

	var breaks []spine.OrderedSpineEvent

	for _, a := range admitted {
		verdict := l.Guard.PreDispatch(l.snapshot, a)
		if verdict.Allowed {
			kept = append(kept, a)
			continue
		}

		ref := "continuity:" + a.ActionID

		if err := l.Ledger.Refund(cycle, a.ReservationID, ref, a.ActionID, l.Versions); err != nil {
			l.Logger.Errorf("stem: failed to refund continuity-broken reservation %s: %v", a.ReservationID, err)
		}

		breaks = append(breaks, spine.OrderedSpineEvent{
			ActionID:   a.ActionID,
			Kind:       spine.EventActionRejected,
			ReasonCode: "continuity_break",
		})
	}

	return kept, breaks
}

// reconcile calls ledger.Settle or ledger.Refund per the outcome
// mapped from the spine (spec §4.1, §4.6 step 6d).
func (l *Loop) reconcile(cycle int64, a admission.AdmittedAction, ev spine.OrderedSpineEvent) {
	ref := "spine:" + a.ActionID

	switch ev.Kind {
	case spine.EventActionApplied:
		if err := l.Ledger.Settle(cycle, a.ReservationID, ref, ev.ActualCostMicro, a.ActionID, l.Versions); err != nil {
			l.Logger.Errorf("stem: settle failed for %s: %v", a.ActionID, err)
		}
	case spine.EventActionRejected:
		if err := l.Ledger.Refund(cycle, a.ReservationID, ref, a.ActionID, l.Versions); err != nil {
			l.Logger.Errorf("stem: refund failed for %s: %v", a.ActionID, err)
		}
	case spine.EventActionDeferred:
		// no ledger state transition (spec §4.3 mapping table)
	}
}

// applyExternalDebits drains observations in sorted reference-id
// order, deduplicating by reference id and matching each against an
// attribution record before applying it (spec §4.6 step 8).
func (l *Loop) applyExternalDebits(cycle int64, observations []ledger.ExternalDebitObservation) {
	sort.Slice(observations, func(i, j int) bool { return observations[i].ReferenceID < observations[j].ReferenceID })

	for _, obs := range observations {
		if l.seenDebits[obs.ReferenceID] {
			continue
		}

		records := l.Ledger.AttributionRecords(obs.CostAttributionID)
		if len(records) == 0 {
			continue
		}

		consistent := false

		for _, rec := range records {
			if obs.ActionID != "" && rec.ActionID != obs.ActionID {
				continue
			}

			if obs.Cycle != 0 && rec.Cycle != obs.Cycle {
				continue
			}

			consistent = true

			break
		}

		if !consistent {
			continue
		}

		if _, err := l.Ledger.ApplyExternalDebit(cycle, obs, l.Versions); err != nil {
			l.Logger.Errorf("stem: external debit application failed (ref=%s): %v", obs.ReferenceID, err)
			continue
		}

		l.seenDebits[obs.ReferenceID] = true
	}
}

func (l *Loop) catalogKeys() []string {
	out := make([]string, 0, len(l.catalog))
	for k := range l.catalog {
		out = append(out, k)
	}

	sort.Strings(out)

	return out
}

// endpointFromCapability is the inline routing convention: the
// endpoint id is the affordance key itself. The registry is not
// consulted.
func endpointFromCapability(affordanceKey string) string {
	return affordanceKey
}

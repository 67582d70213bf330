// Package ledger implements the survival-budget reservation state
// machine: append-only entries plus a reserve/settle/refund/expire
// lifecycle on reservations (spec §3, §4.1).
//
// The Ledger is process-wide per run but is never a package-level
// singleton — it is constructed explicitly and passed by reference so
// test harnesses can build as many independent ledgers as they need
// (spec §9, "Global-ish state").
package ledger

import (
	"fmt"
	"sort"
	"sync"

	"github.com/stemrun/stemcore/internal/errs"
)

// EntryKind enumerates the append-only ledger entry kinds (spec §3).
type EntryKind string

const (
	KindReserve       EntryKind = "Reserve"
	KindSettle        EntryKind = "Settle"
	KindAdjustment    EntryKind = "Adjustment"
	KindRefund        EntryKind = "Refund"
	KindExpire        EntryKind = "Expire"
	KindExternalDebit EntryKind = "ExternalDebit"
)

// State enumerates the reservation lifecycle states (spec §3).
type State string

const (
	StateOpen     State = "Open"
	StateSettled  State = "Settled"
	StateRefunded State = "Refunded"
	StateExpired  State = "Expired"
)

// PolicyVersions is the policy-version triple captured at write time so
// the log is self-describing (spec §3).
type PolicyVersions struct {
	Affordance string
	CostPolicy string
	Ruleset    string
}

// Entry is a single append-only ledger record (spec §3).
type Entry struct {
	Seq               int64
	Kind              EntryKind
	Cycle             int64
	Delta             int64
	CostAttributionID string
	ActionID          string
	ReferenceID       string
	Versions          PolicyVersions
}

// Reservation is a pending debit against the survival budget (spec §3).
type Reservation struct {
	ID                string
	ReservedAmount    int64
	CreatedCycle      int64
	ExpiresAtCycle    int64
	State             State
	TerminalRefID     string
	ActionID          string
	CostAttributionID string
}

// attributionRecord is one (action id, reservation id, cycle) entry
// under a cost attribution id (spec §3, §9 "back-references").
type attributionRecord struct {
	ActionID      string
	ReservationID string
	Cycle         int64
}

// Ledger is the single source of truth for available survival budget.
// All exported methods are safe for concurrent use; the Stem loop in
// practice drives them from a single goroutine under one mutex at its
// boundary (spec §5), but the lock here makes the type safe regardless
// of caller.
type Ledger struct {
	mu sync.Mutex

	initialBudget int64
	balance       int64
	nextSeq       int64
	cycleCounters map[int64]int64 // per-cycle reservation sequence, for id qualification

	entries      []Entry
	reservations map[string]*Reservation
	attribution  map[string][]attributionRecord
	seenDebits   map[string]bool
}

// New constructs a Ledger seeded with the given initial survival
// budget.
func New(initialBudget int64) *Ledger {
	return &Ledger{
		initialBudget: initialBudget,
		balance:       initialBudget,
		nextSeq:       1,
		cycleCounters: make(map[int64]int64),
		reservations:  make(map[string]*Reservation),
		attribution:   make(map[string][]attributionRecord),
		seenDebits:    make(map[string]bool),
	}
}

// Balance returns the current available survival budget.
func (l *Ledger) Balance() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.balance
}

// Entries returns a copy of the append-only entry log.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, len(l.entries))
	copy(out, l.entries)

	return out
}

// Reservation returns a copy of the reservation by id, if present.
func (l *Ledger) Reservation(id string) (Reservation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.reservations[id]
	if !ok {
		return Reservation{}, false
	}

	return *r, true
}

func (l *Ledger) appendLocked(kind EntryKind, cycle int64, delta int64, attrID, actionID, refID string, versions PolicyVersions) Entry {
	e := Entry{
		Seq:               l.nextSeq,
		Kind:              kind,
		Cycle:             cycle,
		Delta:             delta,
		CostAttributionID: attrID,
		ActionID:          actionID,
		ReferenceID:       refID,
		Versions:          versions,
	}
	l.nextSeq++
	l.entries = append(l.entries, e)

	return e
}

func addOverflows(a, b int64) bool {
	if b > 0 && a > maxInt64-b {
		return true
	}

	if b < 0 && a < minInt64-b {
		return true
	}

	return false
}

const (
	maxInt64 = 1<<63 - 1
	minInt64 = -(1 << 63)
)

// Reserve reserves amount survival micro-units against cycle, returning
// the new reservation id (spec §4.1).
func (l *Ledger) Reserve(cycle, amount, ttlCycles int64, attributionID, referenceID string, versions PolicyVersions) (string, error) {
	if amount < 0 {
		return "", errs.InvalidRequestError{Code: "negative_amount", Message: "reserve amount must be >= 0"}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.balance < amount {
		return "", errs.LedgerConflictError{Code: "insufficient_balance", Message: "balance insufficient to reserve"}
	}

	if addOverflows(l.balance, -amount) {
		return "", errs.ArithmeticError{Code: "overflow", Message: "reserve would overflow balance"}
	}

	seq := l.cycleCounters[cycle] + 1
	l.cycleCounters[cycle] = seq
	reservationID := fmt.Sprintf("rsv:%d:%d", cycle, seq)

	l.balance -= amount
	l.appendLocked(KindReserve, cycle, -amount, attributionID, "", referenceID, versions)

	l.reservations[reservationID] = &Reservation{
		ID:                reservationID,
		ReservedAmount:    amount,
		CreatedCycle:      cycle,
		ExpiresAtCycle:    cycle + ttlCycles,
		State:             StateOpen,
		CostAttributionID: attributionID,
	}

	if attributionID != "" {
		l.attribution[attributionID] = append(l.attribution[attributionID], attributionRecord{
			ReservationID: reservationID,
			Cycle:         cycle,
		})
	}

	return reservationID, nil
}

// AttachActionID records the action id an open reservation belongs to.
// A second call is accepted only if it supplies the same action id
// (spec §4.1).
func (l *Ledger) AttachActionID(reservationID, actionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.reservations[reservationID]
	if !ok {
		return errs.InvalidRequestError{Code: "unknown_reservation", Message: "reservation not found: " + reservationID}
	}

	if r.ActionID != "" && r.ActionID != actionID {
		return errs.LedgerConflictError{Code: "action_id_mismatch", ReservationID: reservationID, Message: "reservation already bound to a different action id"}
	}

	r.ActionID = actionID

	for attr, recs := range l.attribution {
		for i := range recs {
			if recs[i].ReservationID == reservationID && recs[i].ActionID == "" {
				recs[i].ActionID = actionID
				l.attribution[attr][i] = recs[i]
			}
		}
	}

	return nil
}

func (l *Ledger) terminal(reservationID, referenceID string, want State, withDelta func(r *Reservation) int64, kind EntryKind, cycle int64, versions PolicyVersions, actionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.reservations[reservationID]
	if !ok {
		return errs.InvalidRequestError{Code: "unknown_reservation", Message: "reservation not found: " + reservationID}
	}

	if r.State == want {
		if r.TerminalRefID == referenceID {
			return nil // idempotent no-op
		}

		return errs.LedgerConflictError{Code: "reference_mismatch", ReservationID: reservationID, Message: "terminal reference id mismatch"}
	}

	if r.State != StateOpen {
		return errs.LedgerConflictError{Code: "not_open", ReservationID: reservationID, Message: "reservation is not open: " + string(r.State)}
	}

	delta := withDelta(r)

	if addOverflows(l.balance, delta) {
		return errs.ArithmeticError{Code: "overflow", Message: "terminal transition would overflow balance"}
	}

	l.balance += delta
	r.State = want
	r.TerminalRefID = referenceID

	if actionID != "" {
		r.ActionID = actionID
	}

	l.appendLocked(kind, cycle, delta, r.CostAttributionID, r.ActionID, referenceID, versions)

	return nil
}

// Settle marks reservationID Settled. If actualCost differs from the
// reserved amount an Adjustment entry is appended first, then a
// zero-delta Settle entry so the causal chain reads cleanly (spec
// §4.1).
func (l *Ledger) Settle(cycle int64, reservationID, referenceID string, actualCost int64, actionID string, versions PolicyVersions) error {
	l.mu.Lock()

	r, ok := l.reservations[reservationID]
	if ok && r.State == StateSettled && r.TerminalRefID == referenceID {
		l.mu.Unlock()
		return nil
	}

	if ok && r.State == StateOpen && actualCost != r.ReservedAmount {
		// balanceDelta is the actual change applied to the balance:
		// negative when the endpoint reported a higher cost than was
		// reserved (an additional debit), positive when it reported a
		// lower one (refundable slack). Entry.Delta always tracks the
		// real balance change so the §8 invariant
		// (sum(entry.delta) == balance-initial) holds by construction.
		// This is "reserved - actual", the negation of the original
		// implementation's literal Adjustment entry value ("actual -
		// reserved"); see DESIGN.md for why the sum-invariant reading
		// was chosen over the original's entry log convention.
		balanceDelta := r.ReservedAmount - actualCost

		if addOverflows(l.balance, balanceDelta) {
			l.mu.Unlock()
			return errs.ArithmeticError{Code: "overflow", Message: "adjustment would overflow balance"}
		}

		l.balance += balanceDelta
		l.appendLocked(KindAdjustment, cycle, balanceDelta, r.CostAttributionID, actionID, referenceID, versions)
	}

	l.mu.Unlock()

	return l.terminal(reservationID, referenceID, StateSettled, func(r *Reservation) int64 {
		return 0
	}, KindSettle, cycle, versions, actionID)
}

// Refund marks reservationID Refunded, returning the reserved amount to
// the balance (spec §4.1).
func (l *Ledger) Refund(cycle int64, reservationID, referenceID string, actionID string, versions PolicyVersions) error {
	return l.terminal(reservationID, referenceID, StateRefunded, func(r *Reservation) int64 {
		return r.ReservedAmount
	}, KindRefund, cycle, versions, actionID)
}

// ExpireOpen sweeps every Open reservation whose expiry cycle has
// passed, marking each Expired and returning their ids in deterministic
// (sorted) order (spec §4.1).
func (l *Ledger) ExpireOpen(cycle int64, referencePrefix string, versions PolicyVersions) ([]string, error) {
	l.mu.Lock()

	var candidates []string

	for id, r := range l.reservations {
		if r.State == StateOpen && cycle >= r.ExpiresAtCycle {
			candidates = append(candidates, id)
		}
	}

	sort.Strings(candidates)
	l.mu.Unlock()

	expired := make([]string, 0, len(candidates))

	for _, id := range candidates {
		ref := fmt.Sprintf("%s:%s", referencePrefix, id)
		if err := l.terminal(id, ref, StateExpired, func(r *Reservation) int64 {
			return r.ReservedAmount
		}, KindExpire, cycle, versions, ""); err != nil {
			return expired, err
		}

		expired = append(expired, id)
	}

	return expired, nil
}

// ExternalDebitObservation is one externally-reported debit (spec
// §4.1, §4.6).
type ExternalDebitObservation struct {
	ReferenceID       string
	CostAttributionID string
	ActionID          string
	Cycle             int64
	Amount            int64
}

// ApplyExternalDebit decreases the balance by observation.Amount and
// appends an ExternalDebit entry. The ledger itself does not
// deduplicate by reference id — callers (the Stem loop, per §4.6) are
// responsible for that.
func (l *Ledger) ApplyExternalDebit(cycle int64, observation ExternalDebitObservation, versions PolicyVersions) (int64, error) {
	if observation.Amount < 0 {
		return 0, errs.InvalidRequestError{Code: "negative_amount", Message: "external debit amount must be >= 0"}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if addOverflows(l.balance, -observation.Amount) {
		return 0, errs.ArithmeticError{Code: "overflow", Message: "external debit would overflow balance"}
	}

	l.balance -= observation.Amount
	e := l.appendLocked(KindExternalDebit, cycle, -observation.Amount, observation.CostAttributionID, observation.ActionID, observation.ReferenceID, versions)

	return e.Seq, nil
}

// AttributionRecords returns the (action id, reservation id, cycle)
// entries recorded under a cost attribution id, used to match
// externally reported debits back to the attempt that caused them
// (spec §3).
func (l *Ledger) AttributionRecords(attributionID string) []AttributionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	recs := l.attribution[attributionID]
	out := make([]AttributionRecord, len(recs))

	for i, r := range recs {
		out[i] = AttributionRecord(r)
	}

	return out
}

// AttributionRecord is the exported form of attributionRecord.
type AttributionRecord struct {
	ActionID      string
	ReservationID string
	Cycle         int64
}

// AssertConsistent checks the invariants of spec §8: the sum of entry
// deltas equals balance-initial, no Open reservation carries a
// terminal reference, and no terminal reservation lacks one.
func (l *Ledger) AssertConsistent() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var sum int64

	for _, e := range l.entries {
		sum += e.Delta
	}

	if sum != l.balance-l.initialBudget {
		return errs.InvariantViolationError{
			Code:    "balance_mismatch",
			Message: fmt.Sprintf("entry delta sum %d != balance-initial %d", sum, l.balance-l.initialBudget),
		}
	}

	for id, r := range l.reservations {
		if r.State == StateOpen && r.TerminalRefID != "" {
			return errs.InvariantViolationError{Code: "open_with_terminal_ref", Message: "open reservation has terminal reference: " + id}
		}

		if r.State != StateOpen && r.TerminalRefID == "" {
			return errs.InvariantViolationError{Code: "terminal_missing_ref", Message: "terminal reservation missing reference: " + id}
		}
	}

	return nil
}

// InitialBudget returns the budget the ledger was seeded with.
func (l *Ledger) InitialBudget() int64 {
	return l.initialBudget
}

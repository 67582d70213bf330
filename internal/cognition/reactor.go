package cognition

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/stemrun/stemcore/internal/admission"
	"github.com/stemrun/stemcore/internal/gateway"
	"github.com/stemrun/stemcore/internal/ids"
	"github.com/stemrun/stemcore/internal/mlog"
)

// SenseItem is one item in the batch presented to a cycle (spec
// §4.6).
type SenseItem struct {
	SenseID                  string
	NeuralSignalDescriptorID string
	Payload                  any
}

// PhysicalSnapshot is the composed (cycle id, ledger snapshot,
// capability catalog) view the reactor reasons over (spec §4.6 step
// 3).
type PhysicalSnapshot struct {
	Cycle            int64
	AvailableSurvival int64
	AdvertisedCatalog []string // affordance keys currently advertised
}

// draftAttempt is the unclamped shape extracted from the structured
// stage's JSON response, before §4.5 clamp rules run.
type draftAttempt struct {
	Commitment        string         `json:"commitment"`
	Goal              string         `json:"goal"`
	PlannerSlot       string         `json:"planner_slot"`
	AffordanceKey     string         `json:"affordance_key"`
	CapabilityHandle  string         `json:"capability_handle"`
	Payload           any            `json:"payload"`
	Requested         ids.ResourceVector `json:"requested_resources"`
}

type draftResponse struct {
	Attempts       []draftAttempt `json:"attempts"`
	GoalPatches    []rawGoalPatch `json:"goal_patches"`
	FocalAwareness []string       `json:"focal_awareness"`
}

type rawGoalPatch struct {
	Op     string  `json:"op"`
	Path   string  `json:"path"`
	Label  string  `json:"label"`
	Weight float64 `json:"weight"`
}

// Result is the output of one reactor tick (spec §4.5).
type Result struct {
	Attempts []admission.Attempt
	Next     Snapshot
}

// Reactor runs the fixed two-stage pipeline against a gateway (spec
// §4.5).
type Reactor struct {
	gw           *gateway.Gateway
	logger       mlog.Logger
	maxAttempts  int
	maxCycleTime time.Duration
}

// New constructs a Reactor. maxAttempts bounds the clamped attempt
// list (spec §4.5 "truncate to max_attempts"); maxCycleTime is the
// per-gateway-call deadline.
func New(gw *gateway.Gateway, logger mlog.Logger, maxAttempts int, maxCycleTime time.Duration) *Reactor {
	if logger == nil {
		logger = &mlog.NoneLogger{}
	}

	return &Reactor{gw: gw, logger: logger, maxAttempts: maxAttempts, maxCycleTime: maxCycleTime}
}

// Tick runs one reactor cycle. Any stage failure or empty/unparsable
// output yields a no-op cycle: empty attempts, snapshot unchanged
// (spec §4.5).
func (r *Reactor) Tick(ctx context.Context, senses []SenseItem, prev Snapshot, phys PhysicalSnapshot) Result {
	noop := Result{Attempts: nil, Next: prev}

	if len(senses) == 0 {
		return noop
	}

	if dup := firstDuplicateSenseID(senses); dup != "" {
		r.logger.Warnf("cognition: duplicate sense id %q, no-op cycle", dup)
		return noop
	}

	cctx, cancel := context.WithTimeout(ctx, r.maxCycleTime)
	defer cancel()

	primaryIR := buildPrimaryIR(senses, prev, phys)

	outputIR, ok := r.callGateway(cctx, gateway.Request{
		Messages:   []gateway.Message{{Role: "user", Content: primaryIR}},
		OutputMode: gateway.OutputText,
		RouteHint:  "default",
	})
	if !ok || strings.TrimSpace(outputIR) == "" {
		return noop
	}

	sctx, cancel2 := context.WithTimeout(ctx, r.maxCycleTime)
	defer cancel2()

	extraction, ok := r.callGateway(sctx, gateway.Request{
		Messages:   []gateway.Message{{Role: "user", Content: outputIR}},
		OutputMode: gateway.OutputJSONObject,
		RouteHint:  "default",
	})
	if !ok {
		return noop
	}

	var draft draftResponse
	if err := json.Unmarshal([]byte(extraction), &draft); err != nil {
		r.logger.Warnf("cognition: unparsable structured extraction, no-op cycle: %v", err)
		return noop
	}

	attempts := r.clamp(phys, draft.Attempts)
	if len(attempts) == 0 {
		return Result{Attempts: nil, Next: prev}
	}

	patches := make([]GoalPatch, 0, len(draft.GoalPatches))
	for _, p := range draft.GoalPatches {
		patches = append(patches, GoalPatch{Op: PatchOp(p.Op), Path: p.Path, Label: p.Label, Weight: p.Weight})
	}

	return Result{Attempts: attempts, Next: prev.Advance(patches, draft.FocalAwareness)}
}

// callGateway drains a single-call gateway stream into its
// concatenated text, returning ok=false on any Failed terminal event
// or context deadline.
func (r *Reactor) callGateway(ctx context.Context, req gateway.Request) (string, bool) {
	stream, err := r.gw.Stream(ctx, req)
	if err != nil {
		r.logger.Warnf("cognition: gateway call failed: %v", err)
		return "", false
	}

	var sb strings.Builder

	for ev := range stream {
		switch ev.Kind {
		case gateway.EventTextDelta:
			sb.WriteString(ev.Text)
		case gateway.EventFailed:
			r.logger.Warnf("cognition: gateway stream failed: %v", ev.Err)
			return "", false
		case gateway.EventCompleted:
			return sb.String(), true
		}
	}

	return sb.String(), true
}

func firstDuplicateSenseID(senses []SenseItem) string {
	seen := make(map[string]bool, len(senses))
	for _, s := range senses {
		if seen[s.SenseID] {
			return s.SenseID
		}

		seen[s.SenseID] = true
	}

	return ""
}

func buildPrimaryIR(senses []SenseItem, prev Snapshot, phys PhysicalSnapshot) string {
	var sb strings.Builder

	sb.WriteString("cycle=")
	sb.WriteString(strconvItoa(phys.Cycle))
	sb.WriteString("\nsenses:\n")

	for _, s := range senses {
		sb.WriteString("- ")
		sb.WriteString(s.SenseID)
		sb.WriteString(" (")
		sb.WriteString(s.NeuralSignalDescriptorID)
		sb.WriteString(")\n")
	}

	sb.WriteString("catalog:\n")

	catalog := append([]string(nil), phys.AdvertisedCatalog...)
	sort.Strings(catalog)

	for _, c := range catalog {
		sb.WriteString("- ")
		sb.WriteString(c)
		sb.WriteString("\n")
	}

	sb.WriteString("goal_tree_revision=")
	sb.WriteString(strconvItoa(prev.Revision))
	sb.WriteString("\n")

	return sb.String()
}

func strconvItoa(v int64) string {
	if v == 0 {
		return "0"
	}

	neg := v < 0
	if neg {
		v = -v
	}

	var digits []byte
	for v > 0 {
		digits = append([]byte{byte('0' + v%10)}, digits...)
		v /= 10
	}

	if neg {
		return "-" + string(digits)
	}

	return string(digits)
}

// clamp implements the §4.5 deterministic clamp rules.
func (r *Reactor) clamp(phys PhysicalSnapshot, drafts []draftAttempt) []admission.Attempt {
	catalog := make(map[string]bool, len(phys.AdvertisedCatalog))
	for _, c := range phys.AdvertisedCatalog {
		catalog[c] = true
	}

	attempts := make([]admission.Attempt, 0, len(drafts))

	for _, d := range drafts {
		if !catalog[d.AffordanceKey] {
			continue
		}

		requested := d.Requested
		if requested.SurvivalMicro < 0 {
			requested.SurvivalMicro = 0
		}

		normalized, err := canonicalizePayload(d.Payload)
		if err != nil {
			continue
		}

		attributionID, err := ids.AttributionID(ids.AttributionKey{Cycle: phys.Cycle, Commitment: d.Commitment, Goal: d.Goal, PlannerSlot: d.PlannerSlot})
		if err != nil {
			continue
		}

		key := ids.AttemptKey{
			Cycle:             phys.Cycle,
			Commitment:        d.Commitment,
			Goal:              d.Goal,
			PlannerSlot:       d.PlannerSlot,
			AffordanceKey:     d.AffordanceKey,
			CapabilityHandle:  d.CapabilityHandle,
			NormalizedPayload: normalized,
			Requested:         requested,
			CostAttributionID: attributionID,
		}

		attemptID, err := ids.AttemptID(key)
		if err != nil {
			continue
		}

		payloadBytes, err := json.Marshal(normalized)
		if err != nil {
			continue
		}

		attempts = append(attempts, admission.Attempt{
			AttemptID:         attemptID,
			Cycle:             phys.Cycle,
			Commitment:        d.Commitment,
			Goal:              d.Goal,
			PlannerSlot:       d.PlannerSlot,
			AffordanceKey:     d.AffordanceKey,
			CapabilityHandle:  d.CapabilityHandle,
			NormalizedPayload: normalized,
			PayloadBytes:      len(payloadBytes),
			Requested:         requested,
			CostAttributionID: attributionID,
		})
	}

	sort.Slice(attempts, func(i, j int) bool { return attempts[i].AttemptID < attempts[j].AttemptID })

	if len(attempts) > r.maxAttempts {
		attempts = attempts[:r.maxAttempts]
	}

	return attempts
}

// canonicalizePayload round-trips payload through JSON so downstream
// attempt-id derivation always sees canonical (sorted-key) shape (spec
// §4.5 "Normalize payloads to canonical JSON").
func canonicalizePayload(payload any) (any, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}

	return out, nil
}

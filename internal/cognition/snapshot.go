// Package cognition implements the Cognition Reactor: a two-stage
// pipeline that turns (sense batch, cognition snapshot, physical
// snapshot) into a deterministic candidate-action list and a next
// cognition snapshot (spec §4.5), plus the goal-tree patch mechanism
// supplemented from original_source core/src/mind.
package cognition

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/stemrun/stemcore/internal/errs"
)

// GoalNode is one node in the dot-numbered goal tree (spec §4.5,
// supplemented from core/src/mind/types.rs). Root nodes ("1", "2", ...)
// are immutable; everything below "user." is mutable by patches.
type GoalNode struct {
	Path   string // e.g. "1.2.3" or "user.1"
	Label  string
	Weight float64
}

// GoalTree is an ordered, path-keyed set of goal nodes.
type GoalTree struct {
	Nodes map[string]GoalNode
}

func NewGoalTree() GoalTree {
	return GoalTree{Nodes: make(map[string]GoalNode)}
}

// Clone returns a deep-enough copy safe for a patch to mutate without
// affecting the snapshot it was derived from.
func (t GoalTree) Clone() GoalTree {
	out := NewGoalTree()
	for k, v := range t.Nodes {
		out.Nodes[k] = v
	}

	return out
}

// Sorted returns the tree's nodes in path order, for deterministic
// serialization.
func (t GoalTree) Sorted() []GoalNode {
	out := make([]GoalNode, 0, len(t.Nodes))
	for _, n := range t.Nodes {
		out = append(out, n)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })

	return out
}

var pathSegmentRe = regexp.MustCompile(`^[1-9][0-9]*$`)

// ValidatePath enforces the dot-numbering syntax: non-empty segments,
// each a positive number without leading zeros (so "0" and "02" are
// both rejected), optionally preceded by a "user" segment (spec §11).
// Whether a valid path may be mutated is decided separately by
// IsRootImmutable.
func ValidatePath(path string) error {
	if path == "" {
		return errs.InvalidRequestError{Code: "empty_goal_path", Message: "goal path must not be empty"}
	}

	segments := strings.Split(path, ".")
	start := 0

	if segments[0] == "user" {
		start = 1

		if len(segments) == 1 {
			return errs.InvalidRequestError{Code: "incomplete_goal_path", Message: "user goal path needs at least one segment after 'user'"}
		}
	}

	for _, seg := range segments[start:] {
		if !pathSegmentRe.MatchString(seg) {
			return errs.InvalidRequestError{Code: "invalid_goal_path_segment", Message: "invalid goal path segment: " + seg}
		}
	}

	return nil
}

// IsRootImmutable reports whether path belongs to the immutable root
// partition (i.e. does not start with "user.").
func IsRootImmutable(path string) bool {
	return !strings.HasPrefix(path, "user.") && path != "user"
}

// PatchOp enumerates the three goal-tree patch operations (spec §11).
type PatchOp string

const (
	PatchSprout PatchOp = "sprout"
	PatchPrune  PatchOp = "prune"
	PatchTilt   PatchOp = "tilt"
)

// GoalPatch is one operation extracted from the primary reasoning
// output.
type GoalPatch struct {
	Op     PatchOp
	Path   string
	Label  string  // used by sprout
	Weight float64 // used by tilt
}

// ApplyPatches applies patches to tree in order, rejecting any patch
// that targets the immutable root partition or carries an invalid
// path; a rejected patch is a no-op for that single operation, not a
// fatal error for the cycle (spec §4.5 "malformed primary output ->
// previous snapshot passed through unchanged" applies at the whole-
// output level, this applies per-patch once the output did parse).
func ApplyPatches(tree GoalTree, patches []GoalPatch) GoalTree {
	next := tree.Clone()

	for _, p := range patches {
		if err := ValidatePath(p.Path); err != nil {
			continue
		}

		if IsRootImmutable(p.Path) {
			continue
		}

		switch p.Op {
		case PatchSprout:
			next.Nodes[p.Path] = GoalNode{Path: p.Path, Label: p.Label, Weight: 1}
		case PatchPrune:
			delete(next.Nodes, p.Path)
		case PatchTilt:
			if n, ok := next.Nodes[p.Path]; ok {
				n.Weight = p.Weight
				next.Nodes[p.Path] = n
			}
		}
	}

	return next
}

// Snapshot is the cognition state carried across cycles (spec §4.5).
type Snapshot struct {
	Revision       int64
	GoalTree       GoalTree
	FocalAwareness []string
}

// NewSnapshot returns the initial (revision 0) snapshot.
func NewSnapshot() Snapshot {
	return Snapshot{Revision: 0, GoalTree: NewGoalTree()}
}

// Advance applies patch and a focal-awareness replacement list,
// returning the next (revision+1) snapshot (spec §4.5 "Cognition
// snapshot evolution").
func (s Snapshot) Advance(patches []GoalPatch, focalAwareness []string) Snapshot {
	return Snapshot{
		Revision:       s.Revision + 1,
		GoalTree:       ApplyPatches(s.GoalTree, patches),
		FocalAwareness: focalAwareness,
	}
}

func formatWeight(w float64) string {
	return strconv.FormatFloat(w, 'f', -1, 64)
}

package cognition_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stemrun/stemcore/internal/cognition"
)

func TestValidatePathRejectsLeadingZero(t *testing.T) {
	require.Error(t, cognition.ValidatePath("1.02"))
	require.Error(t, cognition.ValidatePath("1.0"))
	require.NoError(t, cognition.ValidatePath("user.1.2"))
}

func TestValidatePathRejectsBareUser(t *testing.T) {
	require.Error(t, cognition.ValidatePath("user"))
}

func TestIsRootImmutable(t *testing.T) {
	require.True(t, cognition.IsRootImmutable("1.2"))
	require.False(t, cognition.IsRootImmutable("user.1"))
}

func TestApplyPatchesRejectsRootMutation(t *testing.T) {
	tree := cognition.NewGoalTree()
	tree.Nodes["1"] = cognition.GoalNode{Path: "1", Label: "root goal", Weight: 1}

	next := cognition.ApplyPatches(tree, []cognition.GoalPatch{
		{Op: cognition.PatchPrune, Path: "1"},
	})

	require.Contains(t, next.Nodes, "1")
}

func TestApplyPatchesSproutPruneTilt(t *testing.T) {
	tree := cognition.NewGoalTree()

	next := cognition.ApplyPatches(tree, []cognition.GoalPatch{
		{Op: cognition.PatchSprout, Path: "user.1", Label: "explore"},
	})
	require.Contains(t, next.Nodes, "user.1")
	require.Equal(t, float64(1), next.Nodes["user.1"].Weight)

	next = cognition.ApplyPatches(next, []cognition.GoalPatch{
		{Op: cognition.PatchTilt, Path: "user.1", Weight: 0.5},
	})
	require.Equal(t, 0.5, next.Nodes["user.1"].Weight)

	next = cognition.ApplyPatches(next, []cognition.GoalPatch{
		{Op: cognition.PatchPrune, Path: "user.1"},
	})
	require.NotContains(t, next.Nodes, "user.1")
}

func TestSnapshotAdvanceBumpsRevision(t *testing.T) {
	s := cognition.NewSnapshot()
	require.Equal(t, int64(0), s.Revision)

	next := s.Advance(nil, []string{"goal A"})
	require.Equal(t, int64(1), next.Revision)
	require.Equal(t, []string{"goal A"}, next.FocalAwareness)
}

func TestGoalTreeSortedIsPathOrdered(t *testing.T) {
	tree := cognition.NewGoalTree()
	tree.Nodes["user.2"] = cognition.GoalNode{Path: "user.2"}
	tree.Nodes["user.1"] = cognition.GoalNode{Path: "user.1"}

	sorted := tree.Sorted()
	require.Len(t, sorted, 2)
	require.Equal(t, "user.1", sorted[0].Path)
	require.Equal(t, "user.2", sorted[1].Path)
}

package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryOrderedTrySetWins(t *testing.T) {
	reg := NewRegistry(&RepoConfig{Owner: "o", Name: "r"})

	approved := &PullRequest{Number: 1, State: StateApproved, Priority: 100}
	try := &PullRequest{Number: 2, State: StateApproved, Try: true}
	reg.Put(approved)
	reg.Put(try)

	got := reg.Ordered()
	require.Len(t, got, 2)
	require.Equal(t, 2, got[0].Number, "try candidates sort before merge candidates regardless of priority")
}

func TestRegistryOrderedPriorityThenRollupThenNumber(t *testing.T) {
	reg := NewRegistry(&RepoConfig{Owner: "o", Name: "r"})

	reg.Put(&PullRequest{Number: 9, State: StateApproved, Priority: 0})
	reg.Put(&PullRequest{Number: 10, State: StateApproved, Priority: 0, Rollup: true})
	reg.Put(&PullRequest{Number: 11, State: StateApproved, Priority: 0, Rollup: true})
	reg.Put(&PullRequest{Number: 8, State: StateApproved, Priority: 5})

	got := reg.Ordered()
	require.Equal(t, []int{8, 9, 10, 11}, numbers(got), "non-rollup #9 sorts before rollup-flagged #10/#11 at the same priority")
}

func TestRegistryTestingLookup(t *testing.T) {
	reg := NewRegistry(&RepoConfig{Owner: "o", Name: "r"})
	require.Nil(t, reg.Testing())

	reg.Put(&PullRequest{Number: 1, State: StateApproved})
	require.Nil(t, reg.Testing())

	reg.Put(&PullRequest{Number: 2, State: StateTesting})
	got := reg.Testing()
	require.NotNil(t, got)
	require.Equal(t, 2, got.Number)
}

func TestRegistryTestingPrefersRollupLeadOverConstituent(t *testing.T) {
	reg := NewRegistry(&RepoConfig{Owner: "o", Name: "r"})

	// Only the lead carries RollupOf; a non-lead constituent looks like a
	// bare Testing pull request with the same State and MergeSHA. Testing
	// must resolve to the lead regardless of map iteration order, since a
	// production build_status callback is correlated through this method.
	reg.Put(&PullRequest{Number: 2, State: StateTesting, MergeSHA: "rollup-sha"})
	reg.Put(&PullRequest{Number: 1, State: StateTesting, MergeSHA: "rollup-sha", RollupOf: []int{1, 2}})

	got := reg.Testing()
	require.NotNil(t, got)
	require.Equal(t, 1, got.Number, "the rollup lead is returned even though a constituent is also Testing")
}

func TestRegistryGetOrCreate(t *testing.T) {
	reg := NewRegistry(&RepoConfig{Owner: "o", Name: "r"})

	pr, created := reg.GetOrCreate(42)
	require.True(t, created)
	require.Equal(t, StatePending, pr.State)

	again, created := reg.GetOrCreate(42)
	require.False(t, created)
	require.Same(t, pr, again)
}

func numbers(prs []*PullRequest) []int {
	out := make([]int, len(prs))
	for i, pr := range prs {
		out[i] = pr.Number
	}
	return out
}

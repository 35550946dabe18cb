package scheduler

import (
	"fmt"
	"strings"

	"github.com/homu-project/homu/internal/model"
)

// rollupPrefix picks the contiguous prefix of an ordered merge set whose
// rollup flag is true, capped at max (0 means unbounded), per §4.6 step 4.
func rollupPrefix(mergeSet []*model.PullRequest, max int) []*model.PullRequest {
	var out []*model.PullRequest
	for _, pr := range mergeSet {
		if !pr.Rollup {
			break
		}
		out = append(out, pr)
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out
}

// integrationMessage builds the deterministic commit message of §4.6
// step 6: approver, pull-request number(s), title.
func integrationMessage(candidates []*model.PullRequest) string {
	if len(candidates) == 1 {
		pr := candidates[0]
		return fmt.Sprintf("Merge #%d: %s\n\nApproved by: %s", pr.Number, pr.Title, pr.ApprovedBy)
	}

	var b strings.Builder
	nums := make([]string, len(candidates))
	for i, pr := range candidates {
		nums[i] = fmt.Sprintf("#%d", pr.Number)
	}
	fmt.Fprintf(&b, "Rollup of %s\n\n", strings.Join(nums, ", "))
	for _, pr := range candidates {
		fmt.Fprintf(&b, " - #%d %s (approved by %s)\n", pr.Number, pr.Title, pr.ApprovedBy)
	}
	return b.String()
}

// candidateNumbers returns the pull-request numbers a tracking record
// pr represents: itself for a plain candidate, or its RollupOf members
// for a synthetic rollup lead.
func candidateNumbers(pr *model.PullRequest) []int {
	if len(pr.RollupOf) > 0 {
		return pr.RollupOf
	}
	return []int{pr.Number}
}

func numbersOf(candidates []*model.PullRequest) []int {
	out := make([]int, len(candidates))
	for i, pr := range candidates {
		out[i] = pr.Number
	}
	return out
}

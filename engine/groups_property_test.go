package engine

import (
	"testing"

	"pgregory.net/rapid"

	"github.com/vantris/erpagent/types"
)

// TestParallelGroups_Properties checks the grouping invariants over
// randomly generated plans: every step lands in exactly one group,
// step order survives, groups run in plan order, and no step shares a
// group with one of its dependencies.
func TestParallelGroups_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 12).Draw(t, "steps")

		steps := make([]types.PlanStep, n)
		for i := 0; i < n; i++ {
			var deps []int
			if i > 0 {
				depCount := rapid.IntRange(0, i).Draw(t, "dep_count")
				seen := map[int]bool{}
				for d := 0; d < depCount; d++ {
					dep := rapid.IntRange(1, i).Draw(t, "dep")
					if !seen[dep] {
						seen[dep] = true
						deps = append(deps, dep)
					}
				}
			}
			steps[i] = types.PlanStep{
				Number:      i + 1,
				Specialist:  "sales",
				Task:        "t",
				DependsOn:   deps,
				CanParallel: rapid.Bool().Draw(t, "parallel"),
			}
		}

		groups := ParallelGroups(steps)

		// Exactly one group membership per step, in plan order.
		var flat []int
		for _, g := range groups {
			if len(g) == 0 {
				t.Fatalf("empty group in %v", groups)
			}
			flat = append(flat, g...)
		}
		if len(flat) != n {
			t.Fatalf("expected %d placements, got %d (%v)", n, len(flat), groups)
		}
		for i, idx := range flat {
			if idx != i {
				t.Fatalf("step order violated at position %d: %v", i, groups)
			}
		}

		// A step never shares a group with one of its dependencies.
		for _, g := range groups {
			members := map[int]bool{}
			for _, idx := range g {
				members[steps[idx].Number] = true
			}
			for _, idx := range g {
				for _, dep := range steps[idx].DependsOn {
					if members[dep] && dep != steps[idx].Number {
						t.Fatalf("step %d grouped with its dependency %d: %v",
							steps[idx].Number, dep, groups)
					}
				}
			}
		}
	})
}

package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/vantris/erpagent/types"
)

// dispatcher fans one execution group out over its specialists and
// joins the results. Concurrency is capped by a weighted semaphore;
// a panicking branch contributes a failed result instead of taking the
// process down.
type dispatcher struct {
	executor *executor
	maxConc  int64
	logger   *zap.Logger
}

func newDispatcher(exec *executor, maxConcurrent int, logger *zap.Logger) *dispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &dispatcher{
		executor: exec,
		maxConc:  int64(maxConcurrent),
		logger:   logger.With(zap.String("component", "dispatcher")),
	}
}

// groupOutcome is the joined result of one execution group.
type groupOutcome struct {
	// results arrive in completion order, one per non-suspended branch.
	results []types.SpecialistResult
	// suspended names the branch awaiting consent, if any. At most one
	// branch per group can suspend; the consent gate rejects the rest.
	suspended string
	// correction is the merged bookkeeping across branches: of the
	// books the corrector touched, the one with the most attempts wins,
	// so a sibling's clean run cannot erase a failing branch's budget.
	correction correctionBook
}

// dispatchGroup runs every step of the group concurrently and waits for
// all non-suspended branches. The join is complete: a branch that fails
// or panics still yields a Succeeded=false result.
func (d *dispatcher) dispatchGroup(ctx context.Context, state *types.ExecutionState, gate *consentGate, catalog *Catalog, stepIdx []int) groupOutcome {
	sem := semaphore.NewWeighted(d.maxConc)

	type branchResult struct {
		outcome    turnOutcome
		specialist string
	}
	resultCh := make(chan branchResult, len(stepIdx))

	var wg sync.WaitGroup
	for _, idx := range stepIdx {
		step := state.Plan.Steps[idx]
		spec, ok := catalog.Get(step.Specialist)
		if !ok {
			resultCh <- branchResult{
				specialist: step.Specialist,
				outcome: failedOutcome(step.Specialist,
					fmt.Sprintf("no specialist named %s is registered", step.Specialist)),
			}
			continue
		}

		wg.Add(1)
		go func(spec Specialist, task string) {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					d.logger.Error("specialist branch panicked",
						zap.String("specialist", spec.Name),
						zap.Any("panic", rec))
					resultCh <- branchResult{
						specialist: spec.Name,
						outcome: failedOutcome(spec.Name,
							fmt.Sprintf("specialist %s crashed: %v", spec.Name, rec)),
					}
				}
			}()

			if err := sem.Acquire(ctx, 1); err != nil {
				resultCh <- branchResult{
					specialist: spec.Name,
					outcome: failedOutcome(spec.Name,
						fmt.Sprintf("specialist %s cancelled before start: %v", spec.Name, err)),
				}
				return
			}
			defer sem.Release(1)

			resultCh <- branchResult{
				specialist: spec.Name,
				outcome:    d.executor.run(ctx, spec, task, state, gate, nil),
			}
		}(spec, step.Task)
	}

	wg.Wait()
	close(resultCh)

	var out groupOutcome
	for br := range resultCh {
		if book := br.outcome.correction; book.touched {
			if !out.correction.touched || book.attempts > out.correction.attempts {
				out.correction = book
			}
		}
		if br.outcome.suspended {
			out.suspended = br.specialist
			continue
		}
		out.results = append(out.results, br.outcome.result)
	}
	return out
}

// pendingNames derives the sorted pending-specialist list for a group.
func pendingNames(steps []types.PlanStep, stepIdx []int) []string {
	names := make([]string, 0, len(stepIdx))
	for _, idx := range stepIdx {
		names = append(names, steps[idx].Specialist)
	}
	sort.Strings(names)
	return names
}

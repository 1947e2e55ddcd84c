package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/vantris/erpagent/types"
)

// Planner decomposes a compound request into an ordered list of
// specialist steps with explicit dependencies, then partitions the
// steps into execution groups.
type Planner struct {
	completer Completer
	catalog   *Catalog
	logger    *zap.Logger
}

// NewPlanner creates a planner over the given catalog.
func NewPlanner(completer Completer, catalog *Catalog, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{
		completer: completer,
		catalog:   catalog,
		logger:    logger.With(zap.String("component", "planner")),
	}
}

const planPromptTemplate = `You are the planning step of an ERP assistant. Break the user's request into specialist steps.

Available specialists:
%s
User request:
%s

Respond with a single JSON object, no prose:
{"summary": "<one sentence>",
 "steps": [
   {"step_number": 1,
    "specialist_name": "<name from the list>",
    "task_description": "<what this step must accomplish>",
    "depends_on": [<earlier step numbers>],
    "can_run_parallel": true|false}
 ]}

Rules:
- Step numbers start at 1 and increase by 1.
- depends_on may only name earlier steps.
- can_run_parallel is true only when the step does not need any earlier step's output.`

// BuildPlan asks the model for a plan and validates it. A step whose
// dependencies reference itself or a later step is dropped with a
// warning rather than failing the whole plan. An empty or unusable plan
// falls back to rule-based splitting; if that also yields nothing the
// returned plan has no steps and the caller answers directly.
func (p *Planner) BuildPlan(ctx context.Context, request string) (types.Plan, error) {
	prompt := fmt.Sprintf(planPromptTemplate, p.catalog.Describe(), request)

	raw, err := p.completer.Complete(ctx, prompt)
	if err != nil {
		p.logger.Warn("planning model unavailable, using fallback", zap.Error(err))
		return p.fallbackPlan(request), nil
	}

	plan, ok := parsePlan(raw)
	if !ok {
		p.logger.Warn("unparseable plan output, using fallback",
			zap.String("raw", truncate(raw, 200)))
		return p.fallbackPlan(request), nil
	}

	plan.Steps = p.validateSteps(plan.Steps)
	if len(plan.Steps) == 0 {
		return p.fallbackPlan(request), nil
	}
	return plan, nil
}

// validateSteps renumbers steps, drops steps routed to unknown
// specialists, and drops forward or self dependencies.
func (p *Planner) validateSteps(steps []types.PlanStep) []types.PlanStep {
	valid := steps[:0]
	kept := make(map[int]int) // original number -> new number
	for _, s := range steps {
		if _, ok := p.catalog.Get(s.Specialist); !ok {
			p.logger.Warn("dropping step for unknown specialist",
				zap.Int("step", s.Number), zap.String("specialist", s.Specialist))
			continue
		}
		newNum := len(valid) + 1
		var deps []int
		for _, d := range s.DependsOn {
			mapped, ok := kept[d]
			if !ok || mapped >= newNum {
				p.logger.Warn("dropping invalid dependency",
					zap.Int("step", s.Number), zap.Int("depends_on", d))
				continue
			}
			deps = append(deps, mapped)
		}
		kept[s.Number] = newNum
		s.Number = newNum
		s.DependsOn = deps
		valid = append(valid, s)
	}
	return valid
}

// fallbackPlan splits the request on coordinating phrases and assigns
// each fragment to the best matching specialist. "then" introduces a
// dependency on the preceding step; "and" fragments are independent.
func (p *Planner) fallbackPlan(request string) types.Plan {
	type fragment struct {
		text      string
		dependsOn bool // depends on the previous fragment
	}

	frags := []fragment{{text: request}}
	for _, sep := range []struct {
		token string
		dep   bool
	}{
		{" then ", true},
		{", then ", true},
		{" and ", false},
	} {
		var next []fragment
		for _, f := range frags {
			parts := strings.Split(f.text, sep.token)
			for i, part := range parts {
				nf := fragment{text: strings.TrimSpace(part)}
				if i == 0 {
					nf.dependsOn = f.dependsOn
				} else {
					nf.dependsOn = sep.dep
				}
				if nf.text != "" {
					next = append(next, nf)
				}
			}
		}
		frags = next
	}

	var plan types.Plan
	for _, f := range frags {
		name := p.catalog.BestMatch(f.text)
		if name == "" {
			continue
		}
		step := types.PlanStep{
			Number:      len(plan.Steps) + 1,
			Specialist:  name,
			Task:        f.text,
			CanParallel: !f.dependsOn,
		}
		if f.dependsOn && len(plan.Steps) > 0 {
			step.DependsOn = []int{len(plan.Steps)}
		}
		plan.Steps = append(plan.Steps, step)
	}
	if len(plan.Steps) > 0 {
		plan.Summary = "Handle the request in " + fmt.Sprintf("%d", len(plan.Steps)) + " steps"
	}
	return plan
}

func parsePlan(raw string) (types.Plan, bool) {
	body, ok := extractJSONObject(raw)
	if !ok {
		return types.Plan{}, false
	}
	var plan types.Plan
	if err := json.Unmarshal([]byte(body), &plan); err != nil {
		return types.Plan{}, false
	}
	return plan, len(plan.Steps) > 0
}

// ParallelGroups partitions plan steps into sequential groups of
// concurrently runnable steps. Steps are walked in order; a step joins
// the currently open group only when it is marked parallel-safe and
// none of its dependencies sit in that same group. Anything else seals
// the open group and starts a new one. The first step of a group always
// joins it, so a strictly sequential plan yields one group per step.
// Returned values are indices into plan.Steps.
func ParallelGroups(steps []types.PlanStep) [][]int {
	if len(steps) == 0 {
		return nil
	}

	var groups [][]int
	current := []int{0}
	inCurrent := map[int]bool{steps[0].Number: true}

	for i := 1; i < len(steps); i++ {
		s := steps[i]
		joinable := s.CanParallel
		if joinable {
			for _, d := range s.DependsOn {
				if inCurrent[d] {
					joinable = false
					break
				}
			}
		}
		if joinable {
			current = append(current, i)
			inCurrent[s.Number] = true
			continue
		}
		groups = append(groups, current)
		current = []int{i}
		inCurrent = map[int]bool{s.Number: true}
	}
	return append(groups, current)
}

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vantris/erpagent/internal/metrics"
	"github.com/vantris/erpagent/tools"
	"github.com/vantris/erpagent/types"
)

// executor runs one specialist invocation: a bounded tool-call loop
// over the specialist's restricted tool subset, with the consent gate
// in front of state-changing calls and the corrective retrieval node
// behind failed ones.
type executor struct {
	completer Completer
	registry  *tools.Registry
	corrector *corrector
	collector *metrics.Collector
	logger    *zap.Logger
}

func newExecutor(completer Completer, registry *tools.Registry, corrector *corrector, collector *metrics.Collector, logger *zap.Logger) *executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &executor{
		completer: completer,
		registry:  registry,
		corrector: corrector,
		collector: collector,
		logger:    logger.With(zap.String("component", "executor")),
	}
}

// turnOutcome is the result of one specialist invocation. A suspended
// outcome means a state-changing call is awaiting consent and the
// specialist produced no result this turn.
type turnOutcome struct {
	result    types.SpecialistResult
	suspended bool
	// correction is the branch's view of the correction bookkeeping,
	// started from a snapshot of the state. The caller folds it back
	// into ExecutionState once it holds the single-writer position.
	correction correctionBook
}

// specialistAction is the wire shape a specialist's reasoning step must
// produce on each iteration.
type specialistAction struct {
	Action string `json:"action"`
	Tool   *struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"tool,omitempty"`
	Text string `json:"text,omitempty"`
}

const specialistPromptTemplate = `You are %s, a specialist in an ERP assistant.
Your capability: %s

Your tools:
%s
Conversation snapshot:
%s

Your task:
%s
%s
On each turn respond with a single JSON object, no prose:
- To call a tool: {"action": "tool", "tool": {"name": "<tool name>", "arguments": {...}}}
- To finish:      {"action": "final", "text": "<your result for the coordinator>"}

You have %d tool calls remaining. Finish with a clear textual result.`

// run executes the specialist against its task. seed carries messages
// injected ahead of the first reasoning step, used when resuming after
// a consent decision to hand the specialist its resolved tool result.
// Failures are returned as Succeeded=false results, never as absent
// entries. The state is read-only here; correction bookkeeping travels
// in the returned outcome so parallel branches stay race-free.
func (e *executor) run(ctx context.Context, spec Specialist, task string, state *types.ExecutionState, gate *consentGate, seed []types.Message) turnOutcome {
	start := time.Now()
	out := e.runTask(ctx, spec, task, state, gate, seed)
	status := "ok"
	switch {
	case out.suspended:
		status = "suspended"
	case !out.result.Succeeded:
		status = "failed"
	}
	e.collector.RecordSpecialistRun(spec.Name, status, time.Since(start))
	return out
}

func (e *executor) runTask(ctx context.Context, spec Specialist, task string, state *types.ExecutionState, gate *consentGate, seed []types.Message) turnOutcome {
	book := bookFromState(state)
	out := e.taskLoop(ctx, spec, task, state, gate, seed, &book)
	out.correction = book
	return out
}

func (e *executor) taskLoop(ctx context.Context, spec Specialist, task string, state *types.ExecutionState, gate *consentGate, seed []types.Message, book *correctionBook) turnOutcome {
	ctx, cancel := context.WithTimeout(ctx, spec.Timeout)
	defer cancel()

	allowed := e.registry.Subset(spec.Tools)
	log := e.logger.With(zap.String("specialist", spec.Name))

	var transcript []types.Message
	transcript = append(transcript, seed...)

	budget := spec.ToolBudget
	for {
		prompt := e.buildPrompt(spec, task, state, allowed, transcript, budget)
		raw, err := e.completer.Complete(ctx, prompt)
		if err != nil {
			log.Warn("specialist reasoning failed", zap.Error(err))
			return failedOutcome(spec.Name, fmt.Sprintf("specialist %s could not complete the task: %v", spec.Name, err))
		}

		action := parseAction(raw)
		if action.Action == "final" || action.Tool == nil {
			text := action.Text
			if text == "" {
				text = strings.TrimSpace(raw)
			}
			return turnOutcome{result: types.SpecialistResult{
				Specialist: spec.Name,
				Text:       text,
				Succeeded:  true,
			}}
		}

		if budget <= 0 {
			log.Warn("tool budget exhausted", zap.Int("budget", spec.ToolBudget))
			return failedOutcome(spec.Name, fmt.Sprintf("specialist %s ran out of tool calls before finishing: %s", spec.Name, task))
		}
		budget--

		call := types.ToolCall{
			ID:        newCallID(),
			Name:      action.Tool.Name,
			Arguments: action.Tool.Arguments,
		}

		desc, known := allowed.Lookup(call.Name)
		if !known {
			transcript = append(transcript, types.ToolResult{
				ToolCallID: call.ID,
				Name:       call.Name,
				Content:    fmt.Sprintf("Error: %v: %s", tools.ErrToolNotFound, call.Name),
			}.ToMessage())
			continue
		}

		if desc.SideEffect == tools.StateChanging {
			won, rejection := gate.claim(ctx, spec.Name, task, call)
			if won {
				log.Info("state-changing call suspended for consent",
					zap.String("tool", call.Name))
				return turnOutcome{suspended: true}
			}
			transcript = append(transcript, rejection.ToMessage())
			continue
		}

		result := allowed.Invoke(ctx, call)
		e.collector.RecordToolCall(call.Name, result.Success, result.Duration)
		transcript = append(transcript, result.ToMessage())
		log.Debug("tool invoked",
			zap.String("tool", call.Name),
			zap.Bool("success", result.Success),
			zap.Duration("duration", result.Duration))

		if injection := e.corrector.observe(ctx, book, desc.Knowledge, call, result); injection != "" {
			transcript = append(transcript, types.NewSystemMessage(injection))
		}

		if ctx.Err() != nil {
			return failedOutcome(spec.Name, fmt.Sprintf("specialist %s timed out on: %s", spec.Name, task))
		}
	}
}

// executeResolved runs an approved or edited tool call outside the
// reasoning loop, applies corrective bookkeeping, and re-invokes the
// specialist with the result injected so it can finish its task.
func (e *executor) executeResolved(ctx context.Context, spec Specialist, task string, state *types.ExecutionState, gate *consentGate, call types.ToolCall) turnOutcome {
	allowed := e.registry.Subset(spec.Tools)
	result := allowed.Invoke(ctx, call)
	e.collector.RecordToolCall(call.Name, result.Success, result.Duration)

	seed := []types.Message{result.ToMessage()}
	if desc, ok := allowed.Lookup(call.Name); ok {
		book := bookFromState(state)
		if injection := e.corrector.observe(ctx, &book, desc.Knowledge, call, result); injection != "" {
			seed = append(seed, types.NewSystemMessage(injection))
		}
		// Resume holds the single-writer position for the thread, so
		// the resolved call's bookkeeping can land before the follow-up
		// reasoning loop snapshots the state.
		book.apply(state)
	}
	return e.run(ctx, spec, task, state, gate, seed)
}

func (e *executor) buildPrompt(spec Specialist, task string, state *types.ExecutionState, allowed *tools.Registry, transcript []types.Message, budget int) string {
	var toolList strings.Builder
	for _, name := range allowed.Names() {
		d, _ := allowed.Lookup(name)
		fmt.Fprintf(&toolList, "- %s: %s\n", d.Name, d.Description)
	}

	var progress strings.Builder
	if len(transcript) > 0 {
		progress.WriteString("\nYour progress so far:\n")
		for _, m := range transcript {
			switch m.Role {
			case types.RoleTool:
				fmt.Fprintf(&progress, "tool %s returned: %s\n", m.Name, truncate(m.Content, 2000))
			case types.RoleSystem:
				fmt.Fprintf(&progress, "note: %s\n", truncate(m.Content, 2000))
			}
		}
	}

	return fmt.Sprintf(specialistPromptTemplate,
		spec.Name,
		spec.Capability,
		toolList.String(),
		snapshotTranscript(state.Messages, snapshotBudget),
		task,
		progress.String(),
		budget)
}

func parseAction(raw string) specialistAction {
	body, ok := extractJSONObject(raw)
	if !ok {
		return specialistAction{Action: "final", Text: strings.TrimSpace(raw)}
	}
	var action specialistAction
	if err := json.Unmarshal([]byte(body), &action); err != nil {
		return specialistAction{Action: "final", Text: strings.TrimSpace(raw)}
	}
	return action
}

func newCallID() string {
	return "call_" + uuid.NewString()
}

func failedOutcome(specialist, text string) turnOutcome {
	return turnOutcome{result: types.SpecialistResult{
		Specialist: specialist,
		Text:       text,
		Succeeded:  false,
	}}
}

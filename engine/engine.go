package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/vantris/erpagent/checkpoint"
	"github.com/vantris/erpagent/internal/metrics"
	"github.com/vantris/erpagent/tools"
	"github.com/vantris/erpagent/types"
)

// Options tunes the engine loop. Zero values get sane defaults.
type Options struct {
	// MaxIterations bounds the decide/dispatch loop within one turn.
	MaxIterations int
	// MaxConcurrent caps specialists running at once in a group.
	MaxConcurrent int
	// MaxCorrectionAttempts bounds corrective retrieval per error chain.
	MaxCorrectionAttempts int
}

func (o Options) withDefaults() Options {
	if o.MaxIterations <= 0 {
		o.MaxIterations = 8
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 4
	}
	if o.MaxCorrectionAttempts <= 0 {
		o.MaxCorrectionAttempts = 2
	}
	return o
}

// TurnResult is what one engine turn hands back to the transport layer.
type TurnResult struct {
	ThreadID string `json:"thread_id"`
	// Reply is the assistant's answer; empty while awaiting consent.
	Reply string `json:"reply,omitempty"`
	// AwaitingConsent marks a suspended turn. Interrupt carries the
	// pending call for the approval UI.
	AwaitingConsent bool                   `json:"awaiting_consent"`
	Interrupt       *types.PendingToolCall `json:"interrupt,omitempty"`
}

// Engine is the orchestration core: it owns the decide/plan/dispatch
// loop, checkpoints state at every boundary, suspends on consent
// interrupts, and resumes from the persisted continuation.
type Engine struct {
	store        checkpoint.Store
	catalog      *Catalog
	orchestrator *Orchestrator
	planner      *Planner
	dispatcher   *dispatcher
	executor     *executor
	synthesizer  *synthesizer
	signal       Signal
	collector    *metrics.Collector
	tracer       trace.Tracer
	opts         Options
	logger       *zap.Logger

	// busy serializes turns per thread. A second concurrent turn on the
	// same thread is rejected, not queued.
	busy sync.Map
}

// Config wires the engine's collaborators.
type Config struct {
	Completer Completer
	Retriever Retriever
	Registry  *tools.Registry
	Catalog   *Catalog
	Store     checkpoint.Store
	Signal    Signal
	Collector *metrics.Collector
	Logger    *zap.Logger
	Options   Options
}

// New assembles an engine. Completer, Registry, Catalog and Store are
// required; Signal, Retriever and Collector are optional.
func New(cfg Config) (*Engine, error) {
	if cfg.Completer == nil {
		return nil, fmt.Errorf("engine: completer is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("engine: tool registry is required")
	}
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("engine: specialist catalog is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("engine: checkpoint store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := cfg.Options.withDefaults()

	corr := newCorrector(cfg.Completer, cfg.Retriever, opts.MaxCorrectionAttempts, cfg.Collector, logger)
	exec := newExecutor(cfg.Completer, cfg.Registry, corr, cfg.Collector, logger)

	return &Engine{
		store:        cfg.Store,
		catalog:      cfg.Catalog,
		orchestrator: NewOrchestrator(cfg.Completer, cfg.Catalog, logger),
		planner:      NewPlanner(cfg.Completer, cfg.Catalog, logger),
		dispatcher:   newDispatcher(exec, opts.MaxConcurrent, logger),
		executor:     exec,
		synthesizer:  newSynthesizer(cfg.Completer, logger),
		signal:       cfg.Signal,
		collector:    cfg.Collector,
		tracer:       otel.Tracer("erpagent/engine"),
		opts:         opts,
		logger:       logger.With(zap.String("component", "engine")),
	}, nil
}

// HandleMessage runs one user turn against a thread: load or create the
// checkpointed state, append the message, and drive the loop until the
// turn answers or suspends on a consent interrupt.
func (e *Engine) HandleMessage(ctx context.Context, threadID, text string) (*TurnResult, error) {
	ctx, span := e.tracer.Start(ctx, "engine.HandleMessage",
		trace.WithAttributes(attribute.String("thread_id", threadID)))
	defer span.End()

	if err := e.acquire(threadID); err != nil {
		return nil, err
	}
	defer e.release(threadID)

	start := time.Now()
	state, err := e.loadOrCreate(ctx, threadID)
	if err != nil {
		return nil, err
	}

	if state.HasInterrupt() {
		e.collector.RecordTurn("rejected_pending_consent", time.Since(start))
		return nil, types.NewError(types.ErrConsentPending,
			"an action is awaiting approval on this thread; resolve it before sending new messages").
			WithHTTPStatus(409)
	}

	state.Append(types.NewUserMessage(text))
	if err := e.checkpoint(ctx, state); err != nil {
		return nil, err
	}

	result, err := e.runLoop(ctx, state)
	e.recordTurn(start, result, err)
	return result, err
}

// Resume applies a consent decision to a suspended thread and drives
// the turn forward from the persisted continuation. Resume is
// idempotent in effect: once an interrupt is resolved, later responses
// for it are rejected with CONSENT_RESOLVED.
func (e *Engine) Resume(ctx context.Context, threadID string, resp types.ConsentResponse) (*TurnResult, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Resume",
		trace.WithAttributes(attribute.String("thread_id", threadID)))
	defer span.End()

	if err := e.acquire(threadID); err != nil {
		return nil, err
	}
	defer e.release(threadID)

	start := time.Now()
	state, err := e.store.Get(ctx, threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil, types.NewError(types.ErrNotFound, "unknown thread").WithHTTPStatus(404)
	}
	if err != nil {
		return nil, types.NewError(types.ErrCheckpointFailed, "loading thread state failed").
			WithCause(err).WithHTTPStatus(500).WithRetryable(true)
	}

	if !state.HasInterrupt() {
		return nil, types.NewError(types.ErrConsentResolved,
			"no consent request is pending on this thread").WithHTTPStatus(409)
	}

	norm := resp.Normalize()
	e.collector.RecordConsentResolution(string(norm.Kind))

	pending, approved := resolveInterrupt(ctx, state, e.signal, norm, e.logger)
	if err := e.checkpoint(ctx, state); err != nil {
		return nil, err
	}

	spec, ok := e.catalog.Get(pending.Specialist)
	if !ok {
		// The catalog changed between suspension and resume. Record the
		// failure honestly and let synthesis report it.
		state.Results = append(state.Results, types.SpecialistResult{
			Specialist: pending.Specialist,
			Text:       fmt.Sprintf("specialist %s is no longer available", pending.Specialist),
			Succeeded:  false,
		})
		e.removePending(state, pending.Specialist)
		if state.RemainingGroups() && len(state.PendingSpecialists) == 0 {
			state.GroupIndex++
		}
		result, err := e.runLoop(ctx, state)
		e.recordTurn(start, result, err)
		return result, err
	}

	gate := newConsentGate(state, e.signal, e.logger)
	var outcome turnOutcome
	if approved != nil {
		outcome = e.executor.executeResolved(ctx, spec, pending.Task, state, gate, *approved)
	} else {
		seed := []types.Message{deniedResult(pending).ToMessage()}
		if norm.Kind == types.ConsentFreeText && norm.Text != "" {
			seed = append(seed, types.NewSystemMessage("The user said: "+norm.Text))
		}
		outcome = e.executor.run(ctx, spec, pending.Task, state, gate, seed)
	}
	outcome.correction.apply(state)

	if outcome.suspended {
		// The re-invoked specialist raised another state-changing call.
		if err := e.checkpoint(ctx, state); err != nil {
			return nil, err
		}
		result := e.awaitingResult(state)
		e.recordTurn(start, result, nil)
		return result, nil
	}

	state.Results = append(state.Results, outcome.result)
	e.removePending(state, pending.Specialist)
	// The suspended branch was the last member of its group; the other
	// branches joined before suspension was observed. Completing it
	// completes the group.
	if state.RemainingGroups() && len(state.PendingSpecialists) == 0 {
		state.GroupIndex++
	}
	if err := e.checkpoint(ctx, state); err != nil {
		return nil, err
	}

	result, err := e.runLoop(ctx, state)
	e.recordTurn(start, result, err)
	return result, err
}

// InterruptStatus reports the pending consent request for a thread, or
// nil when none is outstanding. The signal side channel is consulted
// first; the checkpoint is the fallback truth.
func (e *Engine) InterruptStatus(ctx context.Context, threadID string) (*types.PendingToolCall, error) {
	if e.signal != nil {
		if pending, ok, err := e.signal.Get(ctx, threadID); err == nil && ok {
			return &pending, nil
		}
	}
	state, err := e.store.Get(ctx, threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil, types.NewError(types.ErrNotFound, "unknown thread").WithHTTPStatus(404)
	}
	if err != nil {
		return nil, types.NewError(types.ErrCheckpointFailed, "loading thread state failed").
			WithCause(err).WithHTTPStatus(500).WithRetryable(true)
	}
	return state.Interrupt, nil
}

// DeleteThread removes all persisted state for a thread.
func (e *Engine) DeleteThread(ctx context.Context, threadID string) error {
	if e.signal != nil {
		if err := e.signal.Clear(ctx, threadID); err != nil {
			e.logger.Warn("interrupt signal clear failed on delete", zap.Error(err))
		}
	}
	if err := e.store.Delete(ctx, threadID); err != nil && !errors.Is(err, checkpoint.ErrNotFound) {
		return types.NewError(types.ErrCheckpointFailed, "deleting thread state failed").
			WithCause(err).WithHTTPStatus(500).WithRetryable(true)
	}
	return nil
}

// runLoop drives one turn: finish any plan groups still outstanding,
// then classify and route until the turn produces an answer or
// suspends. The iteration bound keeps a confused model from looping
// the thread forever.
func (e *Engine) runLoop(ctx context.Context, state *types.ExecutionState) (*TurnResult, error) {
	gate := newConsentGate(state, e.signal, e.logger)

	for iter := 0; iter < e.opts.MaxIterations; iter++ {
		if state.RemainingGroups() {
			group := state.Groups[state.GroupIndex]
			state.PendingSpecialists = pendingNames(state.Plan.Steps, group)
			if err := e.checkpoint(ctx, state); err != nil {
				return nil, err
			}

			ctx, span := e.tracer.Start(ctx, "engine.DispatchGroup",
				trace.WithAttributes(
					attribute.String("thread_id", state.ThreadID),
					attribute.Int("group_index", state.GroupIndex),
					attribute.Int("group_size", len(group))))
			outcome := e.dispatcher.dispatchGroup(ctx, state, gate, e.catalog, group)
			span.End()

			outcome.correction.apply(state)
			state.Results = append(state.Results, outcome.results...)
			for _, r := range outcome.results {
				e.removePending(state, r.Specialist)
			}

			if outcome.suspended != "" {
				if err := e.checkpoint(ctx, state); err != nil {
					return nil, err
				}
				e.collector.RecordInterruptRaised(state.Interrupt.Call.Name)
				return e.awaitingResult(state), nil
			}

			// The group joined completely; only now does the cursor move.
			state.GroupIndex++
			state.PendingSpecialists = nil
			if err := e.checkpoint(ctx, state); err != nil {
				return nil, err
			}
			continue
		}

		decision := e.decide(ctx, state)
		switch decision.Kind {
		case Respond:
			reply := e.synthesizer.Synthesize(ctx, state, decision.Reply)
			state.ClearPlan()
			state.Append(types.NewAssistantMessage(reply))
			if err := e.checkpoint(ctx, state); err != nil {
				return nil, err
			}
			return &TurnResult{ThreadID: state.ThreadID, Reply: reply}, nil

		case RouteOne:
			spec, ok := e.catalog.Get(decision.Specialist)
			if !ok {
				state.Results = append(state.Results, types.SpecialistResult{
					Specialist: decision.Specialist,
					Text:       fmt.Sprintf("no specialist named %s is registered", decision.Specialist),
					Succeeded:  false,
				})
				continue
			}
			outcome := e.executor.run(ctx, spec, state.LastUserMessage(), state, gate, nil)
			outcome.correction.apply(state)
			if outcome.suspended {
				if err := e.checkpoint(ctx, state); err != nil {
					return nil, err
				}
				e.collector.RecordInterruptRaised(state.Interrupt.Call.Name)
				return e.awaitingResult(state), nil
			}
			state.Results = append(state.Results, outcome.result)
			if err := e.checkpoint(ctx, state); err != nil {
				return nil, err
			}

		case RoutePlan:
			plan, err := e.planner.BuildPlan(ctx, state.LastUserMessage())
			if err != nil {
				return nil, types.NewError(types.ErrPlanning, "planning failed").WithCause(err)
			}
			if len(plan.Steps) == 0 {
				reply := "I couldn't break that request into concrete steps. Could you be more specific about what you need?"
				state.Append(types.NewAssistantMessage(reply))
				if err := e.checkpoint(ctx, state); err != nil {
					return nil, err
				}
				return &TurnResult{ThreadID: state.ThreadID, Reply: reply}, nil
			}
			state.Plan = &plan
			state.Groups = ParallelGroups(plan.Steps)
			state.GroupIndex = 0
			if err := e.checkpoint(ctx, state); err != nil {
				return nil, err
			}

		case RouteParallel:
			// Ad hoc single-group plan: every named specialist gets the
			// whole request at once.
			plan := types.Plan{Summary: "parallel fan-out"}
			for i, name := range decision.Specialists {
				plan.Steps = append(plan.Steps, types.PlanStep{
					Number:      i + 1,
					Specialist:  name,
					Task:        state.LastUserMessage(),
					CanParallel: true,
				})
			}
			state.Plan = &plan
			state.Groups = ParallelGroups(plan.Steps)
			state.GroupIndex = 0
			if err := e.checkpoint(ctx, state); err != nil {
				return nil, err
			}
		}
	}

	// Iteration bound hit. Synthesize whatever accumulated so the user
	// gets a truthful partial answer instead of silence.
	e.logger.Warn("turn iteration bound reached", zap.String("thread_id", state.ThreadID))
	reply := e.synthesizer.Synthesize(ctx, state, "")
	state.ClearPlan()
	state.Append(types.NewAssistantMessage(reply))
	if err := e.checkpoint(ctx, state); err != nil {
		return nil, err
	}
	return &TurnResult{ThreadID: state.ThreadID, Reply: reply}, nil
}

func (e *Engine) decide(ctx context.Context, state *types.ExecutionState) Decision {
	ctx, span := e.tracer.Start(ctx, "engine.Decide",
		trace.WithAttributes(attribute.String("thread_id", state.ThreadID)))
	defer span.End()
	d := e.orchestrator.Decide(ctx, state)
	span.SetAttributes(attribute.String("decision", string(d.Kind)))
	return d
}

func (e *Engine) loadOrCreate(ctx context.Context, threadID string) (*types.ExecutionState, error) {
	state, err := e.store.Get(ctx, threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return types.NewExecutionState(threadID), nil
	}
	if err != nil {
		return nil, types.NewError(types.ErrCheckpointFailed, "loading thread state failed").
			WithCause(err).WithHTTPStatus(500).WithRetryable(true)
	}
	return state, nil
}

// checkpoint persists the state. A failed write aborts the turn: the
// engine never keeps running ahead of durable state.
func (e *Engine) checkpoint(ctx context.Context, state *types.ExecutionState) error {
	start := time.Now()
	err := e.store.Put(ctx, state)
	e.collector.RecordCheckpointOp("put", err, time.Since(start))
	if err != nil {
		e.logger.Error("checkpoint write failed",
			zap.String("thread_id", state.ThreadID), zap.Error(err))
		return types.NewError(types.ErrCheckpointFailed, "persisting thread state failed").
			WithCause(err).WithHTTPStatus(500).WithRetryable(true)
	}
	return nil
}

func (e *Engine) awaitingResult(state *types.ExecutionState) *TurnResult {
	return &TurnResult{
		ThreadID:        state.ThreadID,
		AwaitingConsent: true,
		Interrupt:       state.Interrupt,
	}
}

func (e *Engine) removePending(state *types.ExecutionState, specialist string) {
	for i, name := range state.PendingSpecialists {
		if name == specialist {
			state.PendingSpecialists = append(state.PendingSpecialists[:i], state.PendingSpecialists[i+1:]...)
			return
		}
	}
}

func (e *Engine) acquire(threadID string) error {
	if _, loaded := e.busy.LoadOrStore(threadID, struct{}{}); loaded {
		return types.NewError(types.ErrThreadBusy,
			"another turn is already running on this thread").WithHTTPStatus(409).WithRetryable(true)
	}
	return nil
}

func (e *Engine) release(threadID string) {
	e.busy.Delete(threadID)
}

func (e *Engine) recordTurn(start time.Time, result *TurnResult, err error) {
	outcome := "answered"
	switch {
	case err != nil:
		outcome = "error"
	case result != nil && result.AwaitingConsent:
		outcome = "awaiting_consent"
	}
	e.collector.RecordTurn(outcome, time.Since(start))
}

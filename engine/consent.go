package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vantris/erpagent/types"
)

// consentGate serializes interrupt claims for one message turn. The
// engine creates a fresh gate per turn; when parallel branches race to
// raise a state-changing tool call, exactly one wins the pending slot
// and the rest receive a rejection result so their branch can finish
// the turn instead of silently dropping the call.
type consentGate struct {
	state  *types.ExecutionState
	signal Signal
	logger *zap.Logger
	mu     sync.Mutex
}

func newConsentGate(state *types.ExecutionState, signal Signal, logger *zap.Logger) *consentGate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &consentGate{
		state:  state,
		signal: signal,
		logger: logger.With(zap.String("component", "consent_gate")),
	}
}

// claim attempts to register a pending tool call for user approval.
// On success the caller must suspend its turn. When another branch
// already holds the interrupt slot, claim returns a synthesized
// rejection result for the losing call.
func (g *consentGate) claim(ctx context.Context, specialist, task string, call types.ToolCall) (won bool, rejection types.ToolResult) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state.Interrupt != nil {
		g.logger.Info("concurrent state-changing call rejected while interrupt pending",
			zap.String("specialist", specialist),
			zap.String("tool", call.Name),
			zap.String("pending_tool", g.state.Interrupt.Call.Name))
		return false, types.ToolResult{
			ToolCallID: call.ID,
			Name:       call.Name,
			Content:    "This action was not performed: another action is already awaiting user approval. Ask again after the pending approval is resolved.",
			Success:    false,
		}
	}

	g.state.Interrupt = &types.PendingToolCall{
		Specialist: specialist,
		Task:       task,
		Call:       call,
		RaisedAt:   time.Now().UTC(),
	}

	// The side channel is advisory. A failed publish never blocks the
	// interrupt itself; pollers still observe it through the checkpoint.
	if g.signal != nil {
		if err := g.signal.Set(ctx, g.state.ThreadID, *g.state.Interrupt); err != nil {
			g.logger.Warn("interrupt signal publish failed", zap.Error(err))
		}
	}
	return true, types.ToolResult{}
}

// resolveInterrupt applies a user's consent response to the pending
// call and clears the slot. It returns the original pending call and
// the call to actually execute (nil when the user denied).
func resolveInterrupt(ctx context.Context, state *types.ExecutionState, signal Signal, resp types.ConsentResponse, logger *zap.Logger) (pending types.PendingToolCall, approved *types.ToolCall) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pending = *state.Interrupt
	state.Interrupt = nil

	if signal != nil {
		if err := signal.Clear(ctx, state.ThreadID); err != nil {
			logger.Warn("interrupt signal clear failed", zap.Error(err))
		}
	}

	switch resp.Normalize().Kind {
	case types.ConsentAccept:
		call := pending.Call
		return pending, &call
	case types.ConsentEdit:
		call := pending.Call
		call.Arguments = resp.NewArgs
		return pending, &call
	default:
		return pending, nil
	}
}

// deniedResult is the tool result injected when the user declines an
// action. It reads as a successful outcome of the approval flow so the
// specialist reports the cancellation instead of treating it as a
// failure to correct.
func deniedResult(pending types.PendingToolCall) types.ToolResult {
	return types.ToolResult{
		ToolCallID: pending.Call.ID,
		Name:       pending.Call.Name,
		Content:    "Action cancelled by the user.",
		Success:    true,
	}
}

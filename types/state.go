package types

import (
	"encoding/json"
	"time"
)

// PlanStep is one unit of work in a plan, assigned to exactly one
// specialist. DependsOn holds step numbers of earlier steps whose output
// this step needs.
type PlanStep struct {
	Number      int    `json:"step_number"`
	Specialist  string `json:"specialist_name"`
	Task        string `json:"task_description"`
	DependsOn   []int  `json:"depends_on,omitempty"`
	CanParallel bool   `json:"can_run_parallel"`
}

// Plan is an ordered decomposition of a complex request.
type Plan struct {
	Summary string     `json:"summary"`
	Steps   []PlanStep `json:"steps"`
}

// SpecialistResult is the normalized result of one specialist invocation.
// A specialist that failed contributes Succeeded=false with the error text
// in Text, never an absent entry.
type SpecialistResult struct {
	Specialist string `json:"specialist_name"`
	Text       string `json:"text"`
	Succeeded  bool   `json:"succeeded"`
}

// ErrorContext captures the most recent failed tool call for the
// corrective retrieval node.
type ErrorContext struct {
	Tool           string `json:"tool_name"`
	DoctypeHint    string `json:"doctype_hint,omitempty"`
	ErrorText      string `json:"error_text"`
	RewrittenQuery string `json:"rewritten_query,omitempty"`
}

// PendingToolCall is the serialized continuation persisted while a
// state-changing tool call awaits human consent. It carries everything the
// resume entry point needs to re-derive the next action.
type PendingToolCall struct {
	Specialist string          `json:"specialist_name"`
	Task       string          `json:"task_description"`
	Call       ToolCall        `json:"call"`
	RaisedAt   time.Time       `json:"raised_at"`
	Extra      json.RawMessage `json:"extra,omitempty"`
}

// ExecutionState is the complete persisted state of one conversation
// thread. It is owned exclusively by that thread; all mutation goes
// through the engine and is checkpointed before any suspension point.
type ExecutionState struct {
	ThreadID string `json:"thread_id"`

	// Messages is append-only; entries are never mutated in place.
	Messages []Message `json:"message_log"`

	Plan *Plan `json:"current_plan,omitempty"`

	// Groups lists step indices (into Plan.Steps) that may run
	// concurrently; groups execute strictly in order.
	Groups [][]int `json:"execution_groups,omitempty"`

	// GroupIndex is the cursor into Groups; it advances monotonically and
	// only after the prior group fully joins.
	GroupIndex int `json:"current_group_index"`

	// PendingSpecialists holds specialist names dispatched but not yet
	// joined. Serialized as a sorted list for stable checkpoints.
	PendingSpecialists []string `json:"pending_specialists,omitempty"`

	// Results accumulates specialist results; cleared only after synthesis.
	Results []SpecialistResult `json:"specialist_results,omitempty"`

	// CorrectionAttempts is bounded by the engine's attempt cap and reset
	// to 0 on any non-knowledge tool success.
	CorrectionAttempts int `json:"correction_attempts"`

	LastError *ErrorContext `json:"last_error_context,omitempty"`

	// Interrupt is non-nil while a consent request is outstanding. At most
	// one interrupt exists per thread at any time.
	Interrupt *PendingToolCall `json:"interrupt_pending,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewExecutionState creates the start-of-conversation state for a thread.
func NewExecutionState(threadID string) *ExecutionState {
	now := time.Now()
	return &ExecutionState{
		ThreadID:  threadID,
		Messages:  make([]Message, 0, 8),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds messages to the log. The log is append-only.
func (s *ExecutionState) Append(msgs ...Message) {
	s.Messages = append(s.Messages, msgs...)
	s.UpdatedAt = time.Now()
}

// LastUserMessage returns the most recent user message content, or "".
func (s *ExecutionState) LastUserMessage() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleUser {
			return s.Messages[i].Content
		}
	}
	return ""
}

// HasInterrupt reports whether a consent request is outstanding.
func (s *ExecutionState) HasInterrupt() bool {
	return s.Interrupt != nil
}

// RemainingGroups reports whether undispatched plan groups remain.
func (s *ExecutionState) RemainingGroups() bool {
	return s.Plan != nil && s.GroupIndex < len(s.Groups)
}

// ClearPlan drops plan bookkeeping after synthesis.
func (s *ExecutionState) ClearPlan() {
	s.Plan = nil
	s.Groups = nil
	s.GroupIndex = 0
	s.PendingSpecialists = nil
	s.Results = nil
	s.UpdatedAt = time.Now()
}

// Marshal serializes the state for checkpointing.
func (s *ExecutionState) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalExecutionState deserializes a checkpointed state.
func UnmarshalExecutionState(data []byte) (*ExecutionState, error) {
	var s ExecutionState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

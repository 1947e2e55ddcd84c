package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionState_RoundTrip(t *testing.T) {
	s := NewExecutionState("thread-1")
	s.Append(NewUserMessage("create a sales order for Acme"))
	s.Plan = &Plan{
		Summary: "create order",
		Steps: []PlanStep{
			{Number: 1, Specialist: "document", Task: "create SO", CanParallel: true},
			{Number: 2, Specialist: "report", Task: "stock check", CanParallel: true},
			{Number: 3, Specialist: "document", Task: "submit", DependsOn: []int{1, 2}},
		},
	}
	s.Groups = [][]int{{0, 1}, {2}}
	s.GroupIndex = 1
	s.Results = []SpecialistResult{{Specialist: "document", Text: "SO-0001 created", Succeeded: true}}
	s.CorrectionAttempts = 1
	s.LastError = &ErrorContext{Tool: "create_document", DoctypeHint: "Sales Order", ErrorText: "Missing required field: delivery_date"}
	s.Interrupt = &PendingToolCall{
		Specialist: "document",
		Task:       "submit",
		Call:       ToolCall{ID: "tc-1", Name: "submit_document", Arguments: json.RawMessage(`{"doctype":"Sales Order","name":"SO-0001"}`)},
	}

	data, err := s.Marshal()
	require.NoError(t, err)

	got, err := UnmarshalExecutionState(data)
	require.NoError(t, err)

	assert.Equal(t, s.ThreadID, got.ThreadID)
	assert.Equal(t, s.Messages[0].Content, got.Messages[0].Content)
	assert.Equal(t, s.Plan.Steps, got.Plan.Steps)
	assert.Equal(t, s.Groups, got.Groups)
	assert.Equal(t, 1, got.GroupIndex)
	assert.Equal(t, s.Results, got.Results)
	assert.Equal(t, 1, got.CorrectionAttempts)
	assert.Equal(t, "Sales Order", got.LastError.DoctypeHint)
	require.True(t, got.HasInterrupt())
	assert.Equal(t, "submit_document", got.Interrupt.Call.Name)
}

func TestExecutionState_LastUserMessage(t *testing.T) {
	s := NewExecutionState("t")
	assert.Empty(t, s.LastUserMessage())

	s.Append(NewSystemMessage("context"))
	s.Append(NewUserMessage("first"))
	s.Append(NewAssistantMessage("reply"))
	s.Append(NewUserMessage("second"))
	assert.Equal(t, "second", s.LastUserMessage())
}

func TestExecutionState_ClearPlan(t *testing.T) {
	s := NewExecutionState("t")
	s.Plan = &Plan{Steps: []PlanStep{{Number: 1, Specialist: "report"}}}
	s.Groups = [][]int{{0}}
	s.GroupIndex = 1
	s.Results = []SpecialistResult{{Specialist: "report", Text: "ok", Succeeded: true}}

	s.ClearPlan()
	assert.Nil(t, s.Plan)
	assert.Nil(t, s.Groups)
	assert.Zero(t, s.GroupIndex)
	assert.Empty(t, s.Results)
	assert.False(t, s.RemainingGroups())
}

func TestConsentResponse_Normalize(t *testing.T) {
	tests := []struct {
		name string
		in   ConsentResponse
		want ConsentKind
	}{
		{"accept passes", ConsentResponse{Kind: ConsentAccept}, ConsentAccept},
		{"deny passes", ConsentResponse{Kind: ConsentDeny}, ConsentDeny},
		{"edit with args passes", ConsentResponse{Kind: ConsentEdit, NewArgs: json.RawMessage(`{"a":1}`)}, ConsentEdit},
		{"edit without args denies", ConsentResponse{Kind: ConsentEdit}, ConsentDeny},
		{"unknown kind denies", ConsentResponse{Kind: "maybe"}, ConsentDeny},
		{"empty kind denies", ConsentResponse{}, ConsentDeny},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Normalize().Kind)
		})
	}
}

func TestToolResult_ToMessage(t *testing.T) {
	tr := ToolResult{ToolCallID: "tc-9", Name: "get_document", Content: `{"name":"SO-1"}`, Success: true}
	msg := tr.ToMessage()
	assert.Equal(t, RoleTool, msg.Role)
	assert.Equal(t, "tc-9", msg.ToolCallID)
	assert.Equal(t, "get_document", msg.Name)
	assert.False(t, tr.IsError())

	fail := ToolResult{Name: "create_document", Content: "Error: missing field", Success: false}
	assert.True(t, fail.IsError())
}

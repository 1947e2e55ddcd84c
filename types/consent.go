package types

import "encoding/json"

// ConsentKind enumerates the ways a human can answer a consent request.
type ConsentKind string

const (
	ConsentAccept   ConsentKind = "accept"
	ConsentDeny     ConsentKind = "deny"
	ConsentEdit     ConsentKind = "edit"
	ConsentFreeText ConsentKind = "free_text"
	ConsentSelect   ConsentKind = "select"
)

// ConsentRequest describes the state-changing tool call awaiting approval.
type ConsentRequest struct {
	ThreadID string          `json:"thread_id"`
	Tool     string          `json:"tool_name"`
	Args     json.RawMessage `json:"tool_args"`
}

// ConsentResponse is a human decision on a pending consent request. A
// request is satisfied by at most one response; later responses are
// rejected by the gate.
type ConsentResponse struct {
	Kind    ConsentKind     `json:"type"`
	NewArgs json.RawMessage `json:"new_args,omitempty"`
	Text    string          `json:"text,omitempty"`
	Choice  string          `json:"choice,omitempty"`
}

// Normalize maps unknown or malformed response kinds to deny, the safe
// default, and validates edit payloads.
func (r ConsentResponse) Normalize() ConsentResponse {
	switch r.Kind {
	case ConsentAccept, ConsentDeny, ConsentFreeText, ConsentSelect:
		return r
	case ConsentEdit:
		if len(r.NewArgs) == 0 {
			return ConsentResponse{Kind: ConsentDeny}
		}
		return r
	default:
		return ConsentResponse{Kind: ConsentDeny}
	}
}

package engine

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/vantris/erpagent/types"
)

// snapshotBudget caps the token size of the conversation snapshot
// handed to a specialist. Older messages are dropped first; the latest
// user message always survives.
const snapshotBudget = 6000

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// countTokens measures prompt size with the cl100k_base encoding,
// degrading to a bytes/4 estimate when the encoding data is not
// available locally.
func countTokens(s string) int {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	if encoding != nil {
		return len(encoding.Encode(s, nil, nil))
	}
	return len(s)/4 + 1
}

// snapshotTranscript renders the message log for a specialist prompt,
// trimmed from the front to fit the token budget. Tool call plumbing is
// elided; specialists get the conversational shape, not the raw wire
// exchange of other specialists.
func snapshotTranscript(msgs []types.Message, budget int) string {
	if budget <= 0 {
		budget = snapshotBudget
	}

	rendered := make([]string, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case types.RoleUser, types.RoleAssistant:
			if m.Content != "" {
				rendered = append(rendered, fmt.Sprintf("%s: %s", m.Role, m.Content))
			}
		case types.RoleSystem:
			if m.Content != "" {
				rendered = append(rendered, fmt.Sprintf("context: %s", m.Content))
			}
		}
	}
	if len(rendered) == 0 {
		return ""
	}

	// Drop oldest lines until the whole snapshot fits, always keeping
	// the final line.
	start := 0
	for start < len(rendered)-1 {
		if countTokens(strings.Join(rendered[start:], "\n")) <= budget {
			break
		}
		start++
	}
	return strings.Join(rendered[start:], "\n")
}

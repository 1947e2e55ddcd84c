package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/vantris/erpagent/types"
)

// synthesizer folds the specialist results of one turn into a single
// user-facing answer. Failed specialists are reported honestly rather
// than hidden.
type synthesizer struct {
	completer Completer
	logger    *zap.Logger
}

func newSynthesizer(completer Completer, logger *zap.Logger) *synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &synthesizer{
		completer: completer,
		logger:    logger.With(zap.String("component", "synthesizer")),
	}
}

const synthesizePromptTemplate = `You are the voice of an ERP assistant. Combine the specialist results below into one coherent answer to the user's request. Mention failures plainly and suggest what the user can do about them. Do not invent results that are not listed.

User request:
%s

Specialist results:
%s
Respond with the answer text only.`

// Synthesize produces the final reply for a turn. With no results it
// falls back to the provided direct reply; with an unreachable model it
// degrades to a plain concatenation so the user still sees what
// happened.
func (s *synthesizer) Synthesize(ctx context.Context, state *types.ExecutionState, directReply string) string {
	if len(state.Results) == 0 {
		if directReply != "" {
			return directReply
		}
		return "I wasn't able to make progress on that. Could you rephrase or narrow the request?"
	}

	var b strings.Builder
	for _, r := range state.Results {
		status := "ok"
		if !r.Succeeded {
			status = "FAILED"
		}
		fmt.Fprintf(&b, "- [%s] %s: %s\n", status, r.Specialist, truncate(r.Text, 2000))
	}

	prompt := fmt.Sprintf(synthesizePromptTemplate, state.LastUserMessage(), b.String())
	out, err := s.completer.Complete(ctx, prompt)
	if err != nil || strings.TrimSpace(out) == "" {
		if err != nil {
			s.logger.Warn("synthesis model unavailable, returning raw results", zap.Error(err))
		}
		return s.fallback(state)
	}
	return strings.TrimSpace(out)
}

func (s *synthesizer) fallback(state *types.ExecutionState) string {
	var b strings.Builder
	b.WriteString("Here is what was done:\n")
	for _, r := range state.Results {
		if r.Succeeded {
			fmt.Fprintf(&b, "- %s: %s\n", r.Specialist, r.Text)
		} else {
			fmt.Fprintf(&b, "- %s did not complete: %s\n", r.Specialist, r.Text)
		}
	}
	return strings.TrimSpace(b.String())
}

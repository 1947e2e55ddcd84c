package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/vantris/erpagent/types"
)

// DecisionKind is the routing verdict for one orchestrator turn.
type DecisionKind string

const (
	// Respond means answer the user directly, no specialist work.
	Respond DecisionKind = "respond"
	// RouteOne means hand the request to a single specialist.
	RouteOne DecisionKind = "route_one"
	// RoutePlan means the request needs multi-step decomposition.
	RoutePlan DecisionKind = "route_plan"
	// RouteParallel means fan out to independent specialists at once.
	RouteParallel DecisionKind = "route_parallel"
)

// Decision is the outcome of one classification turn.
type Decision struct {
	Kind        DecisionKind `json:"decision"`
	Specialist  string       `json:"specialist,omitempty"`
	Specialists []string     `json:"specialists,omitempty"`
	Reply       string       `json:"reply,omitempty"`
}

// Orchestrator classifies each user turn against the specialist catalog
// and decides how to route it. Classification uses the reasoning model
// first and falls back to keyword matching when the model output is
// unusable, so a broken provider degrades to a direct answer rather
// than an error.
type Orchestrator struct {
	completer Completer
	catalog   *Catalog
	logger    *zap.Logger
}

// NewOrchestrator creates an orchestrator over the given catalog.
func NewOrchestrator(completer Completer, catalog *Catalog, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		completer: completer,
		catalog:   catalog,
		logger:    logger.With(zap.String("component", "orchestrator")),
	}
}

const decidePromptTemplate = `You are the coordinator of an ERP assistant. Decide how to handle the latest user message.

Available specialists:
%s
Conversation so far:
%s
Completed specialist results this turn: %d

Respond with a single JSON object, no prose:
{"decision": "respond" | "route_one" | "route_plan" | "route_parallel",
 "specialist": "<name, for route_one>",
 "specialists": ["<names, for route_parallel>"],
 "reply": "<direct answer, for respond>"}

Rules:
- "respond" when the message is conversational, answerable directly, or specialist results above already cover it.
- "route_one" when exactly one specialist's capability covers the whole request.
- "route_plan" when the request needs several dependent steps.
- "route_parallel" when independent specialists can each handle a distinct part at once.`

// Decide classifies the latest user turn.
func (o *Orchestrator) Decide(ctx context.Context, state *types.ExecutionState) Decision {
	prompt := fmt.Sprintf(decidePromptTemplate,
		o.catalog.Describe(),
		renderTranscript(state.Messages, 12),
		len(state.Results))

	raw, err := o.completer.Complete(ctx, prompt)
	if err != nil {
		o.logger.Warn("classification model unavailable", zap.Error(err))
		return Decision{
			Kind:  Respond,
			Reply: "I'm sorry, I can't reach the reasoning service right now. Please try again in a moment.",
		}
	}

	d, ok := parseDecision(raw)
	if !ok {
		o.logger.Warn("unparseable classification output, using fallback",
			zap.String("raw", truncate(raw, 200)))
		return o.fallbackDecision(state)
	}

	// Validate routed names against the catalog; unknown names degrade
	// to the fallback rather than dispatching into nothing.
	switch d.Kind {
	case RouteOne:
		if _, ok := o.catalog.Get(d.Specialist); !ok {
			o.logger.Warn("model routed to unknown specialist", zap.String("specialist", d.Specialist))
			return o.fallbackDecision(state)
		}
	case RouteParallel:
		var known []string
		for _, name := range d.Specialists {
			if _, ok := o.catalog.Get(name); ok {
				known = append(known, name)
			}
		}
		switch len(known) {
		case 0:
			return o.fallbackDecision(state)
		case 1:
			return Decision{Kind: RouteOne, Specialist: known[0]}
		default:
			d.Specialists = known
		}
	case Respond, RoutePlan:
	default:
		return o.fallbackDecision(state)
	}
	return d
}

// fallbackDecision is the deterministic path used when the model output
// cannot be parsed. Completed results mean the work is done, so answer;
// otherwise route by capability keyword overlap.
func (o *Orchestrator) fallbackDecision(state *types.ExecutionState) Decision {
	if len(state.Results) > 0 {
		return Decision{Kind: Respond}
	}
	request := state.LastUserMessage()
	if request == "" {
		return Decision{Kind: Respond, Reply: "How can I help you today?"}
	}

	matches := o.matchingSpecialists(request)
	switch len(matches) {
	case 0:
		return Decision{Kind: Respond}
	case 1:
		return Decision{Kind: RouteOne, Specialist: matches[0]}
	default:
		return Decision{Kind: RoutePlan}
	}
}

func (o *Orchestrator) matchingSpecialists(request string) []string {
	reqLower := strings.ToLower(request)
	var matches []string
	for _, name := range o.catalog.Names() {
		s, _ := o.catalog.Get(name)
		for _, w := range strings.Fields(strings.ToLower(s.Capability)) {
			w = strings.Trim(w, ".,;:")
			if len(w) > 3 && strings.Contains(reqLower, w) {
				matches = append(matches, name)
				break
			}
		}
	}
	return matches
}

// parseDecision extracts a Decision from model output, tolerating code
// fences and surrounding prose.
func parseDecision(raw string) (Decision, bool) {
	body, ok := extractJSONObject(raw)
	if !ok {
		return Decision{}, false
	}
	var d Decision
	if err := json.Unmarshal([]byte(body), &d); err != nil {
		return Decision{}, false
	}
	switch d.Kind {
	case Respond, RouteOne, RoutePlan, RouteParallel:
		return d, true
	}
	return Decision{}, false
}

// extractJSONObject pulls the first balanced top-level JSON object out
// of a model response.
func extractJSONObject(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], true
			}
		}
	}
	return "", false
}

func renderTranscript(log []types.Message, limit int) string {
	if len(log) > limit {
		log = log[len(log)-limit:]
	}
	var b strings.Builder
	for _, m := range log {
		switch m.Role {
		case types.RoleUser, types.RoleAssistant:
			fmt.Fprintf(&b, "%s: %s\n", m.Role, truncate(m.Content, 500))
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

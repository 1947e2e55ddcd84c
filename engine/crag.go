package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/vantris/erpagent/internal/metrics"
	"github.com/vantris/erpagent/types"
)

// errorPatterns are the case-insensitive substrings that mark a tool
// result as a correctable failure even when the tool handler itself did
// not return an error.
var errorPatterns = []string{
	"error", "failed", "validation", "required field", "missing",
	"invalid", "not found", "unauthorized", "forbidden", "cannot",
	"unable to",
}

// corrector is the self-correcting retrieval node. After a failed tool
// call it rewrites the failure into a focused knowledge query, fetches
// relevant reference material, and injects it into the specialist's
// context so the retry has ground truth about field names, required
// values, and document workflows.
type corrector struct {
	completer   Completer
	retriever   Retriever
	maxAttempts int
	collector   *metrics.Collector
	logger      *zap.Logger
}

func newCorrector(completer Completer, retriever Retriever, maxAttempts int, collector *metrics.Collector, logger *zap.Logger) *corrector {
	if maxAttempts <= 0 {
		maxAttempts = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &corrector{
		completer:   completer,
		retriever:   retriever,
		maxAttempts: maxAttempts,
		collector:   collector,
		logger:      logger.With(zap.String("component", "corrective_retrieval")),
	}
}

// looksLikeError reports whether a tool result should trigger the
// corrective path.
func looksLikeError(result types.ToolResult) bool {
	if !result.Success {
		return true
	}
	lower := strings.ToLower(result.Content)
	for _, p := range errorPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// correctionBook is a specialist-local view of the correction
// bookkeeping. Every invocation starts from a snapshot of the thread
// state and mutates only its own copy; the single-writer loop folds the
// book back into ExecutionState after the join barrier, so parallel
// branches never write shared fields.
type correctionBook struct {
	attempts  int
	lastError *types.ErrorContext
	// touched marks a book the corrector actually updated. Untouched
	// books are ignored at merge time so a branch that never ran a
	// correctable tool cannot clobber a sibling's accounting.
	touched bool
}

func bookFromState(state *types.ExecutionState) correctionBook {
	return correctionBook{
		attempts:  state.CorrectionAttempts,
		lastError: state.LastError,
	}
}

// apply writes the book back to the state. Callers must hold the
// single-writer position for the thread.
func (b correctionBook) apply(state *types.ExecutionState) {
	if !b.touched {
		return
	}
	state.CorrectionAttempts = b.attempts
	state.LastError = b.lastError
}

// observe inspects one completed tool call and updates the correction
// bookkeeping in the branch's book. When the failure warrants a
// correction it returns the reference material to inject as a system
// message; an empty string means nothing to inject this round.
//
// Attempt accounting: the counter increments only when material is
// actually injected. Knowledge-tool calls never trigger correction (a
// failed lookup corrected by another lookup would loop). A success on
// any non-knowledge tool resets the counter; knowledge successes leave
// it alone so a lookup between retries cannot launder the budget.
func (c *corrector) observe(ctx context.Context, book *correctionBook, knowledgeTool bool, call types.ToolCall, result types.ToolResult) string {
	if knowledgeTool {
		return ""
	}
	book.touched = true

	if !looksLikeError(result) {
		book.attempts = 0
		book.lastError = nil
		return ""
	}

	errCtx := &types.ErrorContext{
		Tool:        call.Name,
		DoctypeHint: doctypeHint(call),
		ErrorText:   result.Content,
	}

	if book.attempts >= c.maxAttempts {
		c.logger.Warn("correction budget exhausted, passing error through",
			zap.String("tool", call.Name),
			zap.Int("attempts", book.attempts))
		book.lastError = nil
		return ""
	}

	if c.retriever == nil {
		book.lastError = errCtx
		return ""
	}

	query := c.rewriteQuery(ctx, errCtx)
	errCtx.RewrittenQuery = query

	material, err := c.retriever.Retrieve(ctx, query)
	if err != nil {
		c.logger.Warn("corrective retrieval failed, skipping injection",
			zap.String("query", query), zap.Error(err))
		book.lastError = errCtx
		return ""
	}
	if strings.TrimSpace(material) == "" {
		book.lastError = errCtx
		return ""
	}

	book.attempts++
	book.lastError = errCtx
	c.collector.RecordCorrection(call.Name)
	c.logger.Info("injecting corrective reference material",
		zap.String("tool", call.Name),
		zap.String("query", query),
		zap.Int("attempt", book.attempts))

	return fmt.Sprintf("Reference material relevant to the failed %s call:\n%s\nUse it to fix the previous call and retry.", call.Name, material)
}

const rewritePromptTemplate = `A tool call in an ERP system failed. Write one short search query for the ERP reference documentation that would explain how to do this correctly.

Tool: %s
Document type: %s
Error: %s

Respond with the query only, no quotes, no prose.`

// rewriteQuery turns a raw tool failure into a focused documentation
// query, falling back to a deterministic template when the model is
// unavailable.
func (c *corrector) rewriteQuery(ctx context.Context, errCtx *types.ErrorContext) string {
	hint := errCtx.DoctypeHint
	if hint == "" {
		hint = "unknown"
	}
	if c.completer != nil {
		prompt := fmt.Sprintf(rewritePromptTemplate, errCtx.Tool, hint, truncate(errCtx.ErrorText, 400))
		if out, err := c.completer.Complete(ctx, prompt); err == nil {
			if q := strings.TrimSpace(strings.Trim(strings.TrimSpace(out), `"`)); q != "" && !strings.ContainsRune(q, '\n') {
				return q
			}
		} else {
			c.logger.Warn("query rewrite model unavailable, using template", zap.Error(err))
		}
	}
	if errCtx.DoctypeHint != "" {
		return fmt.Sprintf("%s required fields and validation rules", errCtx.DoctypeHint)
	}
	return fmt.Sprintf("%s usage and common errors", errCtx.Tool)
}

// doctypeHint extracts the document type the failed call was operating
// on, from an explicit argument when present or from the tool name.
func doctypeHint(call types.ToolCall) string {
	var args map[string]json.RawMessage
	if err := json.Unmarshal(call.Arguments, &args); err == nil {
		for _, key := range []string{"doctype", "document_type", "doc_type"} {
			if raw, ok := args[key]; ok {
				var v string
				if json.Unmarshal(raw, &v) == nil && v != "" {
					return v
				}
			}
		}
	}
	return doctypeFromToolName(call.Name)
}

// doctypeFromToolName maps verb_object tool names like
// create_sales_order to the title-cased document type "Sales Order".
func doctypeFromToolName(name string) string {
	parts := strings.Split(strings.ToLower(name), "_")
	if len(parts) < 2 {
		return ""
	}
	switch parts[0] {
	case "create", "update", "delete", "submit", "cancel", "get", "list", "amend":
		parts = parts[1:]
	default:
		return ""
	}
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}

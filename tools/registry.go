package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vantris/erpagent/types"
)

var (
	ErrToolNotFound   = errors.New("tool not found")
	ErrAlreadyExists  = errors.New("tool already registered")
	ErrNilHandler     = errors.New("tool handler is nil")
	ErrEmptyToolName  = errors.New("tool name is empty")
)

// SideEffect classifies what a tool does to the ERP system.
type SideEffect string

const (
	// ReadOnly tools never mutate ERP state and execute without consent.
	ReadOnly SideEffect = "read_only"
	// StateChanging tools mutate ERP state and require human consent.
	StateChanging SideEffect = "state_changing"
)

// Handler executes a tool call. Implementations return the result text or
// an error; the registry converts errors into failed ToolResults so a tool
// failure is always observable as text, never a crash.
type Handler func(ctx context.Context, args json.RawMessage) (string, error)

// Descriptor is the typed registration record for one capability.
type Descriptor struct {
	Name        string
	Description string
	SideEffect  SideEffect
	// Knowledge marks knowledge-lookup tools; the corrective retrieval
	// node skips these to avoid a "search failed, search again" loop.
	Knowledge bool
	Handler   Handler
}

// Registration is the input to Register. SideEffect may be left empty to
// use the keyword default policy.
type Registration struct {
	Name        string
	Description string
	SideEffect  SideEffect
	Knowledge   bool
	Handler     Handler
}

// Registry maps capability names to descriptors. It is safe for
// concurrent use; registration normally happens at startup, lookup and
// invocation happen per request.
type Registry struct {
	tools  map[string]Descriptor
	logger *zap.Logger
	mu     sync.RWMutex
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		tools:  make(map[string]Descriptor),
		logger: logger.With(zap.String("component", "tool_registry")),
	}
}

// Register adds a tool. The side-effect flag is resolved here, once; an
// empty SideEffect falls back to ClassifySideEffect on the name.
func (r *Registry) Register(reg Registration) error {
	if reg.Name == "" {
		return ErrEmptyToolName
	}
	if reg.Handler == nil {
		return ErrNilHandler
	}

	effect := reg.SideEffect
	if effect == "" {
		effect = ClassifySideEffect(reg.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tools[reg.Name]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, reg.Name)
	}

	r.tools[reg.Name] = Descriptor{
		Name:        reg.Name,
		Description: reg.Description,
		SideEffect:  effect,
		Knowledge:   reg.Knowledge,
		Handler:     reg.Handler,
	}
	r.logger.Debug("tool registered",
		zap.String("tool", reg.Name),
		zap.String("side_effect", string(effect)),
		zap.Bool("knowledge", reg.Knowledge),
	)
	return nil
}

// MustRegister registers a tool or panics. Initialization use only.
func (r *Registry) MustRegister(reg Registration) {
	if err := r.Register(reg); err != nil {
		panic(fmt.Sprintf("failed to register tool %q: %v", reg.Name, err))
	}
}

// Lookup returns the descriptor for a tool name.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return d, ok
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Subset returns a view restricted to the named tools. Unknown names are
// skipped; specialists configured with a stale tool list still start.
func (r *Registry) Subset(names []string) *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub := &Registry{
		tools:  make(map[string]Descriptor, len(names)),
		logger: r.logger,
	}
	for _, name := range names {
		if d, ok := r.tools[name]; ok {
			sub.tools[name] = d
		}
	}
	return sub
}

// Invoke executes a tool call and normalizes the outcome to a ToolResult.
// Handler errors and panics become Success=false results with the error
// text as content.
func (r *Registry) Invoke(ctx context.Context, call types.ToolCall) (result types.ToolResult) {
	start := time.Now()
	result = types.ToolResult{ToolCallID: call.ID, Name: call.Name}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool handler panicked",
				zap.String("tool", call.Name),
				zap.Any("panic", rec),
			)
			result.Success = false
			result.Content = fmt.Sprintf("Error: tool %s failed unexpectedly: %v", call.Name, rec)
			result.Duration = time.Since(start)
		}
	}()

	d, ok := r.Lookup(call.Name)
	if !ok {
		result.Content = fmt.Sprintf("Error: %v: %s", ErrToolNotFound, call.Name)
		result.Duration = time.Since(start)
		return result
	}

	content, err := d.Handler(ctx, call.Arguments)
	result.Duration = time.Since(start)
	if err != nil {
		result.Content = "Error: " + err.Error()
		return result
	}
	result.Success = true
	result.Content = content
	return result
}

// stateChangingKeywords is the default classification policy: a tool name
// containing any of these substrings is treated as state-changing unless
// the registration says otherwise.
var stateChangingKeywords = []string{
	"create", "update", "delete", "submit", "cancel",
	"apply", "transition", "write", "set_", "amend",
}

// ClassifySideEffect applies the keyword default policy to a tool name.
func ClassifySideEffect(name string) SideEffect {
	lower := strings.ToLower(name)
	for _, kw := range stateChangingKeywords {
		if strings.Contains(lower, kw) {
			return StateChanging
		}
	}
	return ReadOnly
}

package engine

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Specialist is the registration record for one bounded sub-agent: a
// capability description used by the orchestrator and planner for
// classification, a restricted tool subset, and per-invocation budgets.
// Specialists are stateless across invocations; every dispatch starts a
// fresh reasoning context over the shared snapshot it is given.
type Specialist struct {
	Name       string        `json:"name"`
	Capability string        `json:"capability_description"`
	Tools      []string      `json:"tool_subset"`
	ToolBudget int           `json:"tool_call_budget"`
	Timeout    time.Duration `json:"timeout"`
}

// Catalog holds the registered specialists. It is read at classification
// time and at dispatch time.
type Catalog struct {
	specialists map[string]Specialist
	order       []string
	mu          sync.RWMutex
}

// NewCatalog creates an empty specialist catalog.
func NewCatalog() *Catalog {
	return &Catalog{specialists: make(map[string]Specialist)}
}

// Register adds a specialist. Zero budgets get conservative defaults.
func (c *Catalog) Register(s Specialist) error {
	if s.Name == "" {
		return fmt.Errorf("specialist name is empty")
	}
	if s.ToolBudget <= 0 {
		s.ToolBudget = 5
	}
	if s.Timeout <= 0 {
		s.Timeout = 2 * time.Minute
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.specialists[s.Name]; ok {
		return fmt.Errorf("specialist already registered: %s", s.Name)
	}
	c.specialists[s.Name] = s
	c.order = append(c.order, s.Name)
	return nil
}

// MustRegister registers a specialist or panics. Initialization use only.
func (c *Catalog) MustRegister(s Specialist) {
	if err := c.Register(s); err != nil {
		panic(err)
	}
}

// Get returns a specialist by name.
func (c *Catalog) Get(name string) (Specialist, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.specialists[name]
	return s, ok
}

// Names returns specialist names in registration order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, len(c.order))
	copy(names, c.order)
	return names
}

// Describe renders the capability catalogue for classification prompts.
func (c *Catalog) Describe() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var b strings.Builder
	for _, name := range c.order {
		s := c.specialists[name]
		fmt.Fprintf(&b, "- %s: %s\n", s.Name, s.Capability)
	}
	return b.String()
}

// BestMatch returns the specialist whose capability description shares
// the most words with the request, used as the rule-based fallback when
// the reasoning step yields nothing usable. Returns "" when nothing
// overlaps.
func (c *Catalog) BestMatch(request string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	reqWords := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(request)) {
		if len(w) > 2 {
			reqWords[w] = true
		}
	}

	type scored struct {
		name  string
		score int
	}
	var candidates []scored
	for _, name := range c.order {
		s := c.specialists[name]
		score := 0
		for _, w := range strings.Fields(strings.ToLower(s.Capability + " " + s.Name)) {
			if reqWords[strings.Trim(w, ".,;:")] {
				score++
			}
		}
		if score > 0 {
			candidates = append(candidates, scored{name, score})
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	return candidates[0].name
}

// Package erpagent provides a convenience entry point for embedding
// the assistant engine without wiring every collaborator by hand.
//
// Usage:
//
//	import "github.com/vantris/erpagent"
//
//	eng, err := erpagent.New(
//	    erpagent.WithOpenAI("gpt-4o-mini"),
//	    erpagent.WithERP(erp.Config{BaseURL: "...", APIKey: "...", APISecret: "..."}),
//	)
//
// Unset collaborators fall back to in-process defaults: a memory
// checkpoint store, a memory interrupt signal, and the stock
// specialist catalog.
package erpagent

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/vantris/erpagent/checkpoint"
	"github.com/vantris/erpagent/engine"
	"github.com/vantris/erpagent/erp"
	"github.com/vantris/erpagent/llm"
	"github.com/vantris/erpagent/tools"
)

// Option configures the engine created by New.
type Option func(*builder)

type builder struct {
	completer   engine.Completer
	openAIModel string
	retriever   engine.Retriever
	erpConfig   *erp.Config
	store       checkpoint.Store
	signal      engine.Signal
	logger      *zap.Logger
	specs       []engine.Specialist
	opts        engine.Options
}

// WithCompleter sets a pre-built completion backend.
func WithCompleter(c engine.Completer) Option {
	return func(b *builder) { b.completer = c }
}

// WithOpenAI uses an OpenAI-compatible backend with the given model.
// The API key is read from the OPENAI_API_KEY environment variable.
func WithOpenAI(model string) Option {
	return func(b *builder) { b.openAIModel = model }
}

// WithERP connects the engine's tools to an ERP instance.
func WithERP(cfg erp.Config) Option {
	return func(b *builder) { b.erpConfig = &cfg }
}

// WithStore sets the checkpoint store. Defaults to a memory store.
func WithStore(s checkpoint.Store) Option {
	return func(b *builder) { b.store = s }
}

// WithSignal sets the interrupt signal channel.
func WithSignal(s engine.Signal) Option {
	return func(b *builder) { b.signal = s }
}

// WithLogger sets a custom zap logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *builder) { b.logger = l }
}

// WithSpecialist adds a specialist to the catalog. When none are
// given, the stock sales/inventory/reporting catalog is used.
func WithSpecialist(s engine.Specialist) Option {
	return func(b *builder) { b.specs = append(b.specs, s) }
}

// WithOptions overrides the engine's loop bounds.
func WithOptions(o engine.Options) Option {
	return func(b *builder) { b.opts = o }
}

// New assembles an engine from the options. A completer and an ERP
// connection are required.
func New(opts ...Option) (*engine.Engine, error) {
	b := &builder{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(b)
	}

	if b.completer == nil && b.openAIModel != "" {
		b.completer = llm.NewClient(llm.Config{
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			BaseURL: "https://api.openai.com/v1",
			Model:   b.openAIModel,
		}, nil, b.logger)
	}
	if b.completer == nil {
		return nil, fmt.Errorf("erpagent: a completer is required, use WithCompleter or WithOpenAI")
	}
	if b.erpConfig == nil {
		return nil, fmt.Errorf("erpagent: an ERP connection is required, use WithERP")
	}

	client, err := erp.NewHTTPClient(*b.erpConfig, b.logger)
	if err != nil {
		return nil, err
	}

	registry := tools.NewRegistry(b.logger)
	if err := erp.RegisterTools(registry, client); err != nil {
		return nil, err
	}

	catalog := engine.NewCatalog()
	specs := b.specs
	if len(specs) == 0 {
		specs = stockSpecialists()
	}
	for _, s := range specs {
		if err := catalog.Register(s); err != nil {
			return nil, err
		}
	}

	store := b.store
	if store == nil {
		store = checkpoint.NewMemoryStore()
	}
	signal := b.signal
	if signal == nil {
		signal = engine.NewMemorySignal()
	}
	retriever := b.retriever
	if retriever == nil {
		retriever = &erp.KnowledgeRetriever{Client: client}
	}

	return engine.New(engine.Config{
		Completer: b.completer,
		Retriever: retriever,
		Registry:  registry,
		Catalog:   catalog,
		Store:     store,
		Signal:    signal,
		Logger:    b.logger,
		Options:   b.opts,
	})
}

func stockSpecialists() []engine.Specialist {
	return []engine.Specialist{
		{
			Name:       "sales",
			Capability: "sales orders, quotations, invoices and customer documents",
			Tools:      []string{"get_doc", "list_docs", "create_doc", "update_doc", "submit_doc", "search_knowledge"},
		},
		{
			Name:       "inventory",
			Capability: "items, stock levels, warehouses and stock movements",
			Tools:      []string{"get_doc", "list_docs", "create_doc", "update_doc", "search_knowledge"},
		},
		{
			Name:       "reporting",
			Capability: "reports, analytics and summaries over ERP data",
			Tools:      []string{"run_report", "list_docs", "search_knowledge"},
		},
	}
}

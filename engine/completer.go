package engine

import "context"

// Completer is the reasoning boundary. The concrete LLM client is an
// external collaborator; the engine only needs prompt-in, text-out.
type Completer interface {
	// Complete generates a completion for the given prompt.
	Complete(ctx context.Context, prompt string) (string, error)
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, prompt string) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Retriever fetches corrective knowledge for the corrective retrieval
// node. The backing knowledge service is an external collaborator.
type Retriever interface {
	// Retrieve returns knowledge text relevant to the query.
	Retrieve(ctx context.Context, query string) (string, error)
}

// RetrieverFunc adapts a function to the Retriever interface.
type RetrieverFunc func(ctx context.Context, query string) (string, error)

func (f RetrieverFunc) Retrieve(ctx context.Context, query string) (string, error) {
	return f(ctx, query)
}

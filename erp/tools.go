package erp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vantris/erpagent/tools"
)

// RegisterTools binds the ERP client to the tool registry. Read paths
// register as read-only, document mutations as state-changing so the
// consent gate intercepts them, and the documentation search carries
// the knowledge flag so the correction loop leaves it alone.
func RegisterTools(registry *tools.Registry, client Client) error {
	regs := []tools.Registration{
		{
			Name:        "get_doc",
			Description: "Fetches one ERP document by doctype and name",
			SideEffect:  tools.ReadOnly,
			Handler:     getDocHandler(client),
		},
		{
			Name:        "list_docs",
			Description: "Lists ERP documents of a doctype, optionally filtered by field values",
			SideEffect:  tools.ReadOnly,
			Handler:     listDocsHandler(client),
		},
		{
			Name:        "create_doc",
			Description: "Creates a new ERP document of the given doctype",
			SideEffect:  tools.StateChanging,
			Handler:     createDocHandler(client),
		},
		{
			Name:        "update_doc",
			Description: "Updates fields on an existing ERP document",
			SideEffect:  tools.StateChanging,
			Handler:     updateDocHandler(client),
		},
		{
			Name:        "delete_doc",
			Description: "Deletes an ERP document",
			SideEffect:  tools.StateChanging,
			Handler:     deleteDocHandler(client),
		},
		{
			Name:        "submit_doc",
			Description: "Submits a draft ERP document, finalizing it in its workflow",
			SideEffect:  tools.StateChanging,
			Handler:     submitDocHandler(client),
		},
		{
			Name:        "run_report",
			Description: "Runs a named ERP report with optional filters",
			SideEffect:  tools.ReadOnly,
			Handler:     runReportHandler(client),
		},
		{
			Name:        "search_knowledge",
			Description: "Searches the ERP reference documentation for field names, workflows and validation rules",
			SideEffect:  tools.ReadOnly,
			Knowledge:   true,
			Handler:     searchKnowledgeHandler(client),
		},
	}
	for _, reg := range regs {
		if err := registry.Register(reg); err != nil {
			return fmt.Errorf("register %s: %w", reg.Name, err)
		}
	}
	return nil
}

type docRef struct {
	Doctype string `json:"doctype"`
	Name    string `json:"name"`
}

func (r docRef) validate() error {
	if r.Doctype == "" {
		return fmt.Errorf("required field missing: doctype")
	}
	if r.Name == "" {
		return fmt.Errorf("required field missing: name")
	}
	return nil
}

func getDocHandler(client Client) tools.Handler {
	return func(ctx context.Context, args json.RawMessage) (string, error) {
		var ref docRef
		if err := json.Unmarshal(args, &ref); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
		if err := ref.validate(); err != nil {
			return "", err
		}
		doc, err := client.GetDoc(ctx, ref.Doctype, ref.Name)
		if err != nil {
			return "", err
		}
		return string(doc), nil
	}
}

func listDocsHandler(client Client) tools.Handler {
	return func(ctx context.Context, args json.RawMessage) (string, error) {
		var in struct {
			Doctype string            `json:"doctype"`
			Filters map[string]string `json:"filters"`
			Limit   int               `json:"limit"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
		if in.Doctype == "" {
			return "", fmt.Errorf("required field missing: doctype")
		}
		if in.Limit <= 0 || in.Limit > 100 {
			in.Limit = 20
		}
		docs, err := client.ListDocs(ctx, in.Doctype, in.Filters, in.Limit)
		if err != nil {
			return "", err
		}
		return string(docs), nil
	}
}

func createDocHandler(client Client) tools.Handler {
	return func(ctx context.Context, args json.RawMessage) (string, error) {
		var in struct {
			Doctype string          `json:"doctype"`
			Doc     json.RawMessage `json:"doc"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
		if in.Doctype == "" {
			return "", fmt.Errorf("required field missing: doctype")
		}
		if len(in.Doc) == 0 {
			return "", fmt.Errorf("required field missing: doc")
		}
		created, err := client.CreateDoc(ctx, in.Doctype, in.Doc)
		if err != nil {
			return "", err
		}
		return string(created), nil
	}
}

func updateDocHandler(client Client) tools.Handler {
	return func(ctx context.Context, args json.RawMessage) (string, error) {
		var in struct {
			docRef
			Patch json.RawMessage `json:"patch"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
		if err := in.validate(); err != nil {
			return "", err
		}
		if len(in.Patch) == 0 {
			return "", fmt.Errorf("required field missing: patch")
		}
		updated, err := client.UpdateDoc(ctx, in.Doctype, in.Name, in.Patch)
		if err != nil {
			return "", err
		}
		return string(updated), nil
	}
}

func deleteDocHandler(client Client) tools.Handler {
	return func(ctx context.Context, args json.RawMessage) (string, error) {
		var ref docRef
		if err := json.Unmarshal(args, &ref); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
		if err := ref.validate(); err != nil {
			return "", err
		}
		if err := client.DeleteDoc(ctx, ref.Doctype, ref.Name); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s deleted", ref.Doctype, ref.Name), nil
	}
}

func submitDocHandler(client Client) tools.Handler {
	return func(ctx context.Context, args json.RawMessage) (string, error) {
		var ref docRef
		if err := json.Unmarshal(args, &ref); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
		if err := ref.validate(); err != nil {
			return "", err
		}
		doc, err := client.SubmitDoc(ctx, ref.Doctype, ref.Name)
		if err != nil {
			return "", err
		}
		return string(doc), nil
	}
}

func runReportHandler(client Client) tools.Handler {
	return func(ctx context.Context, args json.RawMessage) (string, error) {
		var in struct {
			Report  string            `json:"report"`
			Filters map[string]string `json:"filters"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
		if in.Report == "" {
			return "", fmt.Errorf("required field missing: report")
		}
		out, err := client.RunReport(ctx, in.Report, in.Filters)
		if err != nil {
			return "", err
		}
		return string(out), nil
	}
}

func searchKnowledgeHandler(client Client) tools.Handler {
	return func(ctx context.Context, args json.RawMessage) (string, error) {
		var in struct {
			Query string `json:"query"`
			Limit int    `json:"limit"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
		if in.Query == "" {
			return "", fmt.Errorf("required field missing: query")
		}
		return client.SearchKnowledge(ctx, in.Query, in.Limit)
	}
}

// KnowledgeRetriever adapts the client's documentation search to the
// engine's retriever seam.
type KnowledgeRetriever struct {
	Client Client
	Limit  int
}

func (r *KnowledgeRetriever) Retrieve(ctx context.Context, query string) (string, error) {
	limit := r.Limit
	if limit <= 0 {
		limit = 3
	}
	return r.Client.SearchKnowledge(ctx, query, limit)
}

package knowledge

import (
	"context"
	"fmt"
	"strings"

	"github.com/knollapp/knoll/pkg/tools"
)

// RegisterTools adds the knowledge-base search tool to the registry.
func RegisterTools(registry *tools.Registry, index *Index) error {
	return registry.Register(tools.Definition{
		Name:        "kb_search",
		Description: "Search the user's knowledge base of notes and documents. Returns the most relevant passages.",
		Parameters: []tools.Parameter{
			{
				Name:        "query",
				Type:        "string",
				Description: "The search query",
				Required:    true,
			},
			{
				Name:        "limit",
				Type:        "integer",
				Description: "Maximum number of passages to return (default 10)",
			},
		},
		Handler: searchHandler(index),
	})
}

func searchHandler(index *Index) tools.Handler {
	return func(ctx context.Context, args map[string]interface{}, execCtx *tools.ExecutionContext) (tools.Result, error) {
		query, _ := args["query"].(string)
		if strings.TrimSpace(query) == "" {
			return tools.Result{}, fmt.Errorf("query cannot be empty")
		}

		limit := 10
		if v, ok := args["limit"].(float64); ok && v > 0 {
			limit = int(v)
		}

		results, err := index.Search(ctx, query, &Options{
			Limit:         limit,
			VectorWeight:  0.7,
			KeywordWeight: 0.3,
		})
		if err != nil {
			return tools.Result{}, fmt.Errorf("knowledge search failed: %w", err)
		}

		if len(results) == 0 {
			return tools.Result{Content: fmt.Sprintf("No results found in the knowledge base for %q", query)}, nil
		}

		if execCtx != nil && execCtx.Collector != nil {
			execCtx.Collector.Add(results...)
		}

		var b strings.Builder
		fmt.Fprintf(&b, "Found %d passages in the knowledge base:\n", len(results))
		for i, r := range results {
			fmt.Fprintf(&b, "\n%d. %s (%s, score %.2f)\n%s\n", i+1, r.Title, r.URL, r.Score, r.Content)
		}
		return tools.Result{Content: b.String()}, nil
	}
}

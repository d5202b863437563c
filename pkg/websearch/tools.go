package websearch

import (
	"context"
	"fmt"
	"strings"

	"github.com/knollapp/knoll/pkg/tools"
)

// RegisterTools adds the web search tool to the registry.
func RegisterTools(registry *tools.Registry, client *Client) error {
	return registry.Register(tools.Definition{
		Name:        "web_search",
		Description: "Search the web for up-to-date information. Returns the most relevant pages.",
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
				Description: "Maximum number of pages to return (default 5)",
			},
		},
		Handler: searchHandler(client),
	})
}

func searchHandler(client *Client) tools.Handler {
	return func(ctx context.Context, args map[string]interface{}, execCtx *tools.ExecutionContext) (tools.Result, error) {
		query, _ := args["query"].(string)
		if strings.TrimSpace(query) == "" {
			return tools.Result{}, fmt.Errorf("query cannot be empty")
		}

		limit := 5
		if v, ok := args["limit"].(float64); ok && v > 0 {
			limit = int(v)
		}

		results, err := client.Search(ctx, query, limit)
		if err != nil {
			return tools.Result{}, fmt.Errorf("web search failed: %w", err)
		}

		if len(results) == 0 {
			return tools.Result{Content: fmt.Sprintf("No results found on the web for %q", query)}, nil
		}

		if execCtx != nil && execCtx.Collector != nil {
			execCtx.Collector.Add(results...)
		}

		var b strings.Builder
		fmt.Fprintf(&b, "Found %d web results:\n", len(results))
		for i, r := range results {
			fmt.Fprintf(&b, "\n%d. %s (%s)\n%s\n", i+1, r.Title, r.URL, r.Content)
		}
		return tools.Result{Content: b.String()}, nil
	}
}

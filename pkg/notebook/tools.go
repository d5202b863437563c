package notebook

import (
	"context"
	"fmt"
	"strings"

	"github.com/knollapp/knoll/pkg/tools"
)

// RegisterTools adds the notebook management tools to the registry.
func RegisterTools(registry *tools.Registry, store *Store) error {
	defs := []tools.Definition{
		{
			Name:        "notebook_create",
			Description: "Create a new, empty notebook with the given title.",
			Parameters: []tools.Parameter{
				{Name: "title", Type: "string", Description: "Title of the notebook", Required: true},
			},
			Handler: createHandler(store),
		},
		{
			Name:        "notebook_open",
			Description: "Open an existing notebook by title so the user can read or edit it.",
			Parameters: []tools.Parameter{
				{Name: "title", Type: "string", Description: "Title of the notebook to open", Required: true},
			},
			Handler: openHandler(store),
		},
		{
			Name:        "notebook_write",
			Description: "Append text to an existing notebook.",
			Parameters: []tools.Parameter{
				{Name: "title", Type: "string", Description: "Title of the notebook to write to", Required: true},
				{Name: "text", Type: "string", Description: "Text to append", Required: true},
			},
			Handler: writeHandler(store),
		},
		{
			Name:        "notebook_delete",
			Description: "Delete a notebook by title. This cannot be undone.",
			Parameters: []tools.Parameter{
				{Name: "title", Type: "string", Description: "Title of the notebook to delete", Required: true},
			},
			Handler: deleteHandler(store),
		},
		{
			Name:        "notebook_list",
			Description: "List all notebooks by title.",
			Handler:     listHandler(store),
		},
	}

	for _, def := range defs {
		if err := registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func createHandler(store *Store) tools.Handler {
	return func(ctx context.Context, args map[string]interface{}, _ *tools.ExecutionContext) (tools.Result, error) {
		title, _ := args["title"].(string)
		nb, err := store.Create(ctx, title)
		if err != nil {
			return tools.Result{}, err
		}
		return tools.Result{Content: fmt.Sprintf("Created notebook %q", nb.Title)}, nil
	}
}

// openHandler returns an immediate open action: opening a notebook is
// the whole point of the turn, so no summary round trip follows.
func openHandler(store *Store) tools.Handler {
	return func(ctx context.Context, args map[string]interface{}, _ *tools.ExecutionContext) (tools.Result, error) {
		title, _ := args["title"].(string)
		nb, err := store.GetByTitle(ctx, title)
		if err != nil {
			return tools.Result{}, err
		}
		if nb == nil {
			return tools.Result{Content: fmt.Sprintf("No notebook titled %q exists", title)}, nil
		}
		return tools.Result{
			Content: fmt.Sprintf("Opened notebook %q", nb.Title),
			ImmediateReturn: &tools.Action{
				Type: "open_notebook",
				Payload: map[string]interface{}{
					"notebook_id": nb.ID,
					"title":       nb.Title,
				},
			},
		}, nil
	}
}

func writeHandler(store *Store) tools.Handler {
	return func(ctx context.Context, args map[string]interface{}, _ *tools.ExecutionContext) (tools.Result, error) {
		title, _ := args["title"].(string)
		text, _ := args["text"].(string)
		if strings.TrimSpace(text) == "" {
			return tools.Result{}, fmt.Errorf("text cannot be empty")
		}

		nb, err := store.GetByTitle(ctx, title)
		if err != nil {
			return tools.Result{}, err
		}
		if nb == nil {
			return tools.Result{Content: fmt.Sprintf("No notebook titled %q exists", title)}, nil
		}
		if err := store.Append(ctx, nb.ID, text); err != nil {
			return tools.Result{}, err
		}
		return tools.Result{Content: fmt.Sprintf("Wrote to notebook %q", nb.Title)}, nil
	}
}

func deleteHandler(store *Store) tools.Handler {
	return func(ctx context.Context, args map[string]interface{}, _ *tools.ExecutionContext) (tools.Result, error) {
		title, _ := args["title"].(string)
		nb, err := store.GetByTitle(ctx, title)
		if err != nil {
			return tools.Result{}, err
		}
		if nb == nil {
			return tools.Result{Content: fmt.Sprintf("No notebook titled %q exists", title)}, nil
		}
		if err := store.Delete(ctx, nb.ID); err != nil {
			return tools.Result{}, err
		}
		return tools.Result{Content: fmt.Sprintf("Deleted notebook %q", nb.Title)}, nil
	}
}

func listHandler(store *Store) tools.Handler {
	return func(ctx context.Context, _ map[string]interface{}, _ *tools.ExecutionContext) (tools.Result, error) {
		titles, err := store.Titles(ctx)
		if err != nil {
			return tools.Result{}, err
		}
		if len(titles) == 0 {
			return tools.Result{Content: "No notebooks exist yet"}, nil
		}
		return tools.Result{Content: "Notebooks: " + strings.Join(titles, ", ")}, nil
	}
}

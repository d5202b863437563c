package conversation

import (
	"context"
	"net/url"
	"strings"

	"github.com/knollapp/knoll/pkg/reasoning"
	"github.com/knollapp/knoll/pkg/tools"
)

// fastPath short-circuits intents that need no reasoning call: a bare
// URL becomes a navigate action and an exact notebook title match
// becomes an open action. Fast-path intents are not persisted.
func (o *Orchestrator) fastPath(ctx context.Context, text string) *Reply {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	if isBareURL(trimmed) {
		return &Reply{
			Type:   ActionNavigate,
			Action: map[string]interface{}{"url": trimmed},
		}
	}

	if o.notebooks != nil {
		if id, ok := o.notebooks.FindByTitle(ctx, trimmed); ok {
			return &Reply{
				Type: ActionOpenNotebook,
				Action: map[string]interface{}{
					"notebook_id": id,
					"title":       trimmed,
				},
			}
		}
	}

	return nil
}

// isBareURL reports whether the whole utterance is a single http(s)
// URL with nothing around it.
func isBareURL(s string) bool {
	if strings.ContainsAny(s, " \t\n") {
		return false
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Terse confirmations produced by notebook mutations. A turn whose
// tool outputs are all confirmations like these carries nothing worth
// a summarization round trip.
var terseConfirmations = []string{"Opened ", "Created ", "Deleted ", "Wrote "}

func isTerseConfirmation(content string) bool {
	for _, prefix := range terseConfirmations {
		if strings.HasPrefix(content, prefix) {
			return true
		}
	}
	return false
}

// Failure prefixes stamped on tool outputs by the executor, plus the
// empty-result marker the search tools emit.
var failureMarkers = []string{
	"Error executing ",
	"Unknown tool:",
	"Invalid arguments",
	"No results",
}

func isFailureOutput(content string) bool {
	for _, prefix := range failureMarkers {
		if strings.HasPrefix(content, prefix) {
			return true
		}
	}
	return false
}

func isSearchTool(name string) bool {
	return strings.Contains(name, "search")
}

// producedSearchResults reports whether a search tool's output holds
// actual hits rather than a failure or empty-result marker.
func producedSearchResults(name, content string) bool {
	return isSearchTool(name) && content != "" && !isFailureOutput(content)
}

// needsSummary decides whether a tool-bearing turn warrants a second
// reasoning call. Turns whose outputs are nothing but terse
// confirmations or failures are answered from the raw outputs.
func needsSummary(calls []reasoning.ToolCall, results []tools.Result) bool {
	for i, call := range calls {
		content := results[i].Content
		if producedSearchResults(call.Name, content) {
			return true
		}
		if !isSearchTool(call.Name) && content != "" &&
			!isTerseConfirmation(content) && !isFailureOutput(content) {
			return true
		}
	}
	return false
}

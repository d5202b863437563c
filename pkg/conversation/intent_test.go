package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/knollapp/knoll/pkg/reasoning"
	"github.com/knollapp/knoll/pkg/tools"
)

func TestIsBareURL(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"https://example.com", true},
		{"http://example.com/path?q=1", true},
		{"https://example.com/article#section", true},
		{"example.com", false},
		{"ftp://example.com", false},
		{"open https://example.com please", false},
		{"https://", false},
		{"not a url at all", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, isBareURL(tt.input))
		})
	}
}

func TestNeedsSummary(t *testing.T) {
	call := func(name string) reasoning.ToolCall { return reasoning.ToolCall{Name: name} }
	result := func(content string) tools.Result { return tools.Result{Content: content} }

	tests := []struct {
		name    string
		calls   []reasoning.ToolCall
		results []tools.Result
		want    bool
	}{
		{
			"search with hits",
			[]reasoning.ToolCall{call("kb_search")},
			[]tools.Result{result("Found 3 passages in the knowledge base")},
			true,
		},
		{
			"search with no hits",
			[]reasoning.ToolCall{call("kb_search")},
			[]tools.Result{result("No results found in the knowledge base for \"x\"")},
			false,
		},
		{
			"terse confirmation only",
			[]reasoning.ToolCall{call("notebook_create")},
			[]tools.Result{result("Created notebook \"Recipes\"")},
			false,
		},
		{
			"tool failure only",
			[]reasoning.ToolCall{call("notebook_write")},
			[]tools.Result{result("Error executing notebook_write: notebook not found")},
			false,
		},
		{
			"substantive non-search output",
			[]reasoning.ToolCall{call("notebook_list")},
			[]tools.Result{result("Recipes (3 entries)\nReading List (1 entry)")},
			true,
		},
		{
			"mixed confirmation and search hits",
			[]reasoning.ToolCall{call("notebook_create"), call("web_search")},
			[]tools.Result{result("Created notebook \"Trips\""), result("Found 5 results on the web")},
			true,
		},
		{
			"empty outputs",
			[]reasoning.ToolCall{call("kb_search")},
			[]tools.Result{result("")},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, needsSummary(tt.calls, tt.results))
		})
	}
}

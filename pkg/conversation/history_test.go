package conversation

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knollapp/knoll/pkg/reasoning"
)

func TestHistoryEvictsOldestFirst(t *testing.T) {
	h := NewHistory(3)
	h.Append(reasoning.UserMessage("one"))
	h.Append(reasoning.AssistantMessage("two"))
	h.Append(reasoning.UserMessage("three"))
	h.Append(reasoning.AssistantMessage("four"))

	msgs := h.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "two", msgs[0].Content)
	assert.Equal(t, "four", msgs[2].Content)
}

func TestHistoryNeverEvictsSystemMessage(t *testing.T) {
	h := NewHistory(3)
	h.SetSystem("you are an assistant")
	for i := 0; i < 10; i++ {
		h.Append(reasoning.UserMessage(fmt.Sprintf("message %d", i)))
	}

	msgs := h.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, reasoning.RoleSystem, msgs[0].Role)
	assert.Equal(t, "message 9", msgs[2].Content)
}

func TestSetSystemRefreshesInPlace(t *testing.T) {
	h := NewHistory(10)
	h.SetSystem("old prompt")
	h.Append(reasoning.UserMessage("hi"))
	h.SetSystem("new prompt")

	msgs := h.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "new prompt", msgs[0].Content)
}

func TestHistoryReplaceAppliesCap(t *testing.T) {
	h := NewHistory(2)
	h.Replace([]reasoning.Message{
		reasoning.UserMessage("a"),
		reasoning.AssistantMessage("b"),
		reasoning.UserMessage("c"),
	})

	msgs := h.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "b", msgs[0].Content)
}

func TestHistoryMessagesReturnsCopy(t *testing.T) {
	h := NewHistory(10)
	h.Append(reasoning.UserMessage("a"))

	msgs := h.Messages()
	msgs[0].Content = "mutated"

	assert.Equal(t, "a", h.Messages()[0].Content)
}

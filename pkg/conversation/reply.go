package conversation

import (
	"github.com/knollapp/knoll/pkg/search"
	"github.com/knollapp/knoll/pkg/tools"
)

// Reply types. Anything that is not a chat reply or an error is a
// domain action the host application executes itself.
const (
	ReplyChat  = "chat_reply"
	ReplyError = "error"

	ActionNavigate     = "navigate"
	ActionOpenNotebook = "open_notebook"
)

// Reply is the tagged union returned to the caller: a chat reply with
// optional citation slices, a typed action payload, or an error.
type Reply struct {
	Type    string                 `json:"type"`
	Message string                 `json:"message,omitempty"`
	Slices  []search.Slice         `json:"slices,omitempty"`
	Action  map[string]interface{} `json:"action,omitempty"`
}

// ChatReply builds a chat reply.
func ChatReply(message string, slices []search.Slice) *Reply {
	return &Reply{Type: ReplyChat, Message: message, Slices: slices}
}

// ErrorReply builds an error reply.
func ErrorReply(message string) *Reply {
	return &Reply{Type: ReplyError, Message: message}
}

// ActionReply lifts a tool's immediate-return action into a reply.
func ActionReply(action *tools.Action) *Reply {
	return &Reply{Type: action.Type, Action: action.Payload}
}

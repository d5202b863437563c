package conversation

import "github.com/knollapp/knoll/pkg/reasoning"

// DefaultHistoryLimit caps the in-memory message history per sender.
const DefaultHistoryLimit = 40

// History is the in-memory message list for one sender. It is owned
// and mutated only by the orchestrator; the cap evicts the oldest
// non-system messages first and the system message is never evicted.
type History struct {
	limit int
	msgs  []reasoning.Message
}

// NewHistory creates a history with the given cap. A non-positive cap
// falls back to DefaultHistoryLimit.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{limit: limit}
}

// Replace swaps the whole message list, then re-applies the cap.
func (h *History) Replace(msgs []reasoning.Message) {
	h.msgs = append(h.msgs[:0], msgs...)
	h.evict()
}

// Append adds messages, evicting as needed.
func (h *History) Append(msgs ...reasoning.Message) {
	h.msgs = append(h.msgs, msgs...)
	h.evict()
}

// SetSystem refreshes the system message in place, inserting one at
// the front if the history has none yet.
func (h *History) SetSystem(content string) {
	for i := range h.msgs {
		if h.msgs[i].Role == reasoning.RoleSystem {
			h.msgs[i].Content = content
			return
		}
	}
	h.msgs = append([]reasoning.Message{reasoning.SystemMessage(content)}, h.msgs...)
	h.evict()
}

// Messages returns a copy of the current list.
func (h *History) Messages() []reasoning.Message {
	out := make([]reasoning.Message, len(h.msgs))
	copy(out, h.msgs)
	return out
}

// Len returns the number of messages held.
func (h *History) Len() int {
	return len(h.msgs)
}

func (h *History) evict() {
	for len(h.msgs) > h.limit {
		evicted := false
		for i, msg := range h.msgs {
			if msg.Role != reasoning.RoleSystem {
				h.msgs = append(h.msgs[:i], h.msgs[i+1:]...)
				evicted = true
				break
			}
		}
		// Nothing but system messages left; the cap cannot apply.
		if !evicted {
			return
		}
	}
}

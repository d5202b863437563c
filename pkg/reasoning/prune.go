package reasoning

// PruneOrphans removes orphaned tool-call references from a message
// list before it is replayed to the reasoning service. A tool message
// whose ToolCallID matches no preceding assistant tool call is dropped;
// an assistant tool-call entry with no tool reply anywhere in the list
// is removed from its message. Providers with strict validation reject
// the whole request when either kind of orphan is present.
func PruneOrphans(messages []Message) []Message {
	issued := map[string]bool{}
	answered := map[string]bool{}

	for _, msg := range messages {
		switch msg.Role {
		case RoleAssistant:
			for _, tc := range msg.ToolCalls {
				issued[tc.ID] = true
			}
		case RoleTool:
			if msg.ToolCallID != "" {
				answered[msg.ToolCallID] = true
			}
		}
	}

	seen := map[string]bool{}
	out := make([]Message, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case RoleTool:
			// Keep only replies to a call issued before this message.
			if msg.ToolCallID == "" || !seen[msg.ToolCallID] {
				continue
			}
			out = append(out, msg)

		case RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				out = append(out, msg)
				continue
			}
			kept := make([]ToolCall, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				if answered[tc.ID] {
					kept = append(kept, tc)
					seen[tc.ID] = true
				}
			}
			msg.ToolCalls = kept
			// An assistant message stripped of every call and carrying
			// no text contributes nothing to the replay.
			if len(kept) == 0 && msg.Content == "" {
				continue
			}
			out = append(out, msg)

		default:
			out = append(out, msg)
		}
	}

	return out
}

package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/knollapp/knoll/pkg/reasoning"
	"github.com/knollapp/knoll/pkg/search"
	"github.com/knollapp/knoll/pkg/stream"
)

// ProcessIntentStream is ProcessIntent with token streaming over the
// given connection. Direct replies and summaries stream as they are
// generated; tool execution itself never does. Starting a stream
// aborts any stream still active on the same connection, and an abort
// cancels the reasoning call cooperatively through the context.
//
// The returned reply mirrors what was streamed so the caller can still
// persist or log it; terminal stream events have already been sent by
// the time this returns.
func (o *Orchestrator) ProcessIntentStream(ctx context.Context, senderID, text, connID string, transport stream.Transport) (*Reply, error) {
	if o.streams == nil {
		return o.ProcessIntent(ctx, senderID, text)
	}

	if reply := o.fastPath(ctx, text); reply != nil {
		return reply, nil
	}

	defer o.lockSender(senderID)()

	sessionID, hist, err := o.prepare(ctx, senderID, text)
	if err != nil {
		return nil, err
	}

	collector := search.NewCollector(0)

	s := o.streams.Start(connID, transport)

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.Aborted():
			cancel()
		case <-streamCtx.Done():
		}
	}()

	// The first call may resolve into tool calls, and a tool-bearing
	// turn must not stream its preamble: only the follow-up summary is
	// streamed. Deltas are held back until the response proves
	// tool-free.
	var preamble strings.Builder
	response, err := o.client.StreamText(streamCtx, hist.Messages(), o.registry.Catalogue(), func(delta string) {
		preamble.WriteString(delta)
	})
	if err != nil {
		s.Fail(err)
		return nil, fmt.Errorf("reasoning call failed: %w", err)
	}

	if len(response.ToolCalls) == 0 {
		if response.Content == "" {
			s.Fail(reasoning.ErrNoContent)
			return nil, reasoning.ErrNoContent
		}
		buffered := preamble.String()
		if buffered == "" {
			buffered = response.Content
		}
		s.Write(buffered)
		messageID := o.persistAssistant(ctx, senderID, sessionID, hist, response.Content)
		s.End(map[string]interface{}{"message_id": messageID})
		return ChatReply(response.Content, nil), nil
	}

	results, err := o.runTools(streamCtx, senderID, sessionID, hist, response, collector)
	if err != nil {
		s.Fail(err)
		return nil, err
	}

	if action := firstImmediate(results); action != nil {
		reply := ActionReply(action)
		s.End(map[string]interface{}{"reply": reply})
		return reply, nil
	}

	slices := o.slices.Build(ctx, collector.Snapshot())

	if !needsSummary(response.ToolCalls, results) {
		reply := ChatReply(joinOutputs(results), slices)
		s.Write(reply.Message)
		s.End(map[string]interface{}{"slices": slices})
		return reply, nil
	}

	summary, err := o.client.StreamText(streamCtx, hist.Messages(), nil, s.Write)
	if err != nil || summary.Content == "" {
		if streamCtx.Err() != nil {
			s.Fail(streamCtx.Err())
			return nil, fmt.Errorf("summary stream cancelled: %w", streamCtx.Err())
		}
		o.logger.Warn().Err(err).Msg("Summary round trip failed, degrading to raw tool output")
		text := joinSearchOutputs(response.ToolCalls, results)
		if text == "" {
			text = joinOutputs(results)
		}
		s.Write(text)
		s.End(map[string]interface{}{"slices": slices})
		return ChatReply(text, slices), nil
	}

	messageID := o.persistAssistant(ctx, senderID, sessionID, hist, summary.Content)
	s.End(map[string]interface{}{"message_id": messageID, "slices": slices})
	return ChatReply(summary.Content, slices), nil
}

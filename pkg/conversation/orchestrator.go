package conversation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/knollapp/knoll/pkg/reasoning"
	"github.com/knollapp/knoll/pkg/search"
	"github.com/knollapp/knoll/pkg/stream"
	"github.com/knollapp/knoll/pkg/tools"
)

// SessionStore persists conversation turns. SaveTurn must be atomic:
// either every message of a turn lands or none does.
type SessionStore interface {
	EnsureSession(ctx context.Context, senderID string) (string, error)
	SaveMessage(ctx context.Context, sessionID string, msg reasoning.Message) (string, error)
	SaveTurn(ctx context.Context, sessionID string, msgs []reasoning.Message) ([]string, error)
	LoadMessages(ctx context.Context, sessionID string) ([]reasoning.Message, error)
}

// ReasoningClient is the reasoning service surface the orchestrator
// drives. Implemented by *reasoning.Client.
type ReasoningClient interface {
	Call(ctx context.Context, messages []reasoning.Message, tools []reasoning.ToolSchema) (*reasoning.Response, error)
	StreamText(ctx context.Context, messages []reasoning.Message, tools []reasoning.ToolSchema, onText func(string)) (*reasoning.Response, error)
}

// NotebookDirectory exposes the notebook facts folded into the system
// prompt and the exact-title fast path.
type NotebookDirectory interface {
	Titles(ctx context.Context) ([]string, error)
	FindByTitle(ctx context.Context, title string) (string, bool)
}

// Config holds orchestrator configuration.
type Config struct {
	Store          SessionStore
	Client         ReasoningClient
	Registry       *tools.Registry
	Executor       *tools.Executor
	Slices         *search.SliceBuilder
	Notebooks      NotebookDirectory
	Streams        *stream.Coordinator
	ProfileSummary string
	HistoryLimit   int
	ToolTimeout    time.Duration
	Logger         zerolog.Logger
}

// Orchestrator turns one user utterance into zero or more tool
// invocations and a reply. It owns the per-sender session map and
// message histories; all mutation of that state happens here. Intents
// from the same sender are serialized on a per-sender lock; intents
// from different senders are independent.
type Orchestrator struct {
	store     SessionStore
	client    ReasoningClient
	registry  *tools.Registry
	executor  *tools.Executor
	slices    *search.SliceBuilder
	notebooks NotebookDirectory
	streams   *stream.Coordinator

	profileSummary string
	historyLimit   int
	toolTimeout    time.Duration
	logger         zerolog.Logger

	mu          sync.Mutex
	sessions    map[string]string
	histories   map[string]*History
	senderLocks map[string]*sync.Mutex
}

// New creates an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("reasoning client is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("tool executor is required")
	}
	if cfg.Slices == nil {
		return nil, fmt.Errorf("slice builder is required")
	}

	return &Orchestrator{
		store:          cfg.Store,
		client:         cfg.Client,
		registry:       cfg.Registry,
		executor:       cfg.Executor,
		slices:         cfg.Slices,
		notebooks:      cfg.Notebooks,
		streams:        cfg.Streams,
		profileSummary: cfg.ProfileSummary,
		historyLimit:   cfg.HistoryLimit,
		toolTimeout:    cfg.ToolTimeout,
		logger:         cfg.Logger.With().Str("module", "conversation").Logger(),
		sessions:       make(map[string]string),
		histories:      make(map[string]*History),
		senderLocks:    make(map[string]*sync.Mutex),
	}, nil
}

// ProcessIntent handles one user utterance and returns a reply. A nil
// reply with a non-nil error means the call failed terminally; the
// caller maps that to a typed error result.
func (o *Orchestrator) ProcessIntent(ctx context.Context, senderID, text string) (*Reply, error) {
	if reply := o.fastPath(ctx, text); reply != nil {
		return reply, nil
	}

	defer o.lockSender(senderID)()

	sessionID, hist, err := o.prepare(ctx, senderID, text)
	if err != nil {
		return nil, err
	}

	// Results accumulate per intent; the collector starts empty on
	// every call.
	collector := search.NewCollector(0)

	response, err := o.client.Call(ctx, hist.Messages(), o.registry.Catalogue())
	if err != nil {
		return nil, fmt.Errorf("reasoning call failed: %w", err)
	}

	if len(response.ToolCalls) == 0 {
		if response.Content == "" {
			return nil, reasoning.ErrNoContent
		}
		o.persistAssistant(ctx, senderID, sessionID, hist, response.Content)
		return ChatReply(response.Content, nil), nil
	}

	results, err := o.runTools(ctx, senderID, sessionID, hist, response, collector)
	if err != nil {
		return nil, err
	}

	// First immediate-return in call order wins and skips the
	// summarization round trip.
	if action := firstImmediate(results); action != nil {
		return ActionReply(action), nil
	}

	slices := o.slices.Build(ctx, collector.Snapshot())

	if !needsSummary(response.ToolCalls, results) {
		return ChatReply(joinOutputs(results), slices), nil
	}

	summary, err := o.client.Call(ctx, hist.Messages(), nil)
	if err != nil || summary.Content == "" {
		// Degrade rather than lose the information: hand back the raw
		// search outputs with whatever slices were built.
		o.logger.Warn().Err(err).Msg("Summary round trip failed, degrading to raw tool output")
		text := joinSearchOutputs(response.ToolCalls, results)
		if text == "" {
			text = joinOutputs(results)
		}
		return ChatReply(text, slices), nil
	}

	o.persistAssistant(ctx, senderID, sessionID, hist, summary.Content)
	return ChatReply(summary.Content, slices), nil
}

// prepare resolves the session, rebuilds the message history, and
// appends the new user message. Session resolution failure is fatal:
// no turn can be attributed without a session. The user-message save
// is best-effort; the turn can still be answered if it fails.
func (o *Orchestrator) prepare(ctx context.Context, senderID, text string) (string, *History, error) {
	sessionID, err := o.resolveSession(ctx, senderID)
	if err != nil {
		return "", nil, fmt.Errorf("failed to resolve session for %s: %w", senderID, err)
	}

	hist, err := o.historyFor(ctx, senderID, sessionID)
	if err != nil {
		return "", nil, err
	}

	hist.SetSystem(o.systemPrompt(ctx))

	userMsg := reasoning.UserMessage(text)
	hist.Append(userMsg)

	if _, err := o.store.SaveMessage(ctx, sessionID, userMsg); err != nil {
		o.logger.Warn().Err(err).Str("sender_id", senderID).
			Msg("Failed to persist user message")
		o.invalidateSession(senderID)
	}

	return sessionID, hist, nil
}

// lockSender serializes intents per sender and returns the unlock
// func. Histories and turn persistence are not safe under concurrent
// intents from one sender.
func (o *Orchestrator) lockSender(senderID string) func() {
	o.mu.Lock()
	lock, ok := o.senderLocks[senderID]
	if !ok {
		lock = &sync.Mutex{}
		o.senderLocks[senderID] = lock
	}
	o.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// invalidateSession drops the cached session and history for a sender.
// Called when a save fails: the session may have been removed by the
// retention cleanup, and the next intent must re-resolve it.
func (o *Orchestrator) invalidateSession(senderID string) {
	o.mu.Lock()
	delete(o.sessions, senderID)
	delete(o.histories, senderID)
	o.mu.Unlock()
}

func (o *Orchestrator) resolveSession(ctx context.Context, senderID string) (string, error) {
	o.mu.Lock()
	sessionID, ok := o.sessions[senderID]
	o.mu.Unlock()
	if ok {
		return sessionID, nil
	}

	sessionID, err := o.store.EnsureSession(ctx, senderID)
	if err != nil {
		return "", err
	}

	o.mu.Lock()
	o.sessions[senderID] = sessionID
	o.mu.Unlock()
	return sessionID, nil
}

// historyFor returns the in-memory history for a sender, rebuilding it
// from the session store on first use. Loaded messages are pruned of
// orphaned tool references before they can be replayed.
func (o *Orchestrator) historyFor(ctx context.Context, senderID, sessionID string) (*History, error) {
	o.mu.Lock()
	hist, ok := o.histories[senderID]
	o.mu.Unlock()
	if ok {
		return hist, nil
	}

	hist = NewHistory(o.historyLimit)

	stored, err := o.store.LoadMessages(ctx, sessionID)
	if err != nil {
		o.logger.Warn().Err(err).Str("session_id", sessionID).
			Msg("Failed to load stored messages, starting fresh")
	} else {
		hist.Replace(reasoning.PruneOrphans(stored))
	}

	o.mu.Lock()
	o.histories[senderID] = hist
	o.mu.Unlock()
	return hist, nil
}

// runTools executes every tool call concurrently, then persists the
// turn's exact message set in one atomic save: the assistant message
// carrying the calls followed by one tool message per call, ordered by
// call order rather than completion order. A save failure aborts the
// call; a partial turn would corrupt every subsequent replay.
func (o *Orchestrator) runTools(ctx context.Context, senderID, sessionID string, hist *History, response *reasoning.Response, collector *search.Collector) ([]tools.Result, error) {
	execCtx := &tools.ExecutionContext{
		SenderID:  senderID,
		Collector: collector,
		Timeout:   o.toolTimeout,
	}

	results := o.executor.ExecuteBatch(ctx, response.ToolCalls, execCtx)

	turn := make([]reasoning.Message, 0, len(results)+1)
	turn = append(turn, reasoning.Message{
		Role:      reasoning.RoleAssistant,
		Content:   response.Content,
		ToolCalls: response.ToolCalls,
	})
	for i, call := range response.ToolCalls {
		turn = append(turn, reasoning.ToolMessage(call.ID, results[i].Content))
	}

	if _, err := o.store.SaveTurn(ctx, sessionID, turn); err != nil {
		o.invalidateSession(senderID)
		return nil, fmt.Errorf("failed to persist tool-calling turn: %w", err)
	}

	hist.Append(turn...)
	return results, nil
}

// persistAssistant appends the assistant message to the history and
// saves it best-effort, returning the persisted message id if any.
func (o *Orchestrator) persistAssistant(ctx context.Context, senderID, sessionID string, hist *History, content string) string {
	msg := reasoning.AssistantMessage(content)
	hist.Append(msg)

	id, err := o.store.SaveMessage(ctx, sessionID, msg)
	if err != nil {
		o.logger.Warn().Err(err).Str("session_id", sessionID).
			Msg("Failed to persist assistant message")
		o.invalidateSession(senderID)
		return ""
	}
	return id
}

// systemPrompt refreshes the contextual facts the model sees: the
// available notebooks and the user profile summary.
func (o *Orchestrator) systemPrompt(ctx context.Context) string {
	var b strings.Builder
	b.WriteString("You are a personal knowledge-base assistant. Answer directly when you can; ")
	b.WriteString("use the available tools to search the knowledge base or the web, manage ")
	b.WriteString("notebooks, and navigate to URLs when the user asks for it.")

	if o.notebooks != nil {
		titles, err := o.notebooks.Titles(ctx)
		if err != nil {
			o.logger.Warn().Err(err).Msg("Failed to list notebooks for system prompt")
		} else if len(titles) > 0 {
			b.WriteString("\n\nAvailable notebooks: ")
			b.WriteString(strings.Join(titles, ", "))
		}
	}

	if o.profileSummary != "" {
		b.WriteString("\n\nUser profile: ")
		b.WriteString(o.profileSummary)
	}

	return b.String()
}

func firstImmediate(results []tools.Result) *tools.Action {
	for _, result := range results {
		if result.ImmediateReturn != nil {
			return result.ImmediateReturn
		}
	}
	return nil
}

func joinOutputs(results []tools.Result) string {
	var parts []string
	for _, result := range results {
		if result.Content != "" {
			parts = append(parts, result.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

func joinSearchOutputs(calls []reasoning.ToolCall, results []tools.Result) string {
	var parts []string
	for i, call := range calls {
		if producedSearchResults(call.Name, results[i].Content) {
			parts = append(parts, results[i].Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

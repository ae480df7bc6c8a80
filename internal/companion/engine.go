// Package companion ties prompt assembly, conversation memory, backend
// fallback and reply processing into a single call per user message.
package companion

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roelfdiedericks/companion/internal/conversation"
	"github.com/roelfdiedericks/companion/internal/llm"
	. "github.com/roelfdiedericks/companion/internal/logging"
	"github.com/roelfdiedericks/companion/internal/metrics"
	"github.com/roelfdiedericks/companion/internal/prompt"
	"github.com/roelfdiedericks/companion/internal/response"
)

// ErrClosed is reported for calls made after Close.
var ErrClosed = errors.New("companion: engine closed")

const (
	emptyInputMessage = "There is nothing to send."
	emptyReplyMessage = "The reply came back empty. Please try again."
	closedMessage     = "The companion is shutting down."
)

// Engine handles user messages. One Engine serves any number of partners;
// calls for the same partner are serialized, calls for different partners
// run in parallel.
type Engine struct {
	store    *conversation.Store
	registry *llm.Registry
	sources  Sources

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New creates an engine. The store is owned by the caller, which may share
// it with other components (for example to reset it when the persona changes).
func New(store *conversation.Store, registry *llm.Registry, sources Sources) *Engine {
	if sources.Profiles == nil {
		sources.Profiles = StaticSettings{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:    store,
		registry: registry,
		sources:  sources,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Store returns the conversation store.
func (e *Engine) Store() *conversation.Store {
	return e.store
}

// Registry returns the profile registry.
func (e *Engine) Registry() *llm.Registry {
	return e.registry
}

// SendMessage handles text in the background and delivers the reply to sink.
// It returns immediately. Cancelling ctx or closing the engine aborts the
// call; the sink still receives a failure reply.
func (e *Engine) SendMessage(ctx context.Context, text, partner string, mode Mode, sink OutputSink) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		L_warn("companion: message dropped", "partner", partner, "error", ErrClosed)
		deliver(sink, failure(partner, mode, closedMessage))
		return
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(e.ctx, cancel)
		defer stop()

		deliver(sink, e.Handle(ctx, text, partner, mode))
	}()
}

func deliver(sink OutputSink, reply Reply) {
	if sink != nil {
		sink.Deliver(reply)
	}
}

// Handle processes one message synchronously and returns the reply. Backend
// failures are reported as a Failed reply, never as an error.
func (e *Engine) Handle(ctx context.Context, text, partner string, mode Mode) Reply {
	start := time.Now()
	id := uuid.NewString()[:8]
	defer L_elapsed(start, "companion: handled", "id", id, "partner", partner)

	if strings.TrimSpace(text) == "" {
		return failure(partner, mode, emptyInputMessage)
	}

	settings := e.sources.Profiles.Settings()
	persona := e.persona()
	system := prompt.BuildSystemPrompt(prompt.SystemParams{
		OverrideName:   mode.Addressee,
		Persona:        persona,
		Addressing:     settings.Addressing,
		ContextFacts:   e.contextFacts(partner),
		OutOfCharacter: mode.OOC,
	})
	preamble := func() (string, string) {
		return system, prompt.Acknowledgement(persona)
	}
	turn := prompt.BuildUserTurn(text, mode.Search, settings.Aliases)

	var history *conversation.History
	if mode.stateless() {
		history = conversation.NewEphemeral(preamble)
	} else {
		unlock := e.store.Lock(partner)
		defer unlock()
		history = e.store.GetOrCreate(partner, preamble)
	}

	handle := history.AppendUser(turn.Text)
	committed := false
	defer func() {
		if !committed {
			history.Remove(handle)
			L_debug("companion: rolled back user turn", "id", id, "partner", partner)
		}
	}()

	turns := history.Turns()
	req := &llm.Request{
		SystemPrompt: system,
		History:      turns[conversation.PreambleSize : len(turns)-1],
		UserText:     turn.Text,
		MaxTokens:    settings.MaxTokens,
		Temperature:  settings.Temperature,
		UseWebSearch: mode.Search,
		Thinking:     mode.Think,
		ShowThoughts: settings.ShowThoughts,
	}
	if mode.Think {
		req.ThinkingBudget = settings.ThinkingBudget
	}

	startIndex := e.registry.StartIndex(llm.Selection{Thinking: mode.Think, Greeting: mode.Greeting})
	L_debug("companion: sending", "id", id, "partner", partner, "history", len(req.History),
		"stateless", mode.stateless(), "search", mode.Search, "think", mode.Think, "start", startIndex)

	outcome := e.registry.SendWithFallback(ctx, req, startIndex)
	if !outcome.Succeeded() {
		L_warn("companion: all profiles failed", "id", id, "partner", partner,
			"category", outcome.Failure.Category, "attempts", len(outcome.Attempts))
		L_warn("companion: failure diagnostic", "id", id, "diagnostic", outcome.Failure.Diagnostic)
		metrics.MetricOutcome("companion", "reply", "failed")
		return failure(partner, mode, outcome.Failure.Message)
	}

	final := response.Finalize(outcome.Result.Text, turn.Echo, settings.RemoveLineBreaks)
	if final == "" {
		L_warn("companion: reply empty after processing", "id", id, "profile", outcome.Profile.Name)
		metrics.MetricOutcome("companion", "reply", "empty")
		return failure(partner, mode, emptyReplyMessage)
	}

	if !mode.stateless() {
		history.AppendModel(final)
		if dropped := history.TrimToLimit(settings.HistoryLimit); dropped > 0 {
			L_trace("companion: trimmed history", "partner", partner, "dropped", dropped)
		}
	}
	committed = true

	reply := Reply{
		Partner: partner,
		Text:    final,
		Chunks:  chunk(final, settings),
		Private: mode.OOC,
		Profile: outcome.Profile.Name,
	}
	if settings.ShowThoughts {
		reply.Thoughts = strings.TrimSpace(outcome.Result.Thoughts)
	}
	metrics.MetricOutcome("companion", "reply", "ok")
	return reply
}

func (e *Engine) persona() prompt.Persona {
	if e.sources.Persona == nil {
		return prompt.Persona{}
	}
	return e.sources.Persona.Persona()
}

func (e *Engine) contextFacts(partner string) string {
	if e.sources.Context == nil {
		return ""
	}
	return e.sources.Context.ContextFacts(partner)
}

// chunk splits text for the output transport. A byte budget wins over a
// character limit; with neither, the text is one chunk.
func chunk(text string, s Settings) []string {
	var chunks []string
	switch {
	case s.MaxChunkBytes > 0:
		chunks = slices.Collect(response.ChunkByByteBudget(text, s.MaxChunkBytes))
	case s.MaxChunkChars > 0:
		chunks = slices.Collect(response.ChunkByDelimiter(text, s.MaxChunkChars))
	}
	if len(chunks) == 0 {
		return []string{text}
	}
	return chunks
}

func failure(partner string, mode Mode, msg string) Reply {
	return Reply{
		Partner: partner,
		Text:    msg,
		Chunks:  []string{msg},
		Private: mode.OOC,
		Failed:  true,
	}
}

// Reset forgets every stored conversation.
func (e *Engine) Reset() {
	e.store.ResetAll()
	L_info("companion: all conversations reset")
}

// Close cancels in-flight calls and waits for them to finish. Later calls
// to SendMessage deliver a failure reply without contacting any backend.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
	L_debug("companion: engine closed")
}

package companion

import (
	"github.com/roelfdiedericks/companion/internal/prompt"
)

// Mode holds the per-call flags.
type Mode struct {
	Stateless bool // use only the preamble and the new turn; the store is not touched
	Search    bool // ask the backend to search the web first
	Think     bool // start at the thinking profile with extended reasoning
	OOC       bool // out of character: stateless, private reply
	Greeting  bool // start at the lightweight profile

	// Addressee overrides the configured name for the person being
	// addressed, for example another player speaking to the companion.
	Addressee string
}

func (m Mode) stateless() bool {
	return m.Stateless || m.OOC
}

// Reply is what the engine delivers for every call, successful or not.
type Reply struct {
	Partner  string
	Text     string   // final text, or the user-facing failure message
	Chunks   []string // Text split for the output transport; at least one element
	Thoughts string   // reasoning text, when requested and available
	Private  bool     // for the caller only (out-of-character replies)
	Failed   bool
	Profile  string // profile that produced the reply
}

// OutputSink receives replies. Deliver may be called from any goroutine.
type OutputSink interface {
	Deliver(Reply)
}

// SinkFunc adapts a function to OutputSink.
type SinkFunc func(Reply)

// Deliver implements OutputSink
func (f SinkFunc) Deliver(r Reply) { f(r) }

// Settings are the toggles read at the start of every call.
type Settings struct {
	HistoryLimit     int // exchanges kept per partner; 0 = unlimited
	RemoveLineBreaks bool
	MaxChunkChars    int // 0 = no character limit
	MaxChunkBytes    int // wins over MaxChunkChars when set
	MaxTokens        int
	Temperature      *float64
	ThinkingBudget   *int
	ShowThoughts     bool
	Addressing       prompt.Addressing
	Aliases          *prompt.AliasTable
}

// ProfileSource supplies the current settings. The profile list itself is
// owned by the llm.Registry.
type ProfileSource interface {
	Settings() Settings
}

// StaticSettings is a ProfileSource that never changes.
type StaticSettings Settings

// Settings implements ProfileSource
func (s StaticSettings) Settings() Settings { return Settings(s) }

// PersonaSource supplies the persona for system prompts.
type PersonaSource interface {
	Persona() prompt.Persona
}

// ContextProvider supplies opaque facts about the partner's surroundings.
// An empty string adds nothing to the prompt.
type ContextProvider interface {
	ContextFacts(partner string) string
}

// Sources bundles the engine's collaborators. Persona and Context may be nil.
type Sources struct {
	Profiles ProfileSource
	Persona  PersonaSource
	Context  ContextProvider
}

// Package prompt builds the system preamble and the final user-turn text
// sent to every backend.
package prompt

import (
	"strings"

	. "github.com/roelfdiedericks/companion/internal/logging"
)

// AddressingMode selects how the assistant refers to the person it talks to.
type AddressingMode string

const (
	AddressRealName AddressingMode = "realName"
	AddressAlias    AddressingMode = "alias"
)

// FallbackAddressee is used when neither an override nor a configured name
// is available.
const FallbackAddressee = "the adventurer"

// Persona is the user-authored character definition.
type Persona struct {
	Name string // optional; the assistant introduces itself by this name
	Text string // system text, inserted verbatim and last
}

// Addressing holds the configured names for the primary user.
type Addressing struct {
	Mode     AddressingMode
	RealName string
	Alias    string
}

// SystemParams contains everything BuildSystemPrompt needs.
type SystemParams struct {
	OverrideName   string // a specific partner's name; wins over Addressing
	Persona        Persona
	Addressing     Addressing
	ContextFacts   string // opaque text from a context provider
	OutOfCharacter bool
}

const behaviorPreamble = `Always reply in the same language the user wrote in, unless they ask for another language.
Your reply is shown in a plain-text chat line: do not use markdown tables, code fences, headings or emoji-only answers.
Keep replies concise and conversational.`

const oocDirective = `The user is speaking to you out of character. Step outside your role, answer plainly and honestly as an assistant, and do not continue any roleplay.`

// BuildSystemPrompt assembles the system prompt. Sections are appended in a
// fixed order and empty sections are skipped:
//  1. behavior preamble
//  2. persona name
//  3. addressing clause
//  4. context facts
//  5. persona text
//
// Later sections take precedence when instructions conflict, so the order
// must not change.
func BuildSystemPrompt(p SystemParams) string {
	var sections []string

	sections = append(sections, behaviorPreamble)
	if p.OutOfCharacter {
		sections = append(sections, oocDirective)
	}

	if name := strings.TrimSpace(p.Persona.Name); name != "" {
		sections = append(sections, "Your name is "+name+".")
	}

	sections = append(sections, "You are speaking with "+ResolveAddressee(p.OverrideName, p.Addressing)+".")

	if facts := strings.TrimSpace(p.ContextFacts); facts != "" {
		sections = append(sections, "Current context:\n"+facts)
	}

	if p.Persona.Text != "" {
		sections = append(sections, p.Persona.Text)
	}

	out := strings.Join(sections, "\n\n")
	L_trace("prompt: system prompt built", "sections", len(sections), "chars", len(out))
	return out
}

// ResolveAddressee applies the precedence override > configured mode >
// fallback literal.
func ResolveAddressee(override string, a Addressing) string {
	if name := strings.TrimSpace(override); name != "" {
		return name
	}
	switch a.Mode {
	case AddressAlias:
		if alias := strings.TrimSpace(a.Alias); alias != "" {
			return alias
		}
		if real := strings.TrimSpace(a.RealName); real != "" {
			return real
		}
	case AddressRealName, "":
		if real := strings.TrimSpace(a.RealName); real != "" {
			return real
		}
	}
	return FallbackAddressee
}

// Acknowledgement is the model-role turn that follows the preamble in every
// stored history.
func Acknowledgement(p Persona) string {
	if name := strings.TrimSpace(p.Name); name != "" {
		return "Understood. I am " + name + " and I will follow these instructions."
	}
	return "Understood. I will follow these instructions."
}

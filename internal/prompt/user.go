package prompt

import (
	"regexp"
	"slices"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// UserMessageMarker separates directives from the user's own words. Some
// backends echo the prompt back; response.Finalize strips everything up to
// and including the echoed block.
const UserMessageMarker = "--- User Message ---"

// SearchDirective is prefixed to the user turn when web search is requested.
const SearchDirective = `[Web search requested]
Before answering, use your web search tool to look up current information about the user's message below.
Base your answer on what you find, and say so if the results were inconclusive.`

// UserTurn is the text sent as the new user turn, plus the block a backend
// would echo.
type UserTurn struct {
	Text string
	Echo string
}

// BuildUserTurn trims raw, expands aliases, optionally prefixes the search
// directive and appends the user message marker.
func BuildUserTurn(raw string, useWebSearch bool, aliases *AliasTable) UserTurn {
	text := strings.TrimSpace(raw)
	if aliases != nil {
		text = aliases.Expand(text)
	}

	echo := UserMessageMarker + "\n" + text

	var b strings.Builder
	if useWebSearch {
		b.WriteString(SearchDirective)
		b.WriteString("\n\n")
	}
	b.WriteString(echo)

	return UserTurn{Text: b.String(), Echo: echo}
}

// Alias is a literal shortcut and the text it stands for.
type Alias struct {
	Name      string `json:"name" toml:"name" yaml:"name"`
	Expansion string `json:"expansion" toml:"expansion" yaml:"expansion"`
}

// AliasTable expands whole-word, case-insensitive aliases. Longer names are
// tried first so that overlapping aliases resolve to the most specific one.
type AliasTable struct {
	aliases  []Alias
	patterns []aliasPattern // longest name first
}

type aliasPattern struct {
	re        *regexp.Regexp // anchored at the scan position
	expansion string
}

// NewAliasTable builds a table. Entries with an empty name are ignored; for
// duplicate names (case-insensitive) the first entry wins.
func NewAliasTable(aliases []Alias) *AliasTable {
	t := &AliasTable{}
	seen := make(map[string]bool)
	for _, a := range aliases {
		name := strings.TrimSpace(a.Name)
		key := strings.ToLower(name)
		if name == "" || seen[key] {
			continue
		}
		seen[key] = true
		t.aliases = append(t.aliases, Alias{Name: name, Expansion: a.Expansion})
	}

	byLength := slices.Clone(t.aliases)
	sort.SliceStable(byLength, func(i, j int) bool { return len(byLength[i].Name) > len(byLength[j].Name) })
	for _, a := range byLength {
		t.patterns = append(t.patterns, aliasPattern{
			re:        regexp.MustCompile(`\A(?i:` + regexp.QuoteMeta(a.Name) + `)`),
			expansion: a.Expansion,
		})
	}
	return t
}

// Len returns the number of aliases.
func (t *AliasTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.aliases)
}

// Expand replaces every whole-word alias occurrence in text. Every rune
// position that starts a word is tried, so a rejected match never hides a
// valid alias that overlaps it.
func (t *AliasTable) Expand(text string) string {
	if t == nil || len(t.patterns) == 0 || text == "" {
		return text
	}

	var b strings.Builder
	last, i := 0, 0
	for i < len(text) {
		if end, exp, ok := t.matchAt(text, i); ok {
			b.WriteString(text[last:i])
			b.WriteString(exp)
			last, i = end, end
			continue
		}
		_, size := utf8.DecodeRuneInString(text[i:])
		i += size
	}
	if last == 0 {
		return text
	}
	b.WriteString(text[last:])
	return b.String()
}

// matchAt returns the longest alias at byte offset i that stands as a whole
// word.
func (t *AliasTable) matchAt(text string, i int) (end int, expansion string, ok bool) {
	if i > 0 {
		if r, _ := utf8.DecodeLastRuneInString(text[:i]); isWordRune(r) {
			return 0, "", false
		}
	}
	for _, p := range t.patterns {
		loc := p.re.FindStringIndex(text[i:])
		if loc == nil {
			continue
		}
		if isWordBoundary(text, i, i+loc[1]) {
			return i + loc[1], p.expansion, true
		}
	}
	return 0, "", false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// isWordBoundary reports whether text[start:end] is not glued to word runes
// on either side.
func isWordBoundary(text string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		if isWordRune(r) {
			return false
		}
	}
	if end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}

package prompt

import (
	"strings"
	"testing"
)

func TestAliasExpansion(t *testing.T) {
	table := NewAliasTable([]Alias{
		{Name: "nalodestone", Expansion: "https://na.finalfantasyxiv.com/lodestone/"},
		{Name: "gc", Expansion: "Grand Company"},
	})

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"whole word", "check nalodestone now", "check https://na.finalfantasyxiv.com/lodestone/ now"},
		{"case insensitive", "check NaLodestone now", "check https://na.finalfantasyxiv.com/lodestone/ now"},
		{"substring untouched", "check nalodestoner now", "check nalodestoner now"},
		{"prefix untouched", "xnalodestone", "xnalodestone"},
		{"punctuation boundary", "which gc?", "which Grand Company?"},
		{"start and end", "gc gc", "Grand Company Grand Company"},
		{"unicode neighbour", "ägc", "ägc"},
		{"no aliases present", "hello there", "hello there"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := table.Expand(tt.in); got != tt.want {
				t.Errorf("Expand(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestAliasTableDedupAndEmpty(t *testing.T) {
	table := NewAliasTable([]Alias{
		{Name: "", Expansion: "ignored"},
		{Name: "ff", Expansion: "Final Fantasy"},
		{Name: "FF", Expansion: "second"},
	})
	if table.Len() != 1 {
		t.Fatalf("len = %d, want 1", table.Len())
	}
	if got := table.Expand("ff"); got != "Final Fantasy" {
		t.Errorf("got %q", got)
	}

	var nilTable *AliasTable
	if got := nilTable.Expand("ff"); got != "ff" {
		t.Errorf("nil table changed text: %q", got)
	}
}

func TestAliasLongestWins(t *testing.T) {
	table := NewAliasTable([]Alias{
		{Name: "ul", Expansion: "Ul'dah"},
		{Name: "ul market", Expansion: "the Ul'dah market board"},
	})
	if got := table.Expand("meet at ul market"); got != "meet at the Ul'dah market board" {
		t.Errorf("got %q", got)
	}
}

func TestAliasRejectedMatchDoesNotHideOverlap(t *testing.T) {
	table := NewAliasTable([]Alias{
		{Name: "foo-bar", Expansion: "FOOBAR"},
		{Name: "bar", Expansion: "BAR"},
		{Name: "ul", Expansion: "Ul'dah"},
		{Name: "ul-x", Expansion: "unused"},
	})
	tests := []struct{ in, want string }{
		{"xfoo-bar", "xfoo-BAR"},
		{"foo-bar", "FOOBAR"},
		{"to ul-xy now", "to Ul'dah-xy now"},
		{"barbar", "barbar"},
	}
	for _, tt := range tests {
		if got := table.Expand(tt.in); got != tt.want {
			t.Errorf("Expand(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBuildUserTurn(t *testing.T) {
	turn := BuildUserTurn("  hello gc  ", false, NewAliasTable([]Alias{{Name: "gc", Expansion: "Grand Company"}}))
	want := UserMessageMarker + "\nhello Grand Company"
	if turn.Text != want {
		t.Errorf("text = %q, want %q", turn.Text, want)
	}
	if turn.Echo != want {
		t.Errorf("echo = %q, want %q", turn.Echo, want)
	}

	search := BuildUserTurn("weather today", true, nil)
	if !strings.HasPrefix(search.Text, SearchDirective) {
		t.Errorf("search directive missing: %q", search.Text)
	}
	if !strings.HasSuffix(search.Text, UserMessageMarker+"\nweather today") {
		t.Errorf("marker block missing: %q", search.Text)
	}
	if strings.Contains(search.Echo, SearchDirective) {
		t.Error("echo block must not contain the directive")
	}
}

func TestBuildSystemPromptOrder(t *testing.T) {
	out := BuildSystemPrompt(SystemParams{
		Persona:      Persona{Name: "Lyna", Text: "PERSONA-TEXT"},
		Addressing:   Addressing{Mode: AddressAlias, RealName: "Ryne Waters", Alias: "Ry"},
		ContextFacts: "Location: Limsa Lominsa",
	})

	order := []string{
		"same language",
		"Your name is Lyna.",
		"You are speaking with Ry.",
		"Location: Limsa Lominsa",
		"PERSONA-TEXT",
	}
	pos := -1
	for _, s := range order {
		i := strings.Index(out, s)
		if i < 0 {
			t.Fatalf("missing %q in:\n%s", s, out)
		}
		if i <= pos {
			t.Errorf("%q out of order", s)
		}
		pos = i
	}
	if !strings.HasSuffix(out, "PERSONA-TEXT") {
		t.Error("persona text must come last")
	}
}

func TestBuildSystemPromptSkipsEmpty(t *testing.T) {
	out := BuildSystemPrompt(SystemParams{})
	if strings.Contains(out, "Your name is") {
		t.Error("empty persona name should be skipped")
	}
	if strings.Contains(out, "Current context") {
		t.Error("empty context should be skipped")
	}
	if !strings.Contains(out, FallbackAddressee) {
		t.Error("fallback addressee missing")
	}
	if strings.Contains(out, "\n\n\n") {
		t.Error("empty sections left blank gaps")
	}
}

func TestBuildSystemPromptOOC(t *testing.T) {
	out := BuildSystemPrompt(SystemParams{OutOfCharacter: true, Persona: Persona{Text: "stay in role"}})
	if !strings.Contains(out, "out of character") {
		t.Error("ooc directive missing")
	}
}

func TestResolveAddressee(t *testing.T) {
	tests := []struct {
		name     string
		override string
		a        Addressing
		want     string
	}{
		{"override wins", "Thancred", Addressing{Mode: AddressAlias, Alias: "Ry"}, "Thancred"},
		{"alias mode", "", Addressing{Mode: AddressAlias, RealName: "Ryne", Alias: "Ry"}, "Ry"},
		{"alias falls back to real", "", Addressing{Mode: AddressAlias, RealName: "Ryne"}, "Ryne"},
		{"real name mode", "", Addressing{Mode: AddressRealName, RealName: "Ryne", Alias: "Ry"}, "Ryne"},
		{"default mode is real name", "", Addressing{RealName: "Ryne"}, "Ryne"},
		{"fallback literal", "  ", Addressing{}, FallbackAddressee},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveAddressee(tt.override, tt.a); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

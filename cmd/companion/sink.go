package main

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/roelfdiedericks/companion/internal/companion"
)

const (
	defaultWidth = 80
	minWidth     = 20
)

var (
	nameStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	privateStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Italic(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	thoughtStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	promptStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
)

// isTerminal reports whether stdout is a terminal.
func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// terminalWidth returns the stdout width, or 0 when stdout is not a terminal.
func terminalWidth() int {
	if !isTerminal() {
		return 0
	}
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return defaultWidth
	}
	return max(width, minWidth)
}

// terminalSink prints replies one chunk per line, the way a chat overlay
// would show them.
type terminalSink struct {
	mu     sync.Mutex
	out    io.Writer
	name   string
	styled bool
}

func newTerminalSink(out io.Writer, name string, styled bool) *terminalSink {
	if name == "" {
		name = "companion"
	}
	return &terminalSink{out: out, name: name, styled: styled}
}

func (s *terminalSink) render(style lipgloss.Style, text string) string {
	if !s.styled {
		return text
	}
	return style.Render(text)
}

// Deliver implements companion.OutputSink
func (s *terminalSink) Deliver(r companion.Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Thoughts != "" {
		fmt.Fprintln(s.out, s.render(thoughtStyle, "("+r.Thoughts+")"))
	}

	label := s.name
	switch {
	case r.Failed:
		label = "!"
	case r.Private:
		label = s.name + " (ooc)"
	}

	for _, chunk := range r.Chunks {
		body := chunk
		switch {
		case r.Failed:
			body = s.render(errorStyle, chunk)
		case r.Private:
			body = s.render(privateStyle, chunk)
		}
		fmt.Fprintf(s.out, "%s %s\n", s.render(nameStyle, label+":"), body)
	}
}

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/roelfdiedericks/companion/internal/companion"
	"github.com/roelfdiedericks/companion/internal/greeting"
	. "github.com/roelfdiedericks/companion/internal/logging"
)

// ChatCmd runs the interactive loop.
type ChatCmd struct {
	Partner  string `short:"p" help:"Conversation partner key." default:"default"`
	Greeting bool   `help:"Run the configured greeting schedule." default:"true" negatable:""`
}

const chatHelp = `Prefix a message to change how it is sent:
  /fresh   without conversation memory
  /search  with web search
  /think   with extended reasoning
  /ooc     out of character, privately
Commands:
  /reset   forget all conversations
  /stats   show backend statistics
  /help    show this help
  /quit    leave`

// command is a line that controls the REPL instead of being sent.
type command string

const (
	cmdNone  command = ""
	cmdReset command = "reset"
	cmdStats command = "stats"
	cmdHelp  command = "help"
	cmdQuit  command = "quit"
)

// parseLine splits mode prefixes from the message. Prefixes may be
// combined, as in "/fresh /search what's new?".
func parseLine(line string) (text string, mode companion.Mode, cmd command) {
	rest := strings.TrimSpace(line)
	for strings.HasPrefix(rest, "/") {
		word, tail, _ := strings.Cut(rest, " ")
		switch strings.ToLower(word) {
		case "/fresh":
			mode.Stateless = true
		case "/search":
			mode.Search = true
		case "/think":
			mode.Think = true
		case "/ooc":
			mode.OOC = true
		case "/reset":
			return "", mode, cmdReset
		case "/stats":
			return "", mode, cmdStats
		case "/help", "/?":
			return "", mode, cmdHelp
		case "/quit", "/exit":
			return "", mode, cmdQuit
		default:
			// Not a prefix we know; send it as typed.
			return rest, mode, cmdNone
		}
		rest = strings.TrimSpace(tail)
	}
	return rest, mode, cmdNone
}

func (c *ChatCmd) Run(ctx context.Context, g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	a, err := newApp(cfg, terminalWidth(), true)
	if err != nil {
		return err
	}
	defer a.Close()

	sink := newTerminalSink(os.Stdout, a.persona.Persona().Name, isTerminal())

	if c.Greeting && cfg.Greeting.Schedule != "" {
		sched, err := greeting.New(greeting.Config{
			Schedule: cfg.Greeting.Schedule,
			Partner:  cfg.Greeting.Partner,
			Text:     cfg.Greeting.Text,
		}, a.engine, sink)
		if err != nil {
			return err
		}
		sched.Start(ctx)
		defer sched.Stop()
	}

	fmt.Println("Type a message, or /help for commands.")
	return c.loop(ctx, a, os.Stdin, os.Stdout, sink)
}

func (c *ChatCmd) loop(ctx context.Context, a *app, in io.Reader, out io.Writer, sink *terminalSink) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		if sink.styled {
			fmt.Fprint(out, promptStyle.Render("> "))
		}

		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = l
		}

		text, mode, cmd := parseLine(line)
		switch cmd {
		case cmdQuit:
			return nil
		case cmdHelp:
			fmt.Fprintln(out, chatHelp)
			continue
		case cmdReset:
			a.engine.Reset()
			fmt.Fprintln(out, "All conversations forgotten.")
			continue
		case cmdStats:
			fmt.Fprintln(out, renderStats(a.engine.Registry()))
			continue
		}
		if text == "" {
			continue
		}

		done := make(chan struct{})
		a.engine.SendMessage(ctx, text, c.Partner, mode, companion.SinkFunc(func(r companion.Reply) {
			sink.Deliver(r)
			close(done)
		}))
		<-done
		L_trace("chat: turn complete", "partner", c.Partner)
	}
}

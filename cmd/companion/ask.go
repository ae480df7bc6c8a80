package main

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/roelfdiedericks/companion/internal/companion"
)

// AskCmd sends a single message.
type AskCmd struct {
	Message []string `arg:"" help:"Message to send."`
	Partner string   `short:"p" help:"Conversation partner key." default:"default"`
	Search  bool     `short:"s" help:"Ask the backend to search the web first."`
	Think   bool     `short:"t" help:"Use the thinking profile with extended reasoning."`
	OOC     bool     `help:"Speak to the companion out of character."`
}

func (c *AskCmd) Run(ctx context.Context, g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	a, err := newApp(cfg, terminalWidth(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	mode := companion.Mode{Search: c.Search, Think: c.Think, OOC: c.OOC}
	reply := a.engine.Handle(ctx, strings.Join(c.Message, " "), c.Partner, mode)
	newTerminalSink(os.Stdout, a.persona.Persona().Name, isTerminal()).Deliver(reply)
	if reply.Failed {
		return errors.New("no reply")
	}
	return nil
}

package main

import (
	"fmt"

	"github.com/roelfdiedericks/companion/internal/companion"
	"github.com/roelfdiedericks/companion/internal/config"
	"github.com/roelfdiedericks/companion/internal/conversation"
	"github.com/roelfdiedericks/companion/internal/llm"
	. "github.com/roelfdiedericks/companion/internal/logging"
	"github.com/roelfdiedericks/companion/internal/persona"
)

// app is the wired engine and its collaborators.
type app struct {
	cfg     *config.Config
	store   *conversation.Store
	engine  *companion.Engine
	persona *persona.Source
	watcher *persona.Watcher
}

// newApp builds the engine from cfg. width is the output width in
// characters; 0 leaves chunk sizes as configured.
func newApp(cfg *config.Config, width int, watch bool) (*app, error) {
	registry, err := llm.NewRegistry(cfg.RegistryConfig())
	if err != nil {
		return nil, fmt.Errorf("building registry: %w", err)
	}

	src, err := personaSource(cfg.Persona)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		store:   conversation.NewStore(cfg.Conversation.Capacity),
		persona: src,
	}
	a.engine = companion.New(a.store, registry, companion.Sources{
		Profiles: companion.StaticSettings(settingsFromConfig(cfg, width)),
		Persona:  src,
	})

	if watch && src.Path() != "" {
		a.watcher, err = persona.Watch(src, 0, a.engine.Reset)
		if err != nil {
			// Not fatal: the persona still works, it just won't reload.
			L_warn("companion: persona watcher unavailable", "error", err)
		}
	}
	return a, nil
}

func personaSource(pc config.PersonaConfig) (*persona.Source, error) {
	if pc.Text == "" && pc.File != "" {
		return persona.FromFile(pc.Name, pc.File)
	}
	return persona.Static(pc.Name, pc.Text), nil
}

// settingsFromConfig maps the chat section onto engine settings, narrowing
// the chunk size to the terminal when it is smaller.
func settingsFromConfig(cfg *config.Config, width int) companion.Settings {
	chars := cfg.Chat.MaxChunkChars
	if width > 0 && (chars == 0 || chars > width) {
		chars = width
	}
	return companion.Settings{
		HistoryLimit:     cfg.Conversation.HistoryLimit,
		RemoveLineBreaks: cfg.Chat.RemoveLineBreaks,
		MaxChunkChars:    chars,
		MaxChunkBytes:    cfg.Chat.MaxChunkBytes,
		MaxTokens:        cfg.Chat.MaxTokens,
		Temperature:      cfg.Chat.Temperature,
		ThinkingBudget:   cfg.Chat.ThinkingBudget,
		ShowThoughts:     cfg.Chat.ShowThoughts,
		Addressing:       cfg.Addressing(),
		Aliases:          cfg.AliasTable(),
	}
}

func (a *app) Close() {
	if a.watcher != nil {
		a.watcher.Stop()
	}
	a.engine.Close()
}

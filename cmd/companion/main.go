// Command companion is a terminal front end for the companion engine.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/roelfdiedericks/companion/internal/config"
	. "github.com/roelfdiedericks/companion/internal/logging"
)

var version = "dev"

// Globals are flags shared by every command.
type Globals struct {
	Config string `short:"c" help:"Config file (.json, .toml, .yaml or .yml)." default:"companion.json" type:"path"`
	Env    string `help:"Dotenv file with API keys." default:".env" type:"path"`
	Debug  bool   `short:"d" help:"Enable debug logging."`
	Trace  bool   `help:"Enable trace logging."`
}

// CLI is the kong command tree.
type CLI struct {
	Globals

	Chat     ChatCmd     `cmd:"" default:"withargs" help:"Chat interactively (default)."`
	Ask      AskCmd      `cmd:"" help:"Send one message and print the reply."`
	Profiles ProfilesCmd `cmd:"" help:"List configured model profiles."`
	Version  VersionCmd  `cmd:"" help:"Print the version."`
}

// VersionCmd prints the version.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("companion %s\n", version)
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("companion"),
		kong.Description("Chat with a persona across multiple model backends."),
		kong.UsageOnError(),
		kong.BindTo(ctx, (*context.Context)(nil)),
	)
	err := kctx.Run(&cli.Globals)
	kctx.FatalIfErrorf(err)
}

// load reads the dotenv file, then the config (whose ${VAR} references may
// point into it), then configures logging.
func (g *Globals) load() (*config.Config, error) {
	if err := godotenv.Load(g.Env); err != nil && !errors.Is(err, fs.ErrNotExist) {
		L_warn("companion: failed to load env file", "path", g.Env, "error", err)
	}

	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, err
	}

	lc := cfg.LogConfig()
	switch {
	case g.Trace:
		lc.Level = LevelTrace
	case g.Debug:
		lc.Level = LevelDebug
	}
	Init(lc)
	return cfg, nil
}
